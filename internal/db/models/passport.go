// Package models - passport.go defines the Passport record and the selection
// mask that decides which sub-graphs populate its detail document.
package models

import (
	"encoding/json"
	"time"
)

// Passport is the assembled provenance document for one (study, deployment) scope.
type Passport struct {
	ID           int64      `db:"passport_id" json:"passportId"`
	StudyID      string     `db:"study_id" json:"studyId"`
	DeploymentID string     `db:"deployment_id" json:"deploymentId"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
	CreatedBy    string     `db:"created_by" json:"createdBy"`
	ApprovedAt   *time.Time `db:"approved_at" json:"approvedAt,omitempty"`
	ApprovedBy   *string    `db:"approved_by" json:"approvedBy,omitempty"`
	// Details is the encoded detail document exactly as persisted.
	Details json.RawMessage `db:"details_document" json:"detailsDocument"`
}

// Approved reports whether the passport carries approval metadata.
func (p *Passport) Approved() bool {
	return p.ApprovedAt != nil
}

// Scope identifies the study and deployment a passport is assembled for.
type Scope struct {
	StudyID      string `json:"studyId"`
	DeploymentID string `json:"deploymentId"`
}

// Scope returns the passport's (study, deployment) pair.
func (p *Passport) Scope() Scope {
	return Scope{StudyID: p.StudyID, DeploymentID: p.DeploymentID}
}

// PassportDetailSelection is the fixed 11-flag mask choosing which sub-graphs
// are assembled into a passport document.
type PassportDetailSelection struct {
	ModelDetails           bool `json:"modelDetails"`
	ModelDeploymentDetails bool `json:"modelDeploymentDetails"`
	EnvironmentDetails     bool `json:"environmentDetails"`
	Datasets               bool `json:"datasets"`
	FeatureSets            bool `json:"featureSets"`
	LearningProcessDetails bool `json:"learningProcessDetails"`
	ParameterDetails       bool `json:"parameterDetails"`
	PopulationDetails      bool `json:"populationDetails"`
	ExperimentDetails      bool `json:"experimentDetails"`
	SurveyDetails          bool `json:"surveyDetails"`
	StudyDetails           bool `json:"studyDetails"`
}

// SelectAll returns a mask with every flag set.
func SelectAll() PassportDetailSelection {
	return PassportDetailSelection{
		ModelDetails:           true,
		ModelDeploymentDetails: true,
		EnvironmentDetails:     true,
		Datasets:               true,
		FeatureSets:            true,
		LearningProcessDetails: true,
		ParameterDetails:       true,
		PopulationDetails:      true,
		ExperimentDetails:      true,
		SurveyDetails:          true,
		StudyDetails:           true,
	}
}

// Coverage names one record included in an assembled document.
type Coverage struct {
	Relation string `db:"relation" json:"relation"`
	RecordID string `db:"record_id" json:"recordId"`
}
