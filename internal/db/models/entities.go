// Package models - entities.go defines the leaf records a passport summarises.
// They are written elsewhere and only read by the assembler.
package models

import "time"

// Study is the root of every passport scope.
type Study struct {
	ID          string `db:"study_id" json:"id"`
	Name        string `db:"name" json:"name"`
	Description string `db:"description" json:"description"`
	Objectives  string `db:"objectives" json:"objectives"`
	Ethics      string `db:"ethics" json:"ethics"`
	Owner       string `db:"owner" json:"owner"`
}

// Organization takes part in a study.
type Organization struct {
	ID      string `db:"organization_id" json:"id"`
	Name    string `db:"name" json:"name"`
	Address string `db:"address" json:"address"`
}

// Personnel is a person belonging to an organization.
type Personnel struct {
	ID             string `db:"personnel_id" json:"id"`
	OrganizationID string `db:"organization_id" json:"organizationId"`
	FirstName      string `db:"first_name" json:"firstName"`
	LastName       string `db:"last_name" json:"lastName"`
	Role           string `db:"role" json:"role"`
	Email          string `db:"email" json:"email"`
}

// DisplayName is "First Last" with empty parts dropped.
func (p *Personnel) DisplayName() string {
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// Model is a trained model produced within a study.
type Model struct {
	ID                    string    `db:"model_id" json:"modelId"`
	LearningProcessID     string    `db:"learning_process_id" json:"learningProcessId"`
	StudyID               string    `db:"study_id" json:"studyId"`
	ExperimentID          string    `db:"experiment_id" json:"experimentId"`
	Name                  string    `db:"name" json:"name"`
	Version               string    `db:"version" json:"version"`
	Tag                   string    `db:"tag" json:"tag"`
	ModelType             string    `db:"model_type" json:"modelType"`
	ProductIdentifier     string    `db:"product_identifier" json:"productIdentifier"`
	Owner                 string    `db:"owner" json:"owner"`
	TRLLevel              string    `db:"trl_level" json:"trlLevel"`
	License               string    `db:"license" json:"license"`
	PrimaryUse            string    `db:"primary_use" json:"primaryUse"`
	SecondaryUse          string    `db:"secondary_use" json:"secondaryUse"`
	IntendedUsers         string    `db:"intended_users" json:"intendedUsers"`
	CounterIndications    string    `db:"counter_indications" json:"counterIndications"`
	EthicalConsiderations string    `db:"ethical_considerations" json:"ethicalConsiderations"`
	Limitations           string    `db:"limitations" json:"limitations"`
	FairnessConstraints   string    `db:"fairness_constraints" json:"fairnessConstraints"`
	CreatedAt             time.Time `db:"created_at" json:"createdAt"`
	CreatedBy             string    `db:"created_by" json:"createdBy"`
	LastUpdatedAt         time.Time `db:"last_updated_at" json:"lastUpdatedAt"`
	LastUpdatedBy         string    `db:"last_updated_by" json:"lastUpdatedBy"`
}

// ModelDeployment places a model into an environment.
type ModelDeployment struct {
	ID                 string `db:"deployment_id" json:"deploymentId"`
	ModelID            string `db:"model_id" json:"modelId"`
	EnvironmentID      string `db:"environment_id" json:"environmentId"`
	Tags               string `db:"tags" json:"tags"`
	IdentifiedFailures string `db:"identified_failures" json:"identifiedFailures"`
	Status             string `db:"status" json:"status"`
}

// DeploymentEnvironment describes where a deployment runs.
type DeploymentEnvironment struct {
	ID                  string `db:"environment_id" json:"environmentId"`
	Title               string `db:"title" json:"title"`
	Description         string `db:"description" json:"description"`
	HardwareProperties  string `db:"hardware_properties" json:"hardwareProperties"`
	SoftwareProperties  string `db:"software_properties" json:"softwareProperties"`
	ConnectivityDetails string `db:"connectivity_details" json:"connectivityDetails"`
}

// Dataset is a source dataset contributed by an organization.
type Dataset struct {
	ID              string `db:"dataset_id" json:"datasetId"`
	FeatureSetID    string `db:"featureset_id" json:"featuresetId"`
	PopulationID    string `db:"population_id" json:"populationId"`
	OrganizationID  string `db:"organization_id" json:"organizationId"`
	Title           string `db:"title" json:"title"`
	Description     string `db:"description" json:"description"`
	Version         string `db:"version" json:"version"`
	ReferenceEntity string `db:"reference_entity" json:"referenceEntity"`
	NumOfRecords    int64  `db:"num_of_records" json:"numOfRecords"`
	Synthetic       bool   `db:"synthetic" json:"synthetic"`
}

// LearningDataset is a dataset prepared for learning within a study.
type LearningDataset struct {
	ID                   string `db:"learning_dataset_id" json:"learningDatasetId"`
	DatasetID            string `db:"dataset_id" json:"datasetId"`
	StudyID              string `db:"study_id" json:"studyId"`
	DataTransformationID string `db:"data_transformation_id" json:"dataTransformationId"`
	Description          string `db:"description" json:"description"`
}

// FeatureSet groups features used in an experiment.
type FeatureSet struct {
	ID            string `db:"featureset_id" json:"featuresetId"`
	ExperimentID  string `db:"experiment_id" json:"experimentId"`
	Title         string `db:"title" json:"title"`
	FeatureSetURL string `db:"featureset_url" json:"featuresetURL"`
	Description   string `db:"description" json:"description"`
}

// Feature is one column of a feature set.
type Feature struct {
	ID             string `db:"feature_id" json:"featureId"`
	FeatureSetID   string `db:"featureset_id" json:"featuresetId"`
	Title          string `db:"title" json:"title"`
	Description    string `db:"description" json:"description"`
	DataType       string `db:"data_type" json:"dataType"`
	FeatureType    string `db:"feature_type" json:"featureType"`
	Mandatory      bool   `db:"mandatory" json:"mandatory"`
	IsUnique       bool   `db:"is_unique" json:"isUnique"`
	Units          string `db:"units" json:"units"`
	Equipment      string `db:"equipment" json:"equipment"`
	DataCollection string `db:"data_collection" json:"dataCollection"`
}

// LearningProcess is the training procedure of a study.
type LearningProcess struct {
	ID               string `db:"learning_process_id" json:"learningProcessId"`
	StudyID          string `db:"study_id" json:"studyId"`
	ImplementationID string `db:"implementation_id" json:"implementationId"`
	Description      string `db:"description" json:"description"`
}

// LearningStage is one step of a learning process.
type LearningStage struct {
	ID                string `db:"learning_stage_id" json:"learningStageId"`
	LearningProcessID string `db:"learning_process_id" json:"learningProcessId"`
	Name              string `db:"learning_stage_name" json:"learningStageName"`
	Description       string `db:"description" json:"description"`
	DatasetPercentage int    `db:"dataset_percentage" json:"datasetPercentage"`
}

// Parameter is a named hyper-parameter declared for a study.
type Parameter struct {
	ID          string `db:"parameter_id" json:"parameterId"`
	StudyID     string `db:"study_id" json:"studyId"`
	Name        string `db:"name" json:"name"`
	DataType    string `db:"data_type" json:"dataType"`
	Description string `db:"description" json:"description"`
}

// Population is a cohort studied.
type Population struct {
	ID              string `db:"population_id" json:"populationId"`
	StudyID         string `db:"study_id" json:"studyId"`
	PopulationURL   string `db:"population_url" json:"populationUrl"`
	Description     string `db:"description" json:"description"`
	Characteristics string `db:"characteristics" json:"characteristics"`
}

// Experiment captures a research question of a study.
type Experiment struct {
	ID               string `db:"experiment_id" json:"experimentId"`
	StudyID          string `db:"study_id" json:"studyId"`
	ResearchQuestion string `db:"research_question" json:"researchQuestion"`
}

// Survey is a question/answer pair collected for a study.
type Survey struct {
	ID       string `db:"survey_id" json:"surveyId"`
	StudyID  string `db:"study_id" json:"studyId"`
	Question string `db:"question" json:"question"`
	Answer   string `db:"answer" json:"answer"`
	Category string `db:"category" json:"category"`
}
