// Package models - bindings.go defines the payloads of composite-key join
// records and the relation names used in audit entries and coverage sets.
package models

import "github.com/ai4hf/passport/internal/roles"

// Relation names as they appear in audit_log.affected_relation.
const (
	RelationPassport                     = "passport"
	RelationStudy                        = "study"
	RelationOrganization                 = "organization"
	RelationPersonnel                    = "personnel"
	RelationModel                        = "model"
	RelationModelDeployment              = "model_deployment"
	RelationDeploymentEnvironment        = "deployment_environment"
	RelationDataset                      = "dataset"
	RelationLearningDataset              = "learning_dataset"
	RelationFeatureSet                   = "featureset"
	RelationFeature                      = "feature"
	RelationLearningProcess              = "learning_process"
	RelationLearningStage                = "learning_stage"
	RelationParameter                    = "parameter"
	RelationPopulation                   = "population"
	RelationExperiment                   = "experiment"
	RelationSurvey                       = "survey"
	RelationStudyOrganization            = "study_organization"
	RelationStudyPersonnel               = "study_personnel"
	RelationModelParameter               = "model_parameter"
	RelationLearningProcessParameter     = "learning_process_parameter"
	RelationLearningStageParameter       = "learning_stage_parameter"
	RelationFeatureDatasetCharacteristic = "feature_dataset_characteristic"
	RelationLearningProcessDataset       = "learning_process_dataset"
)

// ParameterValue binds a parameter to a model, learning process or stage.
type ParameterValue struct {
	Type  string `db:"type" json:"type"`
	Value string `db:"value" json:"value"`
}

// FeatureCharacteristic describes a feature as observed in one dataset.
type FeatureCharacteristic struct {
	CharacteristicName string `db:"characteristic_name" json:"characteristicName"`
	Value              string `db:"value" json:"value"`
	ValueDataType      string `db:"value_data_type" json:"valueDataType"`
}

// ProcessDatasetUsage records how a learning process uses a learning dataset.
type ProcessDatasetUsage struct {
	Description string `db:"description" json:"description"`
}

// OrganizationRoles binds an organization to a study.
type OrganizationRoles struct {
	Roles                  roles.Set `db:"role" json:"roles"`
	ResponsiblePersonnelID string    `db:"responsible_personnel_id" json:"responsiblePersonnelId"`
	PopulationID           string    `db:"population_id" json:"populationId"`
}

// PersonnelRoles binds a person to a study.
type PersonnelRoles struct {
	Roles roles.Set `db:"role" json:"roles"`
}
