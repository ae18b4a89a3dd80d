package passport

import (
	"github.com/ai4hf/passport/internal/db/models"
	"github.com/ai4hf/passport/internal/roles"
)

// Sub-structures written into the detail document. Related records are
// embedded by value and referenced by id only, never by back-pointer.

type parameterBinding struct {
	ParameterID string `json:"parameterId"`
	Type        string `json:"type"`
	Value       string `json:"value"`
}

type modelView struct {
	models.Model
	Parameters []parameterBinding `json:"parameters"`
}

type characteristicView struct {
	FeatureID          string `json:"featureId"`
	CharacteristicName string `json:"characteristicName"`
	Value              string `json:"value"`
	ValueDataType      string `json:"valueDataType"`
}

type datasetView struct {
	models.Dataset
	LearningDatasets []models.LearningDataset `json:"learningDatasets"`
	Characteristics  []characteristicView     `json:"characteristics"`
}

type featureSetView struct {
	models.FeatureSet
	Features []models.Feature `json:"features"`
}

type learningStageView struct {
	models.LearningStage
	Parameters []parameterBinding `json:"parameters"`
}

type processDatasetView struct {
	LearningDatasetID string `json:"learningDatasetId"`
	Description       string `json:"description"`
}

type learningProcessView struct {
	models.LearningProcess
	Stages     []learningStageView  `json:"learningStages"`
	Parameters []parameterBinding   `json:"parameters"`
	Datasets   []processDatasetView `json:"learningDatasets"`
}

type studyOrganizationView struct {
	models.Organization
	Roles                  roles.Set `json:"roles"`
	ResponsiblePersonnelID string    `json:"responsiblePersonnelId"`
	PopulationID           string    `json:"populationId"`
}

type studyPersonnelView struct {
	models.Personnel
	Roles roles.Set `json:"roles"`
}

type studyView struct {
	models.Study
	Organizations []studyOrganizationView `json:"organizations"`
	Personnel     []studyPersonnelView    `json:"personnel"`
}
