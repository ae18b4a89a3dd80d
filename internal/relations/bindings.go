package relations

import (
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/ai4hf/passport/internal/db/models"
)

// Bindings groups every composite relation the passport graph is built from.
// All keys are (left id, right id) string pairs.
type Bindings struct {
	// (studyId, organizationId)
	StudyOrganizations Store[string, string, models.OrganizationRoles]
	// (studyId, personnelId)
	StudyPersonnel Store[string, string, models.PersonnelRoles]
	// (modelId, parameterId)
	ModelParameters Store[string, string, models.ParameterValue]
	// (learningProcessId, parameterId)
	LearningProcessParameters Store[string, string, models.ParameterValue]
	// (learningStageId, parameterId)
	LearningStageParameters Store[string, string, models.ParameterValue]
	// (datasetId, featureId)
	FeatureCharacteristics Store[string, string, models.FeatureCharacteristic]
	// (learningProcessId, learningDatasetId)
	LearningProcessDatasets Store[string, string, models.ProcessDatasetUsage]
}

var parameterColumns = []string{"type", "value"}

func parameterValues(p models.ParameterValue) []any { return []any{p.Type, p.Value} }
func parameterFields(p *models.ParameterValue) []any {
	return []any{&p.Type, &p.Value}
}

// Tables used by the PostgreSQL bindings.
var (
	StudyOrganizationTable = Table[models.OrganizationRoles]{
		Name:    models.RelationStudyOrganization,
		Left:    "study_id",
		Right:   "organization_id",
		Columns: []string{"role", "responsible_personnel_id", "population_id"},
		Values: func(p models.OrganizationRoles) []any {
			return []any{p.Roles, p.ResponsiblePersonnelID, p.PopulationID}
		},
		Fields: func(p *models.OrganizationRoles) []any {
			return []any{&p.Roles, &p.ResponsiblePersonnelID, &p.PopulationID}
		},
	}
	StudyPersonnelTable = Table[models.PersonnelRoles]{
		Name:    models.RelationStudyPersonnel,
		Left:    "study_id",
		Right:   "personnel_id",
		Columns: []string{"role"},
		Values:  func(p models.PersonnelRoles) []any { return []any{p.Roles} },
		Fields:  func(p *models.PersonnelRoles) []any { return []any{&p.Roles} },
	}
	ModelParameterTable = Table[models.ParameterValue]{
		Name:    models.RelationModelParameter,
		Left:    "model_id",
		Right:   "parameter_id",
		Columns: parameterColumns,
		Values:  parameterValues,
		Fields:  parameterFields,
	}
	LearningProcessParameterTable = Table[models.ParameterValue]{
		Name:    models.RelationLearningProcessParameter,
		Left:    "learning_process_id",
		Right:   "parameter_id",
		Columns: parameterColumns,
		Values:  parameterValues,
		Fields:  parameterFields,
	}
	LearningStageParameterTable = Table[models.ParameterValue]{
		Name:    models.RelationLearningStageParameter,
		Left:    "learning_stage_id",
		Right:   "parameter_id",
		Columns: parameterColumns,
		Values:  parameterValues,
		Fields:  parameterFields,
	}
	FeatureCharacteristicTable = Table[models.FeatureCharacteristic]{
		Name:    models.RelationFeatureDatasetCharacteristic,
		Left:    "dataset_id",
		Right:   "feature_id",
		Columns: []string{"characteristic_name", "value", "value_data_type"},
		Values: func(p models.FeatureCharacteristic) []any {
			return []any{p.CharacteristicName, p.Value, p.ValueDataType}
		},
		Fields: func(p *models.FeatureCharacteristic) []any {
			return []any{&p.CharacteristicName, &p.Value, &p.ValueDataType}
		},
	}
	LearningProcessDatasetTable = Table[models.ProcessDatasetUsage]{
		Name:    models.RelationLearningProcessDataset,
		Left:    "learning_process_id",
		Right:   "learning_dataset_id",
		Columns: []string{"description"},
		Values:  func(p models.ProcessDatasetUsage) []any { return []any{p.Description} },
		Fields:  func(p *models.ProcessDatasetUsage) []any { return []any{&p.Description} },
	}
)

// NewPostgresBindings wires every relation to its table.
func NewPostgresBindings(database *sqlx.DB) *Bindings {
	return &Bindings{
		StudyOrganizations:        NewPostgresStore[string, string](database, StudyOrganizationTable),
		StudyPersonnel:            NewPostgresStore[string, string](database, StudyPersonnelTable),
		ModelParameters:           NewPostgresStore[string, string](database, ModelParameterTable),
		LearningProcessParameters: NewPostgresStore[string, string](database, LearningProcessParameterTable),
		LearningStageParameters:   NewPostgresStore[string, string](database, LearningStageParameterTable),
		FeatureCharacteristics:    NewPostgresStore[string, string](database, FeatureCharacteristicTable),
		LearningProcessDatasets:   NewPostgresStore[string, string](database, LearningProcessDatasetTable),
	}
}

// NewMemoryBindings returns in-memory relations that share mu, so a caller
// holding mu can copy all of them at one instant. A nil mu gives each store
// its own lock.
func NewMemoryBindings(mu *sync.RWMutex) *Bindings {
	if mu == nil {
		return &Bindings{
			StudyOrganizations:        NewMemoryStore[string, string, models.OrganizationRoles](models.RelationStudyOrganization),
			StudyPersonnel:            NewMemoryStore[string, string, models.PersonnelRoles](models.RelationStudyPersonnel),
			ModelParameters:           NewMemoryStore[string, string, models.ParameterValue](models.RelationModelParameter),
			LearningProcessParameters: NewMemoryStore[string, string, models.ParameterValue](models.RelationLearningProcessParameter),
			LearningStageParameters:   NewMemoryStore[string, string, models.ParameterValue](models.RelationLearningStageParameter),
			FeatureCharacteristics:    NewMemoryStore[string, string, models.FeatureCharacteristic](models.RelationFeatureDatasetCharacteristic),
			LearningProcessDatasets:   NewMemoryStore[string, string, models.ProcessDatasetUsage](models.RelationLearningProcessDataset),
		}
	}
	return &Bindings{
		StudyOrganizations:        NewSharedMemoryStore[string, string, models.OrganizationRoles](models.RelationStudyOrganization, mu),
		StudyPersonnel:            NewSharedMemoryStore[string, string, models.PersonnelRoles](models.RelationStudyPersonnel, mu),
		ModelParameters:           NewSharedMemoryStore[string, string, models.ParameterValue](models.RelationModelParameter, mu),
		LearningProcessParameters: NewSharedMemoryStore[string, string, models.ParameterValue](models.RelationLearningProcessParameter, mu),
		LearningStageParameters:   NewSharedMemoryStore[string, string, models.ParameterValue](models.RelationLearningStageParameter, mu),
		FeatureCharacteristics:    NewSharedMemoryStore[string, string, models.FeatureCharacteristic](models.RelationFeatureDatasetCharacteristic, mu),
		LearningProcessDatasets:   NewSharedMemoryStore[string, string, models.ProcessDatasetUsage](models.RelationLearningProcessDataset, mu),
	}
}

// CloneLocked copies every in-memory store. Stores that are not in-memory are
// shared as-is. The caller must hold the lock passed to NewMemoryBindings.
func (b *Bindings) CloneLocked() *Bindings {
	return &Bindings{
		StudyOrganizations:        cloneLocked(b.StudyOrganizations),
		StudyPersonnel:            cloneLocked(b.StudyPersonnel),
		ModelParameters:           cloneLocked(b.ModelParameters),
		LearningProcessParameters: cloneLocked(b.LearningProcessParameters),
		LearningStageParameters:   cloneLocked(b.LearningStageParameters),
		FeatureCharacteristics:    cloneLocked(b.FeatureCharacteristics),
		LearningProcessDatasets:   cloneLocked(b.LearningProcessDatasets),
	}
}

func cloneLocked[L, R comparable, P any](s Store[L, R, P]) Store[L, R, P] {
	if m, ok := s.(*MemoryStore[L, R, P]); ok {
		return m.CloneLocked()
	}
	return s
}
