// entity_repository.go implements EntityRepository, the read side of the leaf
// tables a passport summarises. Every query goes through the transaction in
// ctx when there is one, so a snapshot reader sees one consistent state.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ai4hf/passport/internal/db"
	"github.com/ai4hf/passport/internal/db/models"
)

// EntityRepository reads studies, models, datasets and their kin.
type EntityRepository struct {
	db *sqlx.DB
}

// NewEntityRepository creates a new EntityRepository
func NewEntityRepository(db *sqlx.DB) *EntityRepository {
	return &EntityRepository{db: db}
}

// getOne loads a single row into a new T, returning nil, nil when absent.
func getOne[T any](ctx context.Context, r *EntityRepository, table, idColumn, id string) (*T, error) {
	var v T
	query := fmt.Sprintf(`SELECT * FROM %s WHERE %s = $1`, table, idColumn)
	err := sqlx.GetContext(ctx, db.Conn(ctx, r.db), &v, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", table, err)
	}
	return &v, nil
}

// listBy loads every row of table whose column equals value, ordered by idColumn.
func listBy[T any](ctx context.Context, r *EntityRepository, table, column, idColumn, value string) ([]T, error) {
	var out []T
	query := fmt.Sprintf(`SELECT * FROM %s WHERE %s = $1 ORDER BY %s`, table, column, idColumn)
	if err := sqlx.SelectContext(ctx, db.Conn(ctx, r.db), &out, query, value); err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}
	return out, nil
}

func (r *EntityRepository) Study(ctx context.Context, id string) (*models.Study, error) {
	return getOne[models.Study](ctx, r, "study", "study_id", id)
}

func (r *EntityRepository) Organization(ctx context.Context, id string) (*models.Organization, error) {
	return getOne[models.Organization](ctx, r, "organization", "organization_id", id)
}

func (r *EntityRepository) Personnel(ctx context.Context, id string) (*models.Personnel, error) {
	return getOne[models.Personnel](ctx, r, "personnel", "personnel_id", id)
}

func (r *EntityRepository) ModelsByStudy(ctx context.Context, studyID string) ([]models.Model, error) {
	return listBy[models.Model](ctx, r, "model", "study_id", "model_id", studyID)
}

func (r *EntityRepository) Deployment(ctx context.Context, id string) (*models.ModelDeployment, error) {
	return getOne[models.ModelDeployment](ctx, r, "model_deployment", "deployment_id", id)
}

func (r *EntityRepository) Environment(ctx context.Context, id string) (*models.DeploymentEnvironment, error) {
	return getOne[models.DeploymentEnvironment](ctx, r, "deployment_environment", "environment_id", id)
}

func (r *EntityRepository) Dataset(ctx context.Context, id string) (*models.Dataset, error) {
	return getOne[models.Dataset](ctx, r, "dataset", "dataset_id", id)
}

func (r *EntityRepository) LearningDatasetsByStudy(ctx context.Context, studyID string) ([]models.LearningDataset, error) {
	return listBy[models.LearningDataset](ctx, r, "learning_dataset", "study_id", "learning_dataset_id", studyID)
}

func (r *EntityRepository) ExperimentsByStudy(ctx context.Context, studyID string) ([]models.Experiment, error) {
	return listBy[models.Experiment](ctx, r, "experiment", "study_id", "experiment_id", studyID)
}

func (r *EntityRepository) FeatureSetsByExperiment(ctx context.Context, experimentID string) ([]models.FeatureSet, error) {
	return listBy[models.FeatureSet](ctx, r, "featureset", "experiment_id", "featureset_id", experimentID)
}

func (r *EntityRepository) FeaturesByFeatureSet(ctx context.Context, featureSetID string) ([]models.Feature, error) {
	return listBy[models.Feature](ctx, r, "feature", "featureset_id", "feature_id", featureSetID)
}

func (r *EntityRepository) LearningProcessesByStudy(ctx context.Context, studyID string) ([]models.LearningProcess, error) {
	return listBy[models.LearningProcess](ctx, r, "learning_process", "study_id", "learning_process_id", studyID)
}

func (r *EntityRepository) LearningStagesByProcess(ctx context.Context, processID string) ([]models.LearningStage, error) {
	return listBy[models.LearningStage](ctx, r, "learning_stage", "learning_process_id", "learning_stage_id", processID)
}

func (r *EntityRepository) ParametersByStudy(ctx context.Context, studyID string) ([]models.Parameter, error) {
	return listBy[models.Parameter](ctx, r, "parameter", "study_id", "parameter_id", studyID)
}

func (r *EntityRepository) PopulationsByStudy(ctx context.Context, studyID string) ([]models.Population, error) {
	return listBy[models.Population](ctx, r, "population", "study_id", "population_id", studyID)
}

func (r *EntityRepository) SurveysByStudy(ctx context.Context, studyID string) ([]models.Survey, error) {
	return listBy[models.Survey](ctx, r, "survey", "study_id", "survey_id", studyID)
}
