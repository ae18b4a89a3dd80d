package passport

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/ai4hf/passport/internal/db"
	"github.com/ai4hf/passport/internal/db/models"
	"github.com/ai4hf/passport/internal/relations"
)

// Reader looks up leaf records. Single-record lookups return nil, nil when the
// record does not exist.
type Reader interface {
	Study(ctx context.Context, id string) (*models.Study, error)
	Organization(ctx context.Context, id string) (*models.Organization, error)
	Personnel(ctx context.Context, id string) (*models.Personnel, error)
	ModelsByStudy(ctx context.Context, studyID string) ([]models.Model, error)
	Deployment(ctx context.Context, id string) (*models.ModelDeployment, error)
	Environment(ctx context.Context, id string) (*models.DeploymentEnvironment, error)
	Dataset(ctx context.Context, id string) (*models.Dataset, error)
	LearningDatasetsByStudy(ctx context.Context, studyID string) ([]models.LearningDataset, error)
	ExperimentsByStudy(ctx context.Context, studyID string) ([]models.Experiment, error)
	FeatureSetsByExperiment(ctx context.Context, experimentID string) ([]models.FeatureSet, error)
	FeaturesByFeatureSet(ctx context.Context, featureSetID string) ([]models.Feature, error)
	LearningProcessesByStudy(ctx context.Context, studyID string) ([]models.LearningProcess, error)
	LearningStagesByProcess(ctx context.Context, processID string) ([]models.LearningStage, error)
	ParametersByStudy(ctx context.Context, studyID string) ([]models.Parameter, error)
	PopulationsByStudy(ctx context.Context, studyID string) ([]models.Population, error)
	SurveysByStudy(ctx context.Context, studyID string) ([]models.Survey, error)
}

// Source hands out consistent read snapshots of the entity graph.
type Source interface {
	// View calls fn with a reader and bindings that all observe the same
	// snapshot. Writes committed while fn runs are not visible to it.
	View(ctx context.Context, fn func(ctx context.Context, r Reader, b *relations.Bindings) error) error
}

// PostgresSource reads through one REPEATABLE READ transaction per view.
// The reader and bindings must issue their queries through db.Conn(ctx, ...).
type PostgresSource struct {
	db       *sqlx.DB
	reader   Reader
	bindings *relations.Bindings
}

// NewPostgresSource creates a snapshot source over database.
func NewPostgresSource(database *sqlx.DB, reader Reader, bindings *relations.Bindings) *PostgresSource {
	return &PostgresSource{db: database, reader: reader, bindings: bindings}
}

func (s *PostgresSource) View(ctx context.Context, fn func(ctx context.Context, r Reader, b *relations.Bindings) error) error {
	return db.ReadSnapshot(ctx, s.db, func(ctx context.Context) error {
		return fn(ctx, s.reader, s.bindings)
	})
}
