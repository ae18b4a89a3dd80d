// Package catalog provides an in-memory entity graph for tests and local runs.
// It implements passport.Source: every View works on a private copy of the
// state taken under one read lock, bindings included.
package catalog

import (
	"context"
	"maps"
	"sync"

	"github.com/ai4hf/passport/internal/db/models"
	"github.com/ai4hf/passport/internal/passport"
	"github.com/ai4hf/passport/internal/relations"
)

type state struct {
	studies       map[string]models.Study
	organizations map[string]models.Organization
	personnel     map[string]models.Personnel
	models        map[string]models.Model
	deployments   map[string]models.ModelDeployment
	environments  map[string]models.DeploymentEnvironment
	datasets      map[string]models.Dataset
	learningSets  map[string]models.LearningDataset
	featureSets   map[string]models.FeatureSet
	features      map[string]models.Feature
	processes     map[string]models.LearningProcess
	stages        map[string]models.LearningStage
	parameters    map[string]models.Parameter
	populations   map[string]models.Population
	experiments   map[string]models.Experiment
	surveys       map[string]models.Survey
}

func newState() state {
	return state{
		studies:       map[string]models.Study{},
		organizations: map[string]models.Organization{},
		personnel:     map[string]models.Personnel{},
		models:        map[string]models.Model{},
		deployments:   map[string]models.ModelDeployment{},
		environments:  map[string]models.DeploymentEnvironment{},
		datasets:      map[string]models.Dataset{},
		learningSets:  map[string]models.LearningDataset{},
		featureSets:   map[string]models.FeatureSet{},
		features:      map[string]models.Feature{},
		processes:     map[string]models.LearningProcess{},
		stages:        map[string]models.LearningStage{},
		parameters:    map[string]models.Parameter{},
		populations:   map[string]models.Population{},
		experiments:   map[string]models.Experiment{},
		surveys:       map[string]models.Survey{},
	}
}

func (s state) clone() state {
	return state{
		studies:       maps.Clone(s.studies),
		organizations: maps.Clone(s.organizations),
		personnel:     maps.Clone(s.personnel),
		models:        maps.Clone(s.models),
		deployments:   maps.Clone(s.deployments),
		environments:  maps.Clone(s.environments),
		datasets:      maps.Clone(s.datasets),
		learningSets:  maps.Clone(s.learningSets),
		featureSets:   maps.Clone(s.featureSets),
		features:      maps.Clone(s.features),
		processes:     maps.Clone(s.processes),
		stages:        maps.Clone(s.stages),
		parameters:    maps.Clone(s.parameters),
		populations:   maps.Clone(s.populations),
		experiments:   maps.Clone(s.experiments),
		surveys:       maps.Clone(s.surveys),
	}
}

// Catalog is a mutable in-memory entity graph.
type Catalog struct {
	mu       sync.RWMutex
	state    state
	bindings *relations.Bindings
}

var _ passport.Source = (*Catalog)(nil)

// New returns an empty catalog.
func New() *Catalog {
	c := &Catalog{state: newState()}
	c.bindings = relations.NewMemoryBindings(&c.mu)
	return c
}

// Bindings returns the live relation stores. Writes through them are visible
// to the next View.
func (c *Catalog) Bindings() *relations.Bindings {
	return c.bindings
}

// View copies the catalog under its read lock and hands the copy to fn.
func (c *Catalog) View(ctx context.Context, fn func(ctx context.Context, r passport.Reader, b *relations.Bindings) error) error {
	c.mu.RLock()
	snap := &snapshot{state: c.state.clone()}
	b := c.bindings.CloneLocked()
	c.mu.RUnlock()

	return fn(ctx, snap, b)
}

func put[T any](c *Catalog, m map[string]T, id string, v T) {
	c.mu.Lock()
	m[id] = v
	c.mu.Unlock()
}

func del[T any](c *Catalog, m map[string]T, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := m[id]
	delete(m, id)
	return ok
}

func (c *Catalog) PutStudy(v models.Study)               { put(c, c.state.studies, v.ID, v) }
func (c *Catalog) PutOrganization(v models.Organization) { put(c, c.state.organizations, v.ID, v) }
func (c *Catalog) PutPersonnel(v models.Personnel)       { put(c, c.state.personnel, v.ID, v) }
func (c *Catalog) PutModel(v models.Model)               { put(c, c.state.models, v.ID, v) }
func (c *Catalog) PutDeployment(v models.ModelDeployment) {
	put(c, c.state.deployments, v.ID, v)
}
func (c *Catalog) PutEnvironment(v models.DeploymentEnvironment) {
	put(c, c.state.environments, v.ID, v)
}
func (c *Catalog) PutDataset(v models.Dataset) { put(c, c.state.datasets, v.ID, v) }
func (c *Catalog) PutLearningDataset(v models.LearningDataset) {
	put(c, c.state.learningSets, v.ID, v)
}
func (c *Catalog) PutFeatureSet(v models.FeatureSet) { put(c, c.state.featureSets, v.ID, v) }
func (c *Catalog) PutFeature(v models.Feature)       { put(c, c.state.features, v.ID, v) }
func (c *Catalog) PutLearningProcess(v models.LearningProcess) {
	put(c, c.state.processes, v.ID, v)
}
func (c *Catalog) PutLearningStage(v models.LearningStage) { put(c, c.state.stages, v.ID, v) }
func (c *Catalog) PutParameter(v models.Parameter)         { put(c, c.state.parameters, v.ID, v) }
func (c *Catalog) PutPopulation(v models.Population)       { put(c, c.state.populations, v.ID, v) }
func (c *Catalog) PutExperiment(v models.Experiment)       { put(c, c.state.experiments, v.ID, v) }
func (c *Catalog) PutSurvey(v models.Survey)               { put(c, c.state.surveys, v.ID, v) }

// DeleteStudy removes a study. It reports whether the study existed.
func (c *Catalog) DeleteStudy(id string) bool { return del(c, c.state.studies, id) }

// DeleteDeployment removes a deployment.
func (c *Catalog) DeleteDeployment(id string) bool { return del(c, c.state.deployments, id) }

// DeleteEnvironment removes an environment.
func (c *Catalog) DeleteEnvironment(id string) bool { return del(c, c.state.environments, id) }

// DeleteDataset removes a dataset.
func (c *Catalog) DeleteDataset(id string) bool { return del(c, c.state.datasets, id) }

// DeleteModel removes a model.
func (c *Catalog) DeleteModel(id string) bool { return del(c, c.state.models, id) }

// snapshot is a private copy of the state; it needs no locking.
type snapshot struct {
	state state
}

func lookup[T any](m map[string]T, id string) *T {
	v, ok := m[id]
	if !ok {
		return nil
	}
	return &v
}

func filter[T any](m map[string]T, keep func(T) bool) []T {
	var out []T
	for _, v := range m {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}

func (s *snapshot) Study(_ context.Context, id string) (*models.Study, error) {
	return lookup(s.state.studies, id), nil
}

func (s *snapshot) Organization(_ context.Context, id string) (*models.Organization, error) {
	return lookup(s.state.organizations, id), nil
}

func (s *snapshot) Personnel(_ context.Context, id string) (*models.Personnel, error) {
	return lookup(s.state.personnel, id), nil
}

func (s *snapshot) ModelsByStudy(_ context.Context, studyID string) ([]models.Model, error) {
	return filter(s.state.models, func(m models.Model) bool { return m.StudyID == studyID }), nil
}

func (s *snapshot) Deployment(_ context.Context, id string) (*models.ModelDeployment, error) {
	return lookup(s.state.deployments, id), nil
}

func (s *snapshot) Environment(_ context.Context, id string) (*models.DeploymentEnvironment, error) {
	return lookup(s.state.environments, id), nil
}

func (s *snapshot) Dataset(_ context.Context, id string) (*models.Dataset, error) {
	return lookup(s.state.datasets, id), nil
}

func (s *snapshot) LearningDatasetsByStudy(_ context.Context, studyID string) ([]models.LearningDataset, error) {
	return filter(s.state.learningSets, func(l models.LearningDataset) bool { return l.StudyID == studyID }), nil
}

func (s *snapshot) ExperimentsByStudy(_ context.Context, studyID string) ([]models.Experiment, error) {
	return filter(s.state.experiments, func(e models.Experiment) bool { return e.StudyID == studyID }), nil
}

func (s *snapshot) FeatureSetsByExperiment(_ context.Context, experimentID string) ([]models.FeatureSet, error) {
	return filter(s.state.featureSets, func(f models.FeatureSet) bool { return f.ExperimentID == experimentID }), nil
}

func (s *snapshot) FeaturesByFeatureSet(_ context.Context, featureSetID string) ([]models.Feature, error) {
	return filter(s.state.features, func(f models.Feature) bool { return f.FeatureSetID == featureSetID }), nil
}

func (s *snapshot) LearningProcessesByStudy(_ context.Context, studyID string) ([]models.LearningProcess, error) {
	return filter(s.state.processes, func(p models.LearningProcess) bool { return p.StudyID == studyID }), nil
}

func (s *snapshot) LearningStagesByProcess(_ context.Context, processID string) ([]models.LearningStage, error) {
	return filter(s.state.stages, func(st models.LearningStage) bool { return st.LearningProcessID == processID }), nil
}

func (s *snapshot) ParametersByStudy(_ context.Context, studyID string) ([]models.Parameter, error) {
	return filter(s.state.parameters, func(p models.Parameter) bool { return p.StudyID == studyID }), nil
}

func (s *snapshot) PopulationsByStudy(_ context.Context, studyID string) ([]models.Population, error) {
	return filter(s.state.populations, func(p models.Population) bool { return p.StudyID == studyID }), nil
}

func (s *snapshot) SurveysByStudy(_ context.Context, studyID string) ([]models.Survey, error) {
	return filter(s.state.surveys, func(sv models.Survey) bool { return sv.StudyID == studyID }), nil
}
