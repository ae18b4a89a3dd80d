package passport

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/hashicorp/go-version"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ai4hf/passport/internal/apperr"
	"github.com/ai4hf/passport/internal/db/models"
	"github.com/ai4hf/passport/internal/relations"
	"github.com/ai4hf/passport/internal/telemetry"
)

// fetchFunc returns the sub-structure for one mask field. It must return an
// array (possibly empty), never nil.
type fetchFunc func(a *assembly, ctx context.Context) (any, error)

// detailField pairs a mask field with its accessor and fetcher.
type detailField struct {
	name  string
	get   func(*models.PassportDetailSelection) *bool
	fetch fetchFunc
}

// detailFields lists the selection mask in assembly order.
var detailFields = []detailField{
	{FieldModelDetails, func(s *models.PassportDetailSelection) *bool { return &s.ModelDetails }, (*assembly).modelDetails},
	{FieldModelDeploymentDetails, func(s *models.PassportDetailSelection) *bool { return &s.ModelDeploymentDetails }, (*assembly).deploymentDetails},
	{FieldEnvironmentDetails, func(s *models.PassportDetailSelection) *bool { return &s.EnvironmentDetails }, (*assembly).environmentDetails},
	{FieldDatasets, func(s *models.PassportDetailSelection) *bool { return &s.Datasets }, (*assembly).datasets},
	{FieldFeatureSets, func(s *models.PassportDetailSelection) *bool { return &s.FeatureSets }, (*assembly).featureSets},
	{FieldLearningProcessDetails, func(s *models.PassportDetailSelection) *bool { return &s.LearningProcessDetails }, (*assembly).learningProcesses},
	{FieldParameterDetails, func(s *models.PassportDetailSelection) *bool { return &s.ParameterDetails }, (*assembly).parameters},
	{FieldPopulationDetails, func(s *models.PassportDetailSelection) *bool { return &s.PopulationDetails }, (*assembly).populations},
	{FieldExperimentDetails, func(s *models.PassportDetailSelection) *bool { return &s.ExperimentDetails }, (*assembly).experiments},
	{FieldSurveyDetails, func(s *models.PassportDetailSelection) *bool { return &s.SurveyDetails }, (*assembly).surveys},
	{FieldStudyDetails, func(s *models.PassportDetailSelection) *bool { return &s.StudyDetails }, (*assembly).studyDetails},
}

// Result is the outcome of one assembly.
type Result struct {
	Document Document
	// Encoded is Document as produced by the codec.
	Encoded []byte
	// Coverage lists every record included in the document, sorted.
	Coverage []models.Coverage
	// Degraded names the fields that omitted a missing referenced record.
	Degraded []string
}

// Assembler builds detail documents from a read snapshot.
type Assembler struct {
	source Source
	codec  Codec
	logger *slog.Logger
}

// NewAssembler creates an assembler. A nil codec selects CanonicalCodec.
func NewAssembler(source Source, codec Codec, logger *slog.Logger) *Assembler {
	if codec == nil {
		codec = CanonicalCodec{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{source: source, codec: codec, logger: logger}
}

// Codec returns the codec documents are encoded with.
func (a *Assembler) Codec() Codec {
	return a.codec
}

// Assemble fetches every selected sub-graph for scope. The scope's study must
// exist; other missing records are omitted from their field.
func (a *Assembler) Assemble(ctx context.Context, scope models.Scope, sel models.PassportDetailSelection) (_ *Result, err error) {
	if scope.StudyID == "" {
		return nil, apperr.Validation("studyId", "must not be empty")
	}
	if scope.DeploymentID == "" {
		return nil, apperr.Validation("deploymentId", "must not be empty")
	}

	ctx, span := telemetry.StartSpan(ctx, "passport.Assemble",
		attribute.String("passport.study_id", scope.StudyID),
		attribute.String("passport.deployment_id", scope.DeploymentID),
		attribute.StringSlice("passport.fields", SelectedFields(sel)),
	)
	start := time.Now()
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		telemetry.PassportAssemblyDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
		telemetry.EndSpan(span, err)
	}()

	doc := Document{}
	run := &assembly{
		scope:    scope,
		coverage: make(map[models.Coverage]struct{}),
		logger:   a.logger,
	}

	err = a.source.View(ctx, func(ctx context.Context, r Reader, b *relations.Bindings) error {
		run.r, run.b = r, b

		study, err := r.Study(ctx, scope.StudyID)
		if err != nil {
			return fmt.Errorf("failed to load study: %w", err)
		}
		if study == nil {
			return apperr.NotFound("study", scope.StudyID)
		}
		run.study = study

		for _, f := range detailFields {
			if !*f.get(&sel) {
				continue
			}
			run.field = f.name
			v, err := f.fetch(run, ctx)
			if err != nil {
				return fmt.Errorf("failed to fetch %s: %w", f.name, err)
			}
			if err := doc.Set(f.name, v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	encoded, err := a.codec.Encode(doc)
	if err != nil {
		return nil, err
	}

	return &Result{
		Document: doc,
		Encoded:  encoded,
		Coverage: run.sortedCoverage(),
		Degraded: run.degraded,
	}, nil
}

// assembly carries the state of one Assemble call.
type assembly struct {
	r        Reader
	b        *relations.Bindings
	scope    models.Scope
	study    *models.Study
	field    string
	coverage map[models.Coverage]struct{}
	degraded []string
	logger   *slog.Logger
}

func (a *assembly) cover(relation, id string) {
	a.coverage[models.Coverage{Relation: relation, RecordID: id}] = struct{}{}
}

// missing records that field omitted a referenced record.
func (a *assembly) missing(relation, id string) {
	a.logger.Warn("referenced record missing, omitting from passport",
		"field", a.field,
		"relation", relation,
		"record_id", id,
		"study_id", a.scope.StudyID,
		"deployment_id", a.scope.DeploymentID,
	)
	telemetry.PassportAssemblyDegradedTotal.WithLabelValues(a.field).Inc()
	if !slices.Contains(a.degraded, a.field) {
		a.degraded = append(a.degraded, a.field)
	}
}

func (a *assembly) sortedCoverage() []models.Coverage {
	out := make([]models.Coverage, 0, len(a.coverage))
	for c := range a.coverage {
		out = append(out, c)
	}
	slices.SortFunc(out, func(x, y models.Coverage) int {
		if c := cmp.Compare(x.Relation, y.Relation); c != 0 {
			return c
		}
		return cmp.Compare(x.RecordID, y.RecordID)
	})
	return out
}

func (a *assembly) modelDetails(ctx context.Context) (any, error) {
	ms, err := a.r.ModelsByStudy(ctx, a.scope.StudyID)
	if err != nil {
		return nil, err
	}
	sortModels(ms)

	out := make([]modelView, 0, len(ms))
	for _, m := range ms {
		a.cover(models.RelationModel, m.ID)
		params, err := a.parameterBindings(ctx, a.b.ModelParameters, models.RelationModelParameter, m.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, modelView{Model: m, Parameters: params})
	}
	return out, nil
}

func (a *assembly) deployment(ctx context.Context) (*models.ModelDeployment, error) {
	d, err := a.r.Deployment(ctx, a.scope.DeploymentID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		a.missing(models.RelationModelDeployment, a.scope.DeploymentID)
	}
	return d, nil
}

func (a *assembly) deploymentDetails(ctx context.Context) (any, error) {
	out := []models.ModelDeployment{}
	d, err := a.deployment(ctx)
	if err != nil || d == nil {
		return out, err
	}
	a.cover(models.RelationModelDeployment, d.ID)
	return append(out, *d), nil
}

func (a *assembly) environmentDetails(ctx context.Context) (any, error) {
	out := []models.DeploymentEnvironment{}
	d, err := a.deployment(ctx)
	if err != nil || d == nil {
		return out, err
	}
	env, err := a.r.Environment(ctx, d.EnvironmentID)
	if err != nil {
		return nil, err
	}
	if env == nil {
		a.missing(models.RelationDeploymentEnvironment, d.EnvironmentID)
		return out, nil
	}
	a.cover(models.RelationDeploymentEnvironment, env.ID)
	return append(out, *env), nil
}

func (a *assembly) datasets(ctx context.Context) (any, error) {
	lds, err := a.r.LearningDatasetsByStudy(ctx, a.scope.StudyID)
	if err != nil {
		return nil, err
	}
	sortByID(lds, func(l models.LearningDataset) string { return l.ID })

	byDataset := make(map[string][]models.LearningDataset)
	var ids []string
	for _, ld := range lds {
		if _, seen := byDataset[ld.DatasetID]; !seen {
			ids = append(ids, ld.DatasetID)
		}
		byDataset[ld.DatasetID] = append(byDataset[ld.DatasetID], ld)
	}
	slices.Sort(ids)

	out := make([]datasetView, 0, len(ids))
	for _, id := range ids {
		ds, err := a.r.Dataset(ctx, id)
		if err != nil {
			return nil, err
		}
		if ds == nil {
			a.missing(models.RelationDataset, id)
			continue
		}
		a.cover(models.RelationDataset, ds.ID)
		for _, ld := range byDataset[id] {
			a.cover(models.RelationLearningDataset, ld.ID)
		}

		chars, err := a.b.FeatureCharacteristics.GetByLeft(ctx, ds.ID)
		if err != nil {
			return nil, err
		}
		cv := make([]characteristicView, 0, len(chars))
		for _, c := range chars {
			a.cover(models.RelationFeatureDatasetCharacteristic, c.Key.String())
			cv = append(cv, characteristicView{
				FeatureID:          c.Key.Right,
				CharacteristicName: c.Payload.CharacteristicName,
				Value:              c.Payload.Value,
				ValueDataType:      c.Payload.ValueDataType,
			})
		}
		slices.SortStableFunc(cv, func(x, y characteristicView) int {
			if c := cmp.Compare(x.FeatureID, y.FeatureID); c != 0 {
				return c
			}
			return cmp.Compare(x.CharacteristicName, y.CharacteristicName)
		})

		out = append(out, datasetView{Dataset: *ds, LearningDatasets: byDataset[id], Characteristics: cv})
	}
	return out, nil
}

func (a *assembly) featureSets(ctx context.Context) (any, error) {
	exps, err := a.r.ExperimentsByStudy(ctx, a.scope.StudyID)
	if err != nil {
		return nil, err
	}
	out := []featureSetView{}
	for _, e := range exps {
		sets, err := a.r.FeatureSetsByExperiment(ctx, e.ID)
		if err != nil {
			return nil, err
		}
		for _, fs := range sets {
			features, err := a.r.FeaturesByFeatureSet(ctx, fs.ID)
			if err != nil {
				return nil, err
			}
			sortByID(features, func(f models.Feature) string { return f.ID })
			a.cover(models.RelationFeatureSet, fs.ID)
			for _, f := range features {
				a.cover(models.RelationFeature, f.ID)
			}
			if features == nil {
				features = []models.Feature{}
			}
			out = append(out, featureSetView{FeatureSet: fs, Features: features})
		}
	}
	slices.SortFunc(out, func(x, y featureSetView) int { return cmp.Compare(x.ID, y.ID) })
	return out, nil
}

func (a *assembly) learningProcesses(ctx context.Context) (any, error) {
	procs, err := a.r.LearningProcessesByStudy(ctx, a.scope.StudyID)
	if err != nil {
		return nil, err
	}
	sortByID(procs, func(p models.LearningProcess) string { return p.ID })

	out := make([]learningProcessView, 0, len(procs))
	for _, p := range procs {
		a.cover(models.RelationLearningProcess, p.ID)

		stages, err := a.r.LearningStagesByProcess(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		sortByID(stages, func(s models.LearningStage) string { return s.ID })
		sv := make([]learningStageView, 0, len(stages))
		for _, s := range stages {
			a.cover(models.RelationLearningStage, s.ID)
			params, err := a.parameterBindings(ctx, a.b.LearningStageParameters, models.RelationLearningStageParameter, s.ID)
			if err != nil {
				return nil, err
			}
			sv = append(sv, learningStageView{LearningStage: s, Parameters: params})
		}

		params, err := a.parameterBindings(ctx, a.b.LearningProcessParameters, models.RelationLearningProcessParameter, p.ID)
		if err != nil {
			return nil, err
		}

		usages, err := a.b.LearningProcessDatasets.GetByLeft(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		dv := make([]processDatasetView, 0, len(usages))
		for _, u := range usages {
			a.cover(models.RelationLearningProcessDataset, u.Key.String())
			dv = append(dv, processDatasetView{LearningDatasetID: u.Key.Right, Description: u.Payload.Description})
		}
		slices.SortFunc(dv, func(x, y processDatasetView) int { return cmp.Compare(x.LearningDatasetID, y.LearningDatasetID) })

		out = append(out, learningProcessView{LearningProcess: p, Stages: sv, Parameters: params, Datasets: dv})
	}
	return out, nil
}

func (a *assembly) parameters(ctx context.Context) (any, error) {
	ps, err := a.r.ParametersByStudy(ctx, a.scope.StudyID)
	if err != nil {
		return nil, err
	}
	return coverAll(a, models.RelationParameter, ps, func(p models.Parameter) string { return p.ID }), nil
}

func (a *assembly) populations(ctx context.Context) (any, error) {
	ps, err := a.r.PopulationsByStudy(ctx, a.scope.StudyID)
	if err != nil {
		return nil, err
	}
	return coverAll(a, models.RelationPopulation, ps, func(p models.Population) string { return p.ID }), nil
}

func (a *assembly) experiments(ctx context.Context) (any, error) {
	es, err := a.r.ExperimentsByStudy(ctx, a.scope.StudyID)
	if err != nil {
		return nil, err
	}
	return coverAll(a, models.RelationExperiment, es, func(e models.Experiment) string { return e.ID }), nil
}

func (a *assembly) surveys(ctx context.Context) (any, error) {
	ss, err := a.r.SurveysByStudy(ctx, a.scope.StudyID)
	if err != nil {
		return nil, err
	}
	return coverAll(a, models.RelationSurvey, ss, func(s models.Survey) string { return s.ID }), nil
}

func (a *assembly) studyDetails(ctx context.Context) (any, error) {
	a.cover(models.RelationStudy, a.study.ID)
	view := studyView{Study: *a.study, Organizations: []studyOrganizationView{}, Personnel: []studyPersonnelView{}}

	orgs, err := a.b.StudyOrganizations.GetByLeft(ctx, a.study.ID)
	if err != nil {
		return nil, err
	}
	for _, rel := range orgs {
		org, err := a.r.Organization(ctx, rel.Key.Right)
		if err != nil {
			return nil, err
		}
		if org == nil {
			a.missing(models.RelationOrganization, rel.Key.Right)
			continue
		}
		a.cover(models.RelationStudyOrganization, rel.Key.String())
		a.cover(models.RelationOrganization, org.ID)
		view.Organizations = append(view.Organizations, studyOrganizationView{
			Organization:           *org,
			Roles:                  rel.Payload.Roles,
			ResponsiblePersonnelID: rel.Payload.ResponsiblePersonnelID,
			PopulationID:           rel.Payload.PopulationID,
		})
	}
	slices.SortFunc(view.Organizations, func(x, y studyOrganizationView) int { return cmp.Compare(x.ID, y.ID) })

	people, err := a.b.StudyPersonnel.GetByLeft(ctx, a.study.ID)
	if err != nil {
		return nil, err
	}
	for _, rel := range people {
		p, err := a.r.Personnel(ctx, rel.Key.Right)
		if err != nil {
			return nil, err
		}
		if p == nil {
			a.missing(models.RelationPersonnel, rel.Key.Right)
			continue
		}
		a.cover(models.RelationStudyPersonnel, rel.Key.String())
		a.cover(models.RelationPersonnel, p.ID)
		view.Personnel = append(view.Personnel, studyPersonnelView{Personnel: *p, Roles: rel.Payload.Roles})
	}
	slices.SortFunc(view.Personnel, func(x, y studyPersonnelView) int { return cmp.Compare(x.ID, y.ID) })

	return []studyView{view}, nil
}

// parameterBindings resolves the parameters bound to owner through store.
func (a *assembly) parameterBindings(ctx context.Context, store relations.Store[string, string, models.ParameterValue], relation, owner string) ([]parameterBinding, error) {
	rels, err := store.GetByLeft(ctx, owner)
	if err != nil {
		return nil, err
	}
	out := make([]parameterBinding, 0, len(rels))
	for _, rel := range rels {
		a.cover(relation, rel.Key.String())
		a.cover(models.RelationParameter, rel.Key.Right)
		out = append(out, parameterBinding{ParameterID: rel.Key.Right, Type: rel.Payload.Type, Value: rel.Payload.Value})
	}
	slices.SortFunc(out, func(x, y parameterBinding) int { return cmp.Compare(x.ParameterID, y.ParameterID) })
	return out, nil
}

func coverAll[T any](a *assembly, relation string, items []T, id func(T) string) []T {
	sortByID(items, id)
	for _, it := range items {
		a.cover(relation, id(it))
	}
	if items == nil {
		return []T{}
	}
	return items
}

func sortByID[T any](items []T, id func(T) string) {
	slices.SortStableFunc(items, func(x, y T) int { return cmp.Compare(id(x), id(y)) })
}

// sortModels orders models by name, then semantic version, then id. Versions
// that do not parse sort after those that do, lexically.
func sortModels(ms []models.Model) {
	slices.SortStableFunc(ms, func(x, y models.Model) int {
		if c := cmp.Compare(x.Name, y.Name); c != 0 {
			return c
		}
		if c := compareVersions(x.Version, y.Version); c != 0 {
			return c
		}
		return cmp.Compare(x.ID, y.ID)
	})
}

func compareVersions(x, y string) int {
	vx, errX := version.NewVersion(x)
	vy, errY := version.NewVersion(y)
	switch {
	case errX == nil && errY == nil:
		return vx.Compare(vy)
	case errX == nil:
		return -1
	case errY == nil:
		return 1
	}
	return cmp.Compare(x, y)
}
