//go:build integration

package passport_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai4hf/passport/internal/apperr"
	"github.com/ai4hf/passport/internal/audit"
	"github.com/ai4hf/passport/internal/db"
	"github.com/ai4hf/passport/internal/db/models"
	"github.com/ai4hf/passport/internal/db/repositories"
	"github.com/ai4hf/passport/internal/passport"
	"github.com/ai4hf/passport/internal/relations"
	"github.com/ai4hf/passport/internal/roles"
	"github.com/ai4hf/passport/internal/testutil/containers"
)

func TestIntegration_PassportLifecycle(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	pg.Exec(t,
		`INSERT INTO study (study_id, name) VALUES ('S1', 'Sepsis')`,
		`INSERT INTO personnel (personnel_id, first_name, last_name) VALUES ('P1', 'Ada', 'Lovelace')`,
		`INSERT INTO model (model_id, study_id, name, version) VALUES ('M1', 'S1', 'risk', '1.0.0')`,
		`INSERT INTO model_deployment (deployment_id, model_id, environment_id) VALUES ('D1', 'M1', 'E-missing')`,
	)

	ctx := context.Background()
	database := pg.DB
	entities := repositories.NewEntityRepository(database)
	ledger := repositories.NewLedgerRepository(database)
	bindings := relations.NewPostgresBindings(database)
	inTx := func(ctx context.Context, fn func(ctx context.Context) error) error {
		return db.InTx(ctx, database, fn)
	}

	recorder := audit.NewRecorder(repositories.NewAuditRepository(database), ledger, audit.WithTransactor(inTx))
	book := audit.NewBook(ledger, repositories.NewAuditRepository(database), nil)
	assembler := passport.NewAssembler(passport.NewPostgresSource(database, entities, bindings), nil, nil)
	svc := passport.NewService(assembler, repositories.NewPassportRepository(database), ledger, recorder)

	actor := audit.Actor{ID: "P1", Name: "Ada Lovelace"}
	scope := models.Scope{StudyID: "S1", DeploymentID: "D1"}

	_, err := bindings.StudyPersonnel.Put(ctx, relations.NewKey("S1", "P1"), models.PersonnelRoles{Roles: roles.NewSet(roles.StudyOwner)})
	require.NoError(t, err)
	_, err = recorder.Record(ctx, audit.Mutation{
		Kind:     models.ActionCreation,
		Relation: models.RelationStudyPersonnel,
		RecordID: "S1:P1",
		Snapshot: map[string]any{"roles": []string{"STUDY_OWNER"}},
		Actor:    actor,
		StudyID:  "S1",
	})
	require.NoError(t, err)

	// ---- create
	res, err := svc.Create(ctx, scope, models.SelectAll(), actor)
	require.NoError(t, err)
	require.True(t, res.Created)
	require.Positive(t, res.Passport.ID)
	assert.Contains(t, res.Degraded, passport.FieldEnvironmentDetails)
	assert.Contains(t, string(res.Passport.Details), "STUDY_OWNER")
	id := res.Passport.ID

	_, err = svc.Create(ctx, scope, models.SelectAll(), actor)
	var conflict *apperr.ConflictError
	require.ErrorAs(t, err, &conflict)

	got, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.JSONEq(t, string(res.Passport.Details), string(got.Details))

	// ---- ledger: the earlier entry is backfilled, the creation is linked
	entries, err := book.ListByPassport(ctx, id)
	require.NoError(t, err)
	kinds := map[string]models.ActionKind{}
	for _, e := range entries {
		kinds[e.AffectedRelation] = e.ActionType
	}
	assert.Equal(t, map[string]models.ActionKind{
		models.RelationStudyPersonnel: models.ActionCreation,
		passport.RelationPassport:     models.ActionCreation,
	}, kinds)

	// ---- a later mutation of a covered record is linked too
	later, err := recorder.Record(ctx, audit.Mutation{
		Kind:     models.ActionUpdate,
		Relation: models.RelationStudyPersonnel,
		RecordID: "S1:P1",
		Actor:    actor,
	})
	require.NoError(t, err)
	links, err := book.FindLinksByAuditLogEntry(ctx, later.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, id, links[0].PassportID)

	// ---- approve freezes the passport
	approved, err := svc.Approve(ctx, id, actor)
	require.NoError(t, err)
	require.NotNil(t, approved.ApprovedAt)
	assert.WithinDuration(t, time.Now(), *approved.ApprovedAt, time.Minute)

	_, err = svc.Approve(ctx, id, actor)
	require.ErrorAs(t, err, &conflict)
	_, err = svc.Assemble(ctx, scope, models.SelectAll(), actor)
	require.ErrorAs(t, err, &conflict)

	// ---- delete
	require.NoError(t, svc.Delete(ctx, id, actor))
	_, err = svc.Get(ctx, id)
	var notFound *apperr.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestIntegration_RedisCache(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	ctx := context.Background()
	cache := passport.NewRedisCache(rc.Client, time.Minute)

	got, err := cache.Get(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, got)

	p := &models.Passport{
		ID:           42,
		StudyID:      "S1",
		DeploymentID: "D1",
		CreatedAt:    time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		CreatedBy:    "P1",
		Details:      []byte(`{"studyDetails":{"name":"<b>&</b>"}}`),
	}
	require.NoError(t, cache.Set(ctx, p))

	got, err = cache.Get(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, string(p.Details), string(got.Details))
	assert.True(t, p.CreatedAt.Equal(got.CreatedAt))

	ttl, err := rc.Client.TTL(ctx, "passport:v1:42").Result()
	if err == nil && ttl > 0 {
		assert.LessOrEqual(t, ttl, time.Minute)
	}

	require.NoError(t, cache.Invalidate(ctx, 42))
	got, err = cache.Get(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, got)
}
