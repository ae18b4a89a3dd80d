package relations

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai4hf/passport/internal/audit"
	"github.com/ai4hf/passport/internal/db/models"
	"github.com/ai4hf/passport/internal/middleware"
	rel "github.com/ai4hf/passport/internal/relations"
	"github.com/ai4hf/passport/internal/roles"
)

func init() { gin.SetMode(gin.TestMode) }

type recordingAuditor struct {
	mutations []audit.Mutation
	err       error
}

func (a *recordingAuditor) Record(_ context.Context, m audit.Mutation) (*models.AuditLog, error) {
	if a.err != nil {
		return nil, a.err
	}
	a.mutations = append(a.mutations, m)
	return &models.AuditLog{ID: "A1"}, nil
}

func setup(t *testing.T) (*gin.Engine, *rel.Bindings, *recordingAuditor) {
	t.Helper()
	b := rel.NewMemoryBindings(nil)
	a := &recordingAuditor{}
	h := NewHandlers(b, a, nil)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ActorKey, audit.Actor{ID: "P1"})
		c.Next()
	})
	h.Register(r.Group("/relations"))
	return r, b, a
}

func call(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// Index / routing
// ---------------------------------------------------------------------------

func TestIndex_ListsEveryRelation(t *testing.T) {
	r, _, _ := setup(t)
	w := call(r, http.MethodGet, "/relations", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Relations []string `json:"relations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, []string{
		models.RelationFeatureDatasetCharacteristic,
		models.RelationLearningProcessDataset,
		models.RelationLearningProcessParameter,
		models.RelationLearningStageParameter,
		models.RelationModelParameter,
		models.RelationStudyOrganization,
		models.RelationStudyPersonnel,
	}, body.Relations)
}

func TestUnknownRelation(t *testing.T) {
	r, _, _ := setup(t)
	w := call(r, http.MethodGet, "/relations/nope/a/b", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// ---------------------------------------------------------------------------
// Put / Create
// ---------------------------------------------------------------------------

func TestPut_InsertThenReplace(t *testing.T) {
	r, b, a := setup(t)

	w := call(r, http.MethodPut, "/relations/model_parameter/M1/PAR1?study_id=S1", `{"type":"int","value":"3"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = call(r, http.MethodPut, "/relations/model_parameter/M1/PAR1?study_id=S1", `{"type":"int","value":"4"}`)
	require.Equal(t, http.StatusOK, w.Code)

	got, err := b.ModelParameters.Get(context.Background(), rel.NewKey("M1", "PAR1"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "4", got.Payload.Value)

	require.Len(t, a.mutations, 2)
	assert.Equal(t, models.ActionCreation, a.mutations[0].Kind)
	assert.Equal(t, models.ActionUpdate, a.mutations[1].Kind)
	assert.Equal(t, "M1:PAR1", a.mutations[1].RecordID)
	assert.Equal(t, models.RelationModelParameter, a.mutations[1].Relation)
	assert.Equal(t, "S1", a.mutations[0].StudyID)
	assert.Equal(t, "S1", a.mutations[1].StudyID)
	assert.Equal(t, "P1", a.mutations[1].Actor.ID)
}

func TestPut_StudyScopedRelation(t *testing.T) {
	r, b, a := setup(t)

	w := call(r, http.MethodPut, "/relations/study_personnel/S1/P9", `{"roles":["DATA_SCIENTIST","STUDY_OWNER"]}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	got, err := b.StudyPersonnel.Get(context.Background(), rel.NewKey("S1", "P9"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Payload.Roles.Has(roles.StudyOwner))
	assert.True(t, got.Payload.Roles.Has(roles.DataScientist))

	require.Len(t, a.mutations, 1)
	assert.Equal(t, "S1", a.mutations[0].StudyID)
}

func TestPut_InvalidRole(t *testing.T) {
	r, _, a := setup(t)
	w := call(r, http.MethodPut, "/relations/study_personnel/S1/P9", `{"roles":["WIZARD"]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, a.mutations)
}

func TestPut_InvalidJSON(t *testing.T) {
	r, _, _ := setup(t)
	w := call(r, http.MethodPut, "/relations/model_parameter/M1/PAR1?study_id=S1", `{`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMutations_RequireStudyID(t *testing.T) {
	r, b, a := setup(t)
	for _, method := range []string{http.MethodPut, http.MethodPost, http.MethodDelete} {
		w := call(r, method, "/relations/learning_stage_parameter/LS1/PAR1", `{"type":"int","value":"3"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code, method)
	}
	got, err := b.LearningStageParameters.Get(context.Background(), rel.NewKey("LS1", "PAR1"))
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Empty(t, a.mutations)
}

func TestPut_StudyIDMustMatchStudyKeyedPath(t *testing.T) {
	r, _, a := setup(t)
	w := call(r, http.MethodPut, "/relations/study_personnel/S1/P9?study_id=S2", `{"roles":["DATA_SCIENTIST"]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, a.mutations)
}

func TestPut_AuditFailureKeepsWrite(t *testing.T) {
	r, b, a := setup(t)
	a.err = errors.New("audit store down")

	w := call(r, http.MethodPut, "/relations/model_parameter/M1/PAR1?study_id=S1", `{"type":"int","value":"3"}`)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	got, err := b.ModelParameters.Get(context.Background(), rel.NewKey("M1", "PAR1"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "3", got.Payload.Value)
}

func TestDelete_AuditFailureKeepsDelete(t *testing.T) {
	r, b, a := setup(t)
	require.Equal(t, http.StatusCreated,
		call(r, http.MethodPut, "/relations/model_parameter/M1/PAR1?study_id=S1", `{"type":"int","value":"3"}`).Code)
	a.err = errors.New("audit store down")

	w := call(r, http.MethodDelete, "/relations/model_parameter/M1/PAR1?study_id=S1", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	got, err := b.ModelParameters.Get(context.Background(), rel.NewKey("M1", "PAR1"))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCreate_Conflict(t *testing.T) {
	r, _, a := setup(t)

	w := call(r, http.MethodPost, "/relations/learning_process_dataset/LP1/LD1?study_id=S1", `{"description":"training"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = call(r, http.MethodPost, "/relations/learning_process_dataset/LP1/LD1?study_id=S1", `{"description":"again"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	require.Len(t, a.mutations, 1)
	assert.Equal(t, "S1", a.mutations[0].StudyID)
}

// ---------------------------------------------------------------------------
// Get / List
// ---------------------------------------------------------------------------

func TestGetAndList(t *testing.T) {
	r, _, _ := setup(t)
	for _, path := range []string{
		"/relations/feature_dataset_characteristic/DS1/F1",
		"/relations/feature_dataset_characteristic/DS1/F2",
		"/relations/feature_dataset_characteristic/DS2/F1",
	} {
		w := call(r, http.MethodPut, path+"?study_id=S1", `{"characteristicName":"mean","value":"1.5","valueDataType":"float"}`)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := call(r, http.MethodGet, "/relations/feature_dataset_characteristic/DS1/F2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var one Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &one))
	assert.Equal(t, "DS1", one.Left)
	assert.Equal(t, "F2", one.Right)

	var list struct {
		Records []Record `json:"records"`
	}
	w = call(r, http.MethodGet, "/relations/feature_dataset_characteristic?left=DS1", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Records, 2)
	assert.Equal(t, "F1", list.Records[0].Right)
	assert.Equal(t, "F2", list.Records[1].Right)

	w = call(r, http.MethodGet, "/relations/feature_dataset_characteristic?right=F1", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list.Records, 2)

	w = call(r, http.MethodGet, "/relations/feature_dataset_characteristic?left=DS2&right=F2", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Empty(t, list.Records)
}

func TestList_RequiresSide(t *testing.T) {
	r, _, _ := setup(t)
	w := call(r, http.MethodGet, "/relations/model_parameter", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGet_Missing(t *testing.T) {
	r, _, _ := setup(t)
	w := call(r, http.MethodGet, "/relations/model_parameter/M1/PAR1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// ---------------------------------------------------------------------------
// Delete
// ---------------------------------------------------------------------------

func TestDelete(t *testing.T) {
	r, b, a := setup(t)
	require.Equal(t, http.StatusCreated,
		call(r, http.MethodPut, "/relations/study_organization/S1/O1", `{"roles":["ORGANIZATION_ADMIN"],"responsiblePersonnelId":"P1"}`).Code)

	w := call(r, http.MethodDelete, "/relations/study_organization/S1/O1", "")
	require.Equal(t, http.StatusNoContent, w.Code)

	got, err := b.StudyOrganizations.Get(context.Background(), rel.NewKey("S1", "O1"))
	require.NoError(t, err)
	assert.Nil(t, got)

	require.Len(t, a.mutations, 2)
	del := a.mutations[1]
	assert.Equal(t, models.ActionDeletion, del.Kind)
	assert.Equal(t, "S1", del.StudyID)
	snap, ok := del.Snapshot.(*Record)
	require.True(t, ok)
	assert.Equal(t, "O1", snap.Right)

	w = call(r, http.MethodDelete, "/relations/study_organization/S1/O1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Len(t, a.mutations, 2)
}
