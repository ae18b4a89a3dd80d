package passports

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ai4hf/passport/internal/apperr"
	"github.com/ai4hf/passport/internal/audit"
	"github.com/ai4hf/passport/internal/db/models"
	"github.com/ai4hf/passport/internal/middleware"
	"github.com/ai4hf/passport/internal/passport"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeService struct {
	gotScope models.Scope
	gotSel   models.PassportDetailSelection
	gotActor audit.Actor
	gotID    int64

	assembled *passport.Assembled
	passport  *models.Passport
	document  passport.Document
	list      []*models.Passport
	signature *passport.Signature
	err       error
}

func (f *fakeService) Create(_ context.Context, scope models.Scope, sel models.PassportDetailSelection, a audit.Actor) (*passport.Assembled, error) {
	f.gotScope, f.gotSel, f.gotActor = scope, sel, a
	return f.assembled, f.err
}

func (f *fakeService) Assemble(_ context.Context, scope models.Scope, sel models.PassportDetailSelection, a audit.Actor) (*passport.Assembled, error) {
	f.gotScope, f.gotSel, f.gotActor = scope, sel, a
	return f.assembled, f.err
}

func (f *fakeService) Get(_ context.Context, id int64) (*models.Passport, error) {
	f.gotID = id
	return f.passport, f.err
}

func (f *fakeService) Document(_ context.Context, id int64) (passport.Document, error) {
	f.gotID = id
	return f.document, f.err
}

func (f *fakeService) ListByStudy(_ context.Context, studyID string) ([]*models.Passport, error) {
	if studyID == "" {
		return nil, apperr.Validation("study_id", "must not be empty")
	}
	return f.list, f.err
}

func (f *fakeService) Recompute(_ context.Context, id int64, sel models.PassportDetailSelection, a audit.Actor) (*passport.Assembled, error) {
	f.gotID, f.gotSel, f.gotActor = id, sel, a
	return f.assembled, f.err
}

func (f *fakeService) Approve(_ context.Context, id int64, a audit.Actor) (*models.Passport, error) {
	f.gotID, f.gotActor = id, a
	return f.passport, f.err
}

func (f *fakeService) Sign(_ context.Context, id int64, a audit.Actor) (*passport.Signature, error) {
	f.gotID, f.gotActor = id, a
	return f.signature, f.err
}

func (f *fakeService) Delete(_ context.Context, id int64, a audit.Actor) error {
	f.gotID, f.gotActor = id, a
	return f.err
}

type fakeBook struct {
	entries []*models.AuditLog
	err     error
}

func (b *fakeBook) ListByPassport(context.Context, int64) ([]*models.AuditLog, error) {
	return b.entries, b.err
}

// ---------------------------------------------------------------------------
// Router helper
// ---------------------------------------------------------------------------

func newRouter(svc *fakeService, book *fakeBook) *gin.Engine {
	h := NewHandlers(svc, book)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ActorKey, audit.Actor{ID: "P1", Name: "Ada Lovelace"})
		c.Next()
	})
	r.POST("/passports", h.Create())
	r.PUT("/passports", h.Assemble())
	r.GET("/passports", h.List())
	r.GET("/passports/:id", h.Get())
	r.POST("/passports/:id/recompute", h.Recompute())
	r.POST("/passports/:id/approve", h.Approve())
	r.POST("/passports/:id/sign", h.Sign())
	r.DELETE("/passports/:id", h.Delete())
	r.GET("/passports/:id/audit-log-book", h.AuditLogBook())
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("invalid JSON body %q: %v", w.Body.String(), err)
	}
	return m
}

func samplePassport() *models.Passport {
	return &models.Passport{
		ID:           7,
		StudyID:      "S1",
		DeploymentID: "D1",
		CreatedAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		CreatedBy:    "P1",
		Details:      json.RawMessage(`{}`),
	}
}

// ---------------------------------------------------------------------------
// Create / Assemble
// ---------------------------------------------------------------------------

func TestCreate_Success(t *testing.T) {
	svc := &fakeService{assembled: &passport.Assembled{Passport: samplePassport(), Created: true}}
	r := newRouter(svc, &fakeBook{})

	w := do(r, http.MethodPost, "/passports", `{"studyId":"S1","deploymentId":"D1","selection":{"studyDetails":true}}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	if svc.gotScope != (models.Scope{StudyID: "S1", DeploymentID: "D1"}) {
		t.Errorf("scope = %+v", svc.gotScope)
	}
	if !svc.gotSel.StudyDetails || svc.gotSel.ModelDetails {
		t.Errorf("selection = %+v", svc.gotSel)
	}
	if svc.gotActor.ID != "P1" {
		t.Errorf("actor = %+v", svc.gotActor)
	}
	body := decode(t, w)
	if d, ok := body["degradedFields"].([]any); !ok || len(d) != 0 {
		t.Errorf("degradedFields = %v, want []", body["degradedFields"])
	}
}

func TestCreate_DefaultSelectionIsAll(t *testing.T) {
	svc := &fakeService{assembled: &passport.Assembled{Passport: samplePassport(), Created: true}}
	w := do(newRouter(svc, &fakeBook{}), http.MethodPost, "/passports", `{"studyId":"S1","deploymentId":"D1"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d", w.Code)
	}
	if svc.gotSel != models.SelectAll() {
		t.Errorf("selection = %+v, want all", svc.gotSel)
	}
}

func TestCreate_UnknownSelectionField(t *testing.T) {
	svc := &fakeService{}
	w := do(newRouter(svc, &fakeBook{}), http.MethodPost, "/passports", `{"studyId":"S1","selection":{"bogus":true}}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCreate_InvalidJSON(t *testing.T) {
	w := do(newRouter(&fakeService{}, &fakeBook{}), http.MethodPost, "/passports", `{`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCreate_Conflict(t *testing.T) {
	svc := &fakeService{err: apperr.Conflict("passport", "S1:D1")}
	w := do(newRouter(svc, &fakeBook{}), http.MethodPost, "/passports", `{"studyId":"S1","deploymentId":"D1"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestCreate_StudyNotFound(t *testing.T) {
	svc := &fakeService{err: apperr.NotFound("study", "S9")}
	w := do(newRouter(svc, &fakeBook{}), http.MethodPost, "/passports", `{"studyId":"S9","deploymentId":"D1"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestAssemble_StatusFollowsCreated(t *testing.T) {
	svc := &fakeService{assembled: &passport.Assembled{Passport: samplePassport(), Created: false, Degraded: []string{"modelDetails"}}}
	r := newRouter(svc, &fakeBook{})

	w := do(r, http.MethodPut, "/passports", `{"studyId":"S1","deploymentId":"D1"}`)
	if w.Code != http.StatusOK {
		t.Errorf("update status = %d, want 200", w.Code)
	}
	body := decode(t, w)
	if d, _ := body["degradedFields"].([]any); len(d) != 1 || d[0] != "modelDetails" {
		t.Errorf("degradedFields = %v", body["degradedFields"])
	}

	svc.assembled.Created = true
	w = do(r, http.MethodPut, "/passports", `{"studyId":"S1","deploymentId":"D1"}`)
	if w.Code != http.StatusCreated {
		t.Errorf("create status = %d, want 201", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

func TestGet_Success(t *testing.T) {
	svc := &fakeService{passport: samplePassport()}
	w := do(newRouter(svc, &fakeBook{}), http.MethodGet, "/passports/7", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if svc.gotID != 7 {
		t.Errorf("id = %d, want 7", svc.gotID)
	}
	if body := decode(t, w); body["studyId"] != "S1" {
		t.Errorf("body = %v", body)
	}
}

func TestGet_DocumentView(t *testing.T) {
	svc := &fakeService{document: passport.Document{"studyDetails": json.RawMessage(`{"id":"S1"}`)}}
	w := do(newRouter(svc, &fakeBook{}), http.MethodGet, "/passports/7?view=document", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if _, ok := decode(t, w)["studyDetails"]; !ok {
		t.Errorf("document missing studyDetails: %s", w.Body.String())
	}
}

func TestGet_InvalidID(t *testing.T) {
	for _, id := range []string{"abc", "0", "-3"} {
		w := do(newRouter(&fakeService{}, &fakeBook{}), http.MethodGet, "/passports/"+id, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("id %q: status = %d, want 400", id, w.Code)
		}
	}
}

func TestGet_NotFound(t *testing.T) {
	svc := &fakeService{err: apperr.NotFound("passport", "7")}
	w := do(newRouter(svc, &fakeBook{}), http.MethodGet, "/passports/7", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestList(t *testing.T) {
	svc := &fakeService{}
	r := newRouter(svc, &fakeBook{})

	w := do(r, http.MethodGet, "/passports", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing study_id: status = %d, want 400", w.Code)
	}

	w = do(r, http.MethodGet, "/passports?study_id=S1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if list, ok := decode(t, w)["passports"].([]any); !ok || len(list) != 0 {
		t.Errorf("passports = %v, want []", list)
	}
}

// ---------------------------------------------------------------------------
// Mutations
// ---------------------------------------------------------------------------

func TestRecompute_EmptyBodySelectsAll(t *testing.T) {
	svc := &fakeService{assembled: &passport.Assembled{Passport: samplePassport()}}
	w := do(newRouter(svc, &fakeBook{}), http.MethodPost, "/passports/7/recompute", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if svc.gotID != 7 || svc.gotSel != models.SelectAll() {
		t.Errorf("id = %d sel = %+v", svc.gotID, svc.gotSel)
	}
}

func TestRecompute_ApprovedConflict(t *testing.T) {
	svc := &fakeService{err: apperr.Conflict("approved passport", "7")}
	w := do(newRouter(svc, &fakeBook{}), http.MethodPost, "/passports/7/recompute", `{"selection":{"modelDetails":true}}`)
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
	if !svc.gotSel.ModelDetails || svc.gotSel.StudyDetails {
		t.Errorf("selection = %+v", svc.gotSel)
	}
}

func TestApprove(t *testing.T) {
	p := samplePassport()
	at := time.Now().UTC()
	by := "P1"
	p.ApprovedAt, p.ApprovedBy = &at, &by
	svc := &fakeService{passport: p}

	w := do(newRouter(svc, &fakeBook{}), http.MethodPost, "/passports/7/approve", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if svc.gotActor.ID != "P1" {
		t.Errorf("actor = %+v", svc.gotActor)
	}
	if decode(t, w)["approvedBy"] != "P1" {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestSign(t *testing.T) {
	svc := &fakeService{signature: &passport.Signature{PassportID: 7, Digest: "abc", KeyID: "KEY"}}
	w := do(newRouter(svc, &fakeBook{}), http.MethodPost, "/passports/7/sign", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if decode(t, w)["sha256"] != "abc" {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestSign_Disabled(t *testing.T) {
	svc := &fakeService{err: apperr.Validation("signing", "signing is not enabled")}
	w := do(newRouter(svc, &fakeBook{}), http.MethodPost, "/passports/7/sign", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestDelete(t *testing.T) {
	svc := &fakeService{}
	w := do(newRouter(svc, &fakeBook{}), http.MethodDelete, "/passports/7", "")
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if svc.gotID != 7 {
		t.Errorf("id = %d", svc.gotID)
	}
}

func TestDelete_InternalError(t *testing.T) {
	svc := &fakeService{err: errors.New("connection reset")}
	w := do(newRouter(svc, &fakeBook{}), http.MethodDelete, "/passports/7", "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

// ---------------------------------------------------------------------------
// AuditLogBook
// ---------------------------------------------------------------------------

func TestAuditLogBook(t *testing.T) {
	svc := &fakeService{passport: samplePassport()}
	book := &fakeBook{entries: []*models.AuditLog{{ID: "A1", ActionType: models.ActionCreation}}}
	w := do(newRouter(svc, book), http.MethodGet, "/passports/7/audit-log-book", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	entries, _ := decode(t, w)["entries"].([]any)
	if len(entries) != 1 {
		t.Errorf("entries = %v", entries)
	}
}

func TestAuditLogBook_UnknownPassport(t *testing.T) {
	svc := &fakeService{err: apperr.NotFound("passport", "7")}
	w := do(newRouter(svc, &fakeBook{}), http.MethodGet, "/passports/7/audit-log-book", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
