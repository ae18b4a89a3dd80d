// handlers.go implements the passport endpoints: assembly, reads, approval,
// signing, deletion and the per-passport audit log book.
package passports

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ai4hf/passport/internal/api/respond"
	"github.com/ai4hf/passport/internal/audit"
	"github.com/ai4hf/passport/internal/db/models"
	"github.com/ai4hf/passport/internal/middleware"
	"github.com/ai4hf/passport/internal/passport"
)

// Service is the subset of passport.Service the handlers call.
type Service interface {
	Create(ctx context.Context, scope models.Scope, sel models.PassportDetailSelection, actor audit.Actor) (*passport.Assembled, error)
	Assemble(ctx context.Context, scope models.Scope, sel models.PassportDetailSelection, actor audit.Actor) (*passport.Assembled, error)
	Get(ctx context.Context, id int64) (*models.Passport, error)
	Document(ctx context.Context, id int64) (passport.Document, error)
	ListByStudy(ctx context.Context, studyID string) ([]*models.Passport, error)
	Recompute(ctx context.Context, id int64, sel models.PassportDetailSelection, actor audit.Actor) (*passport.Assembled, error)
	Approve(ctx context.Context, id int64, actor audit.Actor) (*models.Passport, error)
	Sign(ctx context.Context, id int64, actor audit.Actor) (*passport.Signature, error)
	Delete(ctx context.Context, id int64, actor audit.Actor) error
}

// LogBook lists the audit entries linked to a passport.
type LogBook interface {
	ListByPassport(ctx context.Context, passportID int64) ([]*models.AuditLog, error)
}

// Handlers serves /api/v1/passports.
type Handlers struct {
	service Service
	book    LogBook
}

// NewHandlers creates passport handlers.
func NewHandlers(service Service, book LogBook) *Handlers {
	return &Handlers{service: service, book: book}
}

// AssembleRequest is the body of create and assemble calls. A missing
// selection selects every detail field.
type AssembleRequest struct {
	StudyID      string          `json:"studyId"`
	DeploymentID string          `json:"deploymentId"`
	Selection    json.RawMessage `json:"selection"`
}

// RecomputeRequest is the body of a recompute call.
type RecomputeRequest struct {
	Selection json.RawMessage `json:"selection"`
}

// PassportResponse is an assembled passport with the fields that could not
// be filled.
type PassportResponse struct {
	Passport *models.Passport `json:"passport"`
	Created  bool             `json:"created"`
	Degraded []string         `json:"degradedFields"`
}

func toResponse(a *passport.Assembled) PassportResponse {
	degraded := a.Degraded
	if degraded == nil {
		degraded = []string{}
	}
	return PassportResponse{Passport: a.Passport, Created: a.Created, Degraded: degraded}
}

func selection(raw json.RawMessage) (models.PassportDetailSelection, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return models.SelectAll(), nil
	}
	return passport.ParseSelection(raw)
}

func bindAssemble(c *gin.Context) (models.Scope, models.PassportDetailSelection, bool) {
	var req AssembleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, "Invalid request body: "+err.Error())
		return models.Scope{}, models.PassportDetailSelection{}, false
	}
	sel, err := selection(req.Selection)
	if err != nil {
		respond.Error(c, err)
		return models.Scope{}, models.PassportDetailSelection{}, false
	}
	return models.Scope{StudyID: req.StudyID, DeploymentID: req.DeploymentID}, sel, true
}

func passportID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		respond.BadRequest(c, "Invalid passport id")
		return 0, false
	}
	return id, true
}

func actor(c *gin.Context) audit.Actor {
	a, _ := middleware.ActorFrom(c)
	return a
}

// @Summary      Create passport
// @Description  Assemble a passport for a (study, deployment) scope. Fails if one already exists.
// @Tags         Passports
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  AssembleRequest  true  "Scope and detail selection"
// @Success      201  {object}  PassportResponse
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Failure      404  {object}  map[string]interface{}  "Study not found"
// @Failure      409  {object}  map[string]interface{}  "Passport already exists"
// @Router       /api/v1/passports [post]
func (h *Handlers) Create() gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, sel, ok := bindAssemble(c)
		if !ok {
			return
		}
		res, err := h.service.Create(c.Request.Context(), scope, sel, actor(c))
		if err != nil {
			respond.Error(c, err)
			return
		}
		c.JSON(http.StatusCreated, toResponse(res))
	}
}

// @Summary      Assemble passport
// @Description  Create the passport for a scope or replace the document of the existing one.
// @Tags         Passports
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  AssembleRequest  true  "Scope and detail selection"
// @Success      200  {object}  PassportResponse  "Existing passport updated"
// @Success      201  {object}  PassportResponse  "Passport created"
// @Failure      409  {object}  map[string]interface{}  "Passport is approved"
// @Failure      429  {object}  map[string]interface{}  "Rate limit exceeded"
// @Router       /api/v1/passports [put]
func (h *Handlers) Assemble() gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, sel, ok := bindAssemble(c)
		if !ok {
			return
		}
		res, err := h.service.Assemble(c.Request.Context(), scope, sel, actor(c))
		if err != nil {
			respond.Error(c, err)
			return
		}
		status := http.StatusOK
		if res.Created {
			status = http.StatusCreated
		}
		c.JSON(status, toResponse(res))
	}
}

// @Summary      Get passport
// @Description  Return a passport. With view=document only the decoded detail document is returned.
// @Tags         Passports
// @Security     Bearer
// @Produce      json
// @Param        id    path   int     true   "Passport ID"
// @Param        view  query  string  false  "document"
// @Success      200  {object}  models.Passport
// @Failure      404  {object}  map[string]interface{}  "Passport not found"
// @Router       /api/v1/passports/{id} [get]
func (h *Handlers) Get() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := passportID(c)
		if !ok {
			return
		}
		if c.Query("view") == "document" {
			doc, err := h.service.Document(c.Request.Context(), id)
			if err != nil {
				respond.Error(c, err)
				return
			}
			c.JSON(http.StatusOK, doc)
			return
		}
		p, err := h.service.Get(c.Request.Context(), id)
		if err != nil {
			respond.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

// @Summary      List passports of a study
// @Tags         Passports
// @Security     Bearer
// @Produce      json
// @Param        study_id  query  string  true  "Study ID"
// @Success      200  {object}  map[string]interface{}  "passports: []models.Passport"
// @Failure      400  {object}  map[string]interface{}  "study_id missing"
// @Router       /api/v1/passports [get]
func (h *Handlers) List() gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := h.service.ListByStudy(c.Request.Context(), c.Query("study_id"))
		if err != nil {
			respond.Error(c, err)
			return
		}
		if list == nil {
			list = []*models.Passport{}
		}
		c.JSON(http.StatusOK, gin.H{"passports": list})
	}
}

// Recompute re-assembles an existing passport with a new selection.
// POST /api/v1/passports/:id/recompute
func (h *Handlers) Recompute() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := passportID(c)
		if !ok {
			return
		}
		var req RecomputeRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				respond.BadRequest(c, "Invalid request body: "+err.Error())
				return
			}
		}
		sel, err := selection(req.Selection)
		if err != nil {
			respond.Error(c, err)
			return
		}
		res, err := h.service.Recompute(c.Request.Context(), id, sel, actor(c))
		if err != nil {
			respond.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, toResponse(res))
	}
}

// Approve marks a passport approved by the caller.
// POST /api/v1/passports/:id/approve
func (h *Handlers) Approve() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := passportID(c)
		if !ok {
			return
		}
		p, err := h.service.Approve(c.Request.Context(), id, actor(c))
		if err != nil {
			respond.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

// Sign signs and archives the stored document.
// POST /api/v1/passports/:id/sign
func (h *Handlers) Sign() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := passportID(c)
		if !ok {
			return
		}
		sig, err := h.service.Sign(c.Request.Context(), id, actor(c))
		if err != nil {
			respond.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, sig)
	}
}

// Delete removes a passport.
// DELETE /api/v1/passports/:id
func (h *Handlers) Delete() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := passportID(c)
		if !ok {
			return
		}
		if err := h.service.Delete(c.Request.Context(), id, actor(c)); err != nil {
			respond.Error(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// AuditLogBook lists the audit entries linked to a passport, oldest first.
// GET /api/v1/passports/:id/audit-log-book
func (h *Handlers) AuditLogBook() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := passportID(c)
		if !ok {
			return
		}
		if _, err := h.service.Get(c.Request.Context(), id); err != nil {
			respond.Error(c, err)
			return
		}
		entries, err := h.book.ListByPassport(c.Request.Context(), id)
		if err != nil {
			respond.Error(c, err)
			return
		}
		if entries == nil {
			entries = []*models.AuditLog{}
		}
		c.JSON(http.StatusOK, gin.H{"passportId": id, "entries": entries})
	}
}
