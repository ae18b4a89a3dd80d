// handlers.go implements read access to the audit log and manual ledger links.
package auditlogs

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ai4hf/passport/internal/api/respond"
	"github.com/ai4hf/passport/internal/db/models"
)

// Book is the ledger view the handlers read from.
type Book interface {
	Get(ctx context.Context, id string) (*models.AuditLog, error)
	ListByStudy(ctx context.Context, studyID string, limit, offset int) ([]*models.AuditLog, int, error)
	FindLinksByAuditLogEntry(ctx context.Context, auditLogID string) ([]models.LedgerLink, error)
	Link(ctx context.Context, link models.LedgerLink) error
}

// Handlers serves /api/v1/audit-logs.
type Handlers struct {
	book Book
}

// NewHandlers creates audit log handlers.
func NewHandlers(book Book) *Handlers {
	return &Handlers{book: book}
}

// LinkRequest attaches an entry to a passport.
type LinkRequest struct {
	PassportID int64 `json:"passportId" binding:"required"`
}

// @Summary      List audit entries of a study
// @Description  Newest first, paginated.
// @Tags         AuditLogs
// @Security     Bearer
// @Produce      json
// @Param        study_id  query  string  true   "Study ID"
// @Param        page      query  int     false  "Page number (default 1)"
// @Param        per_page  query  int     false  "Items per page, max 100 (default 20)"
// @Success      200  {object}  map[string]interface{}  "entries: []models.AuditLog, pagination: {page, per_page, total}"
// @Failure      400  {object}  map[string]interface{}  "study_id missing"
// @Router       /api/v1/audit-logs [get]
func (h *Handlers) List() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
		if page < 1 {
			page = 1
		}
		if perPage < 1 || perPage > 100 {
			perPage = 20
		}

		entries, total, err := h.book.ListByStudy(c.Request.Context(), c.Query("study_id"), perPage, (page-1)*perPage)
		if err != nil {
			respond.Error(c, err)
			return
		}
		if entries == nil {
			entries = []*models.AuditLog{}
		}
		c.JSON(http.StatusOK, gin.H{
			"entries": entries,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}

// Get returns one entry with its snapshot opened.
// GET /api/v1/audit-logs/:id
func (h *Handlers) Get() gin.HandlerFunc {
	return func(c *gin.Context) {
		entry, err := h.book.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			respond.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, entry)
	}
}

// Passports lists the passports an entry is linked to.
// GET /api/v1/audit-logs/:id/passports
func (h *Handlers) Passports() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if _, err := h.book.Get(c.Request.Context(), id); err != nil {
			respond.Error(c, err)
			return
		}
		links, err := h.book.FindLinksByAuditLogEntry(c.Request.Context(), id)
		if err != nil {
			respond.Error(c, err)
			return
		}
		ids := make([]int64, 0, len(links))
		for _, l := range links {
			ids = append(ids, l.PassportID)
		}
		c.JSON(http.StatusOK, gin.H{"auditLogId": id, "passportIds": ids})
	}
}

// Link adds one ledger link. An existing link is a 409.
// POST /api/v1/audit-logs/:id/passports
func (h *Handlers) Link() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LinkRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.BadRequest(c, "Invalid request body: "+err.Error())
			return
		}
		link := models.LedgerLink{PassportID: req.PassportID, AuditLogID: c.Param("id")}
		if err := h.book.Link(c.Request.Context(), link); err != nil {
			respond.Error(c, err)
			return
		}
		c.JSON(http.StatusCreated, link)
	}
}
