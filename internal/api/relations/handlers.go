// Package relations serves the composite relation bindings under
// /api/v1/relations/:relation. Every mutation is audited after the write
// commits. Mutations carry the study they belong to in ?study_id=; for
// study-keyed relations it defaults to the left id.
package relations

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/ai4hf/passport/internal/api/respond"
	"github.com/ai4hf/passport/internal/apperr"
	"github.com/ai4hf/passport/internal/audit"
	"github.com/ai4hf/passport/internal/db/models"
	"github.com/ai4hf/passport/internal/middleware"
	rel "github.com/ai4hf/passport/internal/relations"
)

// Auditor records relation mutations.
type Auditor interface {
	Record(ctx context.Context, m audit.Mutation) (*models.AuditLog, error)
}

// Record is the wire form of one relation row.
type Record struct {
	Left    string `json:"left"`
	Right   string `json:"right"`
	Payload any    `json:"payload"`
}

// binding erases the payload type of one relation store.
type binding interface {
	name() string
	studyScoped() bool
	get(ctx context.Context, left, right string) (*Record, error)
	list(ctx context.Context, left, right string) ([]Record, error)
	put(ctx context.Context, left, right string, body []byte) (*Record, bool, error)
	create(ctx context.Context, left, right string, body []byte) (*Record, error)
	remove(ctx context.Context, left, right string) (bool, error)
}

type typed[P any] struct {
	store rel.Store[string, string, P]
	// study is true when the left id is a study id.
	study bool
}

func (b typed[P]) name() string      { return b.store.Name() }
func (b typed[P]) studyScoped() bool { return b.study }

func record[P any](r rel.Relation[string, string, P]) Record {
	return Record{Left: r.Key.Left, Right: r.Key.Right, Payload: r.Payload}
}

func (b typed[P]) get(ctx context.Context, left, right string) (*Record, error) {
	r, err := b.store.Get(ctx, rel.NewKey(left, right))
	if err != nil || r == nil {
		return nil, err
	}
	out := record(*r)
	return &out, nil
}

func (b typed[P]) list(ctx context.Context, left, right string) ([]Record, error) {
	var (
		rows []rel.Relation[string, string, P]
		err  error
	)
	if left != "" {
		rows, err = b.store.GetByLeft(ctx, left)
	} else {
		rows, err = b.store.GetByRight(ctx, right)
	}
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		if left != "" && right != "" && r.Key.Right != right {
			continue
		}
		out = append(out, record(r))
	}
	return out, nil
}

func decodePayload[P any](body []byte) (P, error) {
	var p P
	if err := json.Unmarshal(body, &p); err != nil {
		return p, apperr.Validation("payload", err.Error())
	}
	return p, nil
}

func (b typed[P]) put(ctx context.Context, left, right string, body []byte) (*Record, bool, error) {
	p, err := decodePayload[P](body)
	if err != nil {
		return nil, false, err
	}
	inserted, err := b.store.Put(ctx, rel.NewKey(left, right), p)
	if err != nil {
		return nil, false, err
	}
	return &Record{Left: left, Right: right, Payload: p}, inserted, nil
}

func (b typed[P]) create(ctx context.Context, left, right string, body []byte) (*Record, error) {
	p, err := decodePayload[P](body)
	if err != nil {
		return nil, err
	}
	if err := b.store.Create(ctx, rel.NewKey(left, right), p); err != nil {
		return nil, err
	}
	return &Record{Left: left, Right: right, Payload: p}, nil
}

func (b typed[P]) remove(ctx context.Context, left, right string) (bool, error) {
	return b.store.Delete(ctx, rel.NewKey(left, right))
}

// Handlers serves every relation in a Bindings set.
type Handlers struct {
	bindings map[string]binding
	auditor  Auditor
	inTx     audit.Transactor
}

// NewHandlers exposes b. inTx wraps the store write; it may be nil.
func NewHandlers(b *rel.Bindings, auditor Auditor, inTx audit.Transactor) *Handlers {
	if inTx == nil {
		inTx = func(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }
	}
	h := &Handlers{bindings: map[string]binding{}, auditor: auditor, inTx: inTx}
	for _, bd := range []binding{
		typed[models.OrganizationRoles]{store: b.StudyOrganizations, study: true},
		typed[models.PersonnelRoles]{store: b.StudyPersonnel, study: true},
		typed[models.ParameterValue]{store: b.ModelParameters},
		typed[models.ParameterValue]{store: b.LearningProcessParameters},
		typed[models.ParameterValue]{store: b.LearningStageParameters},
		typed[models.FeatureCharacteristic]{store: b.FeatureCharacteristics},
		typed[models.ProcessDatasetUsage]{store: b.LearningProcessDatasets},
	} {
		h.bindings[bd.name()] = bd
	}
	return h
}

// Names returns the served relation names, sorted.
func (h *Handlers) Names() []string {
	names := make([]string, 0, len(h.bindings))
	for n := range h.bindings {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (h *Handlers) binding(c *gin.Context) (binding, bool) {
	b, ok := h.bindings[c.Param("relation")]
	if !ok {
		respond.Error(c, apperr.NotFound("relation", c.Param("relation")))
		return nil, false
	}
	return b, true
}

// studyID resolves the study a mutation belongs to.
func studyID(c *gin.Context, b binding) (string, bool) {
	id := c.Query("study_id")
	if b.studyScoped() {
		if id != "" && id != c.Param("left") {
			respond.Error(c, apperr.Validation("study_id", "must match the study in the path"))
			return "", false
		}
		return c.Param("left"), true
	}
	if id == "" {
		respond.Error(c, apperr.Validation("study_id", "study_id is required"))
		return "", false
	}
	return id, true
}

// record audits a committed mutation. A failed entry is logged and the
// mutation stands; the recorder counts the failure.
func (h *Handlers) record(c *gin.Context, b binding, kind models.ActionKind, study, left, right string, snapshot any, actor audit.Actor) {
	recordID := rel.NewKey(left, right).String()
	_, err := h.auditor.Record(c.Request.Context(), audit.Mutation{
		Kind:     kind,
		Relation: b.name(),
		RecordID: recordID,
		Snapshot: snapshot,
		Actor:    actor,
		StudyID:  study,
	})
	if err != nil {
		middleware.Logger(c).Error("failed to record audit entry",
			"action", kind,
			"relation", b.name(),
			"record_id", recordID,
			"study_id", study,
			"error", err,
		)
	}
}

// Index lists the served relation names.
// GET /api/v1/relations
func (h *Handlers) Index() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"relations": h.Names()})
	}
}

// List returns the rows matching ?left= and/or ?right=. One of them is required.
// GET /api/v1/relations/:relation
func (h *Handlers) List() gin.HandlerFunc {
	return func(c *gin.Context) {
		b, ok := h.binding(c)
		if !ok {
			return
		}
		left, right := c.Query("left"), c.Query("right")
		if left == "" && right == "" {
			respond.Error(c, apperr.Validation("left", "left or right is required"))
			return
		}
		rows, err := b.list(c.Request.Context(), left, right)
		if err != nil {
			respond.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"relation": b.name(), "records": rows})
	}
}

// Get returns one row.
// GET /api/v1/relations/:relation/:left/:right
func (h *Handlers) Get() gin.HandlerFunc {
	return func(c *gin.Context) {
		b, ok := h.binding(c)
		if !ok {
			return
		}
		left, right := c.Param("left"), c.Param("right")
		r, err := b.get(c.Request.Context(), left, right)
		if err != nil {
			respond.Error(c, err)
			return
		}
		if r == nil {
			respond.Error(c, apperr.NotFound(b.name(), rel.NewKey(left, right).String()))
			return
		}
		c.JSON(http.StatusOK, r)
	}
}

// Put inserts or replaces a row. 201 when inserted, 200 when replaced.
// PUT /api/v1/relations/:relation/:left/:right
func (h *Handlers) Put() gin.HandlerFunc {
	return func(c *gin.Context) {
		b, ok := h.binding(c)
		if !ok {
			return
		}
		body, err := c.GetRawData()
		if err != nil {
			respond.BadRequest(c, "Failed to read request body")
			return
		}
		study, ok := studyID(c, b)
		if !ok {
			return
		}
		left, right := c.Param("left"), c.Param("right")
		actor, _ := middleware.ActorFrom(c)

		var (
			out      *Record
			inserted bool
		)
		err = h.inTx(c.Request.Context(), func(ctx context.Context) error {
			var err error
			out, inserted, err = b.put(ctx, left, right, body)
			return err
		})
		if err != nil {
			respond.Error(c, err)
			return
		}

		kind, status := models.ActionUpdate, http.StatusOK
		if inserted {
			kind, status = models.ActionCreation, http.StatusCreated
		}
		h.record(c, b, kind, study, left, right, out, actor)
		c.JSON(status, out)
	}
}

// Create inserts a row that must not exist yet.
// POST /api/v1/relations/:relation/:left/:right
func (h *Handlers) Create() gin.HandlerFunc {
	return func(c *gin.Context) {
		b, ok := h.binding(c)
		if !ok {
			return
		}
		body, err := c.GetRawData()
		if err != nil {
			respond.BadRequest(c, "Failed to read request body")
			return
		}
		study, ok := studyID(c, b)
		if !ok {
			return
		}
		left, right := c.Param("left"), c.Param("right")
		actor, _ := middleware.ActorFrom(c)

		var out *Record
		err = h.inTx(c.Request.Context(), func(ctx context.Context) error {
			var err error
			out, err = b.create(ctx, left, right, body)
			return err
		})
		if err != nil {
			respond.Error(c, err)
			return
		}
		h.record(c, b, models.ActionCreation, study, left, right, out, actor)
		c.JSON(http.StatusCreated, out)
	}
}

var errRowMissing = errors.New("row missing")

// Delete removes a row. The audit snapshot is the row as it was.
// DELETE /api/v1/relations/:relation/:left/:right
func (h *Handlers) Delete() gin.HandlerFunc {
	return func(c *gin.Context) {
		b, ok := h.binding(c)
		if !ok {
			return
		}
		study, ok := studyID(c, b)
		if !ok {
			return
		}
		left, right := c.Param("left"), c.Param("right")
		actor, _ := middleware.ActorFrom(c)

		var before *Record
		err := h.inTx(c.Request.Context(), func(ctx context.Context) error {
			var err error
			if before, err = b.get(ctx, left, right); err != nil {
				return err
			}
			found, err := b.remove(ctx, left, right)
			if err != nil {
				return err
			}
			if !found || before == nil {
				return errRowMissing
			}
			return nil
		})
		if errors.Is(err, errRowMissing) {
			err = apperr.NotFound(b.name(), rel.NewKey(left, right).String())
		}
		if err != nil {
			respond.Error(c, err)
			return
		}
		h.record(c, b, models.ActionDeletion, study, left, right, before, actor)
		c.Status(http.StatusNoContent)
	}
}

// Register mounts the relation routes on g.
func (h *Handlers) Register(g *gin.RouterGroup) {
	g.GET("", h.Index())
	g.GET("/:relation", h.List())
	g.GET("/:relation/:left/:right", h.Get())
	g.PUT("/:relation/:left/:right", h.Put())
	g.POST("/:relation/:left/:right", h.Create())
	g.DELETE("/:relation/:left/:right", h.Delete())
}
