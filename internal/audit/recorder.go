// Package audit records every tracked mutation as an immutable audit entry
// and links it, through the ledger book, to each passport whose document the
// mutated record contributes to.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ai4hf/passport/internal/apperr"
	"github.com/ai4hf/passport/internal/crypto"
	"github.com/ai4hf/passport/internal/db/models"
	"github.com/ai4hf/passport/internal/telemetry"
)

// Actor is the person responsible for a mutation.
type Actor struct {
	ID   string
	Name string
}

// Mutation describes one change to a tracked record.
type Mutation struct {
	Kind     models.ActionKind
	Relation string
	RecordID string
	// Snapshot is the record state after the change (before, for deletions).
	// json.RawMessage and []byte are stored as given; anything else is marshalled.
	Snapshot any
	Actor    Actor
	// StudyID scopes the entry to a study when the record belongs to one.
	StudyID string
}

// EntryStore persists audit entries.
type EntryStore interface {
	CreateAuditLog(ctx context.Context, entry *models.AuditLog) error
}

// LedgerStore resolves covering passports and writes ledger links.
type LedgerStore interface {
	CoveringPassports(ctx context.Context, studyID *string, relation, recordID string) ([]int64, error)
	Link(ctx context.Context, passportIDs []int64, auditLogID string) (int64, error)
}

// Directory resolves a person id to a display name.
type Directory interface {
	DisplayName(ctx context.Context, personID string) (string, error)
}

// Transactor runs fn inside one transaction carried by ctx.
type Transactor func(ctx context.Context, fn func(ctx context.Context) error) error

// Recorder writes audit entries and their ledger links.
type Recorder struct {
	entries   EntryStore
	ledger    LedgerStore
	directory Directory
	cipher    *crypto.SnapshotCipher
	shipper   Shipper
	inTx      Transactor
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithDirectory resolves actor names that callers leave empty.
func WithDirectory(d Directory) Option { return func(r *Recorder) { r.directory = d } }

// WithCipher encrypts snapshots at rest.
func WithCipher(c *crypto.SnapshotCipher) Option { return func(r *Recorder) { r.cipher = c } }

// WithShipper forwards recorded entries to external sinks.
func WithShipper(s Shipper) Option { return func(r *Recorder) { r.shipper = s } }

// WithTransactor makes the entry insert and its links atomic.
func WithTransactor(t Transactor) Option { return func(r *Recorder) { r.inTx = t } }

func WithLogger(l *slog.Logger) Option { return func(r *Recorder) { r.logger = l } }

func WithClock(now func() time.Time) Option { return func(r *Recorder) { r.now = now } }

// NewRecorder creates a Recorder.
func NewRecorder(entries EntryStore, ledger LedgerStore, opts ...Option) *Recorder {
	r := &Recorder{
		entries: entries,
		ledger:  ledger,
		logger:  slog.Default(),
		now:     time.Now,
		inTx: func(ctx context.Context, fn func(ctx context.Context) error) error {
			return fn(ctx)
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Description renders the human-readable summary stored with an entry.
func Description(kind models.ActionKind, relation, recordID string) string {
	return fmt.Sprintf("%s of %s with id %s", kind.Verb(), relation, recordID)
}

// Record writes one audit entry for m and links it to every covering
// passport. The returned entry carries the stored (possibly sealed) snapshot.
func (r *Recorder) Record(ctx context.Context, m Mutation) (entry *models.AuditLog, err error) {
	if !m.Kind.Valid() {
		return nil, apperr.Validation("actionType", fmt.Sprintf("unknown action %q", m.Kind))
	}
	if m.Relation == "" {
		return nil, apperr.Validation("affectedRelation", "must not be empty")
	}
	if m.RecordID == "" {
		return nil, apperr.Validation("affectedRecordId", "must not be empty")
	}
	if m.Actor.ID == "" {
		return nil, apperr.Validation("personId", "must not be empty")
	}

	ctx, span := telemetry.StartSpan(ctx, "audit.Record",
		attribute.String("audit.action", string(m.Kind)),
		attribute.String("audit.relation", m.Relation),
		attribute.String("audit.record_id", m.RecordID),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	snapshot, err := r.snapshot(m.Snapshot)
	if err != nil {
		telemetry.AuditFailuresTotal.WithLabelValues("snapshot").Inc()
		return nil, err
	}

	entry = &models.AuditLog{
		PersonID:         m.Actor.ID,
		PersonName:       r.actorName(ctx, m.Actor),
		OccurredAt:       r.now().UTC(),
		ActionType:       m.Kind,
		AffectedRelation: m.Relation,
		AffectedRecordID: m.RecordID,
		AffectedRecord:   snapshot,
		Description:      Description(m.Kind, m.Relation, m.RecordID),
	}
	if m.StudyID != "" {
		studyID := m.StudyID
		entry.StudyID = &studyID
	}

	var linked int64
	err = r.inTx(ctx, func(ctx context.Context) error {
		if err := r.entries.CreateAuditLog(ctx, entry); err != nil {
			telemetry.AuditFailuresTotal.WithLabelValues("insert").Inc()
			return err
		}
		passports, err := r.ledger.CoveringPassports(ctx, entry.StudyID, m.Relation, m.RecordID)
		if err != nil {
			telemetry.AuditFailuresTotal.WithLabelValues("lookup").Inc()
			return err
		}
		linked, err = r.ledger.Link(ctx, passports, entry.ID)
		if err != nil {
			telemetry.AuditFailuresTotal.WithLabelValues("link").Inc()
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	telemetry.AuditEntriesRecordedTotal.WithLabelValues(string(m.Kind), m.Relation).Inc()
	telemetry.LedgerLinksCreatedTotal.Add(float64(linked))
	span.SetAttributes(attribute.Int64("audit.links", linked))

	r.logger.Debug("audit entry recorded",
		"audit_log_id", entry.ID,
		"action", m.Kind,
		"relation", m.Relation,
		"record_id", m.RecordID,
		"links", linked,
	)

	if r.shipper != nil {
		if err := r.shipper.Ship(ctx, entry); err != nil {
			r.logger.Warn("failed to ship audit entry", "audit_log_id", entry.ID, "error", err)
		}
	}
	return entry, nil
}

func (r *Recorder) snapshot(v any) (json.RawMessage, error) {
	var raw json.RawMessage
	switch s := v.(type) {
	case nil:
		raw = json.RawMessage("null")
	case json.RawMessage:
		raw = s
	case []byte:
		raw = s
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, &apperr.SerializationError{Op: "encode snapshot", Err: err}
		}
		raw = b
	}
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	if !json.Valid(raw) {
		return nil, &apperr.SerializationError{Op: "encode snapshot", Err: fmt.Errorf("snapshot is not valid JSON")}
	}
	if r.cipher == nil {
		return raw, nil
	}
	sealed, err := r.cipher.SealJSON(raw)
	if err != nil {
		return nil, &apperr.SerializationError{Op: "seal snapshot", Err: err}
	}
	return sealed, nil
}

// actorName falls back to the directory, then to the id itself.
func (r *Recorder) actorName(ctx context.Context, a Actor) string {
	if a.Name != "" {
		return a.Name
	}
	if r.directory != nil {
		name, err := r.directory.DisplayName(ctx, a.ID)
		if err != nil {
			r.logger.Warn("directory lookup failed", "person_id", a.ID, "error", err)
		} else if name != "" {
			return name
		}
	}
	return a.ID
}
