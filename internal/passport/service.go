// service.go implements the passport lifecycle: assembly into persisted
// passports, approval, recomputation, signing and deletion. Every mutation is
// followed by an audit entry; audit failures are logged and counted but never
// undo the mutation they describe.
package passport

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Cache,Signer,Archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ai4hf/passport/internal/apperr"
	"github.com/ai4hf/passport/internal/audit"
	"github.com/ai4hf/passport/internal/db/models"
	"github.com/ai4hf/passport/internal/storage"
	"github.com/ai4hf/passport/pkg/checksum"
)

// RelationPassport is the affected relation of audit entries about passports.
const RelationPassport = "passport"

// Store persists passports and their coverage.
type Store interface {
	Create(ctx context.Context, p *models.Passport, coverage []models.Coverage) error
	Upsert(ctx context.Context, p *models.Passport, coverage []models.Coverage) (bool, error)
	ReplaceDocument(ctx context.Context, id int64, details []byte, coverage []models.Coverage) (bool, error)
	GetByID(ctx context.Context, id int64) (*models.Passport, error)
	GetByScope(ctx context.Context, scope models.Scope) (*models.Passport, error)
	ListByStudy(ctx context.Context, studyID string) ([]*models.Passport, error)
	Approve(ctx context.Context, id int64, by string, at time.Time) (bool, error)
	Delete(ctx context.Context, id int64) (bool, error)
}

// Backfiller links pre-existing audit entries to a new passport.
type Backfiller interface {
	Backfill(ctx context.Context, passportID int64, scope models.Scope) (int64, error)
}

// Auditor records audit entries.
type Auditor interface {
	Record(ctx context.Context, m audit.Mutation) (*models.AuditLog, error)
}

// Cache holds recently read passports.
type Cache interface {
	Get(ctx context.Context, id int64) (*models.Passport, error)
	Set(ctx context.Context, p *models.Passport) error
	Invalidate(ctx context.Context, id int64) error
}

// Signer produces armored detached signatures.
type Signer interface {
	Sign(data []byte) (string, error)
	KeyID() string
}

// Archive stores signed documents.
type Archive interface {
	Upload(ctx context.Context, path string, reader io.Reader, size int64) (*storage.UploadResult, error)
}

// Assembled is the outcome of a create, assemble or recompute call.
type Assembled struct {
	Passport *models.Passport `json:"passport"`
	// Created is false when an existing passport was updated.
	Created  bool     `json:"created"`
	Degraded []string `json:"degradedFields,omitempty"`
}

// Signature describes a signed and archived passport document.
type Signature struct {
	PassportID   int64     `json:"passportId"`
	Digest       string    `json:"sha256"`
	KeyID        string    `json:"keyId"`
	DocumentKey  string    `json:"documentKey"`
	SignatureKey string    `json:"signatureKey"`
	Signature    string    `json:"signature"`
	SignedAt     time.Time `json:"signedAt"`
}

// Service coordinates assembly, persistence and auditing of passports.
type Service struct {
	assembler *Assembler
	store     Store
	ledger    Backfiller
	auditor   Auditor
	cache     Cache
	signer    Signer
	archive   Archive
	reads     singleflight.Group
	logger    *slog.Logger
	now       func() time.Time
}

// ServiceOption configures optional collaborators.
type ServiceOption func(*Service)

func WithCache(c Cache) ServiceOption { return func(s *Service) { s.cache = c } }

// WithSigning enables Sign.
func WithSigning(signer Signer, archive Archive) ServiceOption {
	return func(s *Service) { s.signer, s.archive = signer, archive }
}

func WithServiceLogger(l *slog.Logger) ServiceOption { return func(s *Service) { s.logger = l } }

func WithServiceClock(now func() time.Time) ServiceOption { return func(s *Service) { s.now = now } }

// NewService creates a Service.
func NewService(assembler *Assembler, store Store, ledger Backfiller, auditor Auditor, opts ...ServiceOption) *Service {
	s := &Service{
		assembler: assembler,
		store:     store,
		ledger:    ledger,
		auditor:   auditor,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create assembles and stores a new passport for scope. A passport already
// existing for the scope is a ConflictError.
func (s *Service) Create(ctx context.Context, scope models.Scope, sel models.PassportDetailSelection, actor audit.Actor) (*Assembled, error) {
	res, err := s.assembler.Assemble(ctx, scope, sel)
	if err != nil {
		return nil, err
	}

	p := &models.Passport{
		StudyID:      scope.StudyID,
		DeploymentID: scope.DeploymentID,
		CreatedAt:    s.now().UTC(),
		CreatedBy:    actor.ID,
		Details:      res.Encoded,
	}
	if err := s.store.Create(ctx, p, res.Coverage); err != nil {
		return nil, err
	}

	s.backfill(ctx, p)
	s.record(ctx, models.ActionCreation, p, actor)

	s.logger.Info("passport created",
		"passport_id", p.ID,
		"study_id", p.StudyID,
		"deployment_id", p.DeploymentID,
		"degraded", res.Degraded,
	)
	return &Assembled{Passport: p, Created: true, Degraded: res.Degraded}, nil
}

// Assemble stores the passport for scope, creating it or replacing the
// document of the existing one. Approved passports cannot be replaced.
func (s *Service) Assemble(ctx context.Context, scope models.Scope, sel models.PassportDetailSelection, actor audit.Actor) (*Assembled, error) {
	existing, err := s.store.GetByScope(ctx, scope)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Approved() {
		return nil, apperr.Conflict("approved passport", strconv.FormatInt(existing.ID, 10))
	}

	res, err := s.assembler.Assemble(ctx, scope, sel)
	if err != nil {
		return nil, err
	}

	p := &models.Passport{
		StudyID:      scope.StudyID,
		DeploymentID: scope.DeploymentID,
		CreatedAt:    s.now().UTC(),
		CreatedBy:    actor.ID,
		Details:      res.Encoded,
	}
	created, err := s.store.Upsert(ctx, p, res.Coverage)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, p.ID)

	kind := models.ActionUpdate
	if created {
		kind = models.ActionCreation
		s.backfill(ctx, p)
	}
	s.record(ctx, kind, p, actor)

	return &Assembled{Passport: p, Created: created, Degraded: res.Degraded}, nil
}

// Get returns a passport. Concurrent reads of the same id share one lookup.
func (s *Service) Get(ctx context.Context, id int64) (*models.Passport, error) {
	key := strconv.FormatInt(id, 10)
	v, err, _ := s.reads.Do(key, func() (any, error) {
		if s.cache != nil {
			p, err := s.cache.Get(ctx, id)
			if err != nil {
				s.logger.Warn("passport cache read failed", "passport_id", id, "error", err)
			} else if p != nil {
				return p, nil
			}
		}
		p, err := s.store.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, apperr.NotFound("passport", key)
		}
		if s.cache != nil {
			if err := s.cache.Set(ctx, p); err != nil {
				s.logger.Warn("passport cache write failed", "passport_id", id, "error", err)
			}
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	// Callers sharing the result must not see each other's mutations.
	p := *v.(*models.Passport)
	return &p, nil
}

// Document decodes the stored detail document of a passport.
func (s *Service) Document(ctx context.Context, id int64) (Document, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.assembler.Codec().Decode(p.Details)
}

// ListByStudy returns every passport of a study.
func (s *Service) ListByStudy(ctx context.Context, studyID string) ([]*models.Passport, error) {
	if studyID == "" {
		return nil, apperr.Validation("study_id", "must not be empty")
	}
	return s.store.ListByStudy(ctx, studyID)
}

// Recompute re-assembles an existing passport with sel and replaces its
// document and coverage together.
func (s *Service) Recompute(ctx context.Context, id int64, sel models.PassportDetailSelection, actor audit.Actor) (*Assembled, error) {
	p, err := s.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Approved() {
		return nil, apperr.Conflict("approved passport", strconv.FormatInt(id, 10))
	}

	res, err := s.assembler.Assemble(ctx, p.Scope(), sel)
	if err != nil {
		return nil, err
	}
	found, err := s.store.ReplaceDocument(ctx, id, res.Encoded, res.Coverage)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperr.NotFound("passport", strconv.FormatInt(id, 10))
	}
	s.invalidate(ctx, id)

	p.Details = res.Encoded
	s.record(ctx, models.ActionUpdate, p, actor)
	return &Assembled{Passport: p, Degraded: res.Degraded}, nil
}

// Approve records approval by actor. Approving twice is a ConflictError.
func (s *Service) Approve(ctx context.Context, id int64, actor audit.Actor) (*models.Passport, error) {
	if actor.ID == "" {
		return nil, apperr.Validation("approvedBy", "must not be empty")
	}
	p, err := s.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}

	at := s.now().UTC()
	changed, err := s.store.Approve(ctx, id, actor.ID, at)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, apperr.Conflict("passport approval", strconv.FormatInt(id, 10))
	}
	s.invalidate(ctx, id)

	p.ApprovedAt = &at
	p.ApprovedBy = &actor.ID
	s.record(ctx, models.ActionUpdate, p, actor)
	return p, nil
}

// Sign signs the stored document bytes and archives the document next to
// its detached signature.
func (s *Service) Sign(ctx context.Context, id int64, actor audit.Actor) (*Signature, error) {
	if s.signer == nil || s.archive == nil {
		return nil, apperr.Validation("signing", "signing is not enabled")
	}
	p, err := s.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}

	sig, err := s.signer.Sign(p.Details)
	if err != nil {
		return nil, fmt.Errorf("failed to sign passport %d: %w", id, err)
	}

	digest := checksum.Sum(p.Details)
	out := &Signature{
		PassportID:   id,
		Digest:       digest,
		KeyID:        s.signer.KeyID(),
		DocumentKey:  fmt.Sprintf("passports/%d/%s.json", id, digest),
		SignatureKey: fmt.Sprintf("passports/%d/%s.json.asc", id, digest),
		Signature:    sig,
		SignedAt:     s.now().UTC(),
	}
	if _, err := s.archive.Upload(ctx, out.DocumentKey, bytes.NewReader(p.Details), int64(len(p.Details))); err != nil {
		return nil, fmt.Errorf("failed to archive passport %d: %w", id, err)
	}
	if _, err := s.archive.Upload(ctx, out.SignatureKey, bytes.NewReader([]byte(sig)), int64(len(sig))); err != nil {
		return nil, fmt.Errorf("failed to archive signature of passport %d: %w", id, err)
	}

	s.logger.Info("passport signed", "passport_id", id, "sha256", digest, "key_id", out.KeyID, "by", actor.ID)
	return out, nil
}

// Delete removes a passport together with its ledger links and coverage.
func (s *Service) Delete(ctx context.Context, id int64, actor audit.Actor) error {
	p, err := s.mustGet(ctx, id)
	if err != nil {
		return err
	}
	found, err := s.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return apperr.NotFound("passport", strconv.FormatInt(id, 10))
	}
	s.invalidate(ctx, id)

	// The entry still reaches the study's remaining passports.
	s.record(ctx, models.ActionDeletion, p, actor)
	return nil
}

// mustGet reads through to the store, bypassing the cache.
func (s *Service) mustGet(ctx context.Context, id int64) (*models.Passport, error) {
	p, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, apperr.NotFound("passport", strconv.FormatInt(id, 10))
	}
	return p, nil
}

func (s *Service) backfill(ctx context.Context, p *models.Passport) {
	n, err := s.ledger.Backfill(ctx, p.ID, p.Scope())
	if err != nil {
		s.logger.Error("failed to backfill ledger", "passport_id", p.ID, "error", err)
		return
	}
	if n > 0 {
		s.logger.Debug("ledger backfilled", "passport_id", p.ID, "links", n)
	}
}

// record writes the audit entry for a passport mutation. Failures are
// counted by the recorder and logged here.
func (s *Service) record(ctx context.Context, kind models.ActionKind, p *models.Passport, actor audit.Actor) {
	_, err := s.auditor.Record(ctx, audit.Mutation{
		Kind:     kind,
		Relation: RelationPassport,
		RecordID: strconv.FormatInt(p.ID, 10),
		Snapshot: p,
		Actor:    actor,
		StudyID:  p.StudyID,
	})
	if err != nil {
		s.logger.Error("failed to record audit entry",
			"action", kind,
			"relation", RelationPassport,
			"record_id", p.ID,
			"error", err,
		)
	}
}

func (s *Service) invalidate(ctx context.Context, id int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, id); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("passport cache invalidation failed", "passport_id", id, "error", err)
	}
}
