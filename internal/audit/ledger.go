// ledger.go exposes read access to the audit log and the ledger book.
package audit

import (
	"context"
	"fmt"

	"github.com/ai4hf/passport/internal/apperr"
	"github.com/ai4hf/passport/internal/crypto"
	"github.com/ai4hf/passport/internal/db/models"
)

// LinkStore is the ledger book.
type LinkStore interface {
	FindLinksByPassport(ctx context.Context, passportID int64) ([]models.LedgerLink, error)
	FindLinksByAuditLogEntry(ctx context.Context, auditLogID string) ([]models.LedgerLink, error)
	LinkStrict(ctx context.Context, link models.LedgerLink) error
}

// EntryReader reads audit entries.
type EntryReader interface {
	FindEntriesByIds(ctx context.Context, ids []string) ([]*models.AuditLog, error)
	GetByID(ctx context.Context, id string) (*models.AuditLog, error)
	ListByStudy(ctx context.Context, studyID string, limit, offset int) ([]*models.AuditLog, int, error)
	ListByPassport(ctx context.Context, passportID int64) ([]*models.AuditLog, error)
}

// Book answers ledger queries. Sealed snapshots are opened on the way out
// when a cipher is configured and returned as stored otherwise.
type Book struct {
	links   LinkStore
	entries EntryReader
	cipher  *crypto.SnapshotCipher
}

// NewBook creates a Book. cipher may be nil.
func NewBook(links LinkStore, entries EntryReader, cipher *crypto.SnapshotCipher) *Book {
	return &Book{links: links, entries: entries, cipher: cipher}
}

func (b *Book) FindLinksByPassport(ctx context.Context, passportID int64) ([]models.LedgerLink, error) {
	return b.links.FindLinksByPassport(ctx, passportID)
}

func (b *Book) FindLinksByAuditLogEntry(ctx context.Context, auditLogID string) ([]models.LedgerLink, error) {
	return b.links.FindLinksByAuditLogEntry(ctx, auditLogID)
}

// Link inserts one link; an existing pair is a ConflictError.
func (b *Book) Link(ctx context.Context, link models.LedgerLink) error {
	if link.PassportID <= 0 {
		return apperr.Validation("passportId", "must be positive")
	}
	if link.AuditLogID == "" {
		return apperr.Validation("auditLogId", "must not be empty")
	}
	return b.links.LinkStrict(ctx, link)
}

// FindEntriesByIds returns the entries for ids. Unknown ids are skipped.
func (b *Book) FindEntriesByIds(ctx context.Context, ids []string) ([]*models.AuditLog, error) {
	entries, err := b.entries.FindEntriesByIds(ctx, ids)
	if err != nil {
		return nil, err
	}
	return b.open(entries)
}

// Get returns one entry or a NotFoundError.
func (b *Book) Get(ctx context.Context, id string) (*models.AuditLog, error) {
	entry, err := b.entries.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, apperr.NotFound("audit_log", id)
	}
	if _, err := b.open([]*models.AuditLog{entry}); err != nil {
		return nil, err
	}
	return entry, nil
}

// ListByStudy pages through a study's entries, newest first.
func (b *Book) ListByStudy(ctx context.Context, studyID string, limit, offset int) ([]*models.AuditLog, int, error) {
	if studyID == "" {
		return nil, 0, apperr.Validation("study_id", "must not be empty")
	}
	entries, total, err := b.entries.ListByStudy(ctx, studyID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	entries, err = b.open(entries)
	return entries, total, err
}

// ListByPassport returns the entries linked to a passport in ledger order.
func (b *Book) ListByPassport(ctx context.Context, passportID int64) ([]*models.AuditLog, error) {
	entries, err := b.entries.ListByPassport(ctx, passportID)
	if err != nil {
		return nil, err
	}
	return b.open(entries)
}

// open decrypts sealed snapshots in place.
func (b *Book) open(entries []*models.AuditLog) ([]*models.AuditLog, error) {
	if b.cipher == nil {
		return entries, nil
	}
	for _, e := range entries {
		plain, err := b.cipher.OpenJSON(e.AffectedRecord)
		if err != nil {
			return nil, &apperr.SerializationError{Op: fmt.Sprintf("open snapshot of %s", e.ID), Err: err}
		}
		e.AffectedRecord = plain
	}
	return entries, nil
}
