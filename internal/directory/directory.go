// Package directory resolves person ids to display names for audit entries.
package directory

import (
	"context"
	"errors"

	"github.com/ai4hf/passport/internal/db/models"
)

// Resolver maps a person id to a display name. An empty name with a nil
// error means the person is unknown to the resolver.
type Resolver interface {
	DisplayName(ctx context.Context, personID string) (string, error)
}

// PersonnelLookup reads one personnel row; nil when absent.
type PersonnelLookup interface {
	Personnel(ctx context.Context, id string) (*models.Personnel, error)
}

// Personnel resolves names from the personnel table.
type Personnel struct {
	lookup PersonnelLookup
}

// NewPersonnel wraps a personnel reader.
func NewPersonnel(lookup PersonnelLookup) *Personnel {
	return &Personnel{lookup: lookup}
}

// DisplayName returns "First Last" for a known person.
func (d *Personnel) DisplayName(ctx context.Context, personID string) (string, error) {
	p, err := d.lookup.Personnel(ctx, personID)
	if err != nil || p == nil {
		return "", err
	}
	return p.DisplayName(), nil
}

// Chain asks each resolver in order and returns the first non-empty name.
type Chain []Resolver

// DisplayName returns the first name found. Errors only surface when no
// resolver produced a name.
func (c Chain) DisplayName(ctx context.Context, personID string) (string, error) {
	var errs []error
	for _, r := range c {
		name, err := r.DisplayName(ctx, personID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if name != "" {
			return name, nil
		}
	}
	return "", errors.Join(errs...)
}
