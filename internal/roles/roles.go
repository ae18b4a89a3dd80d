// Package roles implements the role set bound to an organization or a person
// within a study, and its single-column serialized form.
package roles

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/ai4hf/passport/internal/apperr"
)

// Role is one access role token.
type Role string

const (
	StudyOwner                 Role = "STUDY_OWNER"
	DataScientist              Role = "DATA_SCIENTIST"
	SurveyManager              Role = "SURVEY_MANAGER"
	DataEngineer               Role = "DATA_ENGINEER"
	MLEngineer                 Role = "ML_ENGINEER"
	QualityAssuranceSpecialist Role = "QUALITY_ASSURANCE_SPECIALIST"
	OrganizationAdmin          Role = "ORGANIZATION_ADMIN"
)

// Delimiter separates tokens in the encoded form.
const Delimiter = ","

var known = map[Role]struct{}{
	StudyOwner:                 {},
	DataScientist:              {},
	SurveyManager:              {},
	DataEngineer:               {},
	MLEngineer:                 {},
	QualityAssuranceSpecialist: {},
	OrganizationAdmin:          {},
}

// All returns every known role in encoded order.
func All() []Role {
	out := make([]Role, 0, len(known))
	for r := range known {
		out = append(out, r)
	}
	slices.Sort(out)
	return out
}

// Parse maps a single token to its Role. Tokens match exactly; padded or
// lower-case tokens are unknown.
func Parse(token string) (Role, error) {
	r := Role(token)
	if _, ok := known[r]; !ok {
		return "", apperr.Validation("role", fmt.Sprintf("unknown role %q", token))
	}
	return r, nil
}

// Set is an unordered collection of roles. The zero value is the empty set.
type Set struct {
	m map[Role]struct{}
}

// NewSet builds a set from the given roles; duplicates collapse.
func NewSet(rs ...Role) Set {
	s := Set{}
	for _, r := range rs {
		s.Add(r)
	}
	return s
}

// Add inserts r. Empty roles are ignored.
func (s *Set) Add(r Role) {
	if r == "" {
		return
	}
	if s.m == nil {
		s.m = make(map[Role]struct{})
	}
	s.m[r] = struct{}{}
}

// Has reports whether r is in the set.
func (s Set) Has(r Role) bool {
	_, ok := s.m[r]
	return ok
}

// Len returns the number of roles.
func (s Set) Len() int { return len(s.m) }

// Roles returns the members sorted.
func (s Set) Roles() []Role {
	out := make([]Role, 0, len(s.m))
	for r := range s.m {
		out = append(out, r)
	}
	slices.Sort(out)
	return out
}

// Equal reports whether both sets hold the same roles.
func (s Set) Equal(o Set) bool {
	if len(s.m) != len(o.m) {
		return false
	}
	for r := range s.m {
		if !o.Has(r) {
			return false
		}
	}
	return true
}

// Encode joins the sorted roles with Delimiter. The empty set encodes to "".
func Encode(s Set) string {
	rs := s.Roles()
	parts := make([]string, len(rs))
	for i, r := range rs {
		parts[i] = string(r)
	}
	return strings.Join(parts, Delimiter)
}

// Decode parses an encoded role set. Empty tokens are skipped; any unknown
// token fails the whole decode.
func Decode(encoded string) (Set, error) {
	var s Set
	for _, tok := range strings.Split(encoded, Delimiter) {
		if tok == "" {
			continue
		}
		r, err := Parse(tok)
		if err != nil {
			return Set{}, err
		}
		s.Add(r)
	}
	return s, nil
}

func (s Set) String() string { return Encode(s) }

// MarshalJSON renders the set as a sorted JSON array.
func (s Set) MarshalJSON() ([]byte, error) {
	tokens := make([]string, 0, s.Len())
	for _, r := range s.Roles() {
		tokens = append(tokens, string(r))
	}
	return json.Marshal(tokens)
}

// UnmarshalJSON accepts either a JSON array of tokens or an encoded string.
func (s *Set) UnmarshalJSON(data []byte) error {
	var tokens []string
	text := strings.TrimSpace(string(data))
	switch {
	case text == "null":
		*s = Set{}
		return nil
	case strings.HasPrefix(text, "["):
		if err := json.Unmarshal(data, &tokens); err != nil {
			return err
		}
	default:
		var encoded string
		if err := json.Unmarshal(data, &encoded); err != nil {
			return err
		}
		decoded, err := Decode(encoded)
		if err != nil {
			return err
		}
		*s = decoded
		return nil
	}
	decoded, err := Decode(strings.Join(tokens, Delimiter))
	if err != nil {
		return err
	}
	*s = decoded
	return nil
}

// Value stores the set in its encoded form.
func (s Set) Value() (driver.Value, error) {
	return Encode(s), nil
}

// Scan reads an encoded set from a text column.
func (s *Set) Scan(src any) error {
	var encoded string
	switch v := src.(type) {
	case nil:
		*s = Set{}
		return nil
	case string:
		encoded = v
	case []byte:
		encoded = string(v)
	default:
		return fmt.Errorf("roles: cannot scan %T", src)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		return err
	}
	*s = decoded
	return nil
}
