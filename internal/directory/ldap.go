package directory

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/ai4hf/passport/internal/config"
)

// conn is the subset of *ldap.Conn used for lookups.
type conn interface {
	Bind(username, password string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Close() error
}

type dialFunc func(cfg *config.LDAPConfig) (conn, error)

type cachedName struct {
	name    string
	expires time.Time
}

// LDAP resolves names with a service-account bind and a subtree search.
// Results, including misses, are cached for the configured ttl.
type LDAP struct {
	cfg  config.LDAPConfig
	dial dialFunc
	ttl  time.Duration
	now  func() time.Time

	mu    sync.Mutex
	cache map[string]cachedName
}

// NewLDAP creates an LDAP resolver. Connections are opened per lookup.
func NewLDAP(cfg config.LDAPConfig, ttl time.Duration) *LDAP {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &LDAP{
		cfg:   cfg,
		dial:  dialLDAP,
		ttl:   ttl,
		now:   time.Now,
		cache: make(map[string]cachedName),
	}
}

func dialLDAP(cfg *config.LDAPConfig) (conn, error) {
	tlsCfg := &tls.Config{InsecureSkipVerify: cfg.InsecureTLS} // #nosec G402 -- opt-in for lab directories
	c, err := ldap.DialURL(cfg.URL, ldap.DialWithTLSConfig(tlsCfg))
	if err != nil {
		return nil, fmt.Errorf("ldap dial: %w", err)
	}
	if cfg.StartTLS {
		if err := c.StartTLS(tlsCfg); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("ldap starttls: %w", err)
		}
	}
	return c, nil
}

// DisplayName searches for the person and returns the configured name attribute.
func (d *LDAP) DisplayName(ctx context.Context, personID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	d.mu.Lock()
	if hit, ok := d.cache[personID]; ok && d.now().Before(hit.expires) {
		d.mu.Unlock()
		return hit.name, nil
	}
	d.mu.Unlock()

	name, err := d.search(personID)
	if err != nil {
		return "", err
	}

	d.mu.Lock()
	d.cache[personID] = cachedName{name: name, expires: d.now().Add(d.ttl)}
	d.mu.Unlock()
	return name, nil
}

func (d *LDAP) search(personID string) (string, error) {
	c, err := d.dial(&d.cfg)
	if err != nil {
		return "", err
	}
	defer c.Close()

	if d.cfg.BindDN != "" {
		if err := c.Bind(d.cfg.BindDN, d.cfg.BindPassword); err != nil {
			return "", fmt.Errorf("ldap bind: %w", err)
		}
	}

	req := ldap.NewSearchRequest(
		d.cfg.BaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases,
		2, 10, false,
		fmt.Sprintf(d.cfg.UserFilter, ldap.EscapeFilter(personID)),
		[]string{d.cfg.NameAttr},
		nil,
	)
	res, err := c.Search(req)
	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return "", nil
		}
		return "", fmt.Errorf("ldap search: %w", err)
	}
	switch len(res.Entries) {
	case 0:
		return "", nil
	case 1:
		return res.Entries[0].GetAttributeValue(d.cfg.NameAttr), nil
	default:
		return "", fmt.Errorf("ldap search for %q matched %d entries", personID, len(res.Entries))
	}
}
