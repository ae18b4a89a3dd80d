// factory.go maps archive backend names (local, s3, azure, gcs) to constructors.
package storage

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ai4hf/passport/internal/config"
)

// FactoryFunc builds a backend from the archive configuration.
type FactoryFunc func(*config.ArchiveConfig) (Storage, error)

var factories = make(map[string]FactoryFunc)

// Register registers an archive backend factory
func Register(name string, factory FactoryFunc) {
	factories[name] = factory
}

// NewStorage creates the backend selected by cfg.DefaultBackend.
func NewStorage(cfg *config.ArchiveConfig) (Storage, error) {
	factory, ok := factories[cfg.DefaultBackend]
	if !ok {
		return nil, fmt.Errorf("unsupported archive backend: %q (registered: %s)", cfg.DefaultBackend, strings.Join(Registered(), ", "))
	}
	return factory(cfg)
}

// Registered lists the registered backend names in sorted order.
func Registered() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
