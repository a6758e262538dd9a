package graph

import (
	"fmt"
	"strings"
)

// Backend names accepted by OpenStore.
const (
	BackendSQLite = "sqlite"
	BackendKuzu   = "kuzu"
	BackendMemory = "memory"
)

// OpenStore opens the named backend at path. The memory backend ignores
// path. The schema is not initialised; callers run InitSchema.
func OpenStore(backend, path string) (Store, error) {
	switch strings.ToLower(backend) {
	case "", BackendSQLite:
		return NewSQLiteStore(path)
	case BackendKuzu:
		if path == "" || path == ":memory:" {
			return NewKuzuStore()
		}
		return NewKuzuFileStore(path)
	case BackendMemory:
		return NewMemStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
