package store

import (
	"fmt"

	"go.uber.org/zap"
)

const (
	BackendMemory = "memory"
	BackendBadger = "badger"
)

// Open creates the store selected by backend.
func Open(backend, path string, logger *zap.Logger) (Store, error) {
	switch backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendBadger:
		return OpenBadger(path, logger)
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
