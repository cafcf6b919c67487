package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	BackendMemory  = "memory"
	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"
)

// Open returns the backend selected by name rooted at dataDir.
func Open(backend, dataDir string) (Database, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case BackendMemory:
		return NewMemDB(), nil
	case "", BackendLevelDB:
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, err
		}
		return NewLevelDB(filepath.Join(dataDir, "ledger"))
	case BackendBolt:
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, err
		}
		return NewBoltDB(filepath.Join(dataDir, "ledger.bolt"))
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", backend)
	}
}
