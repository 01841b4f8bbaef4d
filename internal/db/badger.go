package db

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// OpenBadger opens the embedded message database at path. Writes are synced
// so an acknowledged append survives a crash.
func OpenBadger(path string) (*badger.DB, error) {
	db, err := badger.Open(badger.DefaultOptions(path).
		WithSyncWrites(true).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	return db, nil
}
