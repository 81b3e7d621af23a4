package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// markerName is the file dropped in the working directory when the
// database is found corrupt, so the next start knows to recover before
// opening.
const markerName = "objects.db.corrupt"

// IsCorrupt reports whether err means the database file itself is
// damaged, as opposed to a transient failure.
func IsCorrupt(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB:
		return true
	}
	return false
}

// IsBusy reports whether err is a lock contention failure worth
// retrying.
func IsBusy(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

// MarkCorrupt persists the corruption marker under dir.
func MarkCorrupt(dir string) error {
	if err := os.WriteFile(filepath.Join(dir, markerName), nil, 0o644); err != nil {
		return fmt.Errorf("write corruption marker: %w", err)
	}
	return nil
}

// NeedsRecovery reports whether a corruption marker is present under
// dir.
func NeedsRecovery(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, markerName))
	return err == nil
}

// Recover discards the damaged database and the marker. Object history
// is lost; clips on disk are untouched and the schema is rebuilt empty
// on the next Open.
func Recover(dir string) error {
	for _, name := range []string{DBName, DBName + "-wal", DBName + "-shm", markerName} {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}
	return nil
}
