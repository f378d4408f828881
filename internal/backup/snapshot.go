package backup

import (
	"crypto/sha256"
	"database/sql"
	"fmt"
	"io"
	"os"
)

// SnapshotDatabase writes a consistent, online copy of db to destPath
// using SQLite's VACUUM INTO, the standard way to back up a live WAL
// database without blocking writers or holding a long-lived read lock.
func SnapshotDatabase(db *sql.DB, destPath string) error {
	if err := os.Remove(destPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear stale snapshot at %s: %w", destPath, err)
	}
	if _, err := db.Exec(fmt.Sprintf("VACUUM INTO '%s'", destPath)); err != nil {
		return fmt.Errorf("vacuum into %s: %w", destPath, err)
	}
	return nil
}

// Checksum returns the sha256 checksum of the file at path, prefixed
// "sha256:" to match the metadata format embedded in each archive.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", h.Sum(nil)), nil
}
