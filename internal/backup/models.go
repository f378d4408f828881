// Package backup implements the optional periodic ledger-database
// snapshot upload: VACUUM-INTO copies of every live SQLite database are
// tar.gz'd and pushed to an S3-compatible bucket (R2 included), adapted
// from the teacher's internal/reliability backup service. It is wired
// as an optional component on the Execution Gateway, enabled only when
// a bucket is configured, and never sits on the order-submit path.
package backup

import "time"

// Metadata describes one backup archive's contents.
type Metadata struct {
	Timestamp time.Time      `json:"timestamp"`
	Databases []DatabaseInfo `json:"databases"`
}

// DatabaseInfo describes one database file within a backup archive.
type DatabaseInfo struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// Info describes one backup archive already stored in the bucket.
type Info struct {
	Key       string
	Timestamp time.Time
	SizeBytes int64
}
