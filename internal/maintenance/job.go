// Package maintenance runs the periodic housekeeping every SQLite-backed
// service in the trade control plane needs: WAL checkpointing so the
// write-ahead log doesn't grow unbounded, a disk space guard, and VACUUM
// for databases that aren't append-only.
package maintenance

import (
	"context"
	"database/sql"
	"fmt"
	"syscall"

	"github.com/rs/zerolog"
)

// NamedDB pairs a database handle with the name it's logged under.
type NamedDB struct {
	Name string
	DB   *sql.DB
	// Append tags a database as append-only (the ledger, by I-LEDGER):
	// VACUUM is skipped for it since it never shrinks and rewriting it
	// wholesale on a cron tick buys nothing.
	Append bool
}

// Config configures the disk space guard. DataDir is the filesystem the
// databases live on; the job stats it rather than any individual
// database file, since WAL/SHM siblings and backup staging share it.
type Config struct {
	DataDir string
}

// Job performs WAL checkpointing, a disk space check, and VACUUM across
// a set of databases on a single cron tick. Unlike the teacher's
// separate daily/weekly/monthly jobs, one schedule covers all three
// here since the control plane's databases are small enough that VACUUM
// cost isn't a reason to stagger it.
type Job struct {
	databases []NamedDB
	dataDir   string
	log       zerolog.Logger
}

func New(databases []NamedDB, cfg Config, log zerolog.Logger) *Job {
	return &Job{
		databases: databases,
		dataDir:   cfg.DataDir,
		log:       log.With().Str("component", "maintenance").Logger(),
	}
}

func (j *Job) Name() string { return "database-maintenance" }

func (j *Job) Run(ctx context.Context) error {
	for _, nd := range j.databases {
		if _, err := nd.DB.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			j.log.Warn().Str("database", nd.Name).Err(err).Msg("wal checkpoint failed")
		}
	}

	if err := j.checkDiskSpace(); err != nil {
		return err
	}

	for _, nd := range j.databases {
		if nd.Append {
			continue
		}
		if err := j.vacuum(ctx, nd); err != nil {
			j.log.Error().Str("database", nd.Name).Err(err).Msg("vacuum failed")
		}
	}

	return nil
}

// checkDiskSpace halts maintenance (and signals callers to alert) once
// free space drops below 500MB; below 5GB and 10GB it only warns.
func (j *Job) checkDiskSpace() error {
	if j.dataDir == "" {
		return nil
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(j.dataDir, &stat); err != nil {
		return fmt.Errorf("stat filesystem: %w", err)
	}

	availableGB := float64(stat.Bavail*uint64(stat.Bsize)) / 1e9
	switch {
	case availableGB < 0.5:
		j.log.Error().Float64("available_gb", availableGB).Msg("critically low disk space")
		return fmt.Errorf("only %.2fGB free on %s", availableGB, j.dataDir)
	case availableGB < 5.0:
		j.log.Error().Float64("available_gb", availableGB).Msg("low disk space, consider cleanup")
	case availableGB < 10.0:
		j.log.Warn().Float64("available_gb", availableGB).Msg("disk space running low")
	}
	return nil
}

func (j *Job) vacuum(ctx context.Context, nd NamedDB) error {
	var pageCount, pageSize int64
	_ = nd.DB.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
	_ = nd.DB.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
	before := float64(pageCount*pageSize) / 1024 / 1024

	if _, err := nd.DB.ExecContext(ctx, "VACUUM"); err != nil {
		return err
	}

	_ = nd.DB.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
	after := float64(pageCount*pageSize) / 1024 / 1024

	j.log.Info().
		Str("database", nd.Name).
		Float64("size_before_mb", before).
		Float64("size_after_mb", after).
		Msg("vacuum completed")
	return nil
}
