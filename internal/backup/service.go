package backup

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// NamedDB pairs a database handle with the name its snapshot file is
// given within an archive (e.g. "ledger", "riskstore").
type NamedDB struct {
	Name string
	DB   *sql.DB
}

// Service runs the periodic snapshot-archive-upload-rotate cycle and
// implements scheduler.Job so it can share a binary's background
// scheduler with the model reload poller and reconciliation ticker.
type Service struct {
	store         ObjectStore
	dbs           []NamedDB
	stagingDir    string
	retentionDays int
	log           zerolog.Logger
}

// Config configures a Service.
type Config struct {
	StagingDir    string
	RetentionDays int
}

// NewService builds a Service backing up dbs to store.
func NewService(store ObjectStore, dbs []NamedDB, cfg Config, log zerolog.Logger) *Service {
	retention := cfg.RetentionDays
	if retention == 0 {
		retention = 30
	}
	return &Service{
		store:         store,
		dbs:           dbs,
		stagingDir:    cfg.StagingDir,
		retentionDays: retention,
		log:           log.With().Str("component", "backup").Logger(),
	}
}

// CreateAndUpload snapshots every configured database, archives them
// with a metadata manifest, and uploads the archive to the bucket.
func (s *Service) CreateAndUpload(ctx context.Context) error {
	started := time.Now()
	s.log.Info().Msg("starting ledger backup")

	staging := filepath.Join(s.stagingDir, fmt.Sprintf("backup-staging-%d", started.UnixNano()))
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	metadata := Metadata{Timestamp: started.UTC()}
	filenames := make([]string, 0, len(s.dbs)+1)

	for _, named := range s.dbs {
		filename := named.Name + ".db"
		destPath := filepath.Join(staging, filename)

		if err := SnapshotDatabase(named.DB, destPath); err != nil {
			return fmt.Errorf("snapshot %s: %w", named.Name, err)
		}

		info, err := os.Stat(destPath)
		if err != nil {
			return fmt.Errorf("stat %s snapshot: %w", named.Name, err)
		}
		checksum, err := Checksum(destPath)
		if err != nil {
			return fmt.Errorf("checksum %s snapshot: %w", named.Name, err)
		}

		metadata.Databases = append(metadata.Databases, DatabaseInfo{
			Name: named.Name, Filename: filename, SizeBytes: info.Size(), Checksum: checksum,
		})
		filenames = append(filenames, filename)
	}

	metadataPath := filepath.Join(staging, "backup-metadata.json")
	if err := writeMetadata(metadataPath, metadata); err != nil {
		return fmt.Errorf("write backup metadata: %w", err)
	}
	filenames = append(filenames, "backup-metadata.json")

	key := archiveKeyFor(started)
	archivePath := filepath.Join(staging, key)
	if err := CreateArchive(archivePath, staging, filenames); err != nil {
		return fmt.Errorf("create archive: %w", err)
	}

	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer archiveFile.Close()

	archiveInfo, err := archiveFile.Stat()
	if err != nil {
		return fmt.Errorf("stat archive: %w", err)
	}

	if err := s.store.Upload(ctx, key, archiveFile, archiveInfo.Size()); err != nil {
		return fmt.Errorf("upload archive: %w", err)
	}

	s.log.Info().
		Dur("duration_ms", time.Since(started)).
		Str("key", key).
		Int64("size_bytes", archiveInfo.Size()).
		Msg("ledger backup uploaded")
	return nil
}

// ListBackups returns every archive in the bucket, newest first.
func (s *Service) ListBackups(ctx context.Context) ([]Info, error) {
	infos, err := s.store.List(ctx, archiveKeyPrefix)
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Timestamp.After(infos[j].Timestamp) })
	return infos, nil
}

// minBackupsToKeep bounds rotation so a bucket is never emptied even
// under an aggressive retention window.
const minBackupsToKeep = 3

// RotateOldBackups deletes archives older than the service's retention
// window, always keeping at least minBackupsToKeep regardless of age.
func (s *Service) RotateOldBackups(ctx context.Context) error {
	backups, err := s.ListBackups(ctx)
	if err != nil {
		return fmt.Errorf("list backups: %w", err)
	}
	if len(backups) <= minBackupsToKeep {
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	deleted := 0
	for i, b := range backups {
		if i < minBackupsToKeep || !b.Timestamp.Before(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, b.Key); err != nil {
			s.log.Error().Err(err).Str("key", b.Key).Msg("failed to delete old backup")
			continue
		}
		deleted++
	}
	s.log.Info().Int("deleted", deleted).Int("remaining", len(backups)-deleted).Msg("backup rotation complete")
	return nil
}

// Run implements scheduler.Job: one cycle of create+upload, then rotate.
func (s *Service) Run(ctx context.Context) error {
	if err := s.CreateAndUpload(ctx); err != nil {
		return err
	}
	return s.RotateOldBackups(ctx)
}

// Name implements scheduler.Job.
func (s *Service) Name() string { return "ledger-backup" }

func archiveKeyFor(t time.Time) string {
	return fmt.Sprintf("%s%s%s", archiveKeyPrefix, t.UTC().Format(archiveTimeLayout), archiveKeySuffix)
}

func writeMetadata(path string, metadata Metadata) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(metadata)
}
