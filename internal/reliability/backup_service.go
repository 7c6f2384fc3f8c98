package reliability

import (
	"compress/gzip"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tradenotify/internal/database"
)

const (
	backupPrefix     = "ledger-backup-"
	backupTimeLayout = "2006-01-02-150405"
	minBackupsToKeep = 3
)

// BackupInfo describes a backup stored in the object store.
type BackupInfo struct {
	Filename  string    `json:"filename"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	AgeHours  int64     `json:"age_hours"`
}

// BackupService snapshots the ledger database and ships compressed
// copies to the object store.
type BackupService struct {
	db      *database.DB
	store   *ObjectClient
	dataDir string
	log     zerolog.Logger
}

// NewBackupService creates a backup service. The store may be nil, in
// which case backups stay local only.
func NewBackupService(db *database.DB, store *ObjectClient, dataDir string, log zerolog.Logger) *BackupService {
	return &BackupService{
		db:      db,
		store:   store,
		dataDir: dataDir,
		log:     log.With().Str("service", "backup").Logger(),
	}
}

// Snapshot writes a consistent local copy of the ledger database and
// returns its path.
func (s *BackupService) Snapshot(backupDir string) (string, error) {
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	path := filepath.Join(backupDir, fmt.Sprintf("ledger-%s.db", time.Now().Format(backupTimeLayout)))
	if err := s.db.Snapshot(path); err != nil {
		return "", fmt.Errorf("failed to snapshot database: %w", err)
	}

	checksum, err := fileChecksum(path)
	if err != nil {
		return "", fmt.Errorf("failed to checksum snapshot: %w", err)
	}

	s.log.Info().Str("path", path).Str("checksum", checksum).Msg("Ledger snapshot written")
	return path, nil
}

// CreateAndUpload snapshots the ledger and uploads a gzipped copy.
func (s *BackupService) CreateAndUpload(ctx context.Context) error {
	if s.store == nil {
		return fmt.Errorf("object store not configured")
	}

	s.log.Info().Msg("Starting cloud backup")
	start := time.Now()

	stagingDir := filepath.Join(s.dataDir, "backup-staging")
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	snapshotPath, err := s.Snapshot(stagingDir)
	if err != nil {
		return err
	}

	archiveName := backupPrefix + time.Now().Format(backupTimeLayout) + ".db.gz"
	archivePath := filepath.Join(stagingDir, archiveName)
	if err := gzipFile(snapshotPath, archivePath); err != nil {
		return fmt.Errorf("failed to compress snapshot: %w", err)
	}

	archive, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer archive.Close()

	if err := s.store.Upload(ctx, archiveName, archive); err != nil {
		return err
	}

	s.log.Info().
		Str("archive", archiveName).
		Dur("duration_ms", time.Since(start)).
		Msg("Cloud backup completed")
	return nil
}

// ListBackups lists backups stored in the object store, newest first.
func (s *BackupService) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	objects, err := s.store.List(ctx, backupPrefix)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	backups := make([]BackupInfo, 0, len(objects))
	for _, obj := range objects {
		if obj.Key == nil {
			continue
		}

		filename := *obj.Key
		if !strings.HasSuffix(filename, ".db.gz") {
			continue
		}
		timestampStr := strings.TrimSuffix(strings.TrimPrefix(filename, backupPrefix), ".db.gz")
		timestamp, err := time.Parse(backupTimeLayout, timestampStr)
		if err != nil {
			s.log.Warn().Str("filename", filename).Msg("Failed to parse timestamp from filename")
			continue
		}

		var sizeBytes int64
		if obj.Size != nil {
			sizeBytes = *obj.Size
		}

		backups = append(backups, BackupInfo{
			Filename:  filename,
			Timestamp: timestamp,
			SizeBytes: sizeBytes,
			AgeHours:  int64(now.Sub(timestamp).Hours()),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// RotateOldBackups deletes backups older than the retention period.
// Keeps a minimum of 3 backups regardless of age.
func (s *BackupService) RotateOldBackups(ctx context.Context, retentionDays int) error {
	backups, err := s.ListBackups(ctx)
	if err != nil {
		return err
	}
	if len(backups) <= minBackupsToKeep {
		s.log.Info().Int("count", len(backups)).Msg("Too few backups to rotate")
		return nil
	}
	if retentionDays <= 0 {
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	deleted := 0
	for i, backup := range backups {
		if i < minBackupsToKeep {
			continue
		}
		if !backup.Timestamp.Before(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, backup.Filename); err != nil {
			s.log.Error().Err(err).Str("filename", backup.Filename).Msg("Failed to delete old backup")
			continue
		}
		s.log.Info().Str("filename", backup.Filename).Msg("Deleted old backup")
		deleted++
	}

	s.log.Info().
		Int("deleted", deleted).
		Int("remaining", len(backups)-deleted).
		Msg("Backup rotation completed")
	return nil
}

func gzipFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		return err
	}
	return gz.Close()
}

func fileChecksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", hash.Sum(nil)), nil
}
