package reliability

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"

	"tradenotify/internal/database"
)

// localBackupsToKeep limits how many snapshot files stay on disk.
const localBackupsToKeep = 7

// MaintenanceJob performs nightly ledger upkeep: integrity check, WAL
// checkpoint, disk space check, local snapshot and optional cloud
// backup with rotation.
type MaintenanceJob struct {
	db            *database.DB
	backups       *BackupService
	backupDir     string
	retentionDays int
	log           zerolog.Logger
}

// NewMaintenanceJob creates the nightly maintenance job. Cloud upload
// is skipped when the backup service has no object store.
func NewMaintenanceJob(db *database.DB, backups *BackupService, backupDir string, retentionDays int, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		db:            db,
		backups:       backups,
		backupDir:     backupDir,
		retentionDays: retentionDays,
		log:           log.With().Str("job", "maintenance").Logger(),
	}
}

// Name returns the job name for the scheduler.
func (j *MaintenanceJob) Name() string {
	return "maintenance"
}

// Run executes the maintenance sequence.
func (j *MaintenanceJob) Run() error {
	j.log.Info().Msg("Starting maintenance")
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := j.db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("ledger integrity check failed: %w", err)
	}

	if err := j.db.WALCheckpoint("TRUNCATE"); err != nil {
		// Not critical, the next checkpoint will catch up.
		j.log.Warn().Err(err).Msg("WAL checkpoint failed")
	}

	if err := j.checkDiskSpace(); err != nil {
		return err
	}

	if _, err := j.backups.Snapshot(j.backupDir); err != nil {
		return fmt.Errorf("local snapshot failed: %w", err)
	}
	j.pruneLocalSnapshots()

	if j.backups.store != nil {
		if err := j.backups.CreateAndUpload(ctx); err != nil {
			j.log.Error().Err(err).Msg("Cloud backup failed")
		} else if err := j.backups.RotateOldBackups(ctx, j.retentionDays); err != nil {
			j.log.Error().Err(err).Msg("Backup rotation failed")
		}
	}

	j.log.Info().
		Dur("duration_ms", time.Since(start)).
		Msg("Maintenance completed")
	return nil
}

// checkDiskSpace halts maintenance when free space drops below 500MB.
func (j *MaintenanceJob) checkDiskSpace() error {
	usage, err := disk.Usage(filepath.Dir(j.backupDir))
	if err != nil {
		return fmt.Errorf("failed to stat filesystem: %w", err)
	}

	freeGB := float64(usage.Free) / 1e9
	j.log.Debug().Float64("free_gb", freeGB).Msg("Disk space check")

	if freeGB < 0.5 {
		return fmt.Errorf("only %.2f GB free, refusing to write backups", freeGB)
	}
	return nil
}

// pruneLocalSnapshots keeps only the newest local snapshot files.
func (j *MaintenanceJob) pruneLocalSnapshots() {
	entries, err := os.ReadDir(j.backupDir)
	if err != nil {
		j.log.Warn().Err(err).Msg("Failed to read backup directory")
		return
	}

	var snapshots []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, "ledger-") && strings.HasSuffix(name, ".db") {
			snapshots = append(snapshots, name)
		}
	}
	if len(snapshots) <= localBackupsToKeep {
		return
	}

	// Timestamped names sort chronologically.
	sort.Strings(snapshots)
	for _, name := range snapshots[:len(snapshots)-localBackupsToKeep] {
		if err := os.Remove(filepath.Join(j.backupDir, name)); err != nil {
			j.log.Warn().Err(err).Str("file", name).Msg("Failed to prune snapshot")
			continue
		}
		j.log.Debug().Str("file", name).Msg("Pruned old snapshot")
	}
}
