// Package startup provides utilities for application startup tasks.
package startup

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmylchreest/radiarr/internal/repository"
)

// DefaultCleanupAge is the default maximum age for orphaned upload files.
const DefaultCleanupAge = 1 * time.Hour

// isUploadTemp matches the ".<name>.<random>.tmp" files local storage
// writes before renaming an upload into place.
func isUploadTemp(name string) bool {
	return strings.HasPrefix(name, ".") && strings.HasSuffix(name, ".tmp")
}

// CleanupOrphanedUploads removes partial upload files older than maxAge left
// under baseDir by a process that died mid-write.
//
// Returns the number of files removed and any error encountered.
func CleanupOrphanedUploads(logger *slog.Logger, baseDir string, maxAge time.Duration) (int, error) {
	if _, err := os.Stat(baseDir); os.IsNotExist(err) {
		logger.Debug("storage directory does not exist, skipping cleanup",
			"path", baseDir,
		)
		return 0, nil
	}

	cutoff := time.Now().Add(-maxAge)
	var removed int

	err := filepath.WalkDir(baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Warn("failed to read path during cleanup",
				"path", path,
				"error", err,
			)
			return nil
		}
		if d.IsDir() || !isUploadTemp(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(cutoff) {
			logger.Debug("preserving recent upload file",
				"path", path,
				"age", time.Since(info.ModTime()).Round(time.Second),
			)
			return nil
		}

		if err := os.Remove(path); err != nil {
			logger.Warn("failed to remove orphaned upload file",
				"path", path,
				"error", err,
			)
			return nil
		}
		logger.Info("removed orphaned upload file",
			"path", path,
			"age", time.Since(info.ModTime()).Round(time.Second),
		)
		removed++
		return nil
	})
	return removed, err
}

// RecoverDeploymentState releases every ownership lease and deletes every
// session row this deployment held before it restarted. The in-memory
// sessions behind them are gone, so other deployments (or this one's
// reconcile loop) may claim the stations immediately instead of waiting for
// the leases to expire.
//
// Returns the number of leases released and any error encountered.
func RecoverDeploymentState(
	ctx context.Context,
	logger *slog.Logger,
	deploymentID string,
	stations repository.StationRepository,
	sessions repository.MediaSessionRepository,
) (int64, error) {
	rows, err := sessions.DeleteByDeployment(ctx, deploymentID)
	if err != nil {
		logger.Error("failed to delete stale session rows",
			"deployment_id", deploymentID,
			"error", err,
		)
		return 0, err
	}

	leases, err := stations.ReleaseDeployment(ctx, deploymentID)
	if err != nil {
		logger.Error("failed to release stale ownership leases",
			"deployment_id", deploymentID,
			"error", err,
		)
		return 0, err
	}

	if leases > 0 || rows > 0 {
		logger.Warn("recovered state from previous run",
			"deployment_id", deploymentID,
			"leases", leases,
			"sessions", rows,
		)
	}
	return leases, nil
}
