package archive

import (
	"context"
	"log/slog"
	"time"

	"github.com/KW781kazu/voicebot/internal/database"
)

// RetentionSettingKey overrides the configured retention at runtime.
const RetentionSettingKey = "archive_retention_days"

// StartCleanupTicker periodically deletes indexed transcripts older than the
// retention period. The period comes from the archive_retention_days setting,
// falling back to defaultDays; zero keeps everything. The object store is
// left alone. The goroutine stops when ctx is cancelled.
func StartCleanupTicker(ctx context.Context, repo database.CallTranscriptRepository, settings database.SystemConfigRepository, defaultDays int, interval time.Duration, logger *slog.Logger) {
	logger = logger.With("subsystem", "archive-retention")

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runCleanup(ctx, repo, settings, defaultDays, time.Now(), logger)
			}
		}
	}()
}

func runCleanup(ctx context.Context, repo database.CallTranscriptRepository, settings database.SystemConfigRepository, defaultDays int, now time.Time, logger *slog.Logger) int64 {
	days := database.GetInt(ctx, settings, RetentionSettingKey, defaultDays)
	if days <= 0 {
		return 0
	}

	n, err := repo.DeleteFinishedBefore(ctx, now.AddDate(0, 0, -days))
	if err != nil {
		logger.Error("transcript retention cleanup failed", "error", err)
		return 0
	}
	if n > 0 {
		logger.Info("transcript retention cleanup", "deleted", n, "max_days", days)
	}
	return n
}
