package sessions

import (
	"context"
	"log/slog"
	"time"
)

const cleanupInterval = 15 * time.Minute

// conversationCleaner is the repository slice the sweep uses.
type conversationCleaner interface {
	CleanupExpiredConversations(ctx context.Context, ttl time.Duration) (int64, error)
}

// StartCleanupWorker sweeps resolved conversations older than retention on a
// fixed interval until ctx is canceled.
func StartCleanupWorker(ctx context.Context, repo conversationCleaner, retention time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		logger.Info("conversation cleanup worker started",
			"interval", cleanupInterval, "retention", retention)

		for {
			select {
			case <-ticker.C:
				deleted, err := repo.CleanupExpiredConversations(ctx, retention)
				if err != nil {
					logger.Error("conversation cleanup failed", "error", err)
					continue
				}
				if deleted > 0 {
					logger.Info("expired conversations removed", "count", deleted)
				}
			case <-ctx.Done():
				logger.Info("conversation cleanup worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
