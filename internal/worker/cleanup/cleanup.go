// Package cleanup は期限切れセッションの削除ジョブを提供する。
// prune-sessionsサブコマンドから1回実行する想定で、cron等の外部スケジューラから起動する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/oauthgate/internal/metrics"
)

// SessionPruner は期限切れセッションを削除するインターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionPruner interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// CleanupJob は期限切れセッションの削除ジョブ。
// 冪等であり、削除対象がない場合もエラーにならない。
type CleanupJob struct {
	store   SessionPruner
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(store SessionPruner, collector metrics.MetricsCollector, logger *slog.Logger) *CleanupJob {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &CleanupJob{
		store:   store,
		metrics: collector,
		logger:  logger,
	}
}

// Run は期限切れセッションを削除し、削除件数を返す。
func (j *CleanupJob) Run(ctx context.Context) (int64, error) {
	start := time.Now()

	deleted, err := j.store.DeleteExpired(ctx)
	if err != nil {
		j.logger.ErrorContext(ctx, "session cleanup failed",
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}

	j.metrics.RecordSessionsPruned(deleted)
	j.logger.InfoContext(ctx, "session cleanup completed",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return deleted, nil
}
