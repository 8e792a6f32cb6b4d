// Package cleanup は期限切れセッションの定期削除ジョブを提供する。
// Postgresのsessionsテーブルが対象。Redisに保存したセッションはTTLで失効する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Recorder は削除件数を記録するインターフェース。metrics.Collectorが実装する。
type Recorder interface {
	RecordSessionsPurged(count int64)
}

// SessionCleanupJob は期限切れセッションの削除ジョブ。
// 何度実行しても結果は変わらない。
type SessionCleanupJob struct {
	db       Executor
	logger   *slog.Logger
	recorder Recorder
}

// NewSessionCleanupJob は新しいSessionCleanupJobを生成する。recorderはnilでもよい。
func NewSessionCleanupJob(db Executor, logger *slog.Logger, recorder Recorder) *SessionCleanupJob {
	return &SessionCleanupJob{
		db:       db,
		logger:   logger,
		recorder: recorder,
	}
}

// Run はexpires_atを過ぎたセッションを削除し、削除件数を返す。
func (j *SessionCleanupJob) Run(ctx context.Context) (int64, error) {
	start := time.Now()

	result, err := j.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < now()`)
	if err != nil {
		j.logger.Error("セッションクリーンアップの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordSessionsPurged(deleted)
	}
	j.logger.Info("セッションクリーンアップが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return deleted, nil
}

// Start は起動直後に1回、その後intervalごとにRunを実行する。
// ctxがキャンセルされるまでブロックする。実行の失敗はログに記録して継続する。
func (j *SessionCleanupJob) Start(ctx context.Context, interval time.Duration) {
	j.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *SessionCleanupJob) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	// エラーはRun内でログ済み
	_, _ = j.Run(ctx)
}
