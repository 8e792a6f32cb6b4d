package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	// initialBackoff は接続リトライの初回待機時間。
	initialBackoff = 500 * time.Millisecond
	// maxBackoff は接続リトライの最大待機時間。
	maxBackoff = 8 * time.Second
)

// Pinger は疎通確認ができる接続。*sql.DBが実装する。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// CalculateBackoff は失敗回数に基づいて指数バックオフの待機時間を計算する。
// 初回500ms、2倍ずつ増加、最大8秒。
func CalculateBackoff(failures int) time.Duration {
	delay := initialBackoff
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// WaitForConnection はPingが成功するまで最大attempts回試行する。
// コンテナの起動順序によりDBが遅れて立ち上がる場合に使う。
func WaitForConnection(ctx context.Context, db Pinger, attempts int) error {
	return waitForConnection(ctx, db, attempts, CalculateBackoff)
}

func waitForConnection(ctx context.Context, db Pinger, attempts int, backoff func(int) time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = db.PingContext(ctx); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}

		delay := backoff(i)
		slog.Warn("database is not ready, retrying",
			slog.Int("attempt", i+1),
			slog.Duration("retry_in", delay),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("gave up waiting for database: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("database unreachable after %d attempts: %w", attempts, err)
}
