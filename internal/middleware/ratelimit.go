package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/postboard/internal/model"
)

// RateLimiterConfig はログイン試行のレート制限設定を保持する。
type RateLimiterConfig struct {
	LoginRate       rate.Limit    // ログイン試行のレート（req/sec）
	LoginBurst      int           // ログイン試行のバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// 1クライアントあたり 10 req/min。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		LoginRate:       rate.Limit(10.0 / 60.0),
		LoginBurst:      10,
		CleanupInterval: 5 * time.Minute,
	}
}

// clientLimiter はクライアントごとのレートリミッターとアクセス時刻を保持する。
type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// LoginRateLimiter はクライアントIPごとにログイン試行を制限する。
// キーはRemoteAddrのホスト部。プロキシ配下ではchiのRealIPミドルウェアを前段に置く。
type LoginRateLimiter struct {
	config RateLimiterConfig

	mu       sync.Mutex
	limiters map[string]*clientLimiter

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewLoginRateLimiter は新しいLoginRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewLoginRateLimiter(config RateLimiterConfig) *LoginRateLimiter {
	rl := &LoginRateLimiter{
		config:   config,
		limiters: make(map[string]*clientLimiter),
		stopCh:   make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *LoginRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// Middleware はログイン試行のレート制限ミドルウェアを返す。
// 安全なメソッドは制限しない。
func (rl *LoginRateLimiter) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			key := clientKey(r)
			if !rl.limiterFor(key).Allow() {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(rl.config.LoginRate)))
				WriteErrorResponse(w, http.StatusTooManyRequests, model.NewRateLimitedError())
				slog.Warn("rate limit exceeded",
					slog.String("client", key),
					slog.String("limit_type", "login"),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// LimiterCount は現在管理されているリミッターのエントリ数を返す。
func (rl *LoginRateLimiter) LimiterCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *LoginRateLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if cl, ok := rl.limiters[key]; ok {
		cl.lastAccess = time.Now()
		return cl.limiter
	}

	limiter := rate.NewLimiter(rl.config.LoginRate, rl.config.LoginBurst)
	rl.limiters[key] = &clientLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}
	return limiter
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *LoginRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *LoginRateLimiter) cleanup() {
	ttl := rl.config.CleanupInterval * 2
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, cl := range rl.limiters {
		if now.Sub(cl.lastAccess) > ttl {
			delete(rl.limiters, key)
		}
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// retryAfterSeconds は1トークンが補充されるまでの秒数を返す。
func retryAfterSeconds(r rate.Limit) int {
	sec := int(math.Ceil(1.0 / float64(r)))
	if sec < 1 {
		sec = 1
	}
	return sec
}
