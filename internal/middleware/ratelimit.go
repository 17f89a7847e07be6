package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimiterConfig задаёт ограничение частоты запросов на участника.
type RateLimiterConfig struct {
	Rate            rate.Limit
	Burst           int
	CleanupInterval time.Duration
}

// DefaultRateLimiterConfig возвращает ограничение по умолчанию: 5 ставок в секунду, всплеск до 10.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Rate:            rate.Limit(5),
		Burst:           10,
		CleanupInterval: 5 * time.Minute,
	}
}

type memberLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter ограничивает частоту запросов каждого участника отдельно.
type RateLimiter struct {
	config RateLimiterConfig
	logger *zap.Logger

	mu       sync.Mutex
	limiters map[int64]*memberLimiter

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter создаёт RateLimiter и запускает фоновую очистку неактивных участников.
func NewRateLimiter(config RateLimiterConfig, logger *zap.Logger) *RateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultRateLimiterConfig().CleanupInterval
	}

	rl := &RateLimiter{
		config:   config,
		logger:   logger,
		limiters: make(map[int64]*memberLimiter),
		stopCh:   make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop останавливает фоновую очистку.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// Middleware возвращает middleware ограничения частоты. Должен стоять после Member.
func (rl *RateLimiter) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			if !rl.limiter(id.MemberID).Allow() {
				rl.logger.Warn("rate limit exceeded",
					zap.Int64("member_id", id.MemberID),
					zap.String("path", r.URL.Path),
				)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter(rl.config.Rate)))
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Len возвращает число отслеживаемых участников.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *RateLimiter) limiter(memberID int64) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	ml, ok := rl.limiters[memberID]
	if !ok {
		ml = &memberLimiter{limiter: rate.NewLimiter(rl.config.Rate, rl.config.Burst)}
		rl.limiters[memberID] = ml
	}
	ml.lastAccess = time.Now()

	return ml.limiter
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup удаляет участников, не обращавшихся дольше двух интервалов очистки.
func (rl *RateLimiter) cleanup(now time.Time) {
	ttl := rl.config.CleanupInterval * 2

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for memberID, ml := range rl.limiters {
		if now.Sub(ml.lastAccess) > ttl {
			delete(rl.limiters, memberID)
		}
	}
}

func retryAfter(r rate.Limit) int {
	if r <= 0 || r == rate.Inf {
		return 1
	}
	sec := int(math.Ceil(1.0 / float64(r)))
	if sec < 1 {
		sec = 1
	}
	return sec
}
