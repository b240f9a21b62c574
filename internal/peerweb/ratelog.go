package peerweb

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// rateLimitedLogger drops repeats of noisy warnings. The number of dropped
// lines is attached to the next one that gets through.
type rateLimitedLogger struct {
	logger     *zap.Logger
	limiter    *rate.Limiter
	suppressed atomic.Uint64
}

func newRateLimitedLogger(logger *zap.Logger, interval time.Duration) *rateLimitedLogger {
	return &rateLimitedLogger{
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

func (l *rateLimitedLogger) Warn(msg string, fields ...zap.Field) {
	if !l.limiter.Allow() {
		l.suppressed.Add(1)
		return
	}
	if n := l.suppressed.Swap(0); n > 0 {
		fields = append(fields, zap.Uint64("suppressed", n))
	}
	l.logger.Warn(msg, fields...)
}
