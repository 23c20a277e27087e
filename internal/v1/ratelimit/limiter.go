// Package ratelimit throttles new WebSocket connection attempts per client
// IP using an in-memory fixed-window counter, so a single misbehaving client can't
// spin up an unbounded number of sessions.
package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"github.com/kalgynirae/sudoku-sync/internal/v1/config"
	"github.com/kalgynirae/sudoku-sync/internal/v1/logging"
	"github.com/kalgynirae/sudoku-sync/internal/v1/metrics"
)

// Limiter bounds how often a given IP may open a new realtime connection.
// Rooms don't otherwise have an auth layer to key limits on, so IP is the
// only identity a connect attempt carries.
type Limiter struct {
	wsConnect *limiter.Limiter
	store     limiter.Store
}

// New builds a Limiter from cfg.RateLimitWsConnect, a formatted rate such as
// "20-M" (20 per minute).
func New(cfg *config.Config) (*Limiter, error) {
	rate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsConnect)
	if err != nil {
		return nil, fmt.Errorf("invalid ws connect rate: %w", err)
	}

	store := memory.NewStore()
	return &Limiter{
		wsConnect: limiter.New(store, rate),
		store:     store,
	}, nil
}

// CheckWebSocketConnect reports whether c's client IP is still under the
// connect-attempt rate limit. On exhaustion it writes a 429 response itself
// and returns false; callers should abort the upgrade without writing
// anything further. A limiter store failure fails open: availability of the
// realtime path matters more than enforcing the cap during an outage.
func (l *Limiter) CheckWebSocketConnect(c *gin.Context) bool {
	ctx := c.Request.Context()

	res, err := l.wsConnect.Get(ctx, c.ClientIP())
	if err != nil {
		logging.Error(ctx, "rate limiter store failed", zap.Error(err))
		return true
	}

	metrics.RateLimitRequests.WithLabelValues("websocket_connect").Inc()
	if res.Reached {
		metrics.RateLimitExceeded.WithLabelValues("websocket_connect", "ip").Inc()
		c.Header("Retry-After", strconv.FormatInt(res.Reset-time.Now().Unix(), 10))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":       "too many connection attempts",
			"retry_after": res.Reset,
		})
		return false
	}

	return true
}
