package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apierrors "github.com/feral-file/passport-ledger/internal/api/shared/errors"
	"github.com/feral-file/passport-ledger/internal/logger"
	"github.com/feral-file/passport-ledger/internal/ratelimit"
)

// RateLimitKeyFunc picks the bucket a request draws from
type RateLimitKeyFunc func(c *gin.Context) string

// ClientIPKey limits by client IP
func ClientIPKey(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

// CallerKey limits by authenticated caller, falling back to the client IP
func CallerKey(c *gin.Context) string {
	if caller, ok := CallerFromContext(c); ok {
		return "caller:" + caller
	}
	return ClientIPKey(c)
}

// RateLimit returns a gin middleware answering 429 once the key's bucket is empty.
// A nil limiter lets every request through.
func RateLimit(limiter *ratelimit.Limiter, key RateLimitKeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		k := key(c)
		allowed, retryAfter := limiter.Allow(k)
		if !allowed {
			seconds := max(int(math.Ceil(retryAfter.Seconds())), 1)
			logger.WarnCtx(c.Request.Context(), "Rate limit exceeded",
				zap.String("key", k),
				zap.String("path", c.Request.URL.Path),
				zap.Duration("retry_after", retryAfter),
			)
			c.Header("Retry-After", strconv.Itoa(seconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				apierrors.NewRateLimitedError("Too many requests", "retry after "+strconv.Itoa(seconds)+"s"))
			return
		}

		c.Next()
	}
}
