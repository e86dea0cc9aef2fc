package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// NewLimiter builds an in-process limiter from a formatted rate such as "100-M".
func NewLimiter(formatted string) (*limiter.Limiter, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, fmt.Errorf("invalid rate limit %q: %w", formatted, err)
	}
	return limiter.New(memory.NewStore(), rate), nil
}

// NewRedisLimiter builds a limiter whose counters live in Redis under prefix,
// so that every replica of a service shares them.
func NewRedisLimiter(client *goredis.Client, prefix, formatted string) (*limiter.Limiter, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, fmt.Errorf("invalid rate limit %q: %w", formatted, err)
	}
	store, err := sredis.NewStoreWithOptions(client, limiter.StoreOptions{
		Prefix: prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit store: %w", err)
	}
	return limiter.New(store, rate), nil
}

// RateLimit rejects clients that exceed the limiter's rate with 429. When the
// limiter store cannot be reached the request is let through.
func RateLimit(limiterInstance *limiter.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()

		lctx, err := limiterInstance.Get(c.Request.Context(), ip)
		if err != nil {
			logrus.WithError(err).WithField("ip", ip).Warn("rate limit check failed, request not limited")
			c.Next()
			return
		}

		if lctx.Reached {
			logrus.WithFields(logrus.Fields{
				"ip":    ip,
				"limit": lctx.Limit,
			}).Warn("rate limit exceeded")
			RespondWithError(c, http.StatusTooManyRequests, "Too many requests. Please try again later.")
			c.Abort()
			return
		}

		c.Next()
	}
}
