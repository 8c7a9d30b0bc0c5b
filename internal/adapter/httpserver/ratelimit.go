package httpserver

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

const rateLimiterExpiry = 5 * time.Minute

// rateLimitPolicy is a token bucket per client IP.
type rateLimitPolicy struct {
	name      string
	perSecond float64
	burst     int
}

var (
	authRateLimit   = rateLimitPolicy{name: "auth", perSecond: 1, burst: 10}
	publicRateLimit = rateLimitPolicy{name: "public", perSecond: 5, burst: 30}
)

// retryAfter is the whole number of seconds until one token is back.
func (p rateLimitPolicy) retryAfter() string {
	if p.perSecond <= 0 {
		return "60"
	}
	return strconv.Itoa(int(math.Ceil(1 / p.perSecond)))
}

func newRateLimiter(p rateLimitPolicy) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(p.perSecond),
		Burst:     p.burst,
		ExpiresIn: rateLimiterExpiry,
	})

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, client string, _ error) error {
			slog.WarnContext(c.Request().Context(), "Rate limit exceeded", "policy", p.name, "client", client, "path", c.Path())
			c.Response().Header().Set("Retry-After", p.retryAfter())
			return c.JSON(http.StatusTooManyRequests, map[string]string{
				"error":  "rate limit exceeded",
				"policy": p.name,
			})
		},
	})
}
