// middleware/rate_limiter.go
package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/HSouheill/coursemarket_backend/models"
)

type endpointLimit struct {
	limit rate.Limit
	burst int
}

type RateLimiter struct {
	ips            map[string]*rate.Limiter
	blockedIPs     map[string]time.Time
	mu             sync.Mutex
	defaultLimit   rate.Limit
	defaultBurst   int
	blockDuration  time.Duration
	endpointLimits map[string]endpointLimit
	now            func() time.Time
}

func NewRateLimiter() *RateLimiter {
	limiter := &RateLimiter{
		ips:            make(map[string]*rate.Limiter),
		blockedIPs:     make(map[string]time.Time),
		defaultLimit:   rate.Every(100 * time.Millisecond), // 10 requests per second
		defaultBurst:   20,
		blockDuration:  5 * time.Minute,
		endpointLimits: make(map[string]endpointLimit),
		now:            time.Now,
	}

	// Code issuing sends mail, so it gets the tightest budget
	limiter.SetEndpointLimit("/api/signup/submit", rate.Every(2*time.Second), 5)
	limiter.SetEndpointLimit("/api/signup/resend", rate.Every(2*time.Second), 5)
	limiter.SetEndpointLimit("/api/verification/request-code", rate.Every(2*time.Second), 5)

	// Guessing codes
	limiter.SetEndpointLimit("/api/signup/confirm", rate.Every(time.Second), 10)
	limiter.SetEndpointLimit("/api/verification/confirm-code", rate.Every(time.Second), 10)

	return limiter
}

// SetEndpointLimit overrides the default limit for a route path.
func (r *RateLimiter) SetEndpointLimit(path string, limit rate.Limit, burst int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpointLimits[path] = endpointLimit{limit: limit, burst: burst}
}

// Cleanup drops expired blocks every interval until ctx is done.
func (r *RateLimiter) Cleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.cleanupBlockedIPs()
		}
	}
}

func (r *RateLimiter) cleanupBlockedIPs() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for key, blockUntil := range r.blockedIPs {
		if now.After(blockUntil) {
			delete(r.blockedIPs, key)
			// Also remove the limiter to reset its state
			delete(r.ips, key)
		}
	}
}

func (r *RateLimiter) RateLimit() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Path()
			limit, burst := r.defaultLimit, r.defaultBurst

			r.mu.Lock()
			if l, ok := r.endpointLimits[path]; ok {
				limit, burst = l.limit, l.burst
			} else {
				// Unlisted routes share one bucket per IP
				path = ""
			}
			r.mu.Unlock()

			key := c.RealIP() + "|" + path
			now := r.now()

			r.mu.Lock()
			if blockUntil, blocked := r.blockedIPs[key]; blocked {
				if now.Before(blockUntil) {
					r.mu.Unlock()
					return tooManyRequests(c, blockUntil.Sub(now))
				}
				// Block has expired - remove it and reset the limiter
				delete(r.blockedIPs, key)
				delete(r.ips, key)
			}

			limiter, exists := r.ips[key]
			if !exists {
				limiter = rate.NewLimiter(limit, burst)
				r.ips[key] = limiter
			}

			if !limiter.AllowN(now, 1) {
				r.blockedIPs[key] = now.Add(r.blockDuration)
				r.mu.Unlock()
				return tooManyRequests(c, r.blockDuration)
			}
			r.mu.Unlock()

			return next(c)
		}
	}
}

func tooManyRequests(c echo.Context, retryAfter time.Duration) error {
	seconds := int(retryAfter.Round(time.Second) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	c.Response().Header().Set("Retry-After", strconv.Itoa(seconds))
	return c.JSON(http.StatusTooManyRequests, models.Response{
		Status:  http.StatusTooManyRequests,
		Message: "Too many requests",
		Code:    "RateLimited",
	})
}
