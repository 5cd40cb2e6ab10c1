package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
)

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	AllowCredentials bool
	ExposeHeaders    []string
	MaxAge           int
}

// NewCORSConfig builds the CORS configuration for the given extra origins.
// Local development servers are always allowed.
func NewCORSConfig(extraOrigins []string) *CORSConfig {
	origins := []string{
		"http://localhost:3000", // React dev server
		"http://localhost:5173", // Vite dev server
		"http://localhost:8080",
	}
	origins = append(origins, extraOrigins...)

	return &CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"},
		// The signup session rides on a cookie
		AllowCredentials: true,
		ExposeHeaders:    []string{"Content-Length", "Content-Type", "Retry-After"},
		MaxAge:           86400, // 24 hours
	}
}

// CORSWithConfig creates a CORS middleware with custom configuration
func CORSWithConfig(config *CORSConfig) echo.MiddlewareFunc {
	return echoMiddleware.CORSWithConfig(echoMiddleware.CORSConfig{
		AllowOrigins:     config.AllowOrigins,
		AllowMethods:     config.AllowMethods,
		AllowHeaders:     config.AllowHeaders,
		AllowCredentials: config.AllowCredentials,
		ExposeHeaders:    config.ExposeHeaders,
		MaxAge:           config.MaxAge,
	})
}
