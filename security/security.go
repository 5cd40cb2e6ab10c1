package security

import (
	"mime"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/HSouheill/coursemarket_backend/models"
)

// ValidateContentType reports whether a request body declared as contentType
// may be accepted. Only JSON is.
func ValidateContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == echo.MIMEApplicationJSON
}

// RequireJSON rejects state-changing requests whose body is not JSON. Plain
// HTML forms cannot send JSON cross-site without a CORS preflight, so this
// keeps the cookie-based signup session out of reach of forged forms.
func RequireJSON() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Method != http.MethodPost {
				return next(c)
			}
			if req.ContentLength == 0 && req.Header.Get(echo.HeaderContentType) == "" {
				return next(c)
			}
			if !ValidateContentType(req.Header.Get(echo.HeaderContentType)) {
				return c.JSON(http.StatusUnsupportedMediaType, models.Response{
					Status:  http.StatusUnsupportedMediaType,
					Message: "Content-Type must be application/json",
				})
			}
			return next(c)
		}
	}
}
