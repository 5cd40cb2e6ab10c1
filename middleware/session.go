package middleware

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	SessionCookieName = "signup_session"
	sessionContextKey = "signupSession"
)

// SignupSession makes sure every request under the signup API carries a
// session id, issuing a new cookie when the client has none or sends garbage.
func SignupSession(secure bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := ""
			if cookie, err := c.Cookie(SessionCookieName); err == nil {
				if parsed, err := uuid.Parse(cookie.Value); err == nil {
					id = parsed.String()
				}
			}

			if id == "" {
				id = uuid.NewString()
				c.SetCookie(&http.Cookie{
					Name:     SessionCookieName,
					Value:    id,
					Path:     "/api/signup",
					HttpOnly: true,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			c.Set(sessionContextKey, id)
			return next(c)
		}
	}
}

// SessionID returns the id set by SignupSession, or "" outside it.
func SessionID(c echo.Context) string {
	id, _ := c.Get(sessionContextKey).(string)
	return id
}
