package security

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func TestValidateContentType(t *testing.T) {
	assert.True(t, ValidateContentType("application/json"))
	assert.True(t, ValidateContentType("application/json; charset=utf-8"))
	assert.False(t, ValidateContentType("application/x-www-form-urlencoded"))
	assert.False(t, ValidateContentType("text/plain"))
	assert.False(t, ValidateContentType(""))
}

func TestRequireJSON(t *testing.T) {
	e := echo.New()
	ok := func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }
	e.POST("/submit", ok, RequireJSON())
	e.GET("/state", ok, RequireJSON())

	call := func(method, contentType, body string) int {
		req := httptest.NewRequest(method, "/"+map[string]string{http.MethodPost: "submit", http.MethodGet: "state"}[method], strings.NewReader(body))
		if contentType != "" {
			req.Header.Set(echo.HeaderContentType, contentType)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, call(http.MethodPost, echo.MIMEApplicationJSON, `{}`))
	assert.Equal(t, http.StatusNoContent, call(http.MethodPost, "", ""), "empty command bodies are fine")
	assert.Equal(t, http.StatusUnsupportedMediaType, call(http.MethodPost, "application/x-www-form-urlencoded", "code=1"))
	assert.Equal(t, http.StatusUnsupportedMediaType, call(http.MethodPost, "text/plain", `{"code":"1"}`))
	assert.Equal(t, http.StatusNoContent, call(http.MethodGet, "", ""))
}
