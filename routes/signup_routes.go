package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/HSouheill/coursemarket_backend/controllers"
	"github.com/HSouheill/coursemarket_backend/middleware"
	"github.com/HSouheill/coursemarket_backend/security"
)

// RegisterSignupRoutes sets up the session-scoped signup API
func RegisterSignupRoutes(e *echo.Echo, signupController *controllers.SignupController, secureCookies bool) {
	signup := e.Group("/api/signup", middleware.SignupSession(secureCookies), security.RequireJSON())

	signup.POST("/submit", signupController.Submit)
	signup.POST("/resend", signupController.Resend)
	signup.POST("/confirm", signupController.Confirm)
	signup.POST("/cancel", signupController.Cancel)
	signup.POST("/retry", signupController.Retry)
	signup.POST("/discard", signupController.Discard)
	signup.GET("/state", signupController.State)
	signup.GET("/events", signupController.Events)
}
