package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/HSouheill/coursemarket_backend/controllers"
	"github.com/HSouheill/coursemarket_backend/middleware"
	"github.com/HSouheill/coursemarket_backend/security"
)

// RegisterVerificationRoutes sets up the verification backend
func RegisterVerificationRoutes(e *echo.Echo, verificationController *controllers.VerificationController) {
	verification := e.Group("/api/verification", security.RequireJSON())

	verification.POST("/request-code", verificationController.RequestCode)
	verification.POST("/confirm-code", verificationController.ConfirmCode)
	verification.POST("/finalize", verificationController.Finalize)
}

// RegisterAccountRoutes sets up routes that need a session token
func RegisterAccountRoutes(e *echo.Echo, accountController *controllers.AccountController, jwtSecret []byte) {
	account := e.Group("/api/account", middleware.JWTMiddleware(jwtSecret))

	account.GET("/me", accountController.Me)
}
