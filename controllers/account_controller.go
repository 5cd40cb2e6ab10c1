package controllers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/HSouheill/coursemarket_backend/middleware"
	"github.com/HSouheill/coursemarket_backend/models"
	"github.com/HSouheill/coursemarket_backend/services"
)

type AccountController struct {
	accounts services.AccountStore
	logger   zerolog.Logger
}

func NewAccountController(accounts services.AccountStore, logger zerolog.Logger) *AccountController {
	return &AccountController{
		accounts: accounts,
		logger:   logger.With().Str("component", "account_api").Logger(),
	}
}

// Me returns the account behind the session token.
func (ac *AccountController) Me(c echo.Context) error {
	accountID, err := middleware.ExtractAccountID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, models.Response{
			Status:  http.StatusUnauthorized,
			Message: "Please provide valid credentials",
		})
	}

	account, err := ac.accounts.FindByID(c.Request().Context(), accountID)
	if err != nil {
		ac.logger.Error().Err(err).Str("account", string(accountID)).Msg("failed to load account")
		return c.JSON(http.StatusInternalServerError, models.Response{
			Status:  http.StatusInternalServerError,
			Message: "Internal server error",
		})
	}
	if account == nil || account.Status != models.AccountStatusActive {
		return c.JSON(http.StatusNotFound, models.Response{
			Status:  http.StatusNotFound,
			Message: "Account not found",
			Code:    services.CodeNotFound,
		})
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Account retrieved successfully",
		Data:    account,
	})
}
