package controllers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/HSouheill/coursemarket_backend/models"
	"github.com/HSouheill/coursemarket_backend/services"
)

// VerificationController serves the verification backend used by HTTPChannel.
type VerificationController struct {
	svc    *services.VerificationService
	logger zerolog.Logger
}

func NewVerificationController(svc *services.VerificationService, logger zerolog.Logger) *VerificationController {
	return &VerificationController{
		svc:    svc,
		logger: logger.With().Str("component", "verification_api").Logger(),
	}
}

type requestCodeRequest struct {
	Email string `json:"email" validate:"required"`
}

type confirmCodeRequest struct {
	Email string `json:"email" validate:"required"`
	Code  string `json:"code" validate:"required"`
}

// RequestCode issues and mails a new code.
func (vc *VerificationController) RequestCode(c echo.Context) error {
	var req requestCodeRequest
	if err := vc.bind(c, &req); err != nil {
		return badRequest(c, "Email is required")
	}

	result, err := vc.svc.RequestCode(c.Request().Context(), req.Email)
	if err != nil {
		return vc.fail(c, err)
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Verification code sent",
		Data:    result,
	})
}

// ConfirmCode checks a code and returns the account id and finalize grant.
func (vc *VerificationController) ConfirmCode(c echo.Context) error {
	var req confirmCodeRequest
	if err := vc.bind(c, &req); err != nil {
		return badRequest(c, "Email and code are required")
	}

	result, err := vc.svc.ConfirmCode(c.Request().Context(), req.Email, req.Code)
	if err != nil {
		return vc.fail(c, err)
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Email verified",
		Data:    result,
	})
}

// Finalize activates the verified account with the signup profile.
func (vc *VerificationController) Finalize(c echo.Context) error {
	var req models.FinalizeRequest
	if err := vc.bind(c, &req); err != nil {
		return badRequest(c, "Invalid finalize request")
	}

	result, err := vc.svc.Finalize(c.Request().Context(), req)
	if err != nil {
		return vc.fail(c, err)
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Account created successfully",
		Data:    result,
	})
}

func (vc *VerificationController) bind(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return err
	}
	return c.Validate(v)
}

func (vc *VerificationController) fail(c echo.Context, err error) error {
	status := errorStatus(err)
	switch {
	case errors.Is(err, services.ErrFinalize):
		// Bad or reused grant
		status = http.StatusForbidden
	case status == http.StatusInternalServerError:
		vc.logger.Error().Err(err).Str("path", c.Path()).Msg("verification request failed")
	}
	return respondError(c, status, err, nil)
}
