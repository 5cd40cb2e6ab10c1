package controllers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/HSouheill/coursemarket_backend/models"
	"github.com/HSouheill/coursemarket_backend/services"
)

var errorStatuses = []struct {
	err    error
	status int
}{
	{services.ErrTooManyAttempts, http.StatusTooManyRequests},
	{services.ErrEmailTaken, http.StatusConflict},
	{services.ErrValidation, http.StatusUnprocessableEntity},
	{services.ErrResendCooldown, http.StatusTooManyRequests},
	{services.ErrAlreadyInProgress, http.StatusConflict},
	{services.ErrNoActiveAttempt, http.StatusConflict},
	{services.ErrCodeMismatch, http.StatusBadRequest},
	{services.ErrExpiredCode, http.StatusGone},
	{services.ErrNotFound, http.StatusNotFound},
	{services.ErrDelivery, http.StatusBadGateway},
	{services.ErrFinalize, http.StatusBadGateway},
}

// errorStatus maps a signup error to its HTTP status. Unknown errors are 500.
func errorStatus(err error) int {
	for _, es := range errorStatuses {
		if errors.Is(err, es.err) {
			return es.status
		}
	}
	return http.StatusInternalServerError
}

func errorMessage(err error) string {
	var verr *services.ValidationError
	if errors.As(err, &verr) {
		return verr.Result.Message
	}

	switch services.ErrorCode(err) {
	case services.CodeTooManyAttempts:
		return "Too many wrong codes. Request a new code to try again."
	case services.CodeEmailTaken:
		return "An account with this email already exists"
	case services.CodeValidationError:
		return "Invalid request"
	case services.CodeResendCooldown:
		return "Please wait before requesting another code"
	case services.CodeAlreadyInProgress:
		return "A signup step is already in progress"
	case services.CodeNoActiveAttempt:
		return "There is no signup waiting for this action"
	case services.CodeCodeMismatch:
		return "Invalid verification code"
	case services.CodeExpiredCode:
		return "Verification code has expired"
	case services.CodeNotFound:
		return "No active verification code. Please request a new one."
	case services.CodeDeliveryError:
		return "We could not send the verification email. Please try again."
	case services.CodeFinalizeError:
		return "Your email is verified but the account could not be created. Please try again."
	}
	return "Internal server error"
}

// respondError writes err in the standard envelope, adding Retry-After for
// cooldowns.
func respondError(c echo.Context, status int, err error, data interface{}) error {
	var cooldown *services.CooldownError
	if errors.As(err, &cooldown) {
		c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(cooldown.RetryAfter)))
	}

	return c.JSON(status, models.Response{
		Status:  status,
		Message: errorMessage(err),
		Code:    services.ErrorCode(err),
		Data:    data,
	})
}

func retryAfterSeconds(d time.Duration) int {
	seconds := int((d + time.Second - 1) / time.Second)
	if seconds < 1 {
		return 1
	}
	return seconds
}

// decodeStrict reads a JSON body and rejects fields the target does not know.
func decodeStrict(c echo.Context, v interface{}) error {
	dec := json.NewDecoder(c.Request().Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

func badRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, models.Response{
		Status:  http.StatusBadRequest,
		Message: message,
		Code:    services.CodeValidationError,
	})
}
