package controllers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/HSouheill/coursemarket_backend/middleware"
	"github.com/HSouheill/coursemarket_backend/models"
	"github.com/HSouheill/coursemarket_backend/services"
	"github.com/HSouheill/coursemarket_backend/websocket"
)

// SignupPayload is the Data of every signup API response.
type SignupPayload struct {
	State      models.SignupSnapshot      `json:"state"`
	Validation *services.ValidationResult `json:"validation,omitempty"`
	Token      string                     `json:"token,omitempty"`
}

// SignupController exposes one SignupOrchestrator per browser session.
type SignupController struct {
	sessions *services.SessionManager
	events   *websocket.Handler
	logger   zerolog.Logger
}

func NewSignupController(sessions *services.SessionManager, events *websocket.Handler, logger zerolog.Logger) *SignupController {
	return &SignupController{
		sessions: sessions,
		events:   events,
		logger:   logger.With().Str("component", "signup_api").Logger(),
	}
}

func (sc *SignupController) orchestrator(c echo.Context) *services.SignupOrchestrator {
	return sc.sessions.Get(middleware.SessionID(c))
}

// Submit starts a new signup attempt from the form data.
func (sc *SignupController) Submit(c echo.Context) error {
	var draft models.DraftProfile
	if err := decodeStrict(c, &draft); err != nil {
		sc.logger.Info().Err(err).Msg("submit body rejected")
		return badRequest(c, "Invalid request body")
	}

	snap, err := sc.orchestrator(c).Submit(c.Request().Context(), draft)
	return sc.respond(c, http.StatusAccepted, snap, err)
}

// Resend asks for a fresh code for the current attempt.
func (sc *SignupController) Resend(c echo.Context) error {
	snap, err := sc.orchestrator(c).Resend(c.Request().Context())
	return sc.respond(c, http.StatusOK, snap, err)
}

// Confirm checks the code the user typed.
func (sc *SignupController) Confirm(c echo.Context) error {
	var req struct {
		Code string `json:"code"`
	}
	if err := decodeStrict(c, &req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	o := sc.orchestrator(c)
	snap, err := o.Confirm(c.Request().Context(), req.Code)
	if err != nil {
		return sc.respond(c, http.StatusOK, snap, err)
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: stageMessage(snap.Stage),
		Data:    SignupPayload{State: snap, Token: o.SessionToken()},
	})
}

func (sc *SignupController) Cancel(c echo.Context) error {
	return sc.respond(c, http.StatusOK, sc.orchestrator(c).Cancel(), nil)
}

func (sc *SignupController) Retry(c echo.Context) error {
	snap, err := sc.orchestrator(c).Retry(c.Request().Context())
	return sc.respond(c, http.StatusOK, snap, err)
}

func (sc *SignupController) Discard(c echo.Context) error {
	snap, err := sc.orchestrator(c).Discard()
	return sc.respond(c, http.StatusOK, snap, err)
}

// State returns the session's current snapshot.
func (sc *SignupController) State(c echo.Context) error {
	return sc.respond(c, http.StatusOK, sc.orchestrator(c).Snapshot(), nil)
}

// Events streams lifecycle events for the session over a WebSocket.
func (sc *SignupController) Events(c echo.Context) error {
	snap := sc.orchestrator(c).Snapshot()
	return sc.events.HandleWebSocket(c, middleware.SessionID(c), snap)
}

func (sc *SignupController) respond(c echo.Context, status int, snap models.SignupSnapshot, err error) error {
	if err == nil {
		return c.JSON(status, models.Response{
			Status:  status,
			Message: stageMessage(snap.Stage),
			Data:    SignupPayload{State: snap},
		})
	}

	payload := SignupPayload{State: snap}
	var verr *services.ValidationError
	if errors.As(err, &verr) {
		result := verr.Result
		payload.Validation = &result
	}

	errStatus := errorStatus(err)
	if errStatus == http.StatusInternalServerError {
		sc.logger.Error().Err(err).Str("stage", string(snap.Stage)).Msg("signup request failed")
	}
	return respondError(c, errStatus, err, payload)
}

func stageMessage(stage models.Stage) string {
	switch stage {
	case models.StageIdle:
		return "Ready to sign up"
	case models.StageValidating, models.StageRequestingCode:
		return "Creating your account"
	case models.StageAwaitingVerification:
		return "Enter the code we sent to your email"
	case models.StageFinalizing:
		return "Finishing your account"
	case models.StageComplete:
		return "Account created successfully"
	case models.StageFailed:
		return "Signup failed"
	case models.StageAbandoned:
		return "Signup ended"
	}
	return string(stage)
}
