package models

import "time"

// Stage is the position of a signup attempt in the orchestrator's state machine.
type Stage string

const (
	StageIdle                 Stage = "Idle"
	StageValidating           Stage = "Validating"
	StageRequestingCode       Stage = "RequestingCode"
	StageAwaitingVerification Stage = "AwaitingVerification"
	StageFinalizing           Stage = "Finalizing"
	StageComplete             Stage = "Complete"
	StageFailed               Stage = "Failed"
	StageAbandoned            Stage = "Abandoned"
)

// FailureReason qualifies StageFailed.
type FailureReason string

const (
	ReasonNone            FailureReason = ""
	ReasonValidationError FailureReason = "ValidationError"
	ReasonDeliveryError   FailureReason = "DeliveryError"
	ReasonTooManyAttempts FailureReason = "TooManyAttempts"
	ReasonFinalizeError   FailureReason = "FinalizeError"
)

// SignupAttempt is the unit held by a DraftStore: the profile being signed up
// and the outstanding verification request, if any.
type SignupAttempt struct {
	ID      string               `json:"id"`
	Profile DraftProfile         `json:"profile"`
	Request *VerificationRequest `json:"request,omitempty"`
	SavedAt time.Time            `json:"savedAt"`
}

// SignupSnapshot is the read-only view of an orchestrator handed to the UI.
type SignupSnapshot struct {
	SessionID         string        `json:"sessionId"`
	AttemptID         string        `json:"attemptId,omitempty"`
	Stage             Stage         `json:"stage"`
	Reason            FailureReason `json:"reason,omitempty"`
	InFlight          bool          `json:"inFlight"`
	Email             string        `json:"email,omitempty"`
	ExpiresAt         *time.Time    `json:"expiresAt,omitempty"`
	Attempts          int           `json:"attempts"`
	AttemptsLeft      int           `json:"attemptsLeft"`
	ResendAvailableAt *time.Time    `json:"resendAvailableAt,omitempty"`
	AccountID         AccountID     `json:"accountId,omitempty"`
}
