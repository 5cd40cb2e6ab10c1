package models

import (
	"time"
)

// EventType names a signup lifecycle event.
type EventType string

const (
	EventSubmitted          EventType = "submitted"
	EventCodeSent           EventType = "codeSent"
	EventVerified           EventType = "verified"
	EventVerificationFailed EventType = "verificationFailed"
	EventFailed             EventType = "failed"
	EventAccountCreated     EventType = "accountCreated"
	EventAbandoned          EventType = "abandoned"
)

// Reasons carried by verificationFailed events.
const (
	VerifyCodeMismatch    = "CodeMismatch"
	VerifyExpiredCode     = "ExpiredCode"
	VerifyNotFound        = "NotFound"
	VerifyTooManyAttempts = "TooManyAttempts"
	VerifyTransportError  = "TransportError"
)

// Event is a lifecycle notification emitted by the orchestrator for the UI.
type Event struct {
	Type         EventType  `json:"type"`
	SessionID    string     `json:"sessionId"`
	AttemptID    string     `json:"attemptId,omitempty"`
	Stage        Stage      `json:"stage"`
	Reason       string     `json:"reason,omitempty"`
	Message      string     `json:"message"`
	Email        string     `json:"email,omitempty"` // masked
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	AttemptsLeft *int       `json:"attemptsLeft,omitempty"`
	RetryAfter   string     `json:"retryAfter,omitempty"`
	AccountID    AccountID  `json:"accountId,omitempty"`
	Token        string     `json:"token,omitempty"`
	At           time.Time  `json:"at"`
}
