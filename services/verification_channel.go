package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/HSouheill/coursemarket_backend/models"
)

var (
	ErrValidation        = errors.New("validation error")
	ErrDelivery          = errors.New("verification code could not be delivered")
	ErrCodeMismatch      = errors.New("verification code does not match")
	ErrExpiredCode       = errors.New("verification code has expired")
	ErrTooManyAttempts   = errors.New("too many verification attempts")
	ErrAlreadyInProgress = errors.New("signup already in progress")
	ErrNotFound          = errors.New("no active verification request")
	ErrResendCooldown    = errors.New("resend not allowed yet")
	ErrNoActiveAttempt   = errors.New("no signup attempt allows this action")
	ErrFinalize          = errors.New("account could not be finalized")
	ErrEmailTaken        = errors.New("email already registered")
)

// ValidationError reports the first rule a draft violated.
type ValidationError struct {
	Result ValidationResult
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Result.Rule, e.Result.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// CooldownError is returned by a resend attempted too early.
type CooldownError struct {
	RetryAfter time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("resend available in %s", e.RetryAfter.Round(time.Second))
}

func (e *CooldownError) Unwrap() error { return ErrResendCooldown }

// VerificationChannel issues and confirms one-time codes for an email address.
// RequestCode supersedes any code previously issued for the address.
// ConfirmCode fails with ErrCodeMismatch, ErrExpiredCode or ErrNotFound;
// RequestCode fails with ErrDelivery.
type VerificationChannel interface {
	RequestCode(ctx context.Context, email string) (models.VerificationRequest, error)
	ConfirmCode(ctx context.Context, email, code string) (models.AccountID, error)
}

// AccountFinalizer activates a verified account with the signup profile and
// returns a login token. Channels that can finalize implement it.
type AccountFinalizer interface {
	Finalize(ctx context.Context, accountID models.AccountID, profile models.DraftProfile) (string, error)
}

// EventPublisher receives orchestrator lifecycle events. Publish must not block.
type EventPublisher interface {
	Publish(event models.Event)
}

// EventPublisherFunc adapts a function to EventPublisher.
type EventPublisherFunc func(models.Event)

func (f EventPublisherFunc) Publish(event models.Event) { f(event) }

// grantBook remembers the finalize grant returned with each confirmed account
// until the orchestrator asks for finalization.
type grantBook struct {
	mu     sync.Mutex
	grants map[models.AccountID]string
}

func (b *grantBook) put(id models.AccountID, grant string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.grants == nil {
		b.grants = make(map[models.AccountID]string)
	}
	b.grants[id] = grant
}

func (b *grantBook) take(id models.AccountID) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	grant, ok := b.grants[id]
	delete(b.grants, id)
	return grant, ok
}

// peek returns the grant without consuming it, so a failed finalize can be retried.
func (b *grantBook) peek(id models.AccountID) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	grant, ok := b.grants[id]
	return grant, ok
}

func finalizeRequest(grant string, profile models.DraftProfile) models.FinalizeRequest {
	return models.FinalizeRequest{
		Grant:     grant,
		FirstName: profile.FirstName,
		LastName:  profile.LastName,
		Email:     profile.Email,
		Password:  profile.Password,
		Role:      profile.Role,
	}
}

// Machine-readable error codes shared by the HTTP API and HTTPChannel.
const (
	CodeValidationError   = "ValidationError"
	CodeDeliveryError     = "DeliveryError"
	CodeCodeMismatch      = "CodeMismatch"
	CodeExpiredCode       = "ExpiredCode"
	CodeNotFound          = "NotFound"
	CodeTooManyAttempts   = "TooManyAttempts"
	CodeAlreadyInProgress = "AlreadyInProgress"
	CodeResendCooldown    = "ResendCooldown"
	CodeNoActiveAttempt   = "NoActiveAttempt"
	CodeFinalizeError     = "FinalizeError"
	CodeEmailTaken        = "EmailTaken"
)

var errorCodes = []struct {
	err  error
	code string
}{
	// More specific first: a lockout wraps a mismatch, a taken email or a
	// cooldown is reported as a delivery failure.
	{ErrTooManyAttempts, CodeTooManyAttempts},
	{ErrEmailTaken, CodeEmailTaken},
	{ErrValidation, CodeValidationError},
	{ErrResendCooldown, CodeResendCooldown},
	{ErrDelivery, CodeDeliveryError},
	{ErrCodeMismatch, CodeCodeMismatch},
	{ErrExpiredCode, CodeExpiredCode},
	{ErrNotFound, CodeNotFound},
	{ErrAlreadyInProgress, CodeAlreadyInProgress},
	{ErrNoActiveAttempt, CodeNoActiveAttempt},
	{ErrFinalize, CodeFinalizeError},
}

// ErrorCode returns the wire code for err, or "" for unexpected errors.
func ErrorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return ""
}

// ErrorForCode returns the sentinel for a wire code, or nil if unknown.
func ErrorForCode(code string) error {
	for _, ec := range errorCodes {
		if ec.code == code {
			return ec.err
		}
	}
	return nil
}
