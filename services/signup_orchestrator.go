package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/HSouheill/coursemarket_backend/config"
	"github.com/HSouheill/coursemarket_backend/models"
	"github.com/HSouheill/coursemarket_backend/utils"
)

// OrchestratorDeps wires a SignupOrchestrator. Only Channel and Store are
// required.
type OrchestratorDeps struct {
	SessionID string
	Validator *FieldValidator
	Channel   VerificationChannel
	// Finalizer defaults to Channel when it implements AccountFinalizer.
	Finalizer AccountFinalizer
	Store     DraftStore
	Events    EventPublisher
	Clock     clock.Clock
	Policy    config.Policy
	Logger    zerolog.Logger
	Metrics   *Metrics
}

// SignupOrchestrator drives one signup attempt through validation, code
// issuance, confirmation and finalization.
//
// Every mutation happens under mu. Channel calls run with mu released and the
// in-flight flag set; their results are applied only if the generation and
// stage captured when the call started are still current. Events are queued
// under mu and published in order once mu is released.
type SignupOrchestrator struct {
	sessionID string
	validator *FieldValidator
	channel   VerificationChannel
	finalizer AccountFinalizer
	store     DraftStore
	events    EventPublisher
	clock     clock.Clock
	policy    config.Policy
	logger    zerolog.Logger
	metrics   *Metrics

	mu         sync.Mutex
	stage      models.Stage
	reason     models.FailureReason
	inFlight   bool
	cancelCall context.CancelFunc
	generation uint64
	attemptID  string
	email      string
	rejected   *models.DraftProfile
	attempts   int
	expiresAt  time.Time
	lastSentAt time.Time
	sentTo     string
	expired    bool
	accountID  models.AccountID
	token      string
	lastActive time.Time

	expiryTimer *clock.Timer
	requestSeq  uint64

	outbox  []models.Event
	flushMu sync.Mutex
}

// pendingCall is the token a channel call carries back to decide whether its
// result still applies.
type pendingCall struct {
	ctx        context.Context
	cancel     context.CancelFunc
	generation uint64
	stage      models.Stage
}

func NewSignupOrchestrator(deps OrchestratorDeps) *SignupOrchestrator {
	o := &SignupOrchestrator{
		sessionID: deps.SessionID,
		validator: deps.Validator,
		channel:   deps.Channel,
		finalizer: deps.Finalizer,
		store:     deps.Store,
		events:    deps.Events,
		clock:     deps.Clock,
		policy:    deps.Policy,
		logger:    deps.Logger.With().Str("component", "signup").Str("session", deps.SessionID).Logger(),
		metrics:   deps.Metrics,
		stage:     models.StageIdle,
	}
	if o.validator == nil {
		o.validator = NewFieldValidator()
	}
	if o.clock == nil {
		o.clock = clock.New()
	}
	if o.events == nil {
		o.events = EventPublisherFunc(func(models.Event) {})
	}
	if o.policy == (config.Policy{}) {
		o.policy = config.DefaultPolicy()
	}
	if o.finalizer == nil {
		if f, ok := deps.Channel.(AccountFinalizer); ok {
			o.finalizer = f
		}
	}
	o.lastActive = o.clock.Now()
	return o
}

// Submit validates draft and, if it passes, saves it and requests a code for
// its email. It returns once the code request has resolved.
func (o *SignupOrchestrator) Submit(ctx context.Context, draft models.DraftProfile) (models.SignupSnapshot, error) {
	defer o.flush()
	draft = draft.Normalized()

	o.mu.Lock()
	o.touchLocked()
	if o.inFlight || !submittable(o.stage) {
		o.mu.Unlock()
		o.logger.Debug().Str("stage", string(o.Stage())).Msg("submit rejected, attempt in progress")
		return o.Snapshot(), ErrAlreadyInProgress
	}

	if wait := o.cooldownLocked(draft.Email); wait > 0 {
		o.mu.Unlock()
		o.logger.Info().Dur("retryAfter", wait).Msg("submit rejected during resend cooldown")
		return o.Snapshot(), &CooldownError{RetryAfter: wait}
	}

	o.resetLocked()
	o.stage = models.StageValidating
	o.attemptID = uuid.NewString()
	o.email = utils.MaskEmail(draft.Email)
	o.enqueueLocked(models.EventSubmitted, "Creating your account", nil)

	call, err := o.startLocked(ctx, draft)
	o.mu.Unlock()
	if err != nil {
		return o.Snapshot(), err
	}
	o.flush()
	return o.runRequestCode(call, draft.Email)
}

// Resend drops the outstanding code and requests a new one. It is rejected
// locally while the resend cooldown runs.
func (o *SignupOrchestrator) Resend(ctx context.Context) (models.SignupSnapshot, error) {
	defer o.flush()

	o.mu.Lock()
	o.touchLocked()
	if o.inFlight {
		o.mu.Unlock()
		return o.Snapshot(), ErrAlreadyInProgress
	}

	awaiting := o.stage == models.StageAwaitingVerification
	locked := o.stage == models.StageFailed && o.reason == models.ReasonTooManyAttempts
	if !awaiting && !locked {
		o.mu.Unlock()
		return o.Snapshot(), ErrNoActiveAttempt
	}
	if awaiting && o.expiredLocked() {
		o.expireLocked()
		o.mu.Unlock()
		return o.Snapshot(), ErrExpiredCode
	}
	if wait := o.cooldownLocked(o.sentTo); wait > 0 {
		o.mu.Unlock()
		o.logger.Info().Dur("retryAfter", wait).Msg("resend rejected during cooldown")
		return o.Snapshot(), &CooldownError{RetryAfter: wait}
	}

	attempt, ok := o.store.Load()
	if !ok {
		o.mu.Unlock()
		return o.Snapshot(), ErrNoActiveAttempt
	}

	// The old request is invalid from here on, whatever the backend answers.
	o.stopExpiryLocked()
	o.expiresAt = time.Time{}
	o.attempts = 0
	attempt.Request = nil
	if err := o.store.Save(attempt); err != nil {
		o.failLocked(models.ReasonDeliveryError, "Could not keep your signup details. Please try again.")
		o.mu.Unlock()
		return o.Snapshot(), fmt.Errorf("%w: save draft: %w", ErrDelivery, err)
	}

	call := o.beginCallLocked(ctx, models.StageRequestingCode)
	o.mu.Unlock()
	return o.runRequestCode(call, attempt.Profile.Email)
}

// Confirm checks code against the outstanding request and, on success,
// finalizes the account.
func (o *SignupOrchestrator) Confirm(ctx context.Context, code string) (models.SignupSnapshot, error) {
	defer o.flush()
	code = strings.TrimSpace(code)

	o.mu.Lock()
	o.touchLocked()
	switch {
	case o.inFlight:
		o.mu.Unlock()
		return o.Snapshot(), ErrAlreadyInProgress
	case o.stage == models.StageAbandoned && o.expired:
		o.mu.Unlock()
		return o.Snapshot(), ErrExpiredCode
	case o.stage == models.StageFailed && o.reason == models.ReasonTooManyAttempts:
		o.mu.Unlock()
		return o.Snapshot(), ErrTooManyAttempts
	case o.stage != models.StageAwaitingVerification:
		o.mu.Unlock()
		return o.Snapshot(), ErrNoActiveAttempt
	}

	if o.expiredLocked() {
		o.expireLocked()
		o.mu.Unlock()
		return o.Snapshot(), ErrExpiredCode
	}

	if code == "" {
		o.mu.Unlock()
		return o.Snapshot(), &ValidationError{Result: invalid(RuleRequired, "code", "Verification code is required")}
	}

	attempt, ok := o.store.Load()
	if !ok {
		o.mu.Unlock()
		return o.Snapshot(), ErrNoActiveAttempt
	}

	call := o.beginCallLocked(ctx, models.StageAwaitingVerification)
	o.mu.Unlock()

	start := o.clock.Now()
	accountID, err := o.channel.ConfirmCode(call.ctx, attempt.Profile.Email, code)
	o.metrics.channelCall("confirm_code", err, o.clock.Now().Sub(start))

	o.mu.Lock()
	if !o.currentLocked(call) {
		expired := o.stage == models.StageAbandoned && o.expired
		o.mu.Unlock()
		call.cancel()
		o.logger.Debug().Err(err).Msg("discarding stale confirm result")
		if expired {
			return o.Snapshot(), ErrExpiredCode
		}
		return o.Snapshot(), ErrNoActiveAttempt
	}
	o.endCallLocked(call)

	if err != nil {
		err = o.confirmFailedLocked(err)
		o.mu.Unlock()
		return o.Snapshot(), err
	}

	o.stopExpiryLocked()
	o.accountID = accountID
	o.stage = models.StageFinalizing
	o.enqueueLocked(models.EventVerified, "Email verified", nil)
	o.logger.Info().Str("email", o.email).Str("account", string(accountID)).Msg("email verified")

	if o.finalizer == nil {
		o.completeLocked("")
		o.mu.Unlock()
		return o.Snapshot(), nil
	}

	fcall := o.beginCallLocked(ctx, models.StageFinalizing)
	o.mu.Unlock()
	o.flush()
	return o.runFinalize(fcall, accountID, attempt.Profile)
}

// Retry resumes a failed attempt: validation and delivery failures start over
// from validation with the retained draft, a finalize failure re-runs
// finalization.
func (o *SignupOrchestrator) Retry(ctx context.Context) (models.SignupSnapshot, error) {
	defer o.flush()

	o.mu.Lock()
	o.touchLocked()
	if o.inFlight {
		o.mu.Unlock()
		return o.Snapshot(), ErrAlreadyInProgress
	}
	if o.stage != models.StageFailed {
		o.mu.Unlock()
		return o.Snapshot(), ErrNoActiveAttempt
	}

	switch o.reason {
	case models.ReasonValidationError, models.ReasonDeliveryError:
		var draft models.DraftProfile
		if o.reason == models.ReasonValidationError && o.rejected != nil {
			draft = *o.rejected
		} else if attempt, ok := o.store.Load(); ok {
			draft = attempt.Profile
		} else {
			o.mu.Unlock()
			return o.Snapshot(), ErrNoActiveAttempt
		}
		if wait := o.cooldownLocked(draft.Email); wait > 0 {
			o.mu.Unlock()
			return o.Snapshot(), &CooldownError{RetryAfter: wait}
		}

		call, err := o.startLocked(ctx, draft)
		o.mu.Unlock()
		if err != nil {
			return o.Snapshot(), err
		}
		o.flush()
		return o.runRequestCode(call, draft.Email)

	case models.ReasonFinalizeError:
		attempt, ok := o.store.Load()
		if !ok || o.accountID == "" || o.finalizer == nil {
			o.mu.Unlock()
			return o.Snapshot(), ErrNoActiveAttempt
		}
		accountID := o.accountID
		call := o.beginCallLocked(ctx, models.StageFinalizing)
		o.mu.Unlock()
		return o.runFinalize(call, accountID, attempt.Profile)
	}

	o.mu.Unlock()
	return o.Snapshot(), ErrNoActiveAttempt
}

// Discard abandons a failed attempt and returns to Idle.
func (o *SignupOrchestrator) Discard() (models.SignupSnapshot, error) {
	o.mu.Lock()
	o.touchLocked()
	if o.inFlight || o.stage != models.StageFailed {
		o.mu.Unlock()
		return o.Snapshot(), ErrNoActiveAttempt
	}
	o.resetLocked()
	o.store.Clear()
	o.stage = models.StageIdle
	o.mu.Unlock()
	return o.Snapshot(), nil
}

// Cancel abandons the attempt from any stage that is still running, including
// while a channel call is outstanding. The call's result will be ignored.
// Cancel on a failed attempt behaves like Discard; on Idle, Complete or
// Abandoned it does nothing.
func (o *SignupOrchestrator) Cancel() models.SignupSnapshot {
	defer o.flush()

	o.mu.Lock()
	o.touchLocked()
	switch o.stage {
	case models.StageIdle, models.StageComplete, models.StageAbandoned:
	case models.StageFailed:
		o.resetLocked()
		o.store.Clear()
		o.stage = models.StageIdle
	default:
		o.abortCallLocked()
		o.stopExpiryLocked()
		o.store.Clear()
		o.stage = models.StageAbandoned
		o.reason = models.ReasonNone
		o.expired = false
		o.enqueueLocked(models.EventAbandoned, "Signup cancelled", func(e *models.Event) {
			e.Reason = "Cancelled"
		})
		o.logger.Info().Str("email", o.email).Msg("signup cancelled")
	}
	o.mu.Unlock()
	return o.Snapshot()
}

// Snapshot returns the current state for display.
func (o *SignupOrchestrator) Snapshot() models.SignupSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	snap := models.SignupSnapshot{
		SessionID:    o.sessionID,
		AttemptID:    o.attemptID,
		Stage:        o.stage,
		Reason:       o.reason,
		InFlight:     o.inFlight,
		Email:        o.email,
		Attempts:     o.attempts,
		AttemptsLeft: o.attemptsLeftLocked(),
		AccountID:    o.accountID,
	}
	if !o.expiresAt.IsZero() {
		expiresAt := o.expiresAt
		snap.ExpiresAt = &expiresAt
	}
	if o.resendableLocked() {
		at := o.lastSentAt.Add(o.policy.ResendCooldown)
		snap.ResendAvailableAt = &at
	}
	return snap
}

// SessionToken returns the login token of a completed signup, if the
// finalizer issued one.
func (o *SignupOrchestrator) SessionToken() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stage != models.StageComplete {
		return ""
	}
	return o.token
}

// Stage returns the current stage.
func (o *SignupOrchestrator) Stage() models.Stage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stage
}

// LastActive reports when the session last received a command.
func (o *SignupOrchestrator) LastActive() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastActive
}

// startLocked validates draft and, when valid, saves it and begins the code
// request.
func (o *SignupOrchestrator) startLocked(ctx context.Context, draft models.DraftProfile) (pendingCall, error) {
	o.stage = models.StageValidating
	o.reason = models.ReasonNone

	result := o.validator.Validate(draft)
	if !result.Valid {
		o.rejected = &draft
		o.store.Clear()
		o.failLocked(models.ReasonValidationError, result.Message)
		o.logger.Info().Str("rule", string(result.Rule)).Msg("signup draft rejected")
		return pendingCall{}, &ValidationError{Result: result}
	}
	o.rejected = nil

	attempt := models.SignupAttempt{
		ID:      o.attemptID,
		Profile: draft,
		SavedAt: o.clock.Now(),
	}
	if err := o.store.Save(attempt); err != nil {
		o.failLocked(models.ReasonDeliveryError, "Could not keep your signup details. Please try again.")
		o.logger.Error().Err(err).Msg("failed to save signup draft")
		return pendingCall{}, fmt.Errorf("%w: save draft: %w", ErrDelivery, err)
	}

	return o.beginCallLocked(ctx, models.StageRequestingCode), nil
}

func (o *SignupOrchestrator) runRequestCode(call pendingCall, email string) (models.SignupSnapshot, error) {
	defer o.flush()

	start := o.clock.Now()
	req, err := o.channel.RequestCode(call.ctx, email)
	o.metrics.channelCall("request_code", err, o.clock.Now().Sub(start))

	o.mu.Lock()
	if !o.currentLocked(call) {
		o.mu.Unlock()
		call.cancel()
		o.logger.Debug().Err(err).Msg("discarding stale code request result")
		return o.Snapshot(), ErrNoActiveAttempt
	}
	o.endCallLocked(call)

	if err != nil {
		o.failLocked(models.ReasonDeliveryError, "We couldn't send the verification code. Please try again.")
		o.mu.Unlock()
		o.logger.Warn().Err(err).Str("email", utils.MaskEmail(email)).Msg("verification code delivery failed")
		if !errors.Is(err, ErrDelivery) {
			err = fmt.Errorf("%w: %w", ErrDelivery, err)
		}
		return o.Snapshot(), err
	}

	attempt, ok := o.store.Load()
	if !ok {
		o.failLocked(models.ReasonDeliveryError, "Your signup details were lost. Please try again.")
		o.mu.Unlock()
		return o.Snapshot(), fmt.Errorf("%w: draft missing after code request", ErrDelivery)
	}
	req.Attempts = 0
	attempt.Request = &req
	attempt.SavedAt = o.clock.Now()
	if err := o.store.Save(attempt); err != nil {
		o.failLocked(models.ReasonDeliveryError, "Could not keep your signup details. Please try again.")
		o.mu.Unlock()
		return o.Snapshot(), fmt.Errorf("%w: save draft: %w", ErrDelivery, err)
	}

	o.stage = models.StageAwaitingVerification
	o.reason = models.ReasonNone
	o.attempts = 0
	o.expiresAt = req.ExpiresAt
	o.lastSentAt = o.clock.Now()
	o.sentTo = email

	if o.expiredLocked() {
		o.expireLocked()
		o.mu.Unlock()
		return o.Snapshot(), ErrExpiredCode
	}
	o.armExpiryLocked()

	o.enqueueLocked(models.EventCodeSent, "Verification code sent. Please check your email.", func(e *models.Event) {
		e.ExpiresAt = &req.ExpiresAt
		left := o.attemptsLeftLocked()
		e.AttemptsLeft = &left
	})
	o.logger.Info().Str("email", o.email).Time("expiresAt", req.ExpiresAt).Msg("verification code sent")
	o.mu.Unlock()
	return o.Snapshot(), nil
}

func (o *SignupOrchestrator) runFinalize(call pendingCall, accountID models.AccountID, profile models.DraftProfile) (models.SignupSnapshot, error) {
	defer o.flush()

	start := o.clock.Now()
	token, err := o.finalizer.Finalize(call.ctx, accountID, profile)
	o.metrics.channelCall("finalize", err, o.clock.Now().Sub(start))

	o.mu.Lock()
	if !o.currentLocked(call) {
		o.mu.Unlock()
		call.cancel()
		o.logger.Debug().Err(err).Msg("discarding stale finalize result")
		return o.Snapshot(), ErrNoActiveAttempt
	}
	o.endCallLocked(call)

	if err != nil {
		o.failLocked(models.ReasonFinalizeError, "Your email is verified but the account could not be completed. Please retry.")
		o.mu.Unlock()
		o.logger.Error().Err(err).Str("account", string(accountID)).Msg("account finalization failed")
		return o.Snapshot(), fmt.Errorf("%w: %w", ErrFinalize, err)
	}

	o.completeLocked(token)
	o.mu.Unlock()
	return o.Snapshot(), nil
}

// confirmFailedLocked applies a failed confirmation and returns the error for
// the caller.
func (o *SignupOrchestrator) confirmFailedLocked(err error) error {
	switch {
	case errors.Is(err, ErrCodeMismatch):
		o.attempts++
		o.recordAttemptsLocked()
		left := o.attemptsLeftLocked()
		o.enqueueLocked(models.EventVerificationFailed, "The code you entered is incorrect.", func(e *models.Event) {
			e.Reason = models.VerifyCodeMismatch
			e.AttemptsLeft = &left
		})
		o.logger.Info().Str("email", o.email).Int("attempts", o.attempts).Msg("verification code mismatch")
		if left > 0 {
			return ErrCodeMismatch
		}
		o.lockOutLocked()
		return fmt.Errorf("%w: %w", ErrTooManyAttempts, ErrCodeMismatch)

	case errors.Is(err, ErrTooManyAttempts):
		o.attempts = o.policy.MaxAttempts
		zero := 0
		o.enqueueLocked(models.EventVerificationFailed, "Too many incorrect codes.", func(e *models.Event) {
			e.Reason = models.VerifyTooManyAttempts
			e.AttemptsLeft = &zero
		})
		o.lockOutLocked()
		return ErrTooManyAttempts

	case errors.Is(err, ErrExpiredCode):
		o.enqueueLocked(models.EventVerificationFailed, "This code has expired.", func(e *models.Event) {
			e.Reason = models.VerifyExpiredCode
		})
		o.expireLocked()
		return ErrExpiredCode

	case errors.Is(err, ErrNotFound):
		o.enqueueLocked(models.EventVerificationFailed, "This code is no longer valid. Please request a new one.", func(e *models.Event) {
			e.Reason = models.VerifyNotFound
		})
		o.logger.Info().Str("email", o.email).Msg("no active verification request on backend")
		return ErrNotFound

	default:
		o.enqueueLocked(models.EventVerificationFailed, "We couldn't check your code. Please try again.", func(e *models.Event) {
			e.Reason = models.VerifyTransportError
		})
		o.logger.Warn().Err(err).Str("email", o.email).Msg("verification confirm failed")
		return err
	}
}

// lockOutLocked moves to Failed(TooManyAttempts) and invalidates the request
// held with the draft. Only a resend can leave this state.
func (o *SignupOrchestrator) lockOutLocked() {
	o.stopExpiryLocked()
	o.expiresAt = time.Time{}
	if attempt, ok := o.store.Load(); ok {
		attempt.Request = nil
		if err := o.store.Save(attempt); err != nil {
			o.logger.Error().Err(err).Msg("failed to update signup draft")
		}
	}
	o.failLocked(models.ReasonTooManyAttempts, "Too many incorrect codes. Request a new code to continue.")
	o.logger.Info().Str("email", o.email).Msg("verification locked after too many attempts")
}

func (o *SignupOrchestrator) recordAttemptsLocked() {
	attempt, ok := o.store.Load()
	if !ok || attempt.Request == nil {
		return
	}
	attempt.Request.Attempts = o.attempts
	if err := o.store.Save(attempt); err != nil {
		o.logger.Error().Err(err).Msg("failed to update signup draft")
	}
}

func (o *SignupOrchestrator) completeLocked(token string) {
	o.stage = models.StageComplete
	o.reason = models.ReasonNone
	o.expiresAt = time.Time{}
	o.store.Clear()
	o.token = token
	accountID := o.accountID
	o.enqueueLocked(models.EventAccountCreated, "Account created successfully", func(e *models.Event) {
		e.AccountID = accountID
		e.Token = token
	})
	o.logger.Info().Str("email", o.email).Str("account", string(accountID)).Msg("account created")
}

// expireLocked abandons the attempt because its code expired. A call in
// flight is cancelled and its result will be ignored.
func (o *SignupOrchestrator) expireLocked() {
	o.abortCallLocked()
	o.stopExpiryLocked()
	o.store.Clear()
	o.stage = models.StageAbandoned
	o.reason = models.ReasonNone
	o.expired = true
	o.enqueueLocked(models.EventAbandoned, "Your verification code expired. Please sign up again.", func(e *models.Event) {
		e.Reason = models.VerifyExpiredCode
	})
	o.logger.Info().Str("email", o.email).Msg("verification code expired, signup abandoned")
}

func (o *SignupOrchestrator) failLocked(reason models.FailureReason, message string) {
	o.stage = models.StageFailed
	o.reason = reason
	o.enqueueLocked(models.EventFailed, message, func(e *models.Event) {
		e.Reason = string(reason)
	})
}

func (o *SignupOrchestrator) beginCallLocked(parent context.Context, stage models.Stage) pendingCall {
	o.generation++
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), o.policy.CallTimeout)
	o.stage = stage
	o.reason = models.ReasonNone
	o.inFlight = true
	o.cancelCall = cancel
	return pendingCall{ctx: ctx, cancel: cancel, generation: o.generation, stage: stage}
}

func (o *SignupOrchestrator) currentLocked(call pendingCall) bool {
	return o.inFlight && o.generation == call.generation && o.stage == call.stage
}

func (o *SignupOrchestrator) endCallLocked(call pendingCall) {
	call.cancel()
	o.inFlight = false
	o.cancelCall = nil
}

// abortCallLocked invalidates any outstanding call.
func (o *SignupOrchestrator) abortCallLocked() {
	o.generation++
	if o.cancelCall != nil {
		o.cancelCall()
		o.cancelCall = nil
	}
	o.inFlight = false
}

func (o *SignupOrchestrator) armExpiryLocked() {
	o.stopExpiryLocked()
	o.requestSeq++
	seq := o.requestSeq
	o.expiryTimer = o.clock.AfterFunc(o.expiresAt.Sub(o.clock.Now()), func() {
		o.onExpiryTimer(seq)
	})
}

func (o *SignupOrchestrator) stopExpiryLocked() {
	if o.expiryTimer != nil {
		o.expiryTimer.Stop()
		o.expiryTimer = nil
	}
	o.requestSeq++
}

func (o *SignupOrchestrator) onExpiryTimer(seq uint64) {
	defer o.flush()

	o.mu.Lock()
	defer o.mu.Unlock()
	if seq != o.requestSeq || o.stage != models.StageAwaitingVerification {
		return
	}
	o.expiryTimer = nil
	o.expireLocked()
}

func (o *SignupOrchestrator) expiredLocked() bool {
	return !o.expiresAt.IsZero() && !o.clock.Now().Before(o.expiresAt)
}

func (o *SignupOrchestrator) attemptsLeftLocked() int {
	if left := o.policy.MaxAttempts - o.attempts; left > 0 {
		return left
	}
	return 0
}

// cooldownLocked returns how long a new code for email must wait. Codes to
// other addresses are not held back here.
func (o *SignupOrchestrator) cooldownLocked(email string) time.Duration {
	if o.lastSentAt.IsZero() || email != o.sentTo {
		return 0
	}
	return o.lastSentAt.Add(o.policy.ResendCooldown).Sub(o.clock.Now())
}

func (o *SignupOrchestrator) resendableLocked() bool {
	if o.lastSentAt.IsZero() {
		return false
	}
	return o.stage == models.StageAwaitingVerification ||
		(o.stage == models.StageFailed && o.reason == models.ReasonTooManyAttempts)
}

// resetLocked forgets everything about the previous attempt except when and
// where the last code went, which the resend cooldown still needs.
func (o *SignupOrchestrator) resetLocked() {
	o.abortCallLocked()
	o.stopExpiryLocked()
	o.reason = models.ReasonNone
	o.attemptID = ""
	o.email = ""
	o.rejected = nil
	o.attempts = 0
	o.expiresAt = time.Time{}
	o.expired = false
	o.accountID = ""
	o.token = ""
}

func (o *SignupOrchestrator) touchLocked() {
	o.lastActive = o.clock.Now()
}

func (o *SignupOrchestrator) enqueueLocked(t models.EventType, message string, fill func(*models.Event)) {
	e := models.Event{
		Type:      t,
		SessionID: o.sessionID,
		AttemptID: o.attemptID,
		Stage:     o.stage,
		Message:   message,
		Email:     o.email,
		At:        o.clock.Now(),
	}
	if fill != nil {
		fill(&e)
	}
	o.outbox = append(o.outbox, e)
}

// flush publishes queued events in order. It must be called without mu held.
func (o *SignupOrchestrator) flush() {
	o.flushMu.Lock()
	defer o.flushMu.Unlock()

	o.mu.Lock()
	events := o.outbox
	o.outbox = nil
	o.mu.Unlock()

	for _, e := range events {
		o.metrics.event(e.Type)
		o.events.Publish(e)
	}
}

func submittable(stage models.Stage) bool {
	switch stage {
	case models.StageIdle, models.StageFailed, models.StageComplete, models.StageAbandoned:
		return true
	}
	return false
}
