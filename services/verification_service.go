package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/HSouheill/coursemarket_backend/config"
	"github.com/HSouheill/coursemarket_backend/models"
	"github.com/HSouheill/coursemarket_backend/utils"
)

// CodeStore keeps the single active code record per email. Get returns nil
// when no record exists.
type CodeStore interface {
	Get(ctx context.Context, email string) (*models.CodeRecord, error)
	Replace(ctx context.Context, record models.CodeRecord) error
	IncrementAttempts(ctx context.Context, email string) (int, error)
	Delete(ctx context.Context, email string) error
}

// AccountStore persists signup accounts. Find methods return nil when nothing
// matches. UpsertPending fails with ErrEmailTaken when the email belongs to an
// active account. Activate reports false when the account is not pending.
type AccountStore interface {
	FindByEmail(ctx context.Context, email string) (*models.Account, error)
	FindByID(ctx context.Context, id models.AccountID) (*models.Account, error)
	UpsertPending(ctx context.Context, email string, verifiedAt time.Time) (models.AccountID, error)
	Activate(ctx context.Context, id models.AccountID, profile models.AccountProfile) (bool, error)
}

// TokenIssuer signs the short-lived finalize grant and the login token.
type TokenIssuer interface {
	IssueGrant(accountID models.AccountID, email string) (string, error)
	ParseGrant(token string) (models.AccountID, string, error)
	IssueSession(accountID models.AccountID, email string, role models.Role) (string, error)
}

// MaxSupersededCodes bounds how many replaced codes are remembered per email.
// A remembered code is answered with NotFound instead of counting as a wrong
// guess.
const MaxSupersededCodes = 5

// VerificationService is the backend side of the verification channel: it
// issues codes, confirms them and activates the accounts they verify.
type VerificationService struct {
	codes    CodeStore
	accounts AccountStore
	sender   CodeSender
	tokens   TokenIssuer
	clock    clock.Clock
	policy   config.Policy
	hashCost int
	logger   zerolog.Logger
	metrics  *Metrics
}

// VerificationServiceDeps wires a VerificationService.
type VerificationServiceDeps struct {
	Codes    CodeStore
	Accounts AccountStore
	Sender   CodeSender
	Tokens   TokenIssuer
	Clock    clock.Clock
	Policy   config.Policy
	// HashCost is the bcrypt cost for stored codes. Zero means the bcrypt default.
	HashCost int
	Logger   zerolog.Logger
	Metrics  *Metrics
}

func NewVerificationService(deps VerificationServiceDeps) *VerificationService {
	s := &VerificationService{
		codes:    deps.Codes,
		accounts: deps.Accounts,
		sender:   deps.Sender,
		tokens:   deps.Tokens,
		clock:    deps.Clock,
		policy:   deps.Policy,
		hashCost: deps.HashCost,
		logger:   deps.Logger.With().Str("component", "verification").Logger(),
		metrics:  deps.Metrics,
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.policy == (config.Policy{}) {
		s.policy = config.DefaultPolicy()
	}
	return s
}

// RequestCode issues a new code for email and mails it. Any code issued
// before for the same address stops working. A request within ResendCooldown
// of the previous issuance fails with a CooldownError.
func (s *VerificationService) RequestCode(ctx context.Context, email string) (models.VerificationRequest, error) {
	req, err := s.requestCode(ctx, utils.NormalizeEmail(email))
	s.metrics.codeIssued(err)
	return req, err
}

func (s *VerificationService) requestCode(ctx context.Context, email string) (models.VerificationRequest, error) {
	if !signupEmailPattern.MatchString(email) {
		return models.VerificationRequest{}, fmt.Errorf("%w: invalid email", ErrValidation)
	}

	existing, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		return models.VerificationRequest{}, fmt.Errorf("lookup account: %w", err)
	}
	if existing != nil && existing.Status == models.AccountStatusActive {
		s.logger.Info().Str("email", utils.MaskEmail(email)).Msg("code requested for registered email")
		return models.VerificationRequest{}, ErrEmailTaken
	}

	previous, err := s.codes.Get(ctx, email)
	if err != nil {
		return models.VerificationRequest{}, fmt.Errorf("load code: %w", err)
	}

	now := s.clock.Now()
	if previous != nil {
		if wait := previous.IssuedAt.Add(s.policy.ResendCooldown).Sub(now); wait > 0 {
			s.logger.Info().Str("email", utils.MaskEmail(email)).Dur("retryAfter", wait).Msg("code requested during cooldown")
			return models.VerificationRequest{}, &CooldownError{RetryAfter: wait}
		}
	}

	code, err := utils.GenerateNumericCode(s.policy.CodeLength)
	if err != nil {
		return models.VerificationRequest{}, fmt.Errorf("generate code: %w", err)
	}
	hash, err := utils.HashCode(code, s.hashCost)
	if err != nil {
		return models.VerificationRequest{}, fmt.Errorf("hash code: %w", err)
	}

	record := models.CodeRecord{
		Email:     email,
		CodeHash:  hash,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.policy.CodeTTL),
	}
	if previous != nil {
		record.SupersededHashes = supersede(previous)
	}
	if err := s.codes.Replace(ctx, record); err != nil {
		return models.VerificationRequest{}, fmt.Errorf("store code: %w", err)
	}

	if err := s.sender.SendCode(ctx, email, code, record.ExpiresAt); err != nil {
		if derr := s.codes.Delete(ctx, email); derr != nil {
			s.logger.Error().Err(derr).Str("email", utils.MaskEmail(email)).Msg("failed to drop undelivered code")
		}
		s.logger.Warn().Err(err).Str("email", utils.MaskEmail(email)).Msg("verification email failed")
		return models.VerificationRequest{}, fmt.Errorf("%w: %w", ErrDelivery, err)
	}

	s.logger.Info().Str("email", utils.MaskEmail(email)).Bool("superseded", previous != nil).Msg("verification code issued")
	return models.VerificationRequest{
		Email:     email,
		IssuedAt:  record.IssuedAt,
		ExpiresAt: record.ExpiresAt,
	}, nil
}

// ConfirmCode checks code for email. A match consumes the code, records the
// email as verified on a pending account and returns a grant for Finalize.
func (s *VerificationService) ConfirmCode(ctx context.Context, email, code string) (models.ConfirmResult, error) {
	result, err := s.confirmCode(ctx, utils.NormalizeEmail(email), code)
	s.metrics.confirmation(err)
	return result, err
}

func (s *VerificationService) confirmCode(ctx context.Context, email, code string) (models.ConfirmResult, error) {
	record, err := s.codes.Get(ctx, email)
	if err != nil {
		return models.ConfirmResult{}, fmt.Errorf("load code: %w", err)
	}
	if record == nil {
		return models.ConfirmResult{}, ErrNotFound
	}

	now := s.clock.Now()
	if !now.Before(record.ExpiresAt) {
		return models.ConfirmResult{}, ErrExpiredCode
	}
	if record.Attempts >= s.policy.MaxAttempts {
		return models.ConfirmResult{}, ErrTooManyAttempts
	}

	if err := utils.CompareCode(record.CodeHash, code); err != nil {
		if !errors.Is(err, utils.ErrCodeHashMismatch) {
			return models.ConfirmResult{}, fmt.Errorf("compare code: %w", err)
		}
		for _, superseded := range record.SupersededHashes {
			if utils.CompareCode(superseded, code) == nil {
				s.logger.Info().Str("email", utils.MaskEmail(email)).Msg("superseded code presented")
				return models.ConfirmResult{}, ErrNotFound
			}
		}

		attempts, err := s.codes.IncrementAttempts(ctx, email)
		if err != nil {
			return models.ConfirmResult{}, fmt.Errorf("count attempt: %w", err)
		}
		if attempts >= s.policy.MaxAttempts {
			s.logger.Info().Str("email", utils.MaskEmail(email)).Msg("verification attempts exhausted")
		}
		return models.ConfirmResult{}, ErrCodeMismatch
	}

	if err := s.codes.Delete(ctx, email); err != nil {
		return models.ConfirmResult{}, fmt.Errorf("consume code: %w", err)
	}

	accountID, err := s.accounts.UpsertPending(ctx, email, now)
	if err != nil {
		return models.ConfirmResult{}, fmt.Errorf("record pending account: %w", err)
	}

	grant, err := s.tokens.IssueGrant(accountID, email)
	if err != nil {
		return models.ConfirmResult{}, fmt.Errorf("issue grant: %w", err)
	}

	s.logger.Info().Str("email", utils.MaskEmail(email)).Str("account", string(accountID)).Msg("email verified")
	return models.ConfirmResult{AccountID: accountID, Grant: grant}, nil
}

// Finalize activates the pending account named by the grant with the signup
// profile and returns a login token. Repeating a successful call with the same
// grant and password returns a fresh token.
func (s *VerificationService) Finalize(ctx context.Context, req models.FinalizeRequest) (models.FinalizeResult, error) {
	accountID, email, err := s.tokens.ParseGrant(req.Grant)
	if err != nil {
		return models.FinalizeResult{}, fmt.Errorf("%w: invalid grant: %w", ErrFinalize, err)
	}
	if utils.NormalizeEmail(req.Email) != email {
		return models.FinalizeResult{}, fmt.Errorf("%w: grant was issued for another email", ErrFinalize)
	}

	role := req.Role
	if role == "" {
		role = models.RoleStudent
	}
	if !role.Valid() {
		return models.FinalizeResult{}, fmt.Errorf("%w: unknown account type %q", ErrValidation, role)
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		return models.FinalizeResult{}, fmt.Errorf("hash password: %w", err)
	}

	activated, err := s.accounts.Activate(ctx, accountID, models.AccountProfile{
		FirstName:    utils.SanitizeName(req.FirstName),
		LastName:     utils.SanitizeName(req.LastName),
		Role:         role,
		PasswordHash: hash,
	})
	if err != nil {
		return models.FinalizeResult{}, fmt.Errorf("activate account: %w", err)
	}

	if !activated {
		// A retried call whose first attempt already went through.
		account, err := s.accounts.FindByID(ctx, accountID)
		if err != nil {
			return models.FinalizeResult{}, fmt.Errorf("load account: %w", err)
		}
		if account == nil || account.Status != models.AccountStatusActive ||
			!utils.CheckPassword(account.PasswordHash, req.Password) {
			return models.FinalizeResult{}, fmt.Errorf("%w: account is not pending", ErrFinalize)
		}
		role = account.Role
	}

	token, err := s.tokens.IssueSession(accountID, email, role)
	if err != nil {
		return models.FinalizeResult{}, fmt.Errorf("issue token: %w", err)
	}

	s.logger.Info().Str("email", utils.MaskEmail(email)).Str("account", string(accountID)).Str("role", string(role)).Msg("account activated")
	return models.FinalizeResult{AccountID: accountID, Token: token}, nil
}

// supersede returns the superseded hashes of the record replacing previous,
// newest first.
func supersede(previous *models.CodeRecord) []string {
	hashes := append([]string{previous.CodeHash}, previous.SupersededHashes...)
	if len(hashes) > MaxSupersededCodes {
		hashes = hashes[:MaxSupersededCodes]
	}
	return hashes
}
