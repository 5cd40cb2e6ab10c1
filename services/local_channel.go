package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/HSouheill/coursemarket_backend/models"
)

// LocalChannel binds the orchestrator to a VerificationService in the same
// process.
type LocalChannel struct {
	svc    *VerificationService
	grants grantBook
}

func NewLocalChannel(svc *VerificationService) *LocalChannel {
	return &LocalChannel{svc: svc}
}

func (c *LocalChannel) RequestCode(ctx context.Context, email string) (models.VerificationRequest, error) {
	req, err := c.svc.RequestCode(ctx, email)
	if err != nil && !errors.Is(err, ErrDelivery) {
		return req, fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	return req, err
}

func (c *LocalChannel) ConfirmCode(ctx context.Context, email, code string) (models.AccountID, error) {
	result, err := c.svc.ConfirmCode(ctx, email, code)
	if err != nil {
		return "", err
	}
	c.grants.put(result.AccountID, result.Grant)
	return result.AccountID, nil
}

func (c *LocalChannel) Finalize(ctx context.Context, accountID models.AccountID, profile models.DraftProfile) (string, error) {
	grant, ok := c.grants.peek(accountID)
	if !ok {
		return "", fmt.Errorf("%w: no grant for account %s", ErrFinalize, accountID)
	}

	result, err := c.svc.Finalize(ctx, finalizeRequest(grant, profile))
	if err != nil {
		return "", err
	}
	c.grants.take(accountID)
	return result.Token, nil
}
