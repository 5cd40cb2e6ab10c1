package models

import (
	"time"
)

// VerificationRequest is the client-visible metadata of an issued one-time
// code. The code itself never leaves the verification backend.
type VerificationRequest struct {
	Email     string    `json:"email"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Attempts  int       `json:"attempts"`
}

// Expired reports whether the request is no longer usable at now.
func (r VerificationRequest) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// CodeRecord is the backend's active code for an email address.
// Only one record exists per address; issuing a new one replaces it.
type CodeRecord struct {
	Email    string `json:"email"`
	CodeHash string `json:"codeHash"`

	// SupersededHashes are the hashes of the codes this one replaced, newest first.
	SupersededHashes []string `json:"supersededHashes,omitempty"`

	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Attempts  int       `json:"attempts"`
}

// ConfirmResult is the backend's answer to a correct code.
type ConfirmResult struct {
	AccountID AccountID `json:"accountId"`
	Grant     string    `json:"grant"`
}
