// models/auth.go

package models

import "strings"

// Role is the kind of account requested at signup.
type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
)

// Valid reports whether r is one of the known account kinds.
func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleInstructor
}

// DraftProfile is the candidate account data collected by the signup form.
// Unknown JSON fields are rejected by the controller that decodes it.
type DraftProfile struct {
	FirstName       string `json:"firstName" validate:"required"`
	LastName        string `json:"lastName" validate:"required"`
	Email           string `json:"email" validate:"required"`
	Password        string `json:"password" validate:"required"`
	ConfirmPassword string `json:"confirmPassword" validate:"required"`
	Role            Role   `json:"accountType"`
}

// Normalized returns a copy with names and email trimmed, the email lowercased
// and an empty role defaulted to student. Passwords are left untouched.
func (d DraftProfile) Normalized() DraftProfile {
	d.FirstName = strings.TrimSpace(d.FirstName)
	d.LastName = strings.TrimSpace(d.LastName)
	d.Email = strings.ToLower(strings.TrimSpace(d.Email))
	d.Role = Role(strings.ToLower(strings.TrimSpace(string(d.Role))))
	if d.Role == "" {
		d.Role = RoleStudent
	}
	return d
}

// FinalizeRequest is the body of the backend finalize call.
type FinalizeRequest struct {
	Grant     string `json:"grant" validate:"required"`
	FirstName string `json:"firstName" validate:"required"`
	LastName  string `json:"lastName" validate:"required"`
	Email     string `json:"email" validate:"required"`
	Password  string `json:"password" validate:"required,min=8"`
	Role      Role   `json:"accountType" validate:"required,oneof=student instructor"`
}

// FinalizeResult is returned once a pending account becomes active.
type FinalizeResult struct {
	AccountID AccountID `json:"accountId"`
	Token     string    `json:"token"`
}
