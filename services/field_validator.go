package services

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/HSouheill/coursemarket_backend/models"
)

// ValidationRule names a signup form rule.
type ValidationRule string

const (
	RuleRequired       ValidationRule = "Required"
	RulePasswordLength ValidationRule = "PasswordLength"
	RulePasswordMatch  ValidationRule = "PasswordMatch"
	RuleEmail          ValidationRule = "Email"
	RuleRole           ValidationRule = "Role"
)

// MinPasswordLength is counted in Unicode code points, not bytes or UTF-16
// units. A browser counting String.length lets four emoji through; this check
// does not, on purpose.
const MinPasswordLength = 8

var signupEmailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidationResult is either valid or names the first violated rule.
type ValidationResult struct {
	Valid   bool           `json:"valid"`
	Rule    ValidationRule `json:"rule,omitempty"`
	Field   string         `json:"field,omitempty"`
	Message string         `json:"message,omitempty"`
}

// FieldValidator checks a draft profile against the signup rules. It holds no
// state beyond the compiled rules and is safe for concurrent use.
type FieldValidator struct {
	validate *validator.Validate
}

func NewFieldValidator() *FieldValidator {
	v := validator.New()
	_ = v.RegisterValidation("signupemail", ValidateSignupEmail)
	return &FieldValidator{validate: v}
}

// ValidateSignupEmail is the "signupemail" tag: something@something.something
// with no whitespace and a single @.
func ValidateSignupEmail(fl validator.FieldLevel) bool {
	return signupEmailPattern.MatchString(fl.Field().String())
}

// Validate evaluates the rules in order and reports only the first failure.
func (f *FieldValidator) Validate(draft models.DraftProfile) ValidationResult {
	required := []struct {
		field, label, value string
	}{
		{"firstName", "First name", draft.FirstName},
		{"lastName", "Last name", draft.LastName},
		{"email", "Email", draft.Email},
		{"password", "Password", draft.Password},
		{"confirmPassword", "Password confirmation", draft.ConfirmPassword},
	}
	for _, r := range required {
		if f.validate.Var(r.value, "required") != nil {
			return invalid(RuleRequired, r.field, r.label+" is required")
		}
	}

	if f.validate.Var(draft.Password, fmt.Sprintf("min=%d", MinPasswordLength)) != nil {
		return invalid(RulePasswordLength, "password", "Password must be at least 8 characters")
	}

	if f.validate.VarWithValue(draft.Password, draft.ConfirmPassword, "eqfield") != nil {
		return invalid(RulePasswordMatch, "confirmPassword", "Passwords do not match")
	}

	if f.validate.Var(draft.Email, "signupemail") != nil {
		return invalid(RuleEmail, "email", "Please enter a valid email address")
	}

	// An empty role means the default tab was left selected.
	if draft.Role != "" && !draft.Role.Valid() {
		return invalid(RuleRole, "accountType", "Account type must be student or instructor")
	}

	return ValidationResult{Valid: true}
}

func invalid(rule ValidationRule, field, message string) ValidationResult {
	return ValidationResult{Rule: rule, Field: field, Message: message}
}
