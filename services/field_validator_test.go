package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/HSouheill/coursemarket_backend/models"
)

func TestFieldValidator(t *testing.T) {
	v := NewFieldValidator()

	tests := []struct {
		name   string
		mutate func(*models.DraftProfile)
		rule   ValidationRule
		field  string
	}{
		{"valid", func(*models.DraftProfile) {}, "", ""},
		{"instructor", func(d *models.DraftProfile) { d.Role = models.RoleInstructor }, "", ""},
		{"missing first name", func(d *models.DraftProfile) { d.FirstName = "" }, RuleRequired, "firstName"},
		{"missing confirmation", func(d *models.DraftProfile) { d.ConfirmPassword = "" }, RuleRequired, "confirmPassword"},
		{"seven characters", func(d *models.DraftProfile) { d.Password, d.ConfirmPassword = "passwor", "passwor" }, RulePasswordLength, "password"},
		{"eight runes, more bytes", func(d *models.DraftProfile) { d.Password, d.ConfirmPassword = "pässwörd", "pässwörd" }, "", ""},
		{"four emoji", func(d *models.DraftProfile) { d.Password, d.ConfirmPassword = "😀😀😀😀", "😀😀😀😀" }, RulePasswordLength, "password"},
		{"mismatch", func(d *models.DraftProfile) { d.ConfirmPassword = "password2" }, RulePasswordMatch, "confirmPassword"},
		{"case differs", func(d *models.DraftProfile) { d.ConfirmPassword = "Password1" }, RulePasswordMatch, "confirmPassword"},
		{"no at", func(d *models.DraftProfile) { d.Email = "ann.x.com" }, RuleEmail, "email"},
		{"no dot", func(d *models.DraftProfile) { d.Email = "ann@x" }, RuleEmail, "email"},
		{"space", func(d *models.DraftProfile) { d.Email = "ann lee@x.com" }, RuleEmail, "email"},
		{"two ats", func(d *models.DraftProfile) { d.Email = "ann@@x.com" }, RuleEmail, "email"},
		{"unknown role", func(d *models.DraftProfile) { d.Role = "admin" }, RuleRole, "accountType"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			draft := validDraft()
			tt.mutate(&draft)

			result := v.Validate(draft)
			if tt.rule == "" {
				assert.True(t, result.Valid, result.Message)
				return
			}
			assert.False(t, result.Valid)
			assert.Equal(t, tt.rule, result.Rule)
			assert.Equal(t, tt.field, result.Field)
			assert.NotEmpty(t, result.Message)
		})
	}
}

func TestFieldValidatorSeesNormalizedDraft(t *testing.T) {
	v := NewFieldValidator()

	draft := validDraft()
	draft.Email = "  Ann@X.com "
	assert.True(t, v.Validate(draft.Normalized()).Valid, "surrounding spaces are trimmed before the email rule")

	draft = validDraft()
	draft.FirstName = "   "
	result := v.Validate(draft.Normalized())
	assert.Equal(t, RuleRequired, result.Rule)
	assert.Equal(t, "firstName", result.Field)
}

func TestFieldValidatorReportsFirstRuleOnly(t *testing.T) {
	draft := models.DraftProfile{Email: "bad", Password: "x", ConfirmPassword: "y"}

	result := NewFieldValidator().Validate(draft)
	assert.Equal(t, RuleRequired, result.Rule)
	assert.Equal(t, "firstName", result.Field)

	draft.FirstName, draft.LastName = "Ann", "Lee"
	result = NewFieldValidator().Validate(draft)
	assert.Equal(t, RulePasswordLength, result.Rule)
}
