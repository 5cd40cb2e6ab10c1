package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Policy holds the tunable values of the signup workflow. They are policy,
// not protocol: the backend contract does not fix them.
type Policy struct {
	// MaxAttempts is the number of wrong codes tolerated per verification request.
	MaxAttempts int `yaml:"maxAttempts"`
	// ResendCooldown is the minimum interval between two code issuances.
	ResendCooldown time.Duration `yaml:"resendCooldown"`
	// CodeTTL is how long an issued code stays valid on the backend.
	CodeTTL time.Duration `yaml:"codeTTL"`
	// CodeLength is the number of digits in an issued code.
	CodeLength int `yaml:"codeLength"`
	// SessionIdleTimeout is how long an untouched signup session is kept.
	SessionIdleTimeout time.Duration `yaml:"sessionIdleTimeout"`
	// CallTimeout bounds each call the orchestrator makes to the verification channel.
	CallTimeout time.Duration `yaml:"callTimeout"`
}

// DefaultPolicy returns the recommended values.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:        5,
		ResendCooldown:     30 * time.Second,
		CodeTTL:            10 * time.Minute,
		CodeLength:         6,
		SessionIdleTimeout: 15 * time.Minute,
		CallTimeout:        20 * time.Second,
	}
}

// Validate rejects values that would break the workflow.
func (p Policy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return fmt.Errorf("maxAttempts must be at least 1, got %d", p.MaxAttempts)
	case p.ResendCooldown < 0:
		return fmt.Errorf("resendCooldown must not be negative")
	case p.CodeTTL <= 0:
		return fmt.Errorf("codeTTL must be positive")
	case p.CodeLength < 4 || p.CodeLength > 10:
		return fmt.Errorf("codeLength must be between 4 and 10, got %d", p.CodeLength)
	case p.SessionIdleTimeout < p.CodeTTL:
		return fmt.Errorf("sessionIdleTimeout (%s) must not be shorter than codeTTL (%s)", p.SessionIdleTimeout, p.CodeTTL)
	case p.CallTimeout <= 0:
		return fmt.Errorf("callTimeout must be positive")
	}
	return nil
}

// LoadPolicyFile overlays the YAML file at path onto base. Keys missing from
// the file keep their value from base.
func LoadPolicyFile(path string, base Policy) (Policy, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return base, fmt.Errorf("failed to read policy file: %w", err)
	}

	policy := base
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return base, fmt.Errorf("failed to parse policy file: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return base, fmt.Errorf("invalid policy file: %w", err)
	}
	return policy, nil
}
