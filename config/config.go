package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// SMTPConfig holds the mail relay used to deliver verification codes.
type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

// Configured reports whether enough is set to send mail.
func (s SMTPConfig) Configured() bool {
	return s.User != "" && s.Pass != "" && s.From != ""
}

// Config is the process configuration, read from the environment.
type Config struct {
	Env       string
	Port      string
	LogLevel  string
	LogFormat string

	MongoURI string
	DBName   string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SMTP SMTPConfig

	JWTSecret string
	// DraftKey seals drafts held in memory. Empty means a random key per process.
	DraftKey []byte

	// VerificationAPIURL points the signup front at a remote verification
	// backend. Empty means the in-process backend is used.
	VerificationAPIURL string
	// BackendEnabled mounts the verification backend endpoints on this server.
	BackendEnabled bool

	CORSOrigins []string

	Policy Policy
}

// Development reports whether the process runs in a dev environment.
func (c Config) Development() bool {
	return c.Env == "development" || c.Env == "dev"
}

// Load reads the configuration from the environment. The caller is expected
// to have loaded any .env file beforehand.
func Load() (Config, error) {
	cfg := Config{
		Env:                getEnv("ENV", "development"),
		Port:               getEnv("PORT", "8080"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "console"),
		DBName:             getEnv("DB_NAME", "coursemarket"),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		VerificationAPIURL: strings.TrimRight(os.Getenv("VERIFICATION_API_URL"), "/"),
		Policy:             DefaultPolicy(),
	}

	// Check both MONGO_URI and MONGODB_URI
	cfg.MongoURI = os.Getenv("MONGO_URI")
	if cfg.MongoURI == "" {
		cfg.MongoURI = os.Getenv("MONGODB_URI")
	}

	var err error
	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return cfg, err
	}
	if cfg.BackendEnabled, err = getBool("VERIFICATION_BACKEND_ENABLED", cfg.VerificationAPIURL == ""); err != nil {
		return cfg, err
	}

	cfg.SMTP = SMTPConfig{
		Host: getEnv("SMTP_HOST", "mail.smtp2go.com"),
		User: os.Getenv("SMTP_USER"),
		Pass: os.Getenv("SMTP_PASS"),
		From: os.Getenv("FROM_EMAIL"),
	}
	if cfg.SMTP.From == "" {
		cfg.SMTP.From = cfg.SMTP.User
	}
	if cfg.SMTP.Port, err = getInt("SMTP_PORT", 2525); err != nil {
		return cfg, err
	}

	if key := os.Getenv("DRAFT_ENCRYPTION_KEY"); key != "" {
		decoded, err := base64.StdEncoding.DecodeString(key)
		if err != nil {
			return cfg, fmt.Errorf("DRAFT_ENCRYPTION_KEY must be base64: %w", err)
		}
		if len(decoded) != 32 {
			return cfg, fmt.Errorf("DRAFT_ENCRYPTION_KEY must decode to 32 bytes, got %d", len(decoded))
		}
		cfg.DraftKey = decoded
	}

	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		for _, origin := range strings.Split(origins, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, trimmed)
			}
		}
	}

	if path := os.Getenv("SIGNUP_POLICY_FILE"); path != "" {
		if cfg.Policy, err = LoadPolicyFile(path, cfg.Policy); err != nil {
			return cfg, err
		}
	}

	if cfg.BackendEnabled {
		if cfg.MongoURI == "" {
			if !cfg.Development() {
				return cfg, fmt.Errorf("MONGO_URI or MONGODB_URI environment variable is required for production")
			}
			cfg.MongoURI = "mongodb://localhost:27017"
		}
		if cfg.JWTSecret == "" {
			return cfg, fmt.Errorf("JWT_SECRET environment variable is required")
		}
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback, fmt.Errorf("%s must be a boolean: %w", key, err)
	}
	return b, nil
}
