package repositories

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/HSouheill/coursemarket_backend/models"
	"github.com/HSouheill/coursemarket_backend/services"
)

const codeKeyPrefix = "signup:code:"

// bcrypt hashes never contain a newline.
const hashSeparator = "\n"

// DefaultCodeRetention keeps an expired record around long enough to tell an
// expired code apart from one that was never issued.
const DefaultCodeRetention = 24 * time.Hour

// incrementAttempts bumps the counter only when the record still exists, so a
// late confirm cannot leave behind a key without a TTL.
var incrementAttempts = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
return redis.call("HINCRBY", KEYS[1], "attempts", 1)
`)

// VerificationRepository stores one code record per email as a Redis hash.
type VerificationRepository struct {
	client    *redis.Client
	retention time.Duration
}

func NewVerificationRepository(client *redis.Client, retention time.Duration) *VerificationRepository {
	if retention <= 0 {
		retention = DefaultCodeRetention
	}
	return &VerificationRepository{client: client, retention: retention}
}

func codeKey(email string) string {
	return codeKeyPrefix + email
}

// Get returns the record for email, or nil when none exists.
func (r *VerificationRepository) Get(ctx context.Context, email string) (*models.CodeRecord, error) {
	fields, err := r.client.HGetAll(ctx, codeKey(email)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	record := &models.CodeRecord{
		Email:    email,
		CodeHash: fields["codeHash"],
	}
	if v := fields["supersededHashes"]; v != "" {
		record.SupersededHashes = strings.Split(v, hashSeparator)
	}
	if record.IssuedAt, err = parseTime(fields["issuedAt"]); err != nil {
		return nil, fmt.Errorf("decode issuedAt: %w", err)
	}
	if record.ExpiresAt, err = parseTime(fields["expiresAt"]); err != nil {
		return nil, fmt.Errorf("decode expiresAt: %w", err)
	}
	if v := fields["attempts"]; v != "" {
		if record.Attempts, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("decode attempts: %w", err)
		}
	}
	return record, nil
}

// Replace overwrites whatever record email had with record.
func (r *VerificationRepository) Replace(ctx context.Context, record models.CodeRecord) error {
	key := codeKey(record.Email)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, map[string]interface{}{
			"codeHash":         record.CodeHash,
			"supersededHashes": strings.Join(record.SupersededHashes, hashSeparator),
			"issuedAt":         record.IssuedAt.UTC().Format(time.RFC3339Nano),
			"expiresAt":        record.ExpiresAt.UTC().Format(time.RFC3339Nano),
			"attempts":         record.Attempts,
		})
		pipe.ExpireAt(ctx, key, record.ExpiresAt.Add(r.retention))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis replace code: %w", err)
	}
	return nil
}

// IncrementAttempts counts one wrong guess and returns the new total.
func (r *VerificationRepository) IncrementAttempts(ctx context.Context, email string) (int, error) {
	n, err := incrementAttempts.Run(ctx, r.client, []string{codeKey(email)}).Int()
	if err != nil {
		return 0, fmt.Errorf("redis increment attempts: %w", err)
	}
	if n < 0 {
		return 0, services.ErrNotFound
	}
	return n, nil
}

func (r *VerificationRepository) Delete(ctx context.Context, email string) error {
	if err := r.client.Del(ctx, codeKey(email)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, v)
}
