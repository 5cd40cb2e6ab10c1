package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HSouheill/coursemarket_backend/models"
	"github.com/HSouheill/coursemarket_backend/services"
)

func newTestRepo(t *testing.T) (*VerificationRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewVerificationRepository(client, time.Hour), mr
}

func TestVerificationRepository_ReplaceAndGet(t *testing.T) {
	repo, mr := newTestRepo(t)
	ctx := context.Background()

	got, err := repo.Get(ctx, "ann@x.com")
	require.NoError(t, err)
	assert.Nil(t, got)

	issued := time.Now().UTC().Truncate(time.Millisecond)
	record := models.CodeRecord{
		Email:     "ann@x.com",
		CodeHash:  "$2a$04$hash",
		IssuedAt:  issued,
		ExpiresAt: issued.Add(10 * time.Minute),
	}
	require.NoError(t, repo.Replace(ctx, record))

	got, err = repo.Get(ctx, "ann@x.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, record.CodeHash, got.CodeHash)
	assert.True(t, got.IssuedAt.Equal(issued))
	assert.True(t, got.ExpiresAt.Equal(record.ExpiresAt))
	assert.Zero(t, got.Attempts)

	ttl := mr.TTL(codeKey("ann@x.com"))
	assert.InDelta(t, (70 * time.Minute).Seconds(), ttl.Seconds(), 5, "kept for the retention window past expiry")
}

func TestVerificationRepository_ReplaceResetsAttempts(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.Replace(ctx, models.CodeRecord{Email: "ann@x.com", CodeHash: "a", IssuedAt: now, ExpiresAt: now.Add(time.Minute)}))
	n, err := repo.IncrementAttempts(ctx, "ann@x.com")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = repo.IncrementAttempts(ctx, "ann@x.com")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, repo.Replace(ctx, models.CodeRecord{Email: "ann@x.com", CodeHash: "c", SupersededHashes: []string{"b", "a"}, IssuedAt: now, ExpiresAt: now.Add(time.Minute)}))
	got, err := repo.Get(ctx, "ann@x.com")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Attempts)
	assert.Equal(t, "c", got.CodeHash)
	assert.Equal(t, []string{"b", "a"}, got.SupersededHashes)
}

func TestVerificationRepository_IncrementMissing(t *testing.T) {
	repo, mr := newTestRepo(t)

	_, err := repo.IncrementAttempts(context.Background(), "nobody@x.com")
	assert.ErrorIs(t, err, services.ErrNotFound)
	assert.False(t, mr.Exists(codeKey("nobody@x.com")))
}

func TestVerificationRepository_DeleteAndExpire(t *testing.T) {
	repo, mr := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.Replace(ctx, models.CodeRecord{Email: "ann@x.com", CodeHash: "a", IssuedAt: now, ExpiresAt: now.Add(time.Minute)}))
	require.NoError(t, repo.Delete(ctx, "ann@x.com"))
	got, err := repo.Get(ctx, "ann@x.com")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, repo.Replace(ctx, models.CodeRecord{Email: "bob@x.com", CodeHash: "a", IssuedAt: now, ExpiresAt: now.Add(time.Minute)}))
	mr.FastForward(2 * time.Hour)
	got, err = repo.Get(ctx, "bob@x.com")
	require.NoError(t, err)
	assert.Nil(t, got)
}

var (
	_ services.CodeStore    = (*VerificationRepository)(nil)
	_ services.AccountStore = (*AccountRepository)(nil)
)
