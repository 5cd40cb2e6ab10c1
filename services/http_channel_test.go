package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HSouheill/coursemarket_backend/models"
)

func writeEnvelope(w http.ResponseWriter, status int, code string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(models.Response{Status: status, Message: "test", Code: code, Data: data})
}

func newTestHTTPChannel(url string) *HTTPChannel {
	return NewHTTPChannel(url, zerolog.Nop(), WithRetry(3, time.Millisecond))
}

func TestHTTPChannel_RequestCodeRetriesServerErrors(t *testing.T) {
	var calls int32
	issued := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, requestCodePath, r.URL.Path)
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ann@x.com", body["email"])

		if atomic.AddInt32(&calls, 1) < 3 {
			writeEnvelope(w, http.StatusServiceUnavailable, "", nil)
			return
		}
		writeEnvelope(w, http.StatusOK, "", models.VerificationRequest{
			Email:     "ann@x.com",
			IssuedAt:  issued,
			ExpiresAt: issued.Add(10 * time.Minute),
		})
	}))
	defer srv.Close()

	req, err := newTestHTTPChannel(srv.URL).RequestCode(context.Background(), "ann@x.com")
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.True(t, req.IssuedAt.Equal(issued))
	assert.True(t, req.ExpiresAt.Equal(issued.Add(10*time.Minute)))
}

func TestHTTPChannel_RequestCodeGivesUp(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeEnvelope(w, http.StatusBadGateway, CodeDeliveryError, nil)
	}))
	defer srv.Close()

	_, err := newTestHTTPChannel(srv.URL).RequestCode(context.Background(), "ann@x.com")
	assert.ErrorIs(t, err, ErrDelivery)
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls), "one call plus three retries")
}

func TestHTTPChannel_RequestCodeClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeEnvelope(w, http.StatusConflict, CodeEmailTaken, nil)
	}))
	defer srv.Close()

	_, err := newTestHTTPChannel(srv.URL).RequestCode(context.Background(), "ann@x.com")
	assert.ErrorIs(t, err, ErrDelivery)
	assert.ErrorIs(t, err, ErrEmailTaken)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestHTTPChannel_RequestCodeCooldown(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Retry-After", "20")
		writeEnvelope(w, http.StatusTooManyRequests, CodeResendCooldown, nil)
	}))
	defer srv.Close()

	_, err := newTestHTTPChannel(srv.URL).RequestCode(context.Background(), "ann@x.com")
	assert.ErrorIs(t, err, ErrDelivery)
	assert.ErrorIs(t, err, ErrResendCooldown)
	assert.Equal(t, CodeResendCooldown, ErrorCode(err))

	var cooldown *CooldownError
	require.ErrorAs(t, err, &cooldown)
	assert.Equal(t, 20*time.Second, cooldown.RetryAfter)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestHTTPChannel_RequestCodeTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestHTTPChannel(url).RequestCode(context.Background(), "ann@x.com")
	assert.ErrorIs(t, err, ErrDelivery)
}

func TestHTTPChannel_ConfirmCodeErrorCodes(t *testing.T) {
	tests := []struct {
		status int
		code   string
		want   error
	}{
		{http.StatusBadRequest, CodeCodeMismatch, ErrCodeMismatch},
		{http.StatusGone, CodeExpiredCode, ErrExpiredCode},
		{http.StatusNotFound, CodeNotFound, ErrNotFound},
		{http.StatusTooManyRequests, CodeTooManyAttempts, ErrTooManyAttempts},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				assert.Equal(t, confirmCodePath, r.URL.Path)
				writeEnvelope(w, tt.status, tt.code, nil)
			}))
			defer srv.Close()

			_, err := newTestHTTPChannel(srv.URL).ConfirmCode(context.Background(), "ann@x.com", "123456")
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "confirm is never retried")
		})
	}
}

func TestHTTPChannel_ConfirmServerErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeEnvelope(w, http.StatusInternalServerError, "", nil)
	}))
	defer srv.Close()

	_, err := newTestHTTPChannel(srv.URL).ConfirmCode(context.Background(), "ann@x.com", "123456")
	require.Error(t, err)
	assert.Empty(t, ErrorCode(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestHTTPChannel_ConfirmThenFinalizeUsesGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case confirmCodePath:
			writeEnvelope(w, http.StatusOK, "", models.ConfirmResult{AccountID: "acc-1", Grant: "grant-1"})
		case finalizePath:
			var req models.FinalizeRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "grant-1", req.Grant)
			assert.Equal(t, "Ann", req.FirstName)
			assert.Equal(t, models.RoleInstructor, req.Role)
			writeEnvelope(w, http.StatusOK, "", models.FinalizeResult{AccountID: "acc-1", Token: "jwt"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ch := newTestHTTPChannel(srv.URL)
	id, err := ch.ConfirmCode(context.Background(), "ann@x.com", "123456")
	require.NoError(t, err)
	assert.Equal(t, models.AccountID("acc-1"), id)

	profile := validDraft()
	profile.Role = models.RoleInstructor
	token, err := ch.Finalize(context.Background(), id, profile)
	require.NoError(t, err)
	assert.Equal(t, "jwt", token)

	_, err = ch.Finalize(context.Background(), id, profile)
	assert.ErrorIs(t, err, ErrFinalize, "a grant is used once")
}
