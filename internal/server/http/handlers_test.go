package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/bruteguard/internal/errs"
	"github.com/and161185/bruteguard/internal/lockout"
	"github.com/and161185/bruteguard/internal/model"
	"github.com/and161185/bruteguard/internal/repository/memory"
	"github.com/and161185/bruteguard/internal/service"
)

var fixedNow = time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

type stubGateway struct{ password string }

func (g stubGateway) Verify(_ context.Context, identifier, password string) (service.Verification, error) {
	if password == g.password {
		return service.Verification{Success: true, User: &model.User{Username: identifier}}, nil
	}
	return service.Verification{Message: "invalid credentials"}, nil
}

type stubAuth struct {
	res service.LoginResult
	err error
}

func (a stubAuth) Authenticate(context.Context, string, string, string) (service.LoginResult, error) {
	return a.res, a.err
}

type stubRegistrar struct {
	id  string
	err error
}

func (r stubRegistrar) Register(context.Context, string, string) (string, error) { return r.id, r.err }

func newTestRouter(t *testing.T, auth Authenticator, reg Registrar, opts Options) http.Handler {
	t.Helper()
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	return NewRouter(auth, reg, zaptest.NewLogger(t), opts)
}

func newRealAuth(t *testing.T) *service.AuthService {
	t.Helper()
	guard, err := lockout.New(memory.NewAttemptStore(), lockout.DefaultConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	return service.NewAuthService(guard, stubGateway{password: "secret"}, zaptest.NewLogger(t),
		service.WithClock(func() time.Time { return fixedNow }))
}

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var out ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func TestLogin_FailuresThenBlocked(t *testing.T) {
	h := newTestRouter(t, newRealAuth(t), nil, Options{})
	body := `{"identifier":"alice","password":"wrong"}`

	for i := 1; i <= 9; i++ {
		rr := postJSON(t, h, "/v1/auth/login", body)
		require.Equal(t, http.StatusUnauthorized, rr.Code, "attempt %d", i)
		out := decodeError(t, rr)
		assert.Equal(t, "invalid_credentials", out.Error)
		require.NotNil(t, out.Remaining)
		assert.Equal(t, 10-i, *out.Remaining)
	}

	rr := postJSON(t, h, "/v1/auth/login", body)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	out := decodeError(t, rr)
	assert.Equal(t, "blocked", out.Error)
	require.NotNil(t, out.BlockedUntil)
	assert.Equal(t, "2025-04-01T11:00:00Z", *out.BlockedUntil)
	assert.Equal(t, "7200", rr.Header().Get("Retry-After"))

	// correct password is not even checked while blocked
	rr = postJSON(t, h, "/v1/auth/login", `{"identifier":"alice","password":"secret"}`)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}

func TestLogin_Success(t *testing.T) {
	h := newTestRouter(t, newRealAuth(t), nil, Options{})

	rr := postJSON(t, h, "/v1/auth/login", `{"identifier":"alice","password":"secret"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	var out loginResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	assert.Equal(t, "allowed", out.Status)
	assert.Equal(t, "alice", out.Username)
}

func TestLogin_BadRequests(t *testing.T) {
	h := newTestRouter(t, stubAuth{}, nil, Options{})

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"identifier":`},
		{"missing password", `{"identifier":"alice"}`},
		{"unknown field", `{"identifier":"a","password":"b","admin":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := postJSON(t, h, "/v1/auth/login", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, "bad_request", decodeError(t, rr).Error)
		})
	}
}

func TestLogin_ServiceErrors(t *testing.T) {
	t.Run("validation", func(t *testing.T) {
		h := newTestRouter(t, stubAuth{err: errs.ErrValidation}, nil, Options{})
		rr := postJSON(t, h, "/v1/auth/login", `{"identifier":"a","password":"b"}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("storage is hidden", func(t *testing.T) {
		h := newTestRouter(t, stubAuth{err: errors.New("pq: connection refused")}, nil, Options{})
		rr := postJSON(t, h, "/v1/auth/login", `{"identifier":"a","password":"b"}`)
		require.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.NotContains(t, rr.Body.String(), "connection refused")
	})
}

func TestRegister(t *testing.T) {
	body := `{"username":"alice","password":"longenough"}`

	t.Run("created", func(t *testing.T) {
		h := newTestRouter(t, stubAuth{}, stubRegistrar{id: "u-1"}, Options{})
		rr := postJSON(t, h, "/v1/auth/register", body)
		require.Equal(t, http.StatusCreated, rr.Code)
		var out registerResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
		assert.Equal(t, "u-1", out.UserID)
	})

	t.Run("conflict", func(t *testing.T) {
		h := newTestRouter(t, stubAuth{}, stubRegistrar{err: errs.ErrAlreadyExists}, Options{})
		rr := postJSON(t, h, "/v1/auth/register", body)
		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("short password", func(t *testing.T) {
		h := newTestRouter(t, stubAuth{}, stubRegistrar{id: "u-1"}, Options{})
		rr := postJSON(t, h, "/v1/auth/register", `{"username":"alice","password":"short"}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("not mounted without registrar", func(t *testing.T) {
		h := newTestRouter(t, stubAuth{}, nil, Options{})
		rr := postJSON(t, h, "/v1/auth/register", body)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestThrottle(t *testing.T) {
	h := newTestRouter(t, stubAuth{res: service.LoginResult{Allowed: true}}, nil, Options{RatePerMinute: 2})

	for i := 0; i < 2; i++ {
		rr := postJSON(t, h, "/v1/auth/login", `{"identifier":"a","password":"b"}`)
		require.Equal(t, http.StatusOK, rr.Code)
	}
	rr := postJSON(t, h, "/v1/auth/login", `{"identifier":"a","password":"b"}`)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "rate_limit_exceeded", decodeError(t, rr).Error)

	// healthz is outside the throttled group
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	hr := httptest.NewRecorder()
	h.ServeHTTP(hr, req)
	assert.Equal(t, http.StatusOK, hr.Code)
}

func TestClientKey_ProxyHeaders(t *testing.T) {
	var seen string
	auth := authFunc(func(_ context.Context, _, _, key string) (service.LoginResult, error) {
		seen = key
		return service.LoginResult{Allowed: true}, nil
	})

	send := func(h http.Handler) {
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/login",
			bytes.NewBufferString(`{"identifier":"a","password":"b"}`))
		req.RemoteAddr = "10.0.0.1:5555"
		req.Header.Set("X-Forwarded-For", "203.0.113.7")
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	send(newTestRouter(t, auth, nil, Options{}))
	assert.Equal(t, "10.0.0.1", seen)

	send(newTestRouter(t, auth, nil, Options{TrustProxyHeaders: true}))
	assert.Equal(t, "203.0.113.7", seen)
}

type authFunc func(ctx context.Context, identifier, password, clientKey string) (service.LoginResult, error)

func (f authFunc) Authenticate(ctx context.Context, identifier, password, clientKey string) (service.LoginResult, error) {
	return f(ctx, identifier, password, clientKey)
}
