// Package service contains the login orchestration and the reference
// credential gateway.
package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/bruteguard/internal/errs"
	"github.com/and161185/bruteguard/internal/lockout"
	"github.com/and161185/bruteguard/internal/model"
)

// LockoutGuard is the part of lockout.Guard the login flow needs.
type LockoutGuard interface {
	PreCheck(ctx context.Context, key string, now time.Time) model.Decision
	RecordOutcome(ctx context.Context, key string, success bool, now time.Time) (model.FailureResult, error)
	Remaining(attempts int) int
}

var _ LockoutGuard = (*lockout.Guard)(nil)

// Clock returns the current instant.
type Clock func() time.Time

// Reason tells why a login was denied.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonBlocked
	ReasonInvalidCredentials
)

func (r Reason) String() string {
	switch r {
	case ReasonBlocked:
		return "blocked"
	case ReasonInvalidCredentials:
		return "invalid_credentials"
	default:
		return "none"
	}
}

// LoginResult is either Allowed with a User, or denied with a Reason.
type LoginResult struct {
	Allowed      bool
	User         *model.User
	Reason       Reason
	BlockedUntil *time.Time // ReasonBlocked
	Remaining    int        // ReasonInvalidCredentials
}

// AuthService runs PreCheck, Verify and RecordOutcome in that order.
type AuthService struct {
	guard LockoutGuard
	gw    AuthGateway
	now   Clock
	log   *zap.Logger
}

// Option customizes AuthService.
type Option func(*AuthService)

// WithClock overrides time.Now.
func WithClock(c Clock) Option { return func(s *AuthService) { s.now = c } }

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(guard LockoutGuard, gw AuthGateway, log *zap.Logger, opts ...Option) *AuthService {
	if log == nil {
		log = zap.NewNop()
	}
	s := &AuthService{guard: guard, gw: gw, now: time.Now, log: log}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Authenticate checks the lockout state of clientKey, verifies the
// credentials and records the outcome. Credentials are never logged.
//
// A returned error means the outcome could not be established: the gateway
// failed, or a failure could not be recorded.
func (s *AuthService) Authenticate(ctx context.Context, identifier, password, clientKey string) (LoginResult, error) {
	if identifier == "" || password == "" {
		return LoginResult{}, fmt.Errorf("%w: empty identifier/password", errs.ErrValidation)
	}
	if err := lockout.ValidateKey(clientKey); err != nil {
		return LoginResult{}, err
	}

	now := s.now()
	if d := s.guard.PreCheck(ctx, clientKey, now); d.Blocked {
		return LoginResult{Reason: ReasonBlocked, BlockedUntil: d.BlockedUntil}, nil
	}

	v, err := s.gw.Verify(ctx, identifier, password)
	if err != nil {
		s.log.Error("auth gateway failed", zap.String("client_key", clientKey), zap.Error(err))
		return LoginResult{}, fmt.Errorf("verify credentials: %w", err)
	}

	if v.Success {
		// reset is best-effort
		if _, err := s.guard.RecordOutcome(ctx, clientKey, true, now); err != nil {
			s.log.Warn("reset after successful login failed", zap.String("client_key", clientKey), zap.Error(err))
		}
		return LoginResult{Allowed: true, User: v.User}, nil
	}

	res, err := s.guard.RecordOutcome(ctx, clientKey, false, now)
	if err != nil {
		return LoginResult{}, fmt.Errorf("record failure: %w", err)
	}
	if res.Blocked {
		return LoginResult{Reason: ReasonBlocked, BlockedUntil: res.BlockedUntil}, nil
	}
	return LoginResult{
		Reason:    ReasonInvalidCredentials,
		Remaining: s.guard.Remaining(res.Attempts),
	}, nil
}
