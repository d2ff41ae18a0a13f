package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"

	pkgcrypto "github.com/and161185/bruteguard/internal/crypto"
	"github.com/and161185/bruteguard/internal/errs"
	"github.com/and161185/bruteguard/internal/model"
	"github.com/and161185/bruteguard/internal/repository"
)

// Verification is the outcome of a credential check.
type Verification struct {
	Success bool
	Message string
	User    *model.User // set on success
}

// AuthGateway verifies credentials. An error means the gateway itself could
// not answer; a wrong password is a Verification with Success=false.
type AuthGateway interface {
	Verify(ctx context.Context, identifier, password string) (Verification, error)
}

const msgInvalidCredentials = "invalid credentials"

// UserGateway verifies passwords against the users table with Argon2id.
type UserGateway struct {
	users repository.UserRepository
}

var _ AuthGateway = (*UserGateway)(nil)

// NewUserGateway constructs the reference gateway.
func NewUserGateway(users repository.UserRepository) *UserGateway {
	return &UserGateway{users: users}
}

// Verify checks the password. Unknown users go through the same hashing work
// and get the same answer as a wrong password.
func (g *UserGateway) Verify(ctx context.Context, identifier, password string) (Verification, error) {
	u, err := g.users.GetByUsername(ctx, identifier)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		pkgcrypto.VerifyDummy([]byte(password))
		return Verification{Message: msgInvalidCredentials}, nil
	case err != nil:
		return Verification{}, err
	}
	if !pkgcrypto.VerifyPassword([]byte(password), u.SaltAuth, u.PwdHash) {
		return Verification{Message: msgInvalidCredentials}, nil
	}
	return Verification{Success: true, Message: "ok", User: u}, nil
}

// Register creates a new user record with a per-user salt.
func (g *UserGateway) Register(ctx context.Context, username, password string) (string, error) {
	if username == "" || password == "" {
		return "", fmt.Errorf("%w: empty username/password", errs.ErrValidation)
	}
	uid, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	saltAuth, err := pkgcrypto.RandBytes(16)
	if err != nil {
		return "", err
	}
	u := &model.User{
		ID:       uid,
		Username: username,
		PwdHash:  pkgcrypto.HashPassword([]byte(password), saltAuth),
		SaltAuth: saltAuth,
	}
	if err := g.users.Create(ctx, u); err != nil {
		return "", err
	}
	return uid.String(), nil
}
