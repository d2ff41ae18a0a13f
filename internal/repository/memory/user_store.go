package memory

import (
	"context"
	"sync"

	"github.com/and161185/bruteguard/internal/errs"
	"github.com/and161185/bruteguard/internal/model"
	"github.com/and161185/bruteguard/internal/repository"
)

// UserStore keeps accounts of the reference gateway when no database is
// configured. Contents do not survive a restart.
type UserStore struct {
	mu     sync.RWMutex
	byName map[string]model.User
}

var _ repository.UserRepository = (*UserStore)(nil)

// NewUserStore constructs an empty store.
func NewUserStore() *UserStore {
	return &UserStore{byName: make(map[string]model.User)}
}

// Create inserts u; a taken username is errs.ErrAlreadyExists.
func (s *UserStore) Create(ctx context.Context, u *model.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[u.Username]; ok {
		return errs.ErrAlreadyExists
	}
	s.byName[u.Username] = cloneUser(*u)
	return nil
}

// GetByUsername returns a copy of the user or errs.ErrNotFound.
func (s *UserStore) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	u, ok := s.byName[username]
	s.mu.RUnlock()
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := cloneUser(u)
	return &c, nil
}

func cloneUser(u model.User) model.User {
	u.PwdHash = append([]byte(nil), u.PwdHash...)
	u.SaltAuth = append([]byte(nil), u.SaltAuth...)
	return u
}
