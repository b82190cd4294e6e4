package service

import (
	"context"
	"errors"
	"log"

	"github.com/iliyamo/table-reservation/internal/model"
	"github.com/iliyamo/table-reservation/internal/repository"
)

// AdminAccounts is the user store subset needed to seed an administrator.
type AdminAccounts interface {
	Create(ctx context.Context, name, email, password, role string, cost int) (uint64, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
}

// EnsureAdmin creates the bootstrap administrator unless a user with that
// email already exists.  Registration only ever creates USER accounts, so
// this is the one way an ADMIN comes into existence.
func EnsureAdmin(ctx context.Context, users AdminAccounts, email, password string, cost int) (uint64, error) {
	if email == "" || password == "" {
		return 0, nil
	}
	u, err := users.GetByEmail(ctx, email)
	if err == nil {
		if !u.IsAdmin() {
			log.Printf("bootstrap: %s exists with role %s, not promoting", u.Email, u.Role)
		}
		return u.ID, nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return 0, err
	}
	id, err := users.Create(ctx, "Administrator", email, password, model.RoleAdmin, cost)
	if errors.Is(err, repository.ErrEmailExists) {
		// lost a race with another instance
		u, err := users.GetByEmail(ctx, email)
		return u.ID, err
	}
	if err != nil {
		return 0, err
	}
	log.Printf("bootstrap: created admin %s (id=%d)", email, id)
	return id, nil
}
