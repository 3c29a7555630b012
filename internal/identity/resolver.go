// Package identity maps signed-in identities to stored users.
package identity

import (
	"context"
	"errors"

	"github.com/diagnosis/qr-attendance/internal/domain"
	"github.com/diagnosis/qr-attendance/internal/utils"
)

var ErrNotFound = errors.New("identity: no user matches display name")

type UserFinder interface {
	FindByName(ctx context.Context, name string) (*domain.User, error)
}

// Resolver matches an identity to a user by display name. The provider has
// no stable id bridged to stored users, so this is the one place that would
// change if one is introduced.
type Resolver struct {
	users UserFinder
}

func NewResolver(users UserFinder) *Resolver {
	return &Resolver{users: users}
}

func (r *Resolver) Resolve(ctx context.Context, id domain.Identity) (*domain.User, error) {
	name := utils.NormalizeName(id.DisplayName)
	if name == "" {
		return nil, ErrNotFound
	}
	u, err := r.users.FindByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrNotFound
	}
	return u, nil
}
