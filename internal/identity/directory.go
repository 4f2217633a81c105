// ABOUTME: Maps verified identity-provider subjects to internal user records
// ABOUTME: The gateway does not own the mapping; it reads the shared users table

package identity

import (
	"context"
	"errors"

	"github.com/carebridge/chat-gateway/internal/apperr"
	"github.com/carebridge/chat-gateway/internal/store"
)

// Directory resolves an external subject to the internal user record.
type Directory interface {
	ResolveSubject(ctx context.Context, subject string) (*store.User, error)
}

// StoreDirectory resolves subjects against the users table.
type StoreDirectory struct {
	store store.Store
}

// NewStoreDirectory creates a directory backed by the given store.
func NewStoreDirectory(s store.Store) *StoreDirectory {
	return &StoreDirectory{store: s}
}

// ResolveSubject returns the user mapped to the subject, or UserNotFound when
// no mapping exists (a valid credential for someone the marketplace has never
// provisioned).
func (d *StoreDirectory) ResolveSubject(ctx context.Context, subject string) (*store.User, error) {
	user, err := d.store.GetUserBySubject(ctx, subject)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.UserNotFound("no user for credential subject")
	}
	if err != nil {
		return nil, apperr.TransientStore("looking up credential subject", err)
	}
	return user, nil
}
