package tokenstore

import (
	"context"
	"errors"

	"github.com/uber/rides-go-sdk/auth"
)

// Slot binds a Store to a single key, the view the login manager and
// token source work with. It satisfies auth.TokenStore; an empty slot
// reads as (nil, nil).
type Slot struct {
	Store Store
	Key   Key
}

// SlotFor derives the slot named by the configuration.
func SlotFor(store Store, cfg *auth.Config) Slot {
	return Slot{
		Store: store,
		Key: Key{
			Identifier:  cfg.StoreKeyIdentifier(),
			AccessGroup: cfg.Token.AccessGroup,
		},
	}
}

// Save stores the token in the slot.
func (s Slot) Save(ctx context.Context, token *auth.AccessToken) error {
	return s.Store.Save(ctx, s.Key, token)
}

// Fetch returns the stored token, or nil when the slot is empty.
func (s Slot) Fetch(ctx context.Context) (*auth.AccessToken, error) {
	token, err := s.Store.Fetch(ctx, s.Key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return token, err
}

// Delete clears the slot, reporting whether a token existed.
func (s Slot) Delete(ctx context.Context) (bool, error) {
	return s.Store.Delete(ctx, s.Key)
}
