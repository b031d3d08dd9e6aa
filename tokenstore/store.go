// Package tokenstore persists access tokens between launches. The Store
// interface abstracts the backing credential store; backends cover an
// in-process map, encrypted files, and redis, plus a read-cache decorator.
package tokenstore

import (
	"context"
	"errors"

	"github.com/uber/rides-go-sdk/auth"
)

// ErrNotFound is returned by Fetch when no token is stored under the key.
var ErrNotFound = errors.New("tokenstore: token not found")

// Key names a credential-store slot. AccessGroup partitions slots shared
// between cooperating applications; empty means the default partition.
type Key struct {
	Identifier  string
	AccessGroup string
}

func (k Key) check() error {
	if k.Identifier == "" {
		return errors.New("tokenstore: key identifier required")
	}
	return nil
}

func (k Key) group() string {
	if k.AccessGroup == "" {
		return "default"
	}
	return k.AccessGroup
}

// Store saves and retrieves access tokens. Implementations are safe for
// concurrent use. Fetch returns ErrNotFound when the slot is empty; Delete
// reports whether a token existed.
type Store interface {
	Save(ctx context.Context, key Key, token *auth.AccessToken) error
	Fetch(ctx context.Context, key Key) (*auth.AccessToken, error)
	Delete(ctx context.Context, key Key) (bool, error)
}
