package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-jose/go-jose/v3"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/uber/rides-go-sdk/auth"
)

// FileConfig configures the encrypted file store.
type FileConfig struct {
	// Dir is the base directory; one file per key is kept under
	// <dir>/<access group>/<identifier>.jwe.
	Dir string
	// Passphrase protects tokens at rest.
	Passphrase []byte
	// FS overrides the filesystem. Defaults to the OS filesystem.
	FS afero.Fs
}

// File persists each token as a passphrase-encrypted compact JWE
// (PBES2-HS512+A256KW key derivation, A256GCM content encryption).
// Files are written 0600 under 0700 directories, atomically via a
// temporary file and rename.
type File struct {
	dir        string
	passphrase []byte
	fs         afero.Fs
	encrypter  jose.Encrypter
}

// NewFile constructs the store and derives the sealing recipient once.
func NewFile(cfg FileConfig) (*File, error) {
	if cfg.Dir == "" {
		return nil, errors.New("tokenstore: file store dir required")
	}
	if len(cfg.Passphrase) == 0 {
		return nil, errors.New("tokenstore: file store passphrase required")
	}
	fs := cfg.FS
	if fs == nil {
		fs = afero.NewOsFs()
	}
	encrypter, err := jose.NewEncrypter(jose.A256GCM, jose.Recipient{
		Algorithm: jose.PBES2_HS512_A256KW,
		Key:       cfg.Passphrase,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("tokenstore: build encrypter: %w", err)
	}
	return &File{
		dir:        cfg.Dir,
		passphrase: cfg.Passphrase,
		fs:         fs,
		encrypter:  encrypter,
	}, nil
}

func (f *File) path(key Key) string {
	return filepath.Join(f.dir, key.group(), key.Identifier+".jwe")
}

// Save seals the token and replaces the file under key.
func (f *File) Save(_ context.Context, key Key, token *auth.AccessToken) error {
	if err := key.check(); err != nil {
		return err
	}
	payload, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("tokenstore: encode token: %w", err)
	}
	obj, err := f.encrypter.Encrypt(payload)
	if err != nil {
		return fmt.Errorf("tokenstore: seal token: %w", err)
	}
	compact, err := obj.CompactSerialize()
	if err != nil {
		return fmt.Errorf("tokenstore: serialize token: %w", err)
	}

	path := f.path(key)
	if err := f.fs.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("tokenstore: create token dir: %w", err)
	}
	tmp := path + "." + uuid.NewString() + ".tmp"
	if err := afero.WriteFile(f.fs, tmp, []byte(compact), 0o600); err != nil {
		return fmt.Errorf("tokenstore: write token: %w", err)
	}
	if err := f.fs.Rename(tmp, path); err != nil {
		f.fs.Remove(tmp)
		return fmt.Errorf("tokenstore: replace token: %w", err)
	}
	return nil
}

// Fetch reads and unseals the token under key.
func (f *File) Fetch(_ context.Context, key Key) (*auth.AccessToken, error) {
	if err := key.check(); err != nil {
		return nil, err
	}
	raw, err := afero.ReadFile(f.fs, f.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("tokenstore: read token: %w", err)
	}
	obj, err := jose.ParseEncrypted(string(raw))
	if err != nil {
		return nil, fmt.Errorf("tokenstore: parse sealed token: %w", err)
	}
	payload, err := obj.Decrypt(f.passphrase)
	if err != nil {
		return nil, fmt.Errorf("tokenstore: unseal token: %w", err)
	}
	var token auth.AccessToken
	if err := json.Unmarshal(payload, &token); err != nil {
		return nil, fmt.Errorf("tokenstore: decode token: %w", err)
	}
	return &token, nil
}

// Delete removes the token file under key.
func (f *File) Delete(_ context.Context, key Key) (bool, error) {
	if err := key.check(); err != nil {
		return false, err
	}
	if err := f.fs.Remove(f.path(key)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("tokenstore: remove token: %w", err)
	}
	return true, nil
}
