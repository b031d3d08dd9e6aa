package tokenstore

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFileStore(t *testing.T, fs afero.Fs) *File {
	t.Helper()
	store, err := NewFile(FileConfig{
		Dir:        "/tokens",
		Passphrase: []byte("correct horse battery staple"),
		FS:         fs,
	})
	require.NoError(t, err)
	return store
}

func TestNewFileValidation(t *testing.T) {
	_, err := NewFile(FileConfig{Passphrase: []byte("p")})
	assert.Error(t, err, "dir is required")

	_, err = NewFile(FileConfig{Dir: "/tokens"})
	assert.Error(t, err, "passphrase is required")
}

func TestFileRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newFileStore(t, afero.NewMemMapFs())
	key := Key{Identifier: "RidesAccessTokenKey"}

	_, err := store.Fetch(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	want := testToken()
	require.NoError(t, store.Save(ctx, key, want))

	got, err := store.Fetch(ctx, key)
	require.NoError(t, err)
	assert.True(t, got.Equal(want))
	assert.Equal(t, want.RefreshToken, got.RefreshToken)
	assert.True(t, got.Scopes.Equal(want.Scopes))
	assert.WithinDuration(t, want.ExpiresAt, got.ExpiresAt, time.Second)
}

func TestFileSealedAtRest(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	store := newFileStore(t, fs)
	key := Key{Identifier: "RidesAccessTokenKey", AccessGroup: "team"}

	require.NoError(t, store.Save(ctx, key, testToken()))

	raw, err := afero.ReadFile(fs, "/tokens/team/RidesAccessTokenKey.jwe")
	require.NoError(t, err)

	// Compact JWE: five dot-separated segments, no recoverable plaintext.
	assert.Len(t, strings.Split(string(raw), "."), 5)
	assert.NotContains(t, string(raw), "test-access-token")
	assert.NotContains(t, string(raw), "test-refresh-token")

	// No stray temp files after the atomic replace.
	entries, err := afero.ReadDir(fs, "/tokens/team")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "RidesAccessTokenKey.jwe", entries[0].Name())
}

func TestFileWrongPassphrase(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	store := newFileStore(t, fs)
	key := Key{Identifier: "RidesAccessTokenKey"}
	require.NoError(t, store.Save(ctx, key, testToken()))

	other, err := NewFile(FileConfig{
		Dir:        "/tokens",
		Passphrase: []byte("not the passphrase"),
		FS:         fs,
	})
	require.NoError(t, err)

	_, err = other.Fetch(ctx, key)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestFileOverwriteAndDelete(t *testing.T) {
	ctx := context.Background()
	store := newFileStore(t, afero.NewMemMapFs())
	key := Key{Identifier: "RidesAccessTokenKey"}

	first := testToken()
	require.NoError(t, store.Save(ctx, key, first))

	second := testToken()
	second.Token = "replacement-token"
	require.NoError(t, store.Save(ctx, key, second))

	got, err := store.Fetch(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "replacement-token", got.Token)

	existed, err := store.Delete(ctx, key)
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = store.Delete(ctx, key)
	require.NoError(t, err)
	assert.False(t, existed)

	_, err = store.Fetch(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}
