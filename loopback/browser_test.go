package loopback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uber/rides-go-sdk/auth"
	"github.com/uber/rides-go-sdk/authtest"
	"github.com/uber/rides-go-sdk/tokenstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// freeCallback reserves a loopback port and returns a callback URI on it.
func freeCallback(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return "http://" + addr + "/callback"
}

func authorizeURLWith(t *testing.T, callback string) *url.URL {
	t.Helper()
	u, err := url.Parse("http://login.example.com/oauth/authorize")
	require.NoError(t, err)
	u.RawQuery = url.Values{"redirect_uri": {callback}}.Encode()
	return u
}

type recordingEvents struct {
	mu     sync.Mutex
	urls   []*url.URL
	decide func(*url.URL) auth.Decision
}

func (e *recordingEvents) OnNavigation(u *url.URL) auth.Decision {
	e.mu.Lock()
	e.urls = append(e.urls, u)
	e.mu.Unlock()
	if e.decide != nil {
		return e.decide(u)
	}
	return auth.DecisionAllow
}

func (e *recordingEvents) OnDismissed() {}

func (e *recordingEvents) recorded() []*url.URL {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*url.URL(nil), e.urls...)
}

func TestLoadRejectsUnusableAuthorizeURL(t *testing.T) {
	tests := []struct {
		name     string
		redirect string
	}{
		{name: "missing redirect_uri", redirect: ""},
		{name: "non-http callback", redirect: "testURI://callback"},
		{name: "no explicit port", redirect: "http://127.0.0.1/callback"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse("http://login.example.com/oauth/authorize")
			require.NoError(t, err)
			if tt.redirect != "" {
				u.RawQuery = url.Values{"redirect_uri": {tt.redirect}}.Encode()
			}

			browser := New(WithLogger(testLogger()))
			err = browser.Load(context.Background(), u, &recordingEvents{})
			require.Error(t, err)
		})
	}
}

func TestLoadReportsOpenerFailure(t *testing.T) {
	callback := freeCallback(t)
	opener := func(ctx context.Context, target string) error {
		return errors.New("no browser installed")
	}

	browser := New(WithLogger(testLogger()), WithOpener(opener))
	err := browser.Load(context.Background(), authorizeURLWith(t, callback), &recordingEvents{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open browser")
}

func TestBrowserInterceptsCallback(t *testing.T) {
	callback := freeCallback(t)

	events := &recordingEvents{decide: func(u *url.URL) auth.Decision {
		if u.Query().Get("code") != "" {
			return auth.DecisionCancel
		}
		return auth.DecisionAllow
	}}

	bodyCh := make(chan string, 1)
	opener := func(ctx context.Context, target string) error {
		go func() {
			resp, err := http.Get(callback + "?code=abc123")
			if err != nil {
				bodyCh <- "request failed: " + err.Error()
				return
			}
			defer resp.Body.Close()
			b, _ := io.ReadAll(resp.Body)
			bodyCh <- string(b)
		}()
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	browser := New(WithLogger(testLogger()), WithOpener(opener))
	loadDone := make(chan error, 1)
	go func() {
		loadDone <- browser.Load(ctx, authorizeURLWith(t, callback), events)
	}()

	select {
	case body := <-bodyCh:
		require.Contains(t, body, "close this window")
	case <-time.After(5 * time.Second):
		t.Fatal("callback was never served")
	}

	cancel()
	require.NoError(t, <-loadDone)

	navs := events.recorded()
	require.Len(t, navs, 1)
	assert.Equal(t, "/callback", navs[0].Path)
	assert.Equal(t, "abc123", navs[0].Query().Get("code"))
}

func TestBrowserRejectsUnrelatedPaths(t *testing.T) {
	callback := freeCallback(t)

	events := &recordingEvents{} // always allow: nothing is ever intercepted

	statusCh := make(chan int, 1)
	opener := func(ctx context.Context, target string) error {
		go func() {
			base, _ := url.Parse(callback)
			base.Path = "/favicon.ico"
			resp, err := http.Get(base.String())
			if err != nil {
				statusCh <- 0
				return
			}
			resp.Body.Close()
			statusCh <- resp.StatusCode
		}()
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	browser := New(WithLogger(testLogger()), WithOpener(opener))
	loadDone := make(chan error, 1)
	go func() {
		loadDone <- browser.Load(ctx, authorizeURLWith(t, callback), events)
	}()

	select {
	case status := <-statusCh:
		assert.Equal(t, http.StatusNotFound, status)
	case <-time.After(5 * time.Second):
		t.Fatal("listener never answered")
	}

	cancel()
	require.NoError(t, <-loadDone)

	navs := events.recorded()
	require.Len(t, navs, 1)
	assert.Equal(t, "/favicon.ico", navs[0].Path)
}

// TestLoginThroughLoopback drives the whole stack: LoginManager builds the
// authorization URL against a fake login service, the loopback surface
// catches the code redirect, and the manager exchanges the code and
// persists the token.
func TestLoginThroughLoopback(t *testing.T) {
	fake := authtest.NewServer()
	defer fake.Close()

	callback := freeCallback(t)
	cfg := auth.DefaultConfig()
	cfg.ClientID = "testClientID"
	cfg.AppName = "TestApp"
	cfg.LoginHost = fake.URL
	cfg.Callbacks.AuthorizationCode = callback

	store := tokenstore.NewMemory()
	slot := tokenstore.SlotFor(store, &cfg)

	manager, err := auth.NewLoginManager(&cfg, slot, auth.FlowAuthorizationCode, auth.WithLogger(testLogger()))
	require.NoError(t, err)

	browserDone := make(chan error, 1)
	opener := func(ctx context.Context, target string) error {
		go func() {
			// The default client follows the authorize redirect into
			// the loopback listener, just like a real browser.
			resp, err := http.Get(target)
			if err != nil {
				browserDone <- err
				return
			}
			resp.Body.Close()
			browserDone <- nil
		}()
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	scopes := auth.NewScopeSet(auth.ScopeProfile)
	surface := New(WithLogger(testLogger()), WithOpener(opener))
	token, err := manager.Login(ctx, scopes, surface)
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.NotEmpty(t, token.Token)
	assert.True(t, token.Scopes.Equal(scopes))
	assert.Equal(t, auth.StateSucceeded, manager.State())
	require.NoError(t, <-browserDone)

	persisted, err := slot.Fetch(context.Background())
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.Equal(t, token.Token, persisted.Token)
}
