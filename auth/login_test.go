package auth

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"
)

// scriptedSurface delivers a canned sequence of navigations from its own
// goroutine, optionally dismissing afterwards, and records the decisions
// it received.
type scriptedSurface struct {
	navigations []string
	dismiss     bool
	loadErr     error

	mu        sync.Mutex
	decisions []Decision
}

func (s *scriptedSurface) Load(ctx context.Context, authorizeURL *url.URL, events SurfaceEvents) error {
	if s.loadErr != nil {
		return s.loadErr
	}
	go func() {
		for _, raw := range s.navigations {
			u, err := url.Parse(raw)
			if err != nil {
				continue
			}
			d := events.OnNavigation(u)
			s.mu.Lock()
			s.decisions = append(s.decisions, d)
			s.mu.Unlock()
		}
		if s.dismiss {
			events.OnDismissed()
		}
	}()
	<-ctx.Done()
	return nil
}

func (s *scriptedSurface) recorded() []Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Decision(nil), s.decisions...)
}

// waitDecisions blocks until the surface has recorded n decisions; the
// last one lands just after the attempt completes.
func waitDecisions(t *testing.T, s *scriptedSurface, n int) []Decision {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if d := s.recorded(); len(d) >= n {
			return d
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d decisions, have %v", n, s.recorded())
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

// idleSurface presents and then waits; the attempt ends only through
// dismissal or context cancellation.
type idleSurface struct{}

func (idleSurface) Load(ctx context.Context, _ *url.URL, _ SurfaceEvents) error {
	<-ctx.Done()
	return nil
}

type fakeTokenStore struct {
	mu      sync.Mutex
	token   *AccessToken
	saveErr error
	saves   int
}

func (f *fakeTokenStore) Save(_ context.Context, token *AccessToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.token = token.Clone()
	f.saves++
	return nil
}

func (f *fakeTokenStore) Fetch(_ context.Context) (*AccessToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token.Clone(), nil
}

func (f *fakeTokenStore) Delete(_ context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	existed := f.token != nil
	f.token = nil
	return existed, nil
}

func (f *fakeTokenStore) saved() (*AccessToken, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token.Clone(), f.saves
}

// fakeExchanger returns a fixed token, or blocks until cancelled.
type fakeExchanger struct {
	token *AccessToken
	err   error
	block bool

	mu       sync.Mutex
	lastCode string
}

func (f *fakeExchanger) ExchangeCode(ctx context.Context, code string) (*AccessToken, error) {
	f.mu.Lock()
	f.lastCode = code
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return nil, WrapError(ctx.Err(), CodeNetworkError, "exchange aborted")
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.token, nil
}

func (f *fakeExchanger) code() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastCode
}

func newManager(t *testing.T, flow FlowType, store TokenStore, opts ...Option) *LoginManager {
	t.Helper()
	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	m, err := NewLoginManager(testConfig(), store, flow, opts...)
	if err != nil {
		t.Fatalf("NewLoginManager: %v", err)
	}
	return m
}

func TestNewLoginManagerValidation(t *testing.T) {
	cfg := testConfig()
	if _, err := NewLoginManager(cfg, nil, FlowType("password")); !IsCode(err, CodeInvalidRequest) {
		t.Fatalf("invalid flow: %v", err)
	}
	cfg.Callbacks.Native = ""
	if _, err := NewLoginManager(cfg, nil, FlowNative); !IsCode(err, CodeInvalidRedirectURI) {
		t.Fatalf("missing callback: %v", err)
	}
}

func TestLoginImplicitSuccess(t *testing.T) {
	store := &fakeTokenStore{}
	m := newManager(t, FlowImplicit, store)
	surface := &scriptedSurface{navigations: []string{
		"https://login.uber.com/oauth/authorize?next=1",
		"testURI://uberConnectImplicit#access_token=tok&refresh_token=ref&expires_in=3600&scope=profile",
	}}

	token, err := m.Login(context.Background(), NewScopeSet(ScopeProfile), surface)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if token.Token != "tok" || token.RefreshToken != "ref" {
		t.Fatalf("token = %+v", token)
	}
	if got := m.State(); got != StateSucceeded {
		t.Fatalf("state = %s", got)
	}

	saved, saves := store.saved()
	if saves != 1 || !saved.Equal(token) {
		t.Fatalf("persisted %d times, token %+v", saves, saved)
	}

	decisions := waitDecisions(t, surface, 2)
	if decisions[0] != DecisionAllow || decisions[1] != DecisionCancel {
		t.Fatalf("decisions = %v", decisions)
	}
}

func TestLoginGeneralExchangesCode(t *testing.T) {
	store := &fakeTokenStore{}
	ex := &fakeExchanger{token: &AccessToken{Token: "exchanged"}}
	m := newManager(t, FlowGeneral, store, WithExchanger(ex))
	surface := &scriptedSurface{navigations: []string{
		"testURI://uberConnectGeneral?code=abc123",
	}}

	token, err := m.Login(context.Background(), NewScopeSet(ScopeProfile), surface)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if token.Token != "exchanged" {
		t.Fatalf("token = %+v", token)
	}
	if ex.code() != "abc123" {
		t.Fatalf("exchanged code = %q", ex.code())
	}
	if got := m.State(); got != StateSucceeded {
		t.Fatalf("state = %s", got)
	}
	if _, saves := store.saved(); saves != 1 {
		t.Fatalf("persisted %d times", saves)
	}
}

func TestLoginDismissed(t *testing.T) {
	store := &fakeTokenStore{}
	m := newManager(t, FlowImplicit, store)
	surface := &scriptedSurface{dismiss: true}

	_, err := m.Login(context.Background(), NewScopeSet(ScopeProfile), surface)
	if !IsCode(err, CodeUserCancelled) {
		t.Fatalf("Login: %v", err)
	}
	if got := m.State(); got != StateCancelled {
		t.Fatalf("state = %s", got)
	}
	if _, saves := store.saved(); saves != 0 {
		t.Fatalf("persisted %d times after cancellation", saves)
	}
}

func TestLoginContextCancelled(t *testing.T) {
	m := newManager(t, FlowImplicit, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := m.Login(ctx, NewScopeSet(ScopeProfile), idleSurface{})
	if !IsCode(err, CodeUserCancelled) {
		t.Fatalf("Login: %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("cause should be the context error: %v", err)
	}
	if got := m.State(); got != StateCancelled {
		t.Fatalf("state = %s", got)
	}
}

func TestLoginMismatchingRedirect(t *testing.T) {
	m := newManager(t, FlowImplicit, nil)
	surface := &scriptedSurface{navigations: []string{
		"testURI://uberConnectNative#access_token=tok",
	}}

	_, err := m.Login(context.Background(), NewScopeSet(ScopeProfile), surface)
	if !IsCode(err, CodeMismatchingRedirect) {
		t.Fatalf("Login: %v", err)
	}
	if got := m.State(); got != StateFailed {
		t.Fatalf("state = %s", got)
	}
	if decisions := waitDecisions(t, surface, 1); decisions[0] != DecisionCancel {
		t.Fatalf("decisions = %v", decisions)
	}
}

func TestLoginUnsupportedScheme(t *testing.T) {
	m := newManager(t, FlowGeneral, nil, WithExchanger(&fakeExchanger{}))
	surface := &scriptedSurface{navigations: []string{"tel:+15555550100"}}

	_, err := m.Login(context.Background(), NewScopeSet(ScopeProfile), surface)
	if !IsCode(err, CodeNotSupported) {
		t.Fatalf("Login: %v", err)
	}
	if got := m.State(); got != StateFailed {
		t.Fatalf("state = %s", got)
	}
	if decisions := waitDecisions(t, surface, 1); decisions[0] != DecisionCancel {
		t.Fatalf("decisions = %v", decisions)
	}
}

func TestLoginProviderError(t *testing.T) {
	m := newManager(t, FlowImplicit, nil)
	surface := &scriptedSurface{navigations: []string{
		"testURI://uberConnectImplicit#error=access_denied",
	}}

	_, err := m.Login(context.Background(), NewScopeSet(ScopeProfile), surface)
	if !IsCode(err, CodeAccessDenied) {
		t.Fatalf("Login: %v", err)
	}
	if got := m.State(); got != StateFailed {
		t.Fatalf("state = %s", got)
	}
}

func TestLoginSurfaceLoadFailure(t *testing.T) {
	m := newManager(t, FlowImplicit, nil)
	surface := &scriptedSurface{loadErr: errors.New("no browser available")}

	_, err := m.Login(context.Background(), NewScopeSet(ScopeProfile), surface)
	if !IsCode(err, CodeNotSupported) {
		t.Fatalf("Login: %v", err)
	}
	if got := m.State(); got != StateFailed {
		t.Fatalf("state = %s", got)
	}
}

func TestLoginPersistFailureStillSucceeds(t *testing.T) {
	store := &fakeTokenStore{saveErr: errors.New("keychain locked")}
	m := newManager(t, FlowImplicit, store)
	surface := &scriptedSurface{navigations: []string{
		"testURI://uberConnectImplicit#access_token=tok",
	}}

	token, err := m.Login(context.Background(), NewScopeSet(ScopeProfile), surface)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if token.Token != "tok" {
		t.Fatalf("token = %+v", token)
	}
	if got := m.State(); got != StateSucceeded {
		t.Fatalf("state = %s", got)
	}
}

func TestLoginReentrancy(t *testing.T) {
	m := newManager(t, FlowImplicit, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := make(chan error, 1)
	go func() {
		_, err := m.Login(ctx, NewScopeSet(ScopeProfile), idleSurface{})
		first <- err
	}()

	deadline := time.After(2 * time.Second)
	for m.State() != StateAwaitingRedirect {
		select {
		case <-deadline:
			t.Fatal("attempt never reached awaiting_redirect")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	_, err := m.Login(context.Background(), NewScopeSet(ScopeProfile), idleSurface{})
	if !IsCode(err, CodeInvalidRequest) {
		t.Fatalf("second Login: %v", err)
	}

	cancel()
	if err := <-first; !IsCode(err, CodeUserCancelled) {
		t.Fatalf("first Login: %v", err)
	}

	// A finished manager accepts the next attempt.
	surface := &scriptedSurface{navigations: []string{
		"testURI://uberConnectImplicit#access_token=tok",
	}}
	if _, err := m.Login(context.Background(), NewScopeSet(ScopeProfile), surface); err != nil {
		t.Fatalf("third Login: %v", err)
	}
}

func TestLoginDismissalAbortsExchange(t *testing.T) {
	ex := &fakeExchanger{block: true}
	m := newManager(t, FlowGeneral, nil, WithExchanger(ex))
	surface := &scriptedSurface{
		navigations: []string{"testURI://uberConnectGeneral?code=abc"},
		dismiss:     true,
	}

	_, err := m.Login(context.Background(), NewScopeSet(ScopeProfile), surface)
	if !IsCode(err, CodeUserCancelled) {
		t.Fatalf("Login: %v", err)
	}
	if got := m.State(); got != StateCancelled {
		t.Fatalf("state = %s", got)
	}
}

func TestLogout(t *testing.T) {
	store := &fakeTokenStore{token: &AccessToken{Token: "tok"}}
	m := newManager(t, FlowImplicit, store)

	existed, err := m.Logout(context.Background())
	if err != nil || !existed {
		t.Fatalf("Logout = %v, %v", existed, err)
	}
	existed, err = m.Logout(context.Background())
	if err != nil || existed {
		t.Fatalf("second Logout = %v, %v", existed, err)
	}

	none := newManager(t, FlowImplicit, nil)
	existed, err = none.Logout(context.Background())
	if err != nil || existed {
		t.Fatalf("Logout without store = %v, %v", existed, err)
	}
}
