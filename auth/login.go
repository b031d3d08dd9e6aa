package auth

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State describes where a login attempt stands. The manager exposes it
// for instrumentation; control flow rides on Login's return values.
type State string

const (
	StateIdle             State = "idle"
	StatePresenting       State = "presenting"
	StateAwaitingRedirect State = "awaiting_redirect"
	StateSucceeded        State = "succeeded"
	StateFailed           State = "failed"
	StateCancelled        State = "cancelled"
)

// TokenStore persists the credential for one configured slot. A nil store
// disables persistence; Login still succeeds and returns the token.
// Fetch reports an empty slot as (nil, nil).
type TokenStore interface {
	Save(ctx context.Context, token *AccessToken) error
	Fetch(ctx context.Context) (*AccessToken, error)
	Delete(ctx context.Context) (bool, error)
}

// Option configures a LoginManager.
type Option func(*LoginManager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *LoginManager) { m.logger = logger }
}

// WithExchanger overrides the code exchanger. Code-issuing flows default
// to the token-endpoint client for the manager's flow.
func WithExchanger(ex Exchanger) Option {
	return func(m *LoginManager) { m.exchanger = ex }
}

// WithMetrics attaches metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(m *LoginManager) { m.metrics = metrics }
}

// LoginManager drives one flow's login attempts from authorization URL to
// delivered token. Each manager serves a single flow type; attempts run
// one at a time and complete exactly once.
type LoginManager struct {
	cfg       *Config
	flow      FlowType
	tokens    TokenStore
	exchanger Exchanger
	logger    *slog.Logger
	metrics   *Metrics

	mu     sync.Mutex
	state  State
	active *attempt
}

// NewLoginManager validates the flow's registration and wires defaults.
func NewLoginManager(cfg *Config, tokens TokenStore, flow FlowType, opts ...Option) (*LoginManager, error) {
	if !flow.Valid() {
		return nil, Errorf(CodeInvalidRequest, "unsupported flow type %q", flow)
	}
	if cfg.CallbackURI(flow) == "" {
		return nil, Errorf(CodeInvalidRedirectURI, "no callback URI registered for %s flow", flow)
	}

	m := &LoginManager{
		cfg:    cfg,
		flow:   flow,
		tokens: tokens,
		logger: slog.Default(),
		state:  StateIdle,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.exchanger == nil && !flow.usesFragment() {
		client, err := NewOAuthClient(cfg, flow, nil, m.logger)
		if err != nil {
			return nil, err
		}
		m.exchanger = client
	}

	return m, nil
}

// State returns the current attempt state.
func (m *LoginManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// attempt tracks one in-flight login. Completion is guarded by once: the
// first of redirect interception, exchange result, dismissal, or context
// cancellation wins, and everyone else becomes a no-op.
type attempt struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
	token  *AccessToken
	err    error
}

func (a *attempt) complete(token *AccessToken, err error) {
	a.once.Do(func() {
		a.token = token
		a.err = err
		a.cancel()
		close(a.done)
	})
}

func (a *attempt) completed() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

// Login runs one attempt to completion: builds the authorization URL,
// hands it to the surface, waits for the redirect (exchanging the code on
// code-issuing flows), persists the token, and returns it. It blocks until
// the attempt reaches a terminal state. Cancelling ctx behaves like the
// rider dismissing the surface.
func (m *LoginManager) Login(ctx context.Context, scopes ScopeSet, surface Surface) (*AccessToken, error) {
	a, err := m.begin(ctx)
	if err != nil {
		return nil, err
	}

	authorizeURL, err := AuthorizeURL(m.cfg, m.flow, scopes)
	if err != nil {
		a.complete(nil, err)
		return nil, m.finish(a)
	}

	if m.flow == FlowImplicit && scopes.HasPrivileged() {
		m.logger.Warn("privileged scopes requested on the implicit flow",
			"attempt", a.id, "scopes", scopes.String())
	}

	m.logger.Info("login attempt started",
		"attempt", a.id, "flow", m.flow, "scopes", scopes.String())

	m.setState(StateAwaitingRedirect)
	go func() {
		if err := surface.Load(a.ctx, authorizeURL, &surfaceBridge{m: m, a: a}); err != nil {
			a.complete(nil, WrapError(err, CodeNotSupported, "present login surface"))
		}
	}()

	select {
	case <-ctx.Done():
		a.complete(nil, WrapError(ctx.Err(), CodeUserCancelled, "login cancelled"))
		<-a.done
	case <-a.done:
	}

	token := a.token
	if err := m.finish(a); err != nil {
		return nil, err
	}
	m.persist(ctx, a, token)
	return token, nil
}

// Logout deletes the persisted token, reporting whether one existed.
func (m *LoginManager) Logout(ctx context.Context) (bool, error) {
	if m.tokens == nil {
		return false, nil
	}
	existed, err := m.tokens.Delete(ctx)
	if err != nil {
		return false, err
	}
	if existed {
		m.logger.Info("stored token cleared", "flow", m.flow)
	}
	return existed, nil
}

// begin admits one attempt at a time.
func (m *LoginManager) begin(ctx context.Context) (*attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		return nil, NewError(CodeInvalidRequest, "login already in progress")
	}
	actx, cancel := context.WithCancel(ctx)
	a := &attempt{
		id:     uuid.NewString(),
		ctx:    actx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.active = a
	m.state = StatePresenting
	return a, nil
}

func (m *LoginManager) setState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
}

// finish records the terminal state and returns the attempt's error.
func (m *LoginManager) finish(a *attempt) error {
	terminal := StateSucceeded
	switch {
	case a.err == nil:
	case IsCode(a.err, CodeUserCancelled):
		terminal = StateCancelled
	default:
		terminal = StateFailed
	}

	m.mu.Lock()
	m.state = terminal
	m.active = nil
	m.mu.Unlock()

	m.metrics.RecordLoginAttempt(m.flow, string(terminal))
	if a.err != nil {
		m.logger.Info("login attempt finished",
			"attempt", a.id, "outcome", terminal, "error", a.err)
	} else {
		m.logger.Info("login attempt finished", "attempt", a.id, "outcome", terminal)
	}
	return a.err
}

// persist saves the delivered token. Failures are logged and swallowed;
// the rider is logged in whether or not the credential store cooperated.
func (m *LoginManager) persist(ctx context.Context, a *attempt, token *AccessToken) {
	if m.tokens == nil || token == nil {
		return
	}
	if err := m.tokens.Save(ctx, token); err != nil {
		m.logger.Error("persist token", "attempt", a.id, "error", err)
	}
}

// surfaceBridge adapts surface events onto one attempt.
type surfaceBridge struct {
	m *LoginManager
	a *attempt
}

// OnNavigation classifies a navigation against the active flow. Redirects
// for the flow are intercepted and consumed; redirects for a different
// registered flow fail the attempt; unsupported schemes are vetoed.
func (b *surfaceBridge) OnNavigation(u *url.URL) Decision {
	m, a := b.m, b.a
	if a.completed() {
		return DecisionCancel
	}

	if ShouldHandleRedirect(m.cfg, u, m.flow) {
		artifact, err := ParseRedirect(m.cfg, u, m.flow)
		switch {
		case err != nil:
			a.complete(nil, err)
		case artifact.Token != nil:
			a.complete(artifact.Token, nil)
		default:
			go b.exchange(artifact.Code)
		}
		return DecisionCancel
	}

	if _, ok := MatchFlow(m.cfg, u); ok {
		a.complete(nil, Errorf(CodeMismatchingRedirect,
			"redirect %q belongs to a different flow's callback", u.Redacted()))
		return DecisionCancel
	}

	if !supportedNavigationScheme(m.cfg, u, m.flow) {
		a.complete(nil, Errorf(CodeNotSupported, "navigation scheme %q is not supported", u.Scheme))
		return DecisionCancel
	}

	return DecisionAllow
}

// OnDismissed cancels the attempt, including any in-flight exchange.
func (b *surfaceBridge) OnDismissed() {
	b.a.complete(nil, NewError(CodeUserCancelled, "login surface dismissed"))
}

// exchange redeems an intercepted code under the attempt context, so a
// dismissal mid-exchange aborts the request.
func (b *surfaceBridge) exchange(code string) {
	m, a := b.m, b.a
	if m.exchanger == nil {
		a.complete(nil, NewError(CodeInvalidRequest, "flow delivered a code but no exchanger is configured"))
		return
	}
	start := time.Now()
	token, err := m.exchanger.ExchangeCode(a.ctx, code)
	m.metrics.ObserveExchangeLatency(time.Since(start))
	if err != nil {
		a.complete(nil, err)
		return
	}
	a.complete(token, nil)
}
