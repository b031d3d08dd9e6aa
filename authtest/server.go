// Package authtest provides an in-process fake of the platform login
// service. Tests and demos point Config.LoginHost at a Server and drive the
// real authorize and token endpoints without network access or a registered
// application. The fake records every request it sees for assertions.
package authtest

import (
	"encoding/json"
	"html/template"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/uber/rides-go-sdk/auth"
)

const (
	defaultClientID = "testClientID"
	defaultTokenTTL = time.Hour
	codeTTL         = 5 * time.Minute
)

// TokenResponse is the JSON body the token endpoint returns.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// grant is a one-time authorization code awaiting redemption.
type grant struct {
	clientID    string
	redirectURI string
	scope       string
	expiresAt   time.Time
}

// pendingAuth is an authorize request parked behind the consent page.
type pendingAuth struct {
	params    url.Values
	createdAt time.Time
}

// Server fakes the login service's /oauth/authorize and /oauth/token
// endpoints. Construct with NewServer, point the SDK's LoginHost at URL,
// and Close when done. All methods are safe for concurrent use.
type Server struct {
	// URL is the base address of the running fake, e.g. http://127.0.0.1:PORT.
	URL string

	clientID    string
	grantScopes auth.ScopeSet
	tokenTTL    time.Duration
	consent     bool

	mu          sync.Mutex
	codes       map[string]grant
	refreshes   map[string]string
	pending     map[string]pendingAuth
	authorize   []url.Values
	tokens      []url.Values
	nextAuthErr string
	nextTokErr  string

	httpSrv *httptest.Server
}

// Option configures the fake service.
type Option func(*Server)

// WithClientID sets the client id the fake accepts. Requests carrying any
// other id are rejected with invalid_client_id.
func WithClientID(id string) Option {
	return func(s *Server) { s.clientID = id }
}

// WithGrantedScopes overrides the scopes the fake grants. By default it
// grants exactly what was requested.
func WithGrantedScopes(scopes auth.ScopeSet) Option {
	return func(s *Server) { s.grantScopes = scopes }
}

// WithTokenTTL sets the lifetime of issued tokens.
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Server) { s.tokenTTL = ttl }
}

// WithConsentPage disables auto-approval: authorize requests render an
// approve/deny form instead of redirecting immediately.
func WithConsentPage() Option {
	return func(s *Server) { s.consent = true }
}

// NewServer starts a fake login service on a local listener.
func NewServer(opts ...Option) *Server {
	s := &Server{
		clientID:  defaultClientID,
		tokenTTL:  defaultTokenTTL,
		codes:     make(map[string]grant),
		refreshes: make(map[string]string),
		pending:   make(map[string]pendingAuth),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.httpSrv = httptest.NewServer(s.routes())
	s.URL = s.httpSrv.URL
	return s
}

// Close shuts the fake down and releases its listener.
func (s *Server) Close() {
	s.httpSrv.Close()
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/oauth/authorize", s.handleAuthorize)
	r.Post("/oauth/authorize/{id}/decision", s.handleDecision)
	r.Post("/oauth/token", s.handleToken)
	return r
}

// FailAuthorize forces the next authorize request to redirect back with the
// given error string instead of an artifact.
func (s *Server) FailAuthorize(errCode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAuthErr = errCode
}

// FailToken forces the next token request to fail with the given OAuth
// error string.
func (s *Server) FailToken(errCode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTokErr = errCode
}

// AuthorizeRequests returns a copy of every authorize query received so far.
func (s *Server) AuthorizeRequests() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]url.Values, len(s.authorize))
	for i, vals := range s.authorize {
		out[i] = cloneValues(vals)
	}
	return out
}

// TokenRequests returns a copy of every token-endpoint form received so far.
func (s *Server) TokenRequests() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]url.Values, len(s.tokens))
	for i, vals := range s.tokens {
		out[i] = cloneValues(vals)
	}
	return out
}

func cloneValues(in url.Values) url.Values {
	out := make(url.Values, len(in))
	for k, vals := range in {
		cp := make([]string, len(vals))
		copy(cp, vals)
		out[k] = cp
	}
	return out
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	s.mu.Lock()
	s.authorize = append(s.authorize, cloneValues(query))
	forced := s.nextAuthErr
	s.nextAuthErr = ""
	s.mu.Unlock()

	redirectURI := query.Get("redirect_uri")
	fragment := query.Get("response_type") == "token"

	if redirectURI == "" {
		writeOAuthError(w, "invalid_request", "redirect_uri missing")
		return
	}
	if forced != "" {
		redirectError(w, r, redirectURI, fragment, forced)
		return
	}
	if id := query.Get("client_id"); id != s.clientID {
		redirectError(w, r, redirectURI, fragment, "invalid_client_id")
		return
	}
	if query.Get("scope") == "" {
		redirectError(w, r, redirectURI, fragment, "invalid_request")
		return
	}

	if s.consent {
		id := uuid.NewString()
		s.mu.Lock()
		s.pending[id] = pendingAuth{params: cloneValues(query), createdAt: time.Now()}
		s.mu.Unlock()
		s.renderConsent(w, id, query)
		return
	}

	s.approve(w, r, query)
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	id := chi.URLParam(r, "id")
	s.mu.Lock()
	pend, ok := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	query := pend.params
	redirectURI := query.Get("redirect_uri")
	fragment := query.Get("response_type") == "token"

	if r.FormValue("action") != "approve" {
		redirectError(w, r, redirectURI, fragment, "access_denied")
		return
	}
	s.approve(w, r, query)
}

// approve issues the flow's artifact: a one-time code in the query string,
// or a complete token in the fragment for response_type=token.
func (s *Server) approve(w http.ResponseWriter, r *http.Request, query url.Values) {
	redirectURI := query.Get("redirect_uri")
	scope := s.grantedScope(query.Get("scope"))

	if query.Get("response_type") == "token" {
		resp := s.mintToken(scope)
		vals := url.Values{}
		vals.Set("access_token", resp.AccessToken)
		vals.Set("token_type", resp.TokenType)
		vals.Set("expires_in", strconv.FormatInt(resp.ExpiresIn, 10))
		vals.Set("refresh_token", resp.RefreshToken)
		vals.Set("scope", resp.Scope)
		redirectFragment(w, r, redirectURI, vals)
		return
	}

	code := uuid.NewString()
	s.mu.Lock()
	s.codes[code] = grant{
		clientID:    query.Get("client_id"),
		redirectURI: redirectURI,
		scope:       scope,
		expiresAt:   time.Now().Add(codeTTL),
	}
	s.mu.Unlock()

	target, err := url.Parse(redirectURI)
	if err != nil {
		writeOAuthError(w, "invalid_request", "redirect_uri unparseable")
		return
	}
	vals := target.Query()
	vals.Set("code", code)
	if state := query.Get("state"); state != "" {
		vals.Set("state", state)
	}
	target.RawQuery = vals.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, "invalid_request", "invalid form")
		return
	}

	s.mu.Lock()
	s.tokens = append(s.tokens, cloneValues(r.PostForm))
	forced := s.nextTokErr
	s.nextTokErr = ""
	s.mu.Unlock()

	if forced != "" {
		writeOAuthError(w, forced, "forced failure")
		return
	}

	switch r.FormValue("grant_type") {
	case "authorization_code":
		s.handleTokenCode(w, r)
	case "refresh_token":
		s.handleTokenRefresh(w, r)
	default:
		writeOAuthError(w, "invalid_request", "unsupported_grant_type")
	}
}

func (s *Server) handleTokenCode(w http.ResponseWriter, r *http.Request) {
	code := r.FormValue("code")

	s.mu.Lock()
	g, ok := s.codes[code]
	delete(s.codes, code)
	s.mu.Unlock()

	if !ok || time.Now().After(g.expiresAt) {
		writeOAuthError(w, "invalid_grant", "code invalid or expired")
		return
	}
	if g.clientID != r.FormValue("client_id") {
		writeOAuthError(w, "invalid_grant", "client mismatch")
		return
	}
	if g.redirectURI != r.FormValue("redirect_uri") {
		writeOAuthError(w, "invalid_grant", "redirect_uri mismatch")
		return
	}

	writeJSON(w, s.mintToken(g.scope))
}

func (s *Server) handleTokenRefresh(w http.ResponseWriter, r *http.Request) {
	refresh := r.FormValue("refresh_token")
	if refresh == "" {
		writeOAuthError(w, "invalid_request", "missing refresh_token")
		return
	}

	s.mu.Lock()
	scope, ok := s.refreshes[refresh]
	if ok {
		delete(s.refreshes, refresh)
	}
	s.mu.Unlock()

	if !ok {
		writeOAuthError(w, "invalid_grant", "refresh token unknown")
		return
	}

	writeJSON(w, s.mintToken(scope))
}

// mintToken issues a fresh token pair and remembers the refresh token for
// later redemption. Refresh tokens rotate on every use.
func (s *Server) mintToken(scope string) TokenResponse {
	access := "at-" + uuid.NewString()
	refresh := "rt-" + uuid.NewString()

	s.mu.Lock()
	s.refreshes[refresh] = scope
	s.mu.Unlock()

	return TokenResponse{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.tokenTTL / time.Second),
		RefreshToken: refresh,
		Scope:        scope,
	}
}

func (s *Server) grantedScope(requested string) string {
	if s.grantScopes != nil {
		return s.grantScopes.String()
	}
	return requested
}

var consentTemplate = template.Must(template.New("consent").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Sign In</title>
<style>
body { font-family: Arial, sans-serif; margin: 2rem auto; max-width: 480px; color: #1d1d1f; }
h1 { font-size: 1.4rem; }
ul { background: #f5f5f5; padding: 1rem 2rem; border-radius: 8px; }
button { padding: 0.6rem 1.2rem; font-size: 1rem; cursor: pointer; margin-right: 0.5rem; }
</style>
</head>
<body>
<h1>{{.AppName}} wants to access your account</h1>
<ul>
{{range .Scopes}}<li>{{.}}</li>
{{end}}</ul>
<form method="post" action="/oauth/authorize/{{.ID}}/decision">
  <button type="submit" name="action" value="approve">Allow</button>
  <button type="submit" name="action" value="deny">Deny</button>
</form>
</body>
</html>
`))

type consentView struct {
	ID      string
	AppName string
	Scopes  []auth.Scope
}

func (s *Server) renderConsent(w http.ResponseWriter, id string, query url.Values) {
	view := consentView{
		ID:      id,
		AppName: query.Get("app_name"),
		Scopes:  auth.ParseScopes(query.Get("scope")).Scopes(),
	}
	if view.AppName == "" {
		view.AppName = "An application"
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := consentTemplate.Execute(w, view); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// redirectError sends the provider error string back on the redirect URI,
// in the query for code flows and the fragment for token flows.
func redirectError(w http.ResponseWriter, r *http.Request, redirectURI string, fragment bool, errCode string) {
	target, err := url.Parse(redirectURI)
	if err != nil {
		writeOAuthError(w, errCode, "redirect_uri unparseable")
		return
	}
	if fragment {
		target.Fragment = "error=" + errCode
	} else {
		vals := target.Query()
		vals.Set("error", errCode)
		target.RawQuery = vals.Encode()
	}
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func redirectFragment(w http.ResponseWriter, r *http.Request, redirectURI string, vals url.Values) {
	target, err := url.Parse(redirectURI)
	if err != nil {
		writeOAuthError(w, "invalid_request", "redirect_uri unparseable")
		return
	}
	target.Fragment = vals.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeOAuthError(w http.ResponseWriter, code, desc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "error_description": desc})
}

