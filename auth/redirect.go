package auth

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Artifact is the product of a successful redirect: an authorization code
// for query-based flows, or a complete token for fragment-based flows.
// Exactly one field is set.
type Artifact struct {
	Code  string
	Token *AccessToken
}

// ShouldHandleRedirect reports whether u is the callback registered for
// exactly this flow: scheme and host compare case-insensitively, the path
// exactly. A flow without a registered callback never matches, and a URI
// registered under a different flow does not answer for this one even when
// the raw strings collide.
func ShouldHandleRedirect(cfg *Config, u *url.URL, flow FlowType) bool {
	if u == nil {
		return false
	}
	registered := cfg.CallbackURI(flow)
	if registered == "" {
		return false
	}
	expected, err := url.Parse(registered)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, expected.Scheme) &&
		strings.EqualFold(u.Host, expected.Host) &&
		u.Path == expected.Path
}

// MatchFlow returns the first flow whose registered callback matches u, in
// fixed dispatch order.
func MatchFlow(cfg *Config, u *url.URL) (FlowType, bool) {
	for _, flow := range flowTypes {
		if ShouldHandleRedirect(cfg, u, flow) {
			return flow, true
		}
	}
	return "", false
}

// ParseRedirect extracts the authorization artifact from a callback URL:
// the code from the query string for general and authorization_code flows,
// the token from the fragment for native and implicit. Provider-reported
// error strings map through the closed code table; a success-shaped
// redirect with no artifact is CodeInvalidResponse.
func ParseRedirect(cfg *Config, u *url.URL, flow FlowType) (*Artifact, error) {
	if u == nil {
		return nil, NewError(CodeInvalidResponse, "no redirect URL")
	}
	if !flow.Valid() {
		return nil, Errorf(CodeInvalidRequest, "unsupported flow type %q", flow)
	}
	if flow.usesFragment() {
		vals, err := url.ParseQuery(u.Fragment)
		if err != nil {
			return nil, WrapError(err, CodeInvalidResponse, "parse redirect fragment")
		}
		return parseTokenValues(cfg, vals)
	}
	return parseCodeValues(cfg, u.Query())
}

func parseCodeValues(cfg *Config, vals url.Values) (*Artifact, error) {
	if raw := vals.Get("error"); raw != "" {
		return nil, redirectError(cfg, raw)
	}
	code := vals.Get("code")
	if code == "" {
		return nil, NewError(CodeInvalidResponse, "redirect carries neither code nor error")
	}
	return &Artifact{Code: code}, nil
}

func parseTokenValues(cfg *Config, vals url.Values) (*Artifact, error) {
	if raw := vals.Get("error"); raw != "" {
		return nil, redirectError(cfg, raw)
	}
	raw := vals.Get("access_token")
	if raw == "" {
		return nil, NewError(CodeInvalidResponse, "redirect fragment carries neither access_token nor error")
	}

	token := &AccessToken{
		Token:        raw,
		RefreshToken: vals.Get("refresh_token"),
	}
	if v := vals.Get("expires_in"); v != "" {
		secs, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, WrapError(err, CodeInvalidResponse, "parse expires_in")
		}
		token.ExpiresAt = time.Now().Add(time.Duration(secs) * time.Second)
	} else {
		token.ExpiresAt = tokenExpiry(raw)
	}
	if v := vals.Get("scope"); v != "" {
		token.Scopes = ParseScopes(v)
	}
	return &Artifact{Token: token}, nil
}

func redirectError(cfg *Config, raw string) *Error {
	code := MapRedirectError(raw, !cfg.UnauthorizedAsUnknown)
	return Errorf(code, "authorization service reported %q", raw)
}

// supportedNavigationScheme reports whether the surface may follow a
// navigation to u during the flow: plain http(s), or the scheme of the
// flow's own registered callback. Anything else (tel:, mailto:, app store
// links) must be vetoed.
func supportedNavigationScheme(cfg *Config, u *url.URL, flow FlowType) bool {
	scheme := strings.ToLower(u.Scheme)
	if scheme == "http" || scheme == "https" {
		return true
	}
	if registered := cfg.CallbackURI(flow); registered != "" {
		if expected, err := url.Parse(registered); err == nil && strings.EqualFold(u.Scheme, expected.Scheme) {
			return true
		}
	}
	return false
}
