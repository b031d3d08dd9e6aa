package auth

import (
	"net/url"

	"golang.org/x/oauth2"
)

// AuthorizeURL constructs the authorization URL for a flow. Web flows
// target <login-host>/oauth/authorize; the native flow produces the rider
// app's connect deeplink carrying the same query. Parameter order is not
// part of the contract; tests and callers must treat the set as unordered.
func AuthorizeURL(cfg *Config, flow FlowType, scopes ScopeSet) (*url.URL, error) {
	if !flow.Valid() {
		return nil, Errorf(CodeInvalidRequest, "unsupported flow type %q", flow)
	}
	if cfg.ClientID == "" {
		return nil, NewError(CodeInvalidClientID, "client_id is not configured")
	}
	if cfg.AppName == "" {
		return nil, NewError(CodeInvalidRequest, "app_name is not configured")
	}
	redirect := cfg.CallbackURI(flow)
	if redirect == "" {
		return nil, Errorf(CodeInvalidRedirectURI, "no callback URI registered for %s flow", flow)
	}

	q := url.Values{}
	q.Set("scope", scopes.String())
	q.Set("client_id", cfg.ClientID)
	q.Set("app_name", cfg.AppName)
	q.Set("redirect_uri", redirect)
	q.Set("login_type", cfg.loginType())
	q.Set("sdk", platformSDK)
	q.Set("sdk_version", Version)
	if rt := flow.ResponseType(); rt != "" {
		q.Set("response_type", rt)
	}

	if flow == FlowNative {
		return &url.URL{Scheme: cfg.NativeScheme, Host: "connect", RawQuery: q.Encode()}, nil
	}

	base, err := url.Parse(cfg.loginHost())
	if err != nil {
		return nil, WrapError(err, CodeInvalidRequest, "parse login host")
	}
	base.Path = authorizePath
	base.RawQuery = q.Encode()
	return base, nil
}

// Endpoint returns the oauth2 endpoint for the configured region, honoring
// the login host override. The token exchanger builds its oauth2.Config
// from this.
func Endpoint(cfg *Config) oauth2.Endpoint {
	host := cfg.loginHost()
	return oauth2.Endpoint{
		AuthURL:  host + authorizePath,
		TokenURL: host + tokenPath,
	}
}
