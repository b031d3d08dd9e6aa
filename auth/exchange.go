package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// Exchanger swaps an authorization code for an access token.
type Exchanger interface {
	ExchangeCode(ctx context.Context, code string) (*AccessToken, error)
}

// Refresher obtains a fresh access token from a refresh token.
type Refresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*AccessToken, error)
}

// OAuthClient talks to the authorization service's token endpoint. It
// implements Exchanger and Refresher for one flow's registered callback.
// The SDK is a public client; credentials travel in the request body, not
// a client-secret header.
type OAuthClient struct {
	cfg    *Config
	flow   FlowType
	oauth  *oauth2.Config
	client *http.Client
	logger *slog.Logger
}

// NewOAuthClient builds the token-endpoint client for a flow. A nil hc
// selects a default client with tuned transport timeouts.
func NewOAuthClient(cfg *Config, flow FlowType, hc *http.Client, logger *slog.Logger) (*OAuthClient, error) {
	if !flow.Valid() {
		return nil, Errorf(CodeInvalidRequest, "unsupported flow type %q", flow)
	}
	redirect := cfg.CallbackURI(flow)
	if redirect == "" {
		return nil, Errorf(CodeInvalidRedirectURI, "no callback URI registered for %s flow", flow)
	}
	if hc == nil {
		hc = defaultHTTPClient()
	}

	endpoint := Endpoint(cfg)
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	return &OAuthClient{
		cfg:  cfg,
		flow: flow,
		oauth: &oauth2.Config{
			ClientID:    cfg.ClientID,
			RedirectURL: redirect,
			Endpoint:    endpoint,
		},
		client: hc,
		logger: logger,
	}, nil
}

// ExchangeCode redeems an authorization code. The redirect URI sent with
// the exchange is the one the code was issued against.
func (c *OAuthClient) ExchangeCode(ctx context.Context, code string) (*AccessToken, error) {
	if code == "" {
		return nil, NewError(CodeInvalidRequest, "authorization code required")
	}
	start := time.Now()
	tok, err := c.oauth.Exchange(c.withHTTPClient(ctx), code)
	if err != nil {
		return nil, c.mapTokenEndpointError(err, "exchange authorization code")
	}
	c.logger.Debug("code exchange complete", "flow", c.flow, "elapsed", time.Since(start))
	return c.convertToken(tok), nil
}

// RefreshToken redeems a refresh token for a new access token.
func (c *OAuthClient) RefreshToken(ctx context.Context, refreshToken string) (*AccessToken, error) {
	if refreshToken == "" {
		return nil, NewError(CodeInvalidRequest, "refresh token required")
	}
	src := c.oauth.TokenSource(c.withHTTPClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, c.mapTokenEndpointError(err, "refresh token")
	}
	c.logger.Debug("token refresh complete", "flow", c.flow)
	return c.convertToken(tok), nil
}

func (c *OAuthClient) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.client)
}

// convertToken normalizes the oauth2 response. A response without a
// lifetime falls back to the token's own exp claim when it has one.
func (c *OAuthClient) convertToken(tok *oauth2.Token) *AccessToken {
	token := &AccessToken{
		Token:        tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if token.ExpiresAt.IsZero() {
		token.ExpiresAt = tokenExpiry(tok.AccessToken)
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		token.Scopes = ParseScopes(scope)
	}
	return token
}

// mapTokenEndpointError classifies token-endpoint failures. OAuth error
// codes go through the same closed table as redirect errors; anything that
// never reached the service is a network error.
func (c *OAuthClient) mapTokenEndpointError(err error, op string) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		if rerr.ErrorCode != "" {
			code := MapRedirectError(rerr.ErrorCode, !c.cfg.UnauthorizedAsUnknown)
			return WrapError(err, code, fmt.Sprintf("%s: service rejected the request (%s)", op, rerr.ErrorCode))
		}
		return WrapError(err, CodeServerError, fmt.Sprintf("%s: service returned HTTP %d", op, rerr.Response.StatusCode))
	}
	return WrapError(err, CodeNetworkError, op)
}

func defaultHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}
