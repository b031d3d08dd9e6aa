package auth

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

// refreshLeeway is how far ahead of expiry the source refreshes, so a
// token handed to a caller does not lapse mid-request.
const refreshLeeway = 30 * time.Second

// TokenSource hands out a valid access token from the store, refreshing
// ahead of expiry. Concurrent callers share one refresh; the refreshed
// token is persisted back to the store.
type TokenSource struct {
	tokens    TokenStore
	refresher Refresher
	metrics   *Metrics
	logger    *slog.Logger
	sf        singleflight.Group
}

// NewTokenSource builds a source over the stored credential. A nil
// refresher disables refreshing; expired tokens then surface as errors.
func NewTokenSource(tokens TokenStore, refresher Refresher, metrics *Metrics, logger *slog.Logger) *TokenSource {
	return &TokenSource{
		tokens:    tokens,
		refresher: refresher,
		metrics:   metrics,
		logger:    logger,
	}
}

// Token returns a token expected to outlive the leeway window. A missing
// or unrefreshable expired credential reports the expired-session code so
// hosts know to run Login again.
func (s *TokenSource) Token(ctx context.Context) (*AccessToken, error) {
	current, err := s.tokens.Fetch(ctx)
	if err != nil {
		return nil, WrapError(err, CodeUnknown, "read stored token")
	}
	if current == nil {
		return nil, NewError(CodeTokenExpired, "no stored token; login required")
	}
	if !current.ExpiresWithin(refreshLeeway) {
		return current, nil
	}

	if s.refresher == nil || current.RefreshToken == "" {
		if current.Expired() {
			return nil, NewError(CodeTokenExpired, "stored token expired and cannot be refreshed")
		}
		return current, nil
	}

	fresh, err := s.refresh(ctx, current)
	if err != nil {
		// A token inside the leeway window is still honored upstream;
		// prefer it over failing the caller outright.
		if !current.Expired() {
			s.logger.Warn("token refresh failed, serving current token", "error", err)
			return current, nil
		}
		return nil, err
	}
	return fresh, nil
}

// Invalidate drops the stored token, forcing the next Token call to fail
// until a new login completes.
func (s *TokenSource) Invalidate(ctx context.Context) error {
	_, err := s.tokens.Delete(ctx)
	return err
}

func (s *TokenSource) refresh(ctx context.Context, current *AccessToken) (*AccessToken, error) {
	v, err, _ := s.sf.Do("refresh", func() (any, error) {
		fresh, err := s.refresher.RefreshToken(ctx, current.RefreshToken)
		if err != nil {
			s.metrics.RecordTokenRefresh("failed")
			return nil, err
		}
		if fresh.RefreshToken == "" {
			// Providers that do not rotate refresh tokens omit them
			// from the response; keep using the current one.
			fresh.RefreshToken = current.RefreshToken
		}
		if err := s.tokens.Save(ctx, fresh); err != nil {
			s.logger.Error("persist refreshed token", "error", err)
		}
		s.metrics.RecordTokenRefresh("succeeded")
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*AccessToken), nil
}
