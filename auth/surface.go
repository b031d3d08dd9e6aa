package auth

import (
	"context"
	"net/url"
)

// Decision is the verdict a surface receives for a navigation event.
type Decision int

const (
	// DecisionAllow lets the surface follow the navigation.
	DecisionAllow Decision = iota
	// DecisionCancel stops the navigation; the SDK has intercepted it.
	DecisionCancel
)

func (d Decision) String() string {
	if d == DecisionCancel {
		return "cancel"
	}
	return "allow"
}

// SurfaceEvents is implemented by the SDK and handed to a Surface. The
// surface reports every navigation before following it and the moment the
// user dismisses it. Events may arrive from any goroutine.
type SurfaceEvents interface {
	OnNavigation(u *url.URL) Decision
	OnDismissed()
}

// Surface presents the authorization page to the rider. Load blocks until
// ctx ends; the login controller cancels ctx once the attempt reaches a
// terminal state. A non-nil error means the surface could not present at
// all.
type Surface interface {
	Load(ctx context.Context, authorizeURL *url.URL, events SurfaceEvents) error
}
