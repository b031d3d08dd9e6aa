package auth

import (
	"encoding/json"
	"slices"
	"strings"
)

// Scope is a single permission unit requested from the rider during login.
type Scope string

// Scopes accepted by the authorization service. Privileged scopes require an
// elevated app registration; general scopes are available to any registered
// application.
const (
	ScopeAllTrips       Scope = "all_trips"
	ScopeHistory        Scope = "history"
	ScopeHistoryLite    Scope = "history_lite"
	ScopePlaces         Scope = "places"
	ScopeProfile        Scope = "profile"
	ScopeRequest        Scope = "request"
	ScopeRequestReceipt Scope = "request_receipt"
	ScopeRideWidgets    Scope = "ride_widgets"
)

var privilegedScopes = map[Scope]bool{
	ScopeAllTrips:       true,
	ScopeRequest:        true,
	ScopeRequestReceipt: true,
}

// Privileged reports whether the scope needs an elevated app registration.
func (s Scope) Privileged() bool { return privilegedScopes[s] }

func (s Scope) String() string { return string(s) }

// ScopeSet is an unordered collection of scopes. Serialization is canonical:
// members are deduplicated and emitted in lexical order, so the output does
// not depend on how the set was built.
type ScopeSet map[Scope]struct{}

// NewScopeSet builds a set from the given scopes, dropping duplicates.
func NewScopeSet(scopes ...Scope) ScopeSet {
	set := make(ScopeSet, len(scopes))
	for _, s := range scopes {
		set[s] = struct{}{}
	}
	return set
}

// ParseScopes splits a space-delimited scope string into a set. Unknown
// identifiers are kept as-is so vocabulary newer than this build survives a
// round-trip.
func ParseScopes(raw string) ScopeSet {
	fields := strings.Fields(raw)
	set := make(ScopeSet, len(fields))
	for _, f := range fields {
		set[Scope(f)] = struct{}{}
	}
	return set
}

func (s ScopeSet) Add(scope Scope) { s[scope] = struct{}{} }

func (s ScopeSet) Contains(scope Scope) bool {
	_, ok := s[scope]
	return ok
}

func (s ScopeSet) Len() int { return len(s) }

func (s ScopeSet) Empty() bool { return len(s) == 0 }

// Scopes returns the members in canonical order.
func (s ScopeSet) Scopes() []Scope {
	out := make([]Scope, 0, len(s))
	for scope := range s {
		out = append(out, scope)
	}
	slices.Sort(out)
	return out
}

// String serializes the set as a single-space-delimited string in canonical
// order, the shape the authorization service expects in the scope parameter.
func (s ScopeSet) String() string {
	scopes := s.Scopes()
	parts := make([]string, len(scopes))
	for i, scope := range scopes {
		parts[i] = string(scope)
	}
	return strings.Join(parts, " ")
}

// Equal reports whether both sets hold exactly the same scopes.
func (s ScopeSet) Equal(other ScopeSet) bool {
	if len(s) != len(other) {
		return false
	}
	for scope := range s {
		if _, ok := other[scope]; !ok {
			return false
		}
	}
	return true
}

// HasPrivileged reports whether any member requires an elevated registration.
func (s ScopeSet) HasPrivileged() bool {
	for scope := range s {
		if scope.Privileged() {
			return true
		}
	}
	return false
}

// MarshalJSON encodes the set as its wire string.
func (s ScopeSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts the wire string form.
func (s *ScopeSet) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = ParseScopes(raw)
	return nil
}
