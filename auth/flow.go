package auth

// FlowType selects one of the four supported authorization mechanisms. It
// decides which registered callback URI applies, whether a response_type
// parameter is sent, and whether the redirect result arrives in the query
// string or the URL fragment.
type FlowType string

const (
	// FlowGeneral is the default web login; the redirect carries an
	// authorization code in the query string.
	FlowGeneral FlowType = "general"
	// FlowNative hands off to the installed rider app, which returns an
	// access token in the redirect fragment.
	FlowNative FlowType = "native"
	// FlowAuthorizationCode is the explicit response_type=code flow for
	// apps that exchange the code themselves.
	FlowAuthorizationCode FlowType = "authorization_code"
	// FlowImplicit is the response_type=token flow; the access token is
	// delivered in the redirect fragment.
	FlowImplicit FlowType = "implicit"
)

// flowTypes lists every flow in classifier dispatch order.
var flowTypes = []FlowType{FlowGeneral, FlowNative, FlowAuthorizationCode, FlowImplicit}

func (f FlowType) String() string { return string(f) }

// Valid reports whether f is one of the four supported flows.
func (f FlowType) Valid() bool {
	switch f {
	case FlowGeneral, FlowNative, FlowAuthorizationCode, FlowImplicit:
		return true
	}
	return false
}

// ResponseType returns the response_type parameter for the flow, or the
// empty string when the flow does not send one.
func (f FlowType) ResponseType() string {
	switch f {
	case FlowAuthorizationCode:
		return "code"
	case FlowImplicit:
		return "token"
	}
	return ""
}

// usesFragment reports whether the flow delivers its result in the URL
// fragment rather than the query string.
func (f FlowType) usesFragment() bool {
	return f == FlowNative || f == FlowImplicit
}
