// Package auth authorizes incoming DAP requests: bearer tokens presented by
// a Leader or Collector, and taskprov's bootstrap tokens for tasks that
// exist only because a report or aggregation request provisioned them
// in-band.
package auth

import "crypto/subtle"

// BearerToken is an opaque credential string. Equal always runs in constant
// time so that token comparisons feeding an authorization decision never
// leak timing information about where two tokens first differ.
type BearerToken struct {
	raw string
}

// NewBearerToken wraps a raw token string.
func NewBearerToken(raw string) BearerToken {
	return BearerToken{raw: raw}
}

// String returns the raw token value.
func (t BearerToken) String() string {
	return t.raw
}

// Empty reports whether the token carries no value, e.g. when a request had
// no Authorization header.
func (t BearerToken) Empty() bool {
	return t.raw == ""
}

// Equal reports whether t and other are the same token.
func (t BearerToken) Equal(other BearerToken) bool {
	return subtle.ConstantTimeCompare([]byte(t.raw), []byte(other.raw)) == 1
}
