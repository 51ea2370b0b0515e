// Package auth turns the Authorization header into a caller identity.
//
// The bearer token is not verified: its literal value is the user identifier
// and the partition key for every stored entry. Verification, if it is ever
// added, belongs behind the Verifier interface.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

// ErrNoToken is returned by a Verifier when there is no usable identifier.
var ErrNoToken = errors.New("no authorization token provided")

// Principal is the identity of a caller.
type Principal struct {
	UserID string
}

// Authenticated reports whether the principal carries an identity.
func (p Principal) Authenticated() bool {
	return p.UserID != ""
}

// FromHeader derives a principal from an Authorization header value.
// A single leading "Bearer " is removed; anything else is used verbatim.
// A missing header, or one that leaves an empty identifier, yields no
// principal. HTTP parsers trim trailing spaces, so a bare "Bearer" is the
// wire form of "Bearer " and is treated the same way.
func FromHeader(value string, present bool) (Principal, bool) {
	if !present || value == strings.TrimSpace(bearerPrefix) {
		return Principal{}, false
	}
	id := strings.TrimPrefix(value, bearerPrefix)
	if id == "" {
		return Principal{}, false
	}
	return Principal{UserID: id}, true
}

// FromRequest derives a principal from the request's Authorization header.
func FromRequest(r *http.Request) (Principal, bool) {
	values, present := r.Header["Authorization"]
	if !present || len(values) == 0 {
		return Principal{}, false
	}
	return FromHeader(values[0], true)
}

// Verifier checks a raw token and returns the principal it identifies.
type Verifier interface {
	Verify(ctx context.Context, token string) (Principal, error)
}

// Passthrough accepts every non-empty token as its own identity.
type Passthrough struct{}

func (Passthrough) Verify(_ context.Context, token string) (Principal, error) {
	if token == "" {
		return Principal{}, ErrNoToken
	}
	return Principal{UserID: token}, nil
}

type principalKey struct{}

// WithPrincipal stores p in the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored in ctx, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	if !ok || !p.Authenticated() {
		return Principal{}, false
	}
	return p, true
}
