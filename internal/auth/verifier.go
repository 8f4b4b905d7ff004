// Package auth verifies bearer tokens presented by collaborators.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/codecollab/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// TokenCookieName is the cookie the web client stores its token in.
const TokenCookieName = "token"

var (
	// ErrMissing means no token was supplied.
	ErrMissing = errors.New("auth: token missing")
	// ErrInvalid means the token failed signature, algorithm, expiry or claim checks.
	ErrInvalid = errors.New("auth: token invalid")
	// ErrRevoked means the token was blacklisted, e.g. by logout.
	ErrRevoked = errors.New("auth: token revoked")
)

// Revocations reports whether a token has been blacklisted.
type Revocations interface {
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// Verifier validates HMAC-signed JWTs carrying an email claim.
type Verifier struct {
	secret  []byte
	revoked Revocations
	leeway  time.Duration
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithLeeway tolerates clock skew when checking exp/nbf/iat.
func WithLeeway(d time.Duration) Option {
	return func(v *Verifier) { v.leeway = d }
}

// NewVerifier creates a verifier. revoked may be nil when no blacklist exists.
func NewVerifier(secret string, revoked Revocations, opts ...Option) *Verifier {
	v := &Verifier{secret: []byte(secret), revoked: revoked}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

type claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Verify checks token and returns the identity it carries.
func (v *Verifier) Verify(ctx context.Context, token string) (domain.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Identity{}, ErrMissing
	}

	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !parsed.Valid {
		return domain.Identity{}, ErrInvalid
	}
	if c.Email == "" {
		return domain.Identity{}, fmt.Errorf("%w: email claim missing", ErrInvalid)
	}

	if v.revoked != nil {
		revoked, err := v.revoked.IsRevoked(ctx, token)
		if err != nil {
			return domain.Identity{}, fmt.Errorf("%w: revocation lookup: %v", ErrInvalid, err)
		}
		if revoked {
			return domain.Identity{}, ErrRevoked
		}
	}

	return domain.Identity{Email: c.Email, Subject: c.Subject}, nil
}

// ExpiresAt returns the expiry of a token without verifying it. Used to bound
// how long a revocation entry must be kept.
func ExpiresAt(token string) (time.Time, bool) {
	var c claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
		return time.Time{}, false
	}
	if c.ExpiresAt == nil {
		return time.Time{}, false
	}
	return c.ExpiresAt.Time, true
}

// Reason maps a verification error to its short client-facing code.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrMissing):
		return "Missing"
	case errors.Is(err, ErrRevoked):
		return "Revoked"
	case errors.Is(err, ErrInvalid):
		return "Invalid"
	default:
		return ""
	}
}

// TokenFromRequest extracts a bearer token from the Authorization header, the
// token query parameter or the token cookie, in that order.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, value, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(value)
		}
	}
	if q := r.URL.Query().Get("token"); q != "" {
		return q
	}
	if c, err := r.Cookie(TokenCookieName); err == nil {
		return c.Value
	}
	return ""
}

type contextKey int

const (
	identityKey contextKey = iota
	tokenKey
)

// WithIdentity stores a verified identity in ctx.
func WithIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext extracts the identity stored by WithIdentity.
func IdentityFromContext(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(identityKey).(domain.Identity)
	return id, ok
}

// WithToken stores the raw bearer token in ctx, e.g. so logout can revoke it.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey, token)
}

// TokenFromContext extracts the token stored by WithToken.
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey).(string)
	return token
}
