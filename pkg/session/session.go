// Package session resolves the signed-in admin once per session and carries
// it through context.Context.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

var (
	// ErrNoSession is returned when the context carries no admin.
	ErrNoSession = errors.New("no admin session")
	// ErrNotAdmin is returned for identities outside the allow-list.
	ErrNotAdmin = errors.New("not an admin")
	// ErrInvalidToken is returned when a session token fails verification.
	ErrInvalidToken = errors.New("invalid session token")
)

const (
	// DefaultTTL is the lifetime of an issued session token.
	DefaultTTL = 12 * time.Hour

	tokenIssuer = "admindash"
)

// Admin is the identity of the signed-in administrator.
type Admin struct {
	IssuedAt  time.Time
	ExpiresAt time.Time
	Email     string
}

// AllowList is the set of admin emails, compared case-insensitively.
type AllowList struct {
	emails map[string]struct{}
}

// ParseAllowList parses a comma-separated list of emails. Blank entries are
// ignored.
func ParseAllowList(s string) AllowList {
	a := AllowList{emails: make(map[string]struct{})}
	for _, e := range strings.Split(s, ",") {
		if e = normalize(e); e != "" {
			a.emails[e] = struct{}{}
		}
	}
	return a
}

// IsAdmin reports whether email is on the list.
func (a AllowList) IsAdmin(email string) bool {
	_, ok := a.emails[normalize(email)]
	return ok
}

// Emails returns the sorted list entries.
func (a AllowList) Emails() []string {
	out := make([]string, 0, len(a.emails))
	for e := range a.emails {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Config holds settings for an Issuer.
type Config struct {
	Clock  clockwork.Clock // nil = real clock
	Secret []byte          // HMAC key, required
	Admins AllowList
	TTL    time.Duration // zero = DefaultTTL
}

// Issuer signs and verifies HS256 session tokens for allow-listed admins.
type Issuer struct {
	clock  clockwork.Clock
	secret []byte
	admins AllowList
	ttl    time.Duration
}

type claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// NewIssuer creates an issuer from cfg.
func NewIssuer(cfg Config) (*Issuer, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("session secret is required")
	}
	i := &Issuer{clock: cfg.Clock, secret: cfg.Secret, admins: cfg.Admins, ttl: cfg.TTL}
	if i.clock == nil {
		i.clock = clockwork.NewRealClock()
	}
	if i.ttl <= 0 {
		i.ttl = DefaultTTL
	}
	return i, nil
}

// Issue signs a session token for email.
func (i *Issuer) Issue(email string) (string, error) {
	if !i.admins.IsAdmin(email) {
		return "", fmt.Errorf("%s: %w", email, ErrNotAdmin)
	}
	now := i.clock.Now()
	c := claims{
		Email: normalize(email),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   normalize(email),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}
	return token, nil
}

// Verify checks the token signature and expiry, and re-checks the allow-list
// so that removing an email revokes its outstanding sessions.
func (i *Issuer) Verify(token string) (Admin, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.clock.Now),
	)
	if err != nil {
		return Admin{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !i.admins.IsAdmin(c.Email) {
		return Admin{}, fmt.Errorf("%s: %w", c.Email, ErrNotAdmin)
	}

	a := Admin{Email: c.Email}
	if c.IssuedAt != nil {
		a.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		a.ExpiresAt = c.ExpiresAt.Time
	}
	return a, nil
}

type ctxKey struct{}

// WithAdmin returns a context carrying a.
func WithAdmin(ctx context.Context, a Admin) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

// FromContext returns the admin carried by ctx.
func FromContext(ctx context.Context) (Admin, bool) {
	a, ok := ctx.Value(ctxKey{}).(Admin)
	return a, ok && a.Email != ""
}

// Require returns the admin carried by ctx or ErrNoSession.
func Require(ctx context.Context) (Admin, error) {
	a, ok := FromContext(ctx)
	if !ok {
		return Admin{}, ErrNoSession
	}
	return a, nil
}
