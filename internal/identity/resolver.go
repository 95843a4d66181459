// Package identity resolves the authenticated actor from a bearer
// token. Resolution failures are folded into "not authenticated" so
// the tenant context can degrade instead of erroring.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ramon-gama/pesarq-ramon-teste-sub004/internal/tenant"
)

const defaultIssuer = "pesarq"

// Clock skew tolerated when validating issued-at.
const issuedAtSkew = 5 * time.Second

// ErrInvalidToken indicates the token failed validation.
var ErrInvalidToken = errors.New("identity: invalid token")

// Claims are the JWT claims this service issues and accepts.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Resolver validates HS256 bearer tokens carried on the request
// context. The signing secret and issuer are injected, never read from
// ambient process state.
type Resolver struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithIssuer overrides the expected token issuer.
func WithIssuer(issuer string) ResolverOption {
	return func(r *Resolver) {
		issuer = strings.TrimSpace(issuer)
		if issuer != "" {
			r.issuer = issuer
		}
	}
}

// WithClock overrides the time source (tests).
func WithClock(fn func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewResolver constructs a Resolver with the given signing secret.
func NewResolver(secret string, opts ...ResolverOption) (*Resolver, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("identity: signing secret is required")
	}
	r := &Resolver{
		secret: []byte(secret),
		issuer: defaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Resolve implements tenant.IdentityResolver. It reads the bearer
// token previously attached to the context and returns the actor it
// names, or nil when the request is not authenticated. It never
// returns an error for a bad token.
func (r *Resolver) Resolve(ctx context.Context) (*tenant.Actor, error) {
	token, ok := TokenFromContext(ctx)
	if !ok {
		return nil, nil
	}
	claims, err := r.Validate(token)
	if err != nil {
		return nil, nil
	}
	return &tenant.Actor{ID: claims.Subject, Email: claims.Email}, nil
}

// Validate verifies the token signature and required claims.
func (r *Resolver) Validate(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return r.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if err := r.validateClaims(claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// GenerateToken signs a token for the given actor. Used by seeding and
// operational tooling; the API itself does not mint tokens.
func (r *Resolver) GenerateToken(actorID, email string, ttl time.Duration) (string, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return "", errors.New("identity: actor id is required")
	}
	if ttl <= 0 {
		return "", errors.New("identity: ttl must be greater than zero")
	}
	now := r.now().UTC()
	claims := Claims{
		Email: strings.TrimSpace(strings.ToLower(email)),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    r.issuer,
			Subject:   actorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
	if err != nil {
		return "", fmt.Errorf("identity: sign token: %w", err)
	}
	return signed, nil
}

func (r *Resolver) validateClaims(claims *Claims) error {
	if claims.Issuer != r.issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	now := r.now().UTC()
	if now.After(claims.ExpiresAt.Time) {
		return errors.New("token expired")
	}
	if claims.NotBefore != nil && now.Before(claims.NotBefore.Time) {
		return errors.New("token not yet valid")
	}
	if claims.IssuedAt.Time.After(now.Add(issuedAtSkew)) {
		return errors.New("token issued in the future")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}

type ctxKey string

const (
	tokenKey ctxKey = "identity_token"
	actorKey ctxKey = "identity_actor"
)

// ContextWithToken stores the raw bearer token in the context for the
// resolver to pick up during tenant-context initialization.
func ContextWithToken(ctx context.Context, token string) context.Context {
	token = strings.TrimSpace(token)
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenKey, token)
}

// TokenFromContext returns the bearer token if one was attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(tokenKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// ContextWithActor stores the resolved actor in the context.
func ContextWithActor(ctx context.Context, actor tenant.Actor) context.Context {
	return context.WithValue(ctx, actorKey, &actor)
}

// ActorFromContext extracts the resolved actor from the context.
func ActorFromContext(ctx context.Context) (tenant.Actor, bool) {
	v, ok := ctx.Value(actorKey).(*tenant.Actor)
	if !ok || v == nil {
		return tenant.Actor{}, false
	}
	return *v, true
}
