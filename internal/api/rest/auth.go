package rest

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RoleAdmin may flush the whole analytics cache
const RoleAdmin = "admin"

// Claims are the JWT claims issued by the outreach application
type Claims struct {
	jwt.RegisteredClaims
	CompanyID string `json:"company_id"`
	Role      string `json:"role,omitempty"`
}

// Principal is the authenticated caller
type Principal struct {
	Subject   string
	CompanyID string
	Role      string
}

// IsAdmin reports whether the caller may run admin operations
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// PrincipalFromContext returns the caller set by the auth middleware
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKeyPrincipal).(Principal)
	return p, ok
}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKeyPrincipal, p)
}

// Authenticator validates HS256 bearer tokens
type Authenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewAuthenticator returns nil when no secret is configured, which disables authentication
func NewAuthenticator(secret, issuer string) *Authenticator {
	if secret == "" {
		return nil
	}
	return &Authenticator{secret: []byte(secret), issuer: issuer, now: time.Now}
}

var (
	errMissingToken   = errors.New("missing bearer token")
	errMissingCompany = errors.New("token has no company_id claim")
)

// Verify parses and validates a raw token
func (a *Authenticator) Verify(raw string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if claims.CompanyID == "" {
		return nil, errMissingCompany
	}
	return claims, nil
}

// GenerateToken issues a token for the given tenant, used by tooling and tests
func (a *Authenticator) GenerateToken(subject, companyID, role string, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
		CompanyID: companyID,
		Role:      role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errMissingToken
	}
	return strings.TrimSpace(token), nil
}

// Middleware rejects requests without a valid token. A nil Authenticator lets
// every request through unscoped.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	if a == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		span := trace.SpanFromContext(r.Context())

		raw, err := bearerToken(r)
		if err != nil {
			writeFailure(w, http.StatusUnauthorized, "Authorization required", "UNAUTHORIZED", "unauthorized")
			return
		}

		claims, err := a.Verify(raw)
		if err != nil {
			span.RecordError(err)
			writeFailure(w, http.StatusUnauthorized, "Invalid or expired token", "UNAUTHORIZED", "unauthorized")
			return
		}

		span.SetAttributes(
			attribute.String("enduser.id", claims.Subject),
			attribute.String("tenant.id", claims.CompanyID),
		)

		ctx := withPrincipal(r.Context(), Principal{
			Subject:   claims.Subject,
			CompanyID: claims.CompanyID,
			Role:      claims.Role,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin only admits admin principals. Without authentication configured it admits everyone.
func (a *Authenticator) RequireAdmin(next http.Handler) http.Handler {
	if a == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok || !p.IsAdmin() {
			writeFailure(w, http.StatusForbidden, "Insufficient permissions", "FORBIDDEN", "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
