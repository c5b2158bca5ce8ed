package middleware

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// AuthConfig describes the bearer-token checks applied to gateway routes.
// Tokens are HMAC-signed JWTs carrying the rental scopes (rental.admin,
// rental.settle) in the scope claim.
type AuthConfig struct {
	Enabled        bool
	HMACSecret     string
	Issuer         string
	Audience       string
	ScopeClaim     string
	OptionalPaths  []string
	AllowAnonymous bool
	ClockSkew      time.Duration
}

type contextKey string

const (
	// ContextKeyToken carries the raw bearer token of an authenticated
	// request.
	ContextKeyToken contextKey = "rentchain.gateway.token"
	// ContextKeyScopes carries the scopes granted to the request.
	ContextKeyScopes contextKey = "rentchain.gateway.scopes"
)

// Authenticator validates bearer tokens and enforces per-route scopes.
type Authenticator struct {
	cfg    AuthConfig
	logger *log.Logger
	secret []byte
}

// NewAuthenticator builds an authenticator from the gateway configuration.
// The scope claim defaults to "scope" and the clock skew to two minutes.
func NewAuthenticator(cfg AuthConfig, logger *log.Logger) *Authenticator {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.ScopeClaim == "" {
		cfg.ScopeClaim = "scope"
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{
		cfg:    cfg,
		logger: logger,
		secret: []byte(strings.TrimSpace(cfg.HMACSecret)),
	}
}

// Middleware rejects requests lacking a valid token carrying every required
// scope. Paths listed as optional pass through when anonymous access is
// allowed.
func (a *Authenticator) Middleware(requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}
			if a.cfg.AllowAnonymous && a.isOptional(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			tokenString := extractBearer(r.Header.Get("Authorization"))
			if tokenString == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			claims, err := a.parseToken(tokenString)
			if err != nil {
				a.logger.Printf("auth: token rejected: %v", err)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			if err := a.validateClaims(claims); err != nil {
				a.logger.Printf("auth: claims rejected: %v", err)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			scopes := extractScopes(claims, a.cfg.ScopeClaim)
			if !hasScopes(scopes, requiredScopes) {
				http.Error(w, "insufficient scope", http.StatusForbidden)
				return
			}
			ctx := context.WithValue(r.Context(), ContextKeyToken, tokenString)
			ctx = context.WithValue(ctx, ContextKeyScopes, scopes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ScopesFromContext returns the scopes granted to the request, if any.
func ScopesFromContext(ctx context.Context) []string {
	scopes, _ := ctx.Value(ContextKeyScopes).([]string)
	return scopes
}

func (a *Authenticator) isOptional(path string) bool {
	for _, prefix := range a.cfg.OptionalPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (a *Authenticator) parseToken(tokenString string) (jwt.MapClaims, error) {
	if len(a.secret) == 0 {
		return nil, errors.New("hmac secret not configured")
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithLeeway(a.cfg.ClockSkew))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("unexpected claims shape")
	}
	return claims, nil
}

func (a *Authenticator) validateClaims(claims jwt.MapClaims) error {
	if a.cfg.Issuer != "" {
		if value, ok := claims["iss"].(string); !ok || value != a.cfg.Issuer {
			return errors.New("issuer mismatch")
		}
	}
	if a.cfg.Audience != "" && !audienceMatches(claims["aud"], a.cfg.Audience) {
		return errors.New("audience mismatch")
	}
	if exp, ok := claims["exp"].(float64); ok {
		if int64(exp) < time.Now().Add(-a.cfg.ClockSkew).Unix() {
			return errors.New("token expired")
		}
	}
	return nil
}

func audienceMatches(raw interface{}, audience string) bool {
	switch val := raw.(type) {
	case string:
		return val == audience
	case []interface{}:
		for _, entry := range val {
			if s, ok := entry.(string); ok && s == audience {
				return true
			}
		}
		return false
	default:
		// A token without an audience claim is accepted; only a mismatching
		// claim rejects.
		return raw == nil
	}
}

func extractScopes(claims jwt.MapClaims, scopeClaim string) []string {
	switch v := claims[scopeClaim].(type) {
	case string:
		return strings.Fields(v)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func hasScopes(scopes []string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		set[scope] = struct{}{}
	}
	for _, req := range required {
		if _, ok := set[req]; !ok {
			return false
		}
	}
	return true
}

func extractBearer(header string) string {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
