package rpc

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// AdminScope must appear in the token's scope claim to reach /v1/admin.
const AdminScope = "market:admin"

const defaultClockSkew = 2 * time.Minute

// AdminAuth configures HMAC-signed bearer tokens for operator endpoints.
// Admin routes are not mounted without a secret.
type AdminAuth struct {
	HMACSecret string
	Issuer     string
	Audience   string
	ClockSkew  time.Duration
}

func (a AdminAuth) enabled() bool { return strings.TrimSpace(a.HMACSecret) != "" }

type authenticator struct {
	secret []byte
	parser *jwt.Parser
}

func newAuthenticator(cfg AdminAuth) *authenticator {
	skew := cfg.ClockSkew
	if skew <= 0 {
		skew = defaultClockSkew
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithLeeway(skew),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &authenticator{
		secret: []byte(strings.TrimSpace(cfg.HMACSecret)),
		parser: jwt.NewParser(opts...),
	}
}

var (
	errMissingBearer = errors.New("missing bearer token")
	errMissingScope  = errors.New("token lacks " + AdminScope + " scope")
)

func (a *authenticator) authorize(r *http.Request) error {
	raw := extractBearer(r.Header.Get("Authorization"))
	if raw == "" {
		return errMissingBearer
	}
	claims := jwt.MapClaims{}
	if _, err := a.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}); err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}
	if !hasScope(claims["scope"], AdminScope) {
		return errMissingScope
	}
	return nil
}

// middleware answers 401 for missing or invalid tokens and 403 for tokens
// without the admin scope.
func (a *authenticator) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.authorize(r); err != nil {
			status, code := http.StatusUnauthorized, "Unauthenticated"
			if errors.Is(err, errMissingScope) {
				status, code = http.StatusForbidden, "InsufficientScope"
			}
			writeError(w, r, status, code, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractBearer(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// hasScope accepts a space-separated string or a JSON array.
func hasScope(raw any, want string) bool {
	switch v := raw.(type) {
	case string:
		for _, scope := range strings.Fields(v) {
			if scope == want {
				return true
			}
		}
	case []any:
		for _, entry := range v {
			if s, ok := entry.(string); ok && s == want {
				return true
			}
		}
	}
	return false
}
