// Package auth implements the optional bearer-token gate in front of the
// upload and query routes.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/jwtauth"
	"github.com/tendant/simple-upload/pkg/simpleupload"
)

// Principal is the authenticated caller.
type Principal struct {
	Subject string
}

type contextKey string

const principalKey contextKey = "principal"

// Gate verifies HS256 signed JWT bearer tokens.
type Gate struct {
	ja     *jwtauth.JWTAuth
	logger *slog.Logger
}

// NewGate creates a gate verifying tokens signed with secret.
func NewGate(secret string, logger *slog.Logger) (*Gate, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		ja:     jwtauth.New("HS256", []byte(secret), nil),
		logger: logger,
	}, nil
}

// Verify checks credential and returns the principal named by its subject
// claim. Every failure wraps simpleupload.ErrUnauthorized.
func (g *Gate) Verify(credential string) (Principal, error) {
	if credential == "" {
		return Principal{}, fmt.Errorf("%w: %w", simpleupload.ErrUnauthorized, jwtauth.ErrNoTokenFound)
	}

	token, err := jwtauth.VerifyToken(g.ja, credential)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", simpleupload.ErrUnauthorized, err)
	}
	if token == nil || token.Subject() == "" {
		return Principal{}, fmt.Errorf("%w: token has no subject", simpleupload.ErrUnauthorized)
	}
	return Principal{Subject: token.Subject()}, nil
}

// IssueToken signs a token for subject that expires after ttl.
func (g *Gate) IssueToken(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := map[string]interface{}{
		"sub": subject,
		"iat": now.UTC().Unix(),
		"exp": now.Add(ttl).UTC().Unix(),
	}
	_, tokenString, err := g.ja.Encode(claims)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// Middleware rejects requests without a valid token with 401. The token is
// read from the Authorization header, or from the jwt query parameter for
// clients that cannot set headers such as browser websockets and links.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credential := jwtauth.TokenFromHeader(r)
		if credential == "" {
			credential = jwtauth.TokenFromQuery(r)
		}

		principal, err := g.Verify(credential)
		if err != nil {
			g.logger.Debug("Rejected request", "path", r.URL.Path, "err", err)
			writeUnauthorized(w)
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// PrincipalFromContext returns the principal stored by Middleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="simple-upload"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"code":    "unauthorized",
			"message": "Authentication required",
		},
	})
}
