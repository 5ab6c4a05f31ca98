package webserver

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "tmux-control"

var errNoToken = errors.New("no bearer token")

// IssueAccessToken signs an HS256 token for username that expires after ttl.
func IssueAccessToken(secret, username string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ValidateAccessToken checks signature, issuer and expiry and returns the
// username the token was issued to.
func ValidateAccessToken(secret, tokenStr string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenStr, &claims,
		func(*jwt.Token) (any, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// GenerateRefreshToken returns 32 random bytes, hex encoded.
func GenerateRefreshToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

type contextKey string

const usernameKey contextKey = "username"

// requestUser returns the authenticated username, or "" when auth is off.
func requestUser(r *http.Request) string {
	u, _ := r.Context().Value(usernameKey).(string)
	return u
}

// bearerToken reads the Authorization header. Browsers cannot set headers
// on EventSource or WebSocket requests, so ?token= is accepted as well.
func bearerToken(r *http.Request) (string, error) {
	if tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && tok != "" {
		return tok, nil
	}
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok, nil
	}
	return "", errNoToken
}

// jwtMiddleware rejects requests without a valid access token. Paths
// starting with one of public pass through.
func jwtMiddleware(secret string, public []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, p := range public {
			if strings.HasPrefix(r.URL.Path, p) {
				next.ServeHTTP(w, r)
				return
			}
		}
		tok, err := bearerToken(r)
		if err == nil {
			var user string
			if user, err = ValidateAccessToken(secret, tok); err == nil {
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), usernameKey, user)))
				return
			}
		}
		w.Header().Set("WWW-Authenticate", `Bearer realm="tmux-control"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})
}
