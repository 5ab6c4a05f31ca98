package webserver

import (
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func parseTTL(s string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return def
}

func (s *Server) accessTTL() time.Duration  { return parseTTL(s.cfg.Auth.AccessTokenTTL, 15*time.Minute) }
func (s *Server) refreshTTL() time.Duration { return parseTTL(s.cfg.Auth.RefreshTokenTTL, 7*24*time.Hour) }

// issueTokens writes a fresh access/refresh pair for the account.
func (s *Server) issueTokens(w http.ResponseWriter, accountID, username string) {
	access, err := IssueAccessToken(s.cfg.Auth.JWTSecret, username, s.accessTTL())
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	refresh, err := GenerateRefreshToken()
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	if err := s.store.CreateRefreshToken(refresh, accountID, time.Now().Add(s.refreshTTL())); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"access_token":  access,
		"refresh_token": refresh,
	})
}

// authEnabled answers 404 when no secret is configured and 503 when there
// is no account store.
func (s *Server) authEnabled(w http.ResponseWriter) bool {
	switch {
	case s.cfg.Auth.JWTSecret == "":
		http.Error(w, "auth disabled", http.StatusNotFound)
	case s.store == nil:
		http.Error(w, "no account store", http.StatusServiceUnavailable)
	default:
		return true
	}
	return false
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.authEnabled(w) {
		return
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	acc, err := s.store.GetAccountByUsername(req.Username)
	if err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(req.Password)) != nil {
		s.logger.Warn("webserver: failed login", "username", req.Username, "remote", r.RemoteAddr)
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	s.issueTokens(w, acc.ID, acc.Username)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !s.authEnabled(w) {
		return
	}
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	rt, err := s.store.GetRefreshToken(req.RefreshToken)
	if err != nil {
		http.Error(w, "invalid refresh token", http.StatusUnauthorized)
		return
	}
	// Tokens are single use.
	s.store.DeleteRefreshToken(rt.Token)
	if time.Now().After(rt.ExpiresAt) {
		http.Error(w, "refresh token expired", http.StatusUnauthorized)
		return
	}
	acc, err := s.store.GetAccount(rt.AccountID)
	if err != nil {
		http.Error(w, "invalid refresh token", http.StatusUnauthorized)
		return
	}
	s.issueTokens(w, acc.ID, acc.Username)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if !s.authEnabled(w) {
		return
	}
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if err := s.store.DeleteRefreshToken(req.RefreshToken); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
