package main

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/akhdaniel/vendorchain/pkg/config"
	"github.com/akhdaniel/vendorchain/pkg/httpx"

	"github.com/golang-jwt/jwt/v5"
)

type ctxKey string

const userKey ctxKey = "user"

type claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

type authenticator struct {
	secret []byte
	expire time.Duration
	users  []config.User
	now    func() time.Time
}

func newAuthenticator(cfg config.AuthConfig, users []config.User) *authenticator {
	return &authenticator{
		secret: []byte(cfg.JWTSecret),
		expire: time.Duration(cfg.TokenExpireHours) * time.Hour,
		users:  users,
		now:    time.Now,
	}
}

func (a *authenticator) issueToken(username, role string) (string, error) {
	now := a.now()
	c := claims{
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.expire)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(a.secret)
}

func (a *authenticator) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}
	var user *config.User
	for i := range a.users {
		if a.users[i].Username == req.Username {
			user = &a.users[i]
			break
		}
	}
	if user == nil || subtle.ConstantTimeCompare([]byte(user.Password), []byte(req.Password)) != 1 {
		httpx.WriteError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid username or password", nil)
		return
	}
	token, err := a.issueToken(user.Username, user.Role)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "bearer",
		"expires_in":   int(a.expire.Seconds()),
	})
}

func (a *authenticator) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			httpx.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token", nil)
			return
		}
		raw := strings.TrimPrefix(header, "Bearer ")
		var c claims
		token, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
			if t.Method != jwt.SigningMethodHS256 {
				return nil, jwt.ErrSignatureInvalid
			}
			return a.secret, nil
		}, jwt.WithTimeFunc(a.now))
		if err != nil || !token.Valid {
			httpx.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, c.Username)))
	})
}

func userFrom(ctx context.Context) string {
	if u, ok := ctx.Value(userKey).(string); ok {
		return u
	}
	return ""
}
