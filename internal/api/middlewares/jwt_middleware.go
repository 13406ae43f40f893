package middlewares

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type ctxKey string

const (
	userIDKey ctxKey = "user_id"
	teamIDKey ctxKey = "team_id"
)

// WithIdentity stores an authenticated identity on the context, the same way
// JWTMiddleware does after verifying a token.
func WithIdentity(ctx context.Context, userID, teamID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, teamIDKey, teamID)
}

// UserID returns the authenticated user id stored by JWTMiddleware.
func UserID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(userIDKey).(string)
	return v, ok
}

// TeamID returns the authenticated team id stored by JWTMiddleware.
func TeamID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(teamIDKey).(string)
	return v, ok
}

// JWTMiddleware validates a bearer token signed with the shared secret and
// stores the user_id and team_id claims on the request context. Token
// issuance lives elsewhere; this service only verifies.
func JWTMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			tokenStr := strings.TrimPrefix(auth, "Bearer ")

			token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "invalid claims", http.StatusUnauthorized)
				return
			}
			userID, _ := claims["user_id"].(string)
			teamID, _ := claims["team_id"].(string)
			if userID == "" || teamID == "" {
				http.Error(w, "token missing identity claims", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), userID, teamID)))
		})
	}
}
