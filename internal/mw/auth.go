package mw

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const StaffCtxKey contextKey = "staff_id"

// StaffID returns the authenticated staff member, or "" when the request
// was not authenticated.
func StaffID(ctx context.Context) string {
	id, _ := ctx.Value(StaffCtxKey).(string)
	return id
}

// bearerToken reads the Authorization header. Browsers cannot set headers on
// websocket upgrades, so a token query parameter is accepted as well.
func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if token := r.URL.Query().Get("token"); token != "" {
			return token, nil
		}
		return "", errors.New("unauthorized")
	}

	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", errors.New("invalid token format")
	}
	return token, nil
}

// staffFromClaims accepts the staff id under "staff_id", "user_id" or the
// standard subject claim.
func staffFromClaims(claims jwt.MapClaims) (string, bool) {
	for _, key := range []string{"staff_id", "user_id"} {
		if id, ok := claims[key].(string); ok && id != "" {
			return id, true
		}
	}
	sub, err := claims.GetSubject()
	return sub, err == nil && sub != ""
}

// AuthMiddleware verifies HS256 bearer tokens issued by the staff login
// service and stores the staff id in the request context.
func AuthMiddleware(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := bearerToken(r)
			if err != nil {
				unauthorized(w, err.Error())
				return
			}

			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
				return []byte(jwtSecret), nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !token.Valid {
				unauthorized(w, "invalid or expired token")
				return
			}

			staffID, ok := staffFromClaims(claims)
			if !ok {
				unauthorized(w, "staff id not found in token")
				return
			}

			ctx := context.WithValue(r.Context(), StaffCtxKey, staffID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message, "kind": "unauthorized"})
}
