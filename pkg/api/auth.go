package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// integrationAuth guards the HMS callback endpoints with an HS256 bearer
// token signed by the shared integration secret.
func (s *Server) integrationAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.JWTSecret == "" {
			WriteUnauthorized(w, "integration authentication not configured")
			return
		}

		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			WriteUnauthorized(w, "missing bearer token")
			return
		}

		token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(s.deps.JWTSecret), nil
		}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
		if err != nil || !token.Valid {
			s.logger.Warn("integration token rejected", "error", err)
			WriteUnauthorized(w, "invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// adminAuth guards queue administration with an API key checked against a
// bcrypt hash. No configured hash means no admin access.
func (s *Server) adminAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.AdminKeyHash == "" {
			WriteUnauthorized(w, "admin access not configured")
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" {
			WriteUnauthorized(w, "missing API key")
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(s.deps.AdminKeyHash), []byte(key)); err != nil {
			WriteUnauthorized(w, "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}
