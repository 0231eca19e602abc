/**
 * @description
 * This file contains custom middleware for the HTTP router. The admin API is
 * protected by a shared-secret JWT: the dashboard signs an HS256 token with a
 * role=admin claim, and this middleware validates it and places the admin's
 * identity on the request context so mutations can be attributed in the audit
 * log.
 *
 * @dependencies
 * - context, net/http, strings: Standard Go libraries.
 * - github.com/golang-jwt/jwt/v5: For token parsing and validation.
 */

package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// AdminContextKey is a custom type for the context key to avoid collisions.
type AdminContextKey string

const adminUserIDKey AdminContextKey = "adminUserID"

// AdminAuthMiddleware creates a middleware that validates admin JWT tokens
// signed with the shared HS256 secret.
func AdminAuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "Invalid token claims", http.StatusUnauthorized)
				return
			}

			if role, ok := claims["role"].(string); !ok || role != "admin" {
				http.Error(w, "Admin role required", http.StatusForbidden)
				return
			}

			userID, ok := claims["sub"].(string)
			if !ok || userID == "" {
				http.Error(w, "User ID not found in token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), adminUserIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAdminUserID retrieves the authenticated admin's ID from the request
// context. Handlers use it to attribute mutations in the audit log.
func GetAdminUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(adminUserIDKey).(string)
	return userID, ok
}
