package rest

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
)

func jwtAuth(secret string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := extractToken(r)
			if tokenString == "" {
				writeError(w, http.StatusUnauthorized, "missing authorization token")
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				writeError(w, http.StatusUnauthorized, "invalid token claims")
				return
			}
			userID, ok := claims["user_id"].(string)
			if !ok || userID == "" {
				writeError(w, http.StatusUnauthorized, "invalid token claims")
				return
			}

			if pathUser, ok := mux.Vars(r)["userID"]; ok && pathUser != userID {
				writeError(w, http.StatusForbidden, "token does not belong to this user")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractToken reads the Authorization header, falling back to the token
// query parameter for browser WebSocket clients that cannot set headers.
func extractToken(r *http.Request) string {
	bearerToken := r.Header.Get("Authorization")
	if strings.HasPrefix(bearerToken, "Bearer ") {
		return strings.TrimPrefix(bearerToken, "Bearer ")
	}

	return r.URL.Query().Get("token")
}
