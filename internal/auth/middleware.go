package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// ChiMiddleware creates a Chi middleware for JWT authentication.
// Browsers cannot set headers on WebSocket upgrades, so an access_token
// query parameter is accepted when no Authorization header is sent.
func (c *JWTConfig) ChiMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := requestToken(r)
			if err != nil {
				writeAuthError(w, ErrMissingToken)
				return
			}

			claims, err := c.ValidateToken(tokenString)
			if err != nil {
				var authErr *AuthError
				if errors.As(err, &authErr) {
					writeAuthError(w, authErr)
					return
				}
				writeAuthError(w, ErrInvalidToken)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func requestToken(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		return ExtractTokenFromHeader(header)
	}
	if token := r.URL.Query().Get("access_token"); token != "" {
		return token, nil
	}
	return "", ErrMissingToken
}

// writeAuthError writes an authentication error response
func writeAuthError(w http.ResponseWriter, authErr *AuthError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(authErr.Status)

	response := map[string]interface{}{
		"error":     authErr.Message,
		"code":      authErr.Code,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	_ = json.NewEncoder(w).Encode(response)
}
