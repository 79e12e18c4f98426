package middleware

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

// AppClaims is the identity token minted by the main application when it
// opens the realtime channel. Subject carries the numeric user id; Name is
// the display name shown to other editors.
type AppClaims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// NewAuthMiddleware binds the already-authenticated identity to the
// request. The coordinator performs no credential checks of its own: a
// valid token from the identity provider is required, and a connection
// without one is rejected before the upgrade.
//
// Browsers cannot set headers on a WebSocket handshake, so the token is
// read from the session cookie first and the 'token' query parameter as a
// fallback.
func NewAuthMiddleware(logger *slog.Logger, jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			var tokenString string
			if cookie, err := r.Cookie("session-token"); err == nil {
				tokenString = cookie.Value
			}
			if tokenString == "" {
				tokenString = r.URL.Query().Get("token")
			}
			if tokenString == "" {
				logger.Warn("Handshake missing identity token", "ip", reqMeta.IP)
				http.Error(w, "Missing token", http.StatusUnauthorized)
				return
			}

			token, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(jwtSecret), nil
			})
			if err != nil || !token.Valid {
				logger.Warn("Invalid identity token presented", "ip", reqMeta.IP, slog.Any("error", err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(*AppClaims)
			if !ok {
				logger.Error("Failed to parse identity claims", slog.Any("ip", reqMeta.IP))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			userID, err := strconv.ParseInt(claims.Subject, 10, 64)
			if err != nil || userID <= 0 {
				logger.Warn("Token 'sub' claim is not a valid user id", "ip", reqMeta.IP)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			displayName := claims.Name
			if displayName == "" {
				displayName = claims.Subject
			}

			reqMeta.Identity.UserID = userID
			reqMeta.Identity.DisplayName = displayName
			next.ServeHTTP(w, r)
		})
	}
}
