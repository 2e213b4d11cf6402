package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

const (
	contextUserID  = "user_id"
	contextEmail   = "email"
	contextIsAdmin = "is_admin"
)

type claims struct {
	Email   string `json:"email"`
	IsAdmin bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// JWTAuth extracts the bearer token, verifies it and stores the user
// identity in the request context.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			tokenString, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || tokenString == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}

			token, err := jwt.ParseWithClaims(tokenString, &claims{}, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			parsed, ok := token.Claims.(*claims)
			if !ok || parsed.Subject == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token claims")
			}

			c.Set(contextUserID, parsed.Subject)
			c.Set(contextEmail, parsed.Email)
			c.Set(contextIsAdmin, parsed.IsAdmin)
			return next(c)
		}
	}
}

// RequireAdmin rejects requests whose token does not carry the admin flag.
// Must run after JWTAuth.
func RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !IsAdmin(c) {
				return echo.NewHTTPError(http.StatusForbidden, "admin access required")
			}
			return next(c)
		}
	}
}

func UserID(c echo.Context) string {
	id, _ := c.Get(contextUserID).(string)
	return id
}

func Email(c echo.Context) string {
	email, _ := c.Get(contextEmail).(string)
	return email
}

func IsAdmin(c echo.Context) bool {
	admin, _ := c.Get(contextIsAdmin).(bool)
	return admin
}
