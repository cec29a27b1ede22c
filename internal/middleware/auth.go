package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"prototype-versions-backend/internal/models"
)

const (
	UserIDKey  = "user_id"
	IsAdminKey = "is_admin"
)

const adminRole = "admin"

// AuthMiddleware verifies Supabase-issued HS256 bearer tokens and stores the
// caller's id (the "sub" claim) and admin role on the gin context.
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "missing authorization header", "")
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			abortUnauthorized(c, "invalid authorization header format", "")
			return
		}

		tokenString := strings.TrimSpace(parts[1])
		if tokenString == "" {
			abortUnauthorized(c, "empty token", "")
			return
		}

		// Some clients URL-encode the token
		if decoded, err := url.QueryUnescape(tokenString); err == nil {
			tokenString = decoded
		}

		claims := jwt.MapClaims{}
		token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if jwtSecret == "" {
				return nil, jwt.ErrSignatureInvalid
			}
			// Supabase JWT secret is used directly as the signing key
			return []byte(jwtSecret), nil
		})
		if err != nil || !token.Valid {
			abortUnauthorized(c, "invalid token", tokenErrorMessage(err))
			return
		}

		sub, _ := claims["sub"].(string)
		if _, err := uuid.Parse(sub); err != nil {
			abortUnauthorized(c, "missing user id in token", "")
			return
		}

		c.Set(UserIDKey, sub)
		c.Set(IsAdminKey, hasAdminRole(claims))
		c.Next()
	}
}

// UserID returns the authenticated caller, or uuid.Nil when the request
// did not pass through AuthMiddleware.
func UserID(c *gin.Context) uuid.UUID {
	id, err := uuid.Parse(c.GetString(UserIDKey))
	if err != nil {
		return uuid.Nil
	}
	return id
}

func IsAdmin(c *gin.Context) bool {
	return c.GetBool(IsAdminKey)
}

// hasAdminRole accepts the role from app_metadata (where Supabase keeps
// server-controlled fields) or a top-level role claim.
func hasAdminRole(claims jwt.MapClaims) bool {
	if meta, ok := claims["app_metadata"].(map[string]interface{}); ok {
		if role, _ := meta["role"].(string); role == adminRole {
			return true
		}
	}
	role, _ := claims["role"].(string)
	return role == adminRole
}

func tokenErrorMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case strings.Contains(err.Error(), "signature is invalid"):
		return "token signature is invalid - check JWT secret"
	case strings.Contains(err.Error(), "token is expired"):
		return "token has expired"
	case strings.Contains(err.Error(), "signing method"):
		return "token must use HS256 algorithm"
	case strings.Contains(err.Error(), "malformed"):
		return "token is malformed - ensure you're using a valid Supabase JWT token"
	default:
		return err.Error()
	}
}

func abortUnauthorized(c *gin.Context, errText, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{Error: errText, Message: message})
}
