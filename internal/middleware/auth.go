package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "medipredict-backend/pkg/errors"
	"medipredict-backend/pkg/jwt"
	"medipredict-backend/pkg/logger"
	"medipredict-backend/pkg/response"
)

// RevocationChecker defines interface for checking if a token is revoked (blacklisted)
type RevocationChecker interface {
	// IsTokenRevoked checks if a JWT token has been revoked/blacklisted
	IsTokenRevoked(ctx context.Context, tokenString string) (bool, error)
}

// AuthMiddleware validates the bearer token and sets participant_id and role
// in the Gin context. Browsers cannot set headers on a WebSocket handshake, so
// the token is also accepted from the access_token query parameter.
// With required=false a request without any token passes through anonymously;
// a token that is present must still be valid.
func AuthMiddleware(jwtManager *jwt.JWTManager, revocationChecker RevocationChecker, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			response.FromError(c, apperrors.UnauthorizedError("Invalid authorization header format"))
			c.Abort()
			return
		}
		if tokenString == "" {
			if required {
				response.FromError(c, apperrors.UnauthorizedError("Authorization required"))
				c.Abort()
				return
			}
			c.Next()
			return
		}

		claims, err := jwtManager.ValidateToken(tokenString)
		if err != nil {
			logger.FromContext(c.Request.Context()).Debug("Token rejected", zap.Error(err))
			response.FromError(c, apperrors.InvalidTokenError("Invalid token"))
			c.Abort()
			return
		}

		if revocationChecker != nil {
			revoked, err := revocationChecker.IsTokenRevoked(c.Request.Context(), tokenString)
			if err != nil {
				// Fail-open: the signature already verified, revocation is best-effort
				logger.Warn("Token revocation check failed, allowing request", zap.Error(err))
			} else if revoked {
				response.FromError(c, apperrors.InvalidTokenError("Token revoked"))
				c.Abort()
				return
			}
		}

		c.Set("participant_id", claims.ParticipantID())
		c.Set("role", claims.Role)
		c.Next()
	}
}

// bearerToken returns the token from the Authorization header or the
// access_token query parameter. ok is false for a malformed header.
func bearerToken(c *gin.Context) (token string, ok bool) {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return "", false
		}
		return parts[1], true
	}
	return c.Query("access_token"), true
}
