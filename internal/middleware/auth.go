package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ridepool/ridepool-backend/pkg/utils"
)

// AuthMiddleware validates the session token and stashes the caller's id and
// type on the request context. The token comes from the Authorization header,
// or from the token query parameter for WebSocket upgrades where browsers
// cannot set headers.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c.GetHeader("Authorization"))
		if tokenString == "" {
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			c.JSON(401, gin.H{"error": "Authorization required"})
			c.Abort()
			return
		}

		claims, err := utils.TokenClaims(tokenString)
		if err != nil {
			c.JSON(401, gin.H{"error": "Invalid token"})
			c.Abort()
			return
		}
		id, ok := claims["id"].(float64)
		if !ok {
			c.JSON(401, gin.H{"error": "Invalid token claims"})
			c.Abort()
			return
		}
		userType, _ := claims["userType"].(string)

		c.Set("userId", uint(id))
		c.Set("userType", userType)
		c.Next()
	}
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && parts[0] == "Bearer" {
		return parts[1]
	}
	return ""
}
