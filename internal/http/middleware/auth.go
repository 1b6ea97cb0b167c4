package middleware

import (
	"net/http"
	"strings"

	"sacco/internal/domain"
	"sacco/internal/services"

	"github.com/gin-gonic/gin"
)

const callerKey = "caller"

// Auth requires a valid bearer token and stores the caller in the context.
func Auth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token", "request_id": GetRequestID(c)})
			return
		}
		caller, err := services.ParseToken(secret, strings.TrimSpace(raw))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "request_id": GetRequestID(c)})
			return
		}
		c.Set(callerKey, caller)
		c.Next()
	}
}

// RequireStaff lets only finance/admin roles through.
func RequireStaff() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !GetCaller(c).IsStaff() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "finance role required", "request_id": GetRequestID(c)})
			return
		}
		c.Next()
	}
}

func GetCaller(c *gin.Context) domain.RequestContext {
	if v, ok := c.Get(callerKey); ok {
		if rc, ok := v.(domain.RequestContext); ok {
			return rc
		}
	}
	return domain.RequestContext{}
}
