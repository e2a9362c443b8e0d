package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fleet-monitor/geostream/internal/auth"
)

const operatorKey = "operator"

type AuthMiddleware struct {
	auth *auth.Authenticator
}

func NewAuthMiddleware(a *auth.Authenticator) *AuthMiddleware {
	return &AuthMiddleware{auth: a}
}

// Handle rejects requests without a valid key. Browsers cannot set headers
// on a websocket upgrade, so the key may also arrive as ?api_key=.
func (m *AuthMiddleware) Handle(c *gin.Context) {
	apiKey := c.GetHeader("X-API-Key")
	if apiKey == "" {
		apiKey = c.Query("api_key")
	}
	if apiKey == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing X-API-Key header"})
		return
	}

	operator, ok := m.auth.Validate(c.Request.Context(), apiKey)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
		return
	}

	c.Set(operatorKey, operator)
	c.Next()
}
