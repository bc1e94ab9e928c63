package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"yideng/edu-market/edu-market-backend/internal/chain"
)

const callerKey = "caller"

// Middleware resolves the bearer token, when present, into the request caller.
// Requests without a token pass through; handlers that need a caller use RequireCaller.
func Middleware(issuer *Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "Unauthenticated", "error": "bearer token required"})
			return
		}
		account, err := issuer.Parse(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "Unauthenticated", "error": err.Error()})
			return
		}
		c.Set(callerKey, account)
		c.Next()
	}
}

// CallerFrom returns the authenticated account of the request
func CallerFrom(c *gin.Context) (chain.Address, bool) {
	v, ok := c.Get(callerKey)
	if !ok {
		return "", false
	}
	account, ok := v.(chain.Address)
	return account, ok
}

// RequireCaller returns the caller or aborts the request with 401
func RequireCaller(c *gin.Context) (chain.Address, bool) {
	account, ok := CallerFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "Unauthenticated", "error": "authorization header required"})
		return "", false
	}
	return account, true
}
