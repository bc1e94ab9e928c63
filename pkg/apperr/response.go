package apperr

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Respond writes err as a JSON error body. Errors without a kind are logged and reported as internal.
func Respond(c *gin.Context, logger *zap.Logger, err error) {
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError && logger != nil {
		logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.String("method", c.Request.Method),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{"code": Code(err), "error": err.Error()})
}

// BadRequest rejects a malformed request body or parameter
func BadRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"code": ErrInvalidArgument.Code, "error": message})
}
