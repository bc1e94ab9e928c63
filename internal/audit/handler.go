package audit

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"yideng/edu-market/edu-market-backend/pkg/apperr"
)

type Handler struct {
	auditor *Auditor
	logger  *zap.Logger
}

func NewHandler(auditor *Auditor, logger *zap.Logger) *Handler {
	return &Handler{auditor: auditor, logger: logger}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/audit/supply", h.LastResult)
	rg.POST("/audit/supply", h.RunCheck)
}

// LastResult returns the latest scheduled result, checking now if none exists yet
func (h *Handler) LastResult(c *gin.Context) {
	if last := h.auditor.Last(); last != nil {
		c.JSON(http.StatusOK, last)
		return
	}
	h.RunCheck(c)
}

func (h *Handler) RunCheck(c *gin.Context) {
	result, err := h.auditor.Check(c.Request.Context())
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
