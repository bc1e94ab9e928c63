package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"yideng/edu-market/edu-market-backend/internal/chain"
	"yideng/edu-market/edu-market-backend/pkg/apperr"
)

type Handler struct {
	manager *Manager
	logger  *zap.Logger
}

func NewHandler(manager *Manager, logger *zap.Logger) *Handler {
	return &Handler{manager: manager, logger: logger}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	events := rg.Group("/events")
	{
		events.GET("/ws", h.ServeWS)
		events.GET("/connections", h.Connections)
	}
}

// ServeWS streams committed transactions. ?account= follows a single account.
func (h *Handler) ServeWS(c *gin.Context) {
	var account chain.Address
	if raw := c.Query("account"); raw != "" {
		a, err := chain.ParseAddress(raw)
		if err != nil {
			apperr.BadRequest(c, err.Error())
			return
		}
		account = a
	}
	conn, err := h.manager.HandleConnection(c.Writer, c.Request, account)
	if err != nil {
		// the upgrader has already written the response
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	h.logger.Debug("Websocket connected",
		zap.String("connection_id", conn.ID),
		zap.String("account", account.String()))
}

func (h *Handler) Connections(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"count":       h.manager.GetConnectionCount(),
		"connections": h.manager.GetConnectionInfo(),
	})
}
