package history

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"yideng/edu-market/edu-market-backend/internal/chain"
	"yideng/edu-market/edu-market-backend/pkg/apperr"
)

type Handler struct {
	service *Service
	logger  *zap.Logger
}

func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	txs := rg.Group("/transactions")
	{
		txs.GET("", h.List)
		txs.GET("/:id", h.Get)
	}
}

func (h *Handler) List(c *gin.Context) {
	filters := Filters{Method: c.Query("method")}

	if account := c.Query("account"); account != "" {
		a, err := chain.ParseAddress(account)
		if err != nil {
			apperr.BadRequest(c, err.Error())
			return
		}
		filters.Account = a.String()
	}
	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			apperr.BadRequest(c, "since must be an RFC3339 timestamp")
			return
		}
		filters.Since = &t
	}
	filters.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "0"))
	filters.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	page, err := h.service.List(c.Request.Context(), filters)
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		apperr.BadRequest(c, "invalid id")
		return
	}
	tx, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}
