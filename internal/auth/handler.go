package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"yideng/edu-market/edu-market-backend/internal/chain"
	"yideng/edu-market/edu-market-backend/pkg/apperr"
)

type Handler struct {
	issuer *Issuer
	logger *zap.Logger
}

func NewHandler(issuer *Issuer, logger *zap.Logger) *Handler {
	return &Handler{issuer: issuer, logger: logger}
}

// RegisterRoutes registers the development token endpoint
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	authGroup := rg.Group("/auth")
	{
		authGroup.POST("/token", h.IssueToken)
		authGroup.GET("/me", h.Me)
	}
}

type tokenRequest struct {
	// Account is a hex address. Seed derives one from a label instead.
	Account string `json:"account"`
	Seed    string `json:"seed"`
}

type tokenResponse struct {
	Token     string        `json:"token"`
	Account   chain.Address `json:"account"`
	ExpiresAt int64         `json:"expires_at"`
}

func (h *Handler) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.BadRequest(c, err.Error())
		return
	}

	var account chain.Address
	switch {
	case req.Account != "":
		a, err := chain.ParseAddress(req.Account)
		if err != nil {
			apperr.BadRequest(c, err.Error())
			return
		}
		account = a
	case req.Seed != "":
		account = chain.AddressFromSeed(req.Seed)
	default:
		apperr.BadRequest(c, "account or seed is required")
		return
	}

	token, expiresAt, err := h.issuer.Issue(account)
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	h.logger.Info("Issued development token", zap.String("account", account.String()))
	c.JSON(http.StatusOK, tokenResponse{Token: token, Account: account, ExpiresAt: expiresAt.Unix()})
}

func (h *Handler) Me(c *gin.Context) {
	account, ok := RequireCaller(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": account})
}
