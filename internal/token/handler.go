package token

import (
	"math/big"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"yideng/edu-market/edu-market-backend/internal/auth"
	"yideng/edu-market/edu-market-backend/internal/chain"
	"yideng/edu-market/edu-market-backend/pkg/apperr"
	"yideng/edu-market/edu-market-backend/pkg/units"
)

type Handler struct {
	exec   *chain.Executor
	ledger *Ledger
	logger *zap.Logger
}

func NewHandler(exec *chain.Executor, ledger *Ledger, logger *zap.Logger) *Handler {
	return &Handler{exec: exec, ledger: ledger, logger: logger}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	t := rg.Group("/token")
	{
		t.GET("/info", h.Info)
		t.GET("/balances/:account", h.Balance)
		t.GET("/allowances/:owner/:spender", h.Allowance)
		t.GET("/audit", h.Audit)

		t.POST("/distribute", h.Distribute)
		t.POST("/purchase", h.Purchase)
		t.POST("/approve", h.Approve)
		t.POST("/transfer", h.Transfer)
		t.POST("/withdraw", h.Withdraw)
		t.POST("/upgrade", h.Upgrade)
		t.POST("/pause", h.Pause)
		t.POST("/unpause", h.Unpause)
	}
}

type distributeRequest struct {
	Team      string `json:"team" binding:"required"`
	Marketing string `json:"marketing" binding:"required"`
	Community string `json:"community" binding:"required"`
}

type purchaseRequest struct {
	// Payment is in native units ("0.01"); PaymentWei is the same amount in base units
	Payment    string `json:"payment"`
	PaymentWei string `json:"payment_wei"`
}

type amountRequest struct {
	Account string `json:"account" binding:"required"`
	Amount  string `json:"amount" binding:"required"`
}

type upgradeRequest struct {
	Version string `json:"version" binding:"required"`
}

type withdrawRequest struct {
	To string `json:"to" binding:"required"`
}

type txResponse struct {
	TxID     string        `json:"tx_id"`
	Events   []chain.Event `json:"events"`
	Credited *big.Int      `json:"credited,omitempty"`
	Amount   *big.Int      `json:"amount,omitempty"`
}

func (h *Handler) Info(c *gin.Context) {
	var info *Info
	err := h.exec.Query(c.Request.Context(), "", func(tx *chain.Tx) error {
		var err error
		info, err = h.ledger.Info(tx)
		return err
	})
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ledger":   info,
		"versions": h.ledger.Versions(),
	})
}

func (h *Handler) Balance(c *gin.Context) {
	account, err := chain.ParseAddress(c.Param("account"))
	if err != nil {
		apperr.BadRequest(c, err.Error())
		return
	}
	var balance *big.Int
	err = h.exec.Query(c.Request.Context(), "", func(tx *chain.Tx) error {
		var err error
		balance, err = h.ledger.BalanceOf(tx, account)
		return err
	})
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": account, "balance": balance})
}

func (h *Handler) Allowance(c *gin.Context) {
	owner, err := chain.ParseAddress(c.Param("owner"))
	if err != nil {
		apperr.BadRequest(c, err.Error())
		return
	}
	spender, err := chain.ParseAddress(c.Param("spender"))
	if err != nil {
		apperr.BadRequest(c, err.Error())
		return
	}
	var allowance *big.Int
	err = h.exec.Query(c.Request.Context(), "", func(tx *chain.Tx) error {
		var err error
		allowance, err = h.ledger.Allowance(tx, owner, spender)
		return err
	})
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"owner": owner, "spender": spender, "allowance": allowance})
}

func (h *Handler) Audit(c *gin.Context) {
	var report *SupplyReport
	err := h.exec.Query(c.Request.Context(), "", func(tx *chain.Tx) error {
		var err error
		report, err = h.ledger.Audit(tx)
		return err
	})
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) Distribute(c *gin.Context) {
	caller, ok := auth.RequireCaller(c)
	if !ok {
		return
	}
	var req distributeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.BadRequest(c, err.Error())
		return
	}
	recipients := make([]chain.Address, 0, 3)
	for _, s := range []string{req.Team, req.Marketing, req.Community} {
		a, err := chain.ParseAddress(s)
		if err != nil {
			apperr.BadRequest(c, err.Error())
			return
		}
		recipients = append(recipients, a)
	}

	receipt, err := h.exec.Submit(c.Request.Context(), caller, "token.distributeInitialTokens", func(tx *chain.Tx) error {
		return h.ledger.DistributeInitialTokens(tx, recipients[0], recipients[1], recipients[2])
	})
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, txResponse{TxID: receipt.TxID, Events: receipt.Events})
}

func (h *Handler) Purchase(c *gin.Context) {
	caller, ok := auth.RequireCaller(c)
	if !ok {
		return
	}
	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.BadRequest(c, err.Error())
		return
	}
	payment, err := parsePayment(req)
	if err != nil {
		apperr.BadRequest(c, err.Error())
		return
	}

	var credited *big.Int
	receipt, err := h.exec.Submit(c.Request.Context(), caller, "token.purchaseWithPayment", func(tx *chain.Tx) error {
		var err error
		credited, err = h.ledger.PurchaseWithPayment(tx, payment)
		return err
	})
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, txResponse{TxID: receipt.TxID, Events: receipt.Events, Credited: credited})
}

func parsePayment(req purchaseRequest) (*big.Int, error) {
	switch {
	case req.PaymentWei != "":
		return units.ParseAmount(req.PaymentWei)
	case req.Payment != "":
		return units.ParseNative(req.Payment)
	default:
		return nil, apperr.ErrInvalidArgument.Withf("payment or payment_wei is required")
	}
}

func (h *Handler) Approve(c *gin.Context) {
	h.submitAmount(c, "token.approve", h.ledger.Approve)
}

func (h *Handler) Transfer(c *gin.Context) {
	h.submitAmount(c, "token.transfer", h.ledger.Transfer)
}

func (h *Handler) submitAmount(c *gin.Context, method string, op func(*chain.Tx, chain.Address, *big.Int) error) {
	caller, ok := auth.RequireCaller(c)
	if !ok {
		return
	}
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.BadRequest(c, err.Error())
		return
	}
	account, err := chain.ParseAddress(req.Account)
	if err != nil {
		apperr.BadRequest(c, err.Error())
		return
	}
	amount, err := units.ParseAmount(req.Amount)
	if err != nil {
		apperr.BadRequest(c, err.Error())
		return
	}

	receipt, err := h.exec.Submit(c.Request.Context(), caller, method, func(tx *chain.Tx) error {
		return op(tx, account, amount)
	})
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, txResponse{TxID: receipt.TxID, Events: receipt.Events})
}

func (h *Handler) Withdraw(c *gin.Context) {
	caller, ok := auth.RequireCaller(c)
	if !ok {
		return
	}
	var req withdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.BadRequest(c, err.Error())
		return
	}
	to, err := chain.ParseAddress(req.To)
	if err != nil {
		apperr.BadRequest(c, err.Error())
		return
	}

	var amount *big.Int
	receipt, err := h.exec.Submit(c.Request.Context(), caller, "token.withdrawPayments", func(tx *chain.Tx) error {
		var err error
		amount, err = h.ledger.WithdrawPayments(tx, to)
		return err
	})
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, txResponse{TxID: receipt.TxID, Events: receipt.Events, Amount: amount})
}

func (h *Handler) Upgrade(c *gin.Context) {
	caller, ok := auth.RequireCaller(c)
	if !ok {
		return
	}
	var req upgradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.BadRequest(c, err.Error())
		return
	}

	receipt, err := h.exec.Submit(c.Request.Context(), caller, "token.upgradeTo", func(tx *chain.Tx) error {
		return h.ledger.UpgradeTo(tx, req.Version)
	})
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	h.logger.Info("Ledger upgraded",
		zap.String("version", req.Version),
		zap.String("tx_id", receipt.TxID))
	c.JSON(http.StatusOK, txResponse{TxID: receipt.TxID, Events: receipt.Events})
}

func (h *Handler) Pause(c *gin.Context) {
	h.submitSimple(c, "token.pause", h.ledger.Pause)
}

func (h *Handler) Unpause(c *gin.Context) {
	h.submitSimple(c, "token.unpause", h.ledger.Unpause)
}

func (h *Handler) submitSimple(c *gin.Context, method string, op func(*chain.Tx) error) {
	caller, ok := auth.RequireCaller(c)
	if !ok {
		return
	}
	receipt, err := h.exec.Submit(c.Request.Context(), caller, method, op)
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, txResponse{TxID: receipt.TxID, Events: receipt.Events})
}
