package certificate

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"yideng/edu-market/edu-market-backend/internal/auth"
	"yideng/edu-market/edu-market-backend/internal/chain"
	"yideng/edu-market/edu-market-backend/pkg/apperr"
)

type Handler struct {
	exec     *chain.Executor
	registry *Registry
	logger   *zap.Logger
}

func NewHandler(exec *chain.Executor, registry *Registry, logger *zap.Logger) *Handler {
	return &Handler{exec: exec, registry: registry, logger: logger}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	certs := rg.Group("/certificates")
	{
		certs.GET("/info", h.Info)
		certs.POST("/minters", h.GrantMinter)
		certs.DELETE("/minters/:account", h.RevokeMinter)
		certs.GET("/minters/:account", h.IsMinter)
		certs.POST("", h.Mint)
		certs.GET("/:id", h.Get)
		certs.GET("/holders/:holder", h.ListByHolder)
		certs.GET("/holders/:holder/courses/:course", h.ListByCourse)
	}
}

type minterRequest struct {
	Account string `json:"account" binding:"required"`
}

type mintRequest struct {
	Holder   string `json:"holder" binding:"required"`
	CourseID string `json:"web2_course_id" binding:"required"`
}

func (h *Handler) Info(c *gin.Context) {
	var info *Info
	err := h.exec.Query(c.Request.Context(), "", func(tx *chain.Tx) error {
		var err error
		info, err = h.registry.Info(tx)
		return err
	})
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *Handler) GrantMinter(c *gin.Context) {
	caller, ok := auth.RequireCaller(c)
	if !ok {
		return
	}
	var req minterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.BadRequest(c, err.Error())
		return
	}
	account, err := chain.ParseAddress(req.Account)
	if err != nil {
		apperr.BadRequest(c, err.Error())
		return
	}
	receipt, err := h.exec.Submit(c.Request.Context(), caller, "certificate.grantMintingCapability", func(tx *chain.Tx) error {
		return h.registry.GrantMintingCapability(tx, account)
	})
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tx_id": receipt.TxID, "events": receipt.Events})
}

func (h *Handler) RevokeMinter(c *gin.Context) {
	caller, ok := auth.RequireCaller(c)
	if !ok {
		return
	}
	account, err := chain.ParseAddress(c.Param("account"))
	if err != nil {
		apperr.BadRequest(c, err.Error())
		return
	}
	receipt, err := h.exec.Submit(c.Request.Context(), caller, "certificate.revokeMintingCapability", func(tx *chain.Tx) error {
		return h.registry.RevokeMintingCapability(tx, account)
	})
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tx_id": receipt.TxID, "events": receipt.Events})
}

func (h *Handler) IsMinter(c *gin.Context) {
	account, err := chain.ParseAddress(c.Param("account"))
	if err != nil {
		apperr.BadRequest(c, err.Error())
		return
	}
	var minter bool
	err = h.exec.Query(c.Request.Context(), "", func(tx *chain.Tx) error {
		var err error
		minter, err = h.registry.IsMinter(tx, account)
		return err
	})
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": account, "minter": minter})
}

func (h *Handler) Mint(c *gin.Context) {
	caller, ok := auth.RequireCaller(c)
	if !ok {
		return
	}
	var req mintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.BadRequest(c, err.Error())
		return
	}
	holder, err := chain.ParseAddress(req.Holder)
	if err != nil {
		apperr.BadRequest(c, err.Error())
		return
	}

	var id uint64
	receipt, err := h.exec.Submit(c.Request.Context(), caller, "certificate.mintCertificate", func(tx *chain.Tx) error {
		var err error
		id, err = h.registry.MintCertificate(tx, holder, req.CourseID)
		return err
	})
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"tx_id": receipt.TxID, "token_id": id})
}

func (h *Handler) Get(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		apperr.BadRequest(c, "invalid token id")
		return
	}
	var cert *Certificate
	err = h.exec.Query(c.Request.Context(), "", func(tx *chain.Tx) error {
		var err error
		cert, err = h.registry.Certificate(tx, id)
		return err
	})
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, cert)
}

func (h *Handler) ListByHolder(c *gin.Context) {
	holder, err := chain.ParseAddress(c.Param("holder"))
	if err != nil {
		apperr.BadRequest(c, err.Error())
		return
	}
	var certs []Certificate
	err = h.exec.Query(c.Request.Context(), "", func(tx *chain.Tx) error {
		var err error
		certs, err = h.registry.CertificatesOf(tx, holder)
		return err
	})
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"holder": holder, "balance": len(certs), "certificates": certs})
}

func (h *Handler) ListByCourse(c *gin.Context) {
	holder, err := chain.ParseAddress(c.Param("holder"))
	if err != nil {
		apperr.BadRequest(c, err.Error())
		return
	}
	course := c.Param("course")
	var ids []uint64
	err = h.exec.Query(c.Request.Context(), "", func(tx *chain.Tx) error {
		var err error
		ids, err = h.registry.GetStudentCertificates(tx, holder, course)
		return err
	})
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"holder":          holder,
		"web2_course_id":  course,
		"token_ids":       ids,
		"has_certificate": len(ids) > 0,
	})
}
