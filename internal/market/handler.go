package market

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
	market *Market
	logger *zap.Logger
}

func NewHandler(exec *chain.Executor, market *Market, logger *zap.Logger) *Handler {
	return &Handler{exec: exec, market: market, logger: logger}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	courses := rg.Group("/courses")
	{
		courses.POST("", h.AddCourse)
		courses.GET("", h.ListCourses)
		courses.GET("/:externalId", h.GetCourse)
		courses.PUT("/:externalId/active", h.SetActive)
		courses.POST("/:externalId/purchase", h.Purchase)
		courses.POST("/:externalId/verify", h.Verify)
		courses.GET("/:externalId/access/:account", h.Access)
	}

	settings := rg.Group("/market/settings")
	{
		settings.GET("", h.GetSettings)
		settings.PUT("/recertification", h.SetRecertification)
		settings.PUT("/treasury", h.SetTreasury)
	}
}

type addCourseRequest struct {
	ExternalID string `json:"web2_course_id" binding:"required"`
	Name       string `json:"name" binding:"required"`
	Price      string `json:"price" binding:"required"`
}

type activeRequest struct {
	Active *bool `json:"active" binding:"required"`
}

type verifyRequest struct {
	Student string `json:"student" binding:"required"`
}

type recertificationRequest struct {
	Allow *bool `json:"allow" binding:"required"`
}

type treasuryRequest struct {
	Treasury string `json:"treasury" binding:"required"`
}

func (h *Handler) AddCourse(c *gin.Context) {
	caller, ok := auth.RequireCaller(c)
	if !ok {
		return
	}
	var req addCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.BadRequest(c, err.Error())
		return
	}
	price, err := units.ParseAmount(req.Price)
	if err != nil {
		apperr.BadRequest(c, err.Error())
		return
	}

	var course *Course
	receipt, err := h.exec.Submit(c.Request.Context(), caller, "market.addCourse", func(tx *chain.Tx) error {
		var err error
		course, err = h.market.AddCourse(tx, req.ExternalID, req.Name, price)
		return err
	})
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	h.logger.Info("Course added",
		zap.String("web2_course_id", course.ExternalID),
		zap.Uint64("id", course.ID),
		zap.String("price", priceString(course.Price)))
	c.JSON(http.StatusCreated, gin.H{"tx_id": receipt.TxID, "course": course})
}

func (h *Handler) ListCourses(c *gin.Context) {
	var courses []Course
	err := h.exec.Query(c.Request.Context(), "", func(tx *chain.Tx) error {
		var err error
		courses, err = h.market.ListCourses(tx)
		return err
	})
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(courses), "courses": courses})
}

func (h *Handler) GetCourse(c *gin.Context) {
	var course *Course
	err := h.exec.Query(c.Request.Context(), "", func(tx *chain.Tx) error {
		var err error
		course, err = h.market.CourseByExternalID(tx, c.Param("externalId"))
		return err
	})
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, course)
}

func (h *Handler) SetActive(c *gin.Context) {
	caller, ok := auth.RequireCaller(c)
	if !ok {
		return
	}
	var req activeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.BadRequest(c, err.Error())
		return
	}
	receipt, err := h.exec.Submit(c.Request.Context(), caller, "market.setCourseActive", func(tx *chain.Tx) error {
		return h.market.SetCourseActive(tx, c.Param("externalId"), *req.Active)
	})
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tx_id": receipt.TxID, "active": *req.Active})
}

func (h *Handler) Purchase(c *gin.Context) {
	caller, ok := auth.RequireCaller(c)
	if !ok {
		return
	}
	externalID := c.Param("externalId")
	receipt, err := h.exec.Submit(c.Request.Context(), caller, "market.purchaseCourse", func(tx *chain.Tx) error {
		return h.market.PurchaseCourse(tx, externalID)
	})
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tx_id": receipt.TxID, "events": receipt.Events})
}

func (h *Handler) Verify(c *gin.Context) {
	caller, ok := auth.RequireCaller(c)
	if !ok {
		return
	}
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.BadRequest(c, err.Error())
		return
	}
	student, err := chain.ParseAddress(req.Student)
	if err != nil {
		apperr.BadRequest(c, err.Error())
		return
	}

	externalID := c.Param("externalId")
	var tokenID uint64
	receipt, err := h.exec.Submit(c.Request.Context(), caller, "market.verifyCourseCompletion", func(tx *chain.Tx) error {
		var err error
		tokenID, err = h.market.VerifyCourseCompletion(tx, student, externalID)
		return err
	})
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	h.logger.Info("Course completion verified",
		zap.String("student", student.String()),
		zap.String("web2_course_id", externalID),
		zap.Uint64("token_id", tokenID))
	c.JSON(http.StatusOK, gin.H{"tx_id": receipt.TxID, "token_id": tokenID})
}

type accessResponse struct {
	Account    chain.Address `json:"account"`
	ExternalID string        `json:"web2_course_id"`
	HasCourse  bool          `json:"has_course"`
	Status     string        `json:"status"`
	Purchase   *Purchase     `json:"purchase,omitempty"`
}

func (h *Handler) Access(c *gin.Context) {
	account, err := chain.ParseAddress(c.Param("account"))
	if err != nil {
		apperr.BadRequest(c, err.Error())
		return
	}
	resp := accessResponse{Account: account, ExternalID: c.Param("externalId")}
	err = h.exec.Query(c.Request.Context(), "", func(tx *chain.Tx) error {
		var err error
		if resp.Status, err = h.market.Status(tx, account, resp.ExternalID); err != nil {
			return err
		}
		resp.Purchase, err = h.market.PurchaseOf(tx, account, resp.ExternalID)
		return err
	})
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	resp.HasCourse = resp.Purchase != nil
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetSettings(c *gin.Context) {
	var settings *Settings
	var count uint64
	err := h.exec.Query(c.Request.Context(), "", func(tx *chain.Tx) error {
		var err error
		if settings, err = h.market.Settings(tx); err != nil {
			return err
		}
		count, err = h.market.CourseCount(tx)
		return err
	})
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": settings, "course_count": count, "address": h.market.Address()})
}

func (h *Handler) SetRecertification(c *gin.Context) {
	caller, ok := auth.RequireCaller(c)
	if !ok {
		return
	}
	var req recertificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.BadRequest(c, err.Error())
		return
	}
	receipt, err := h.exec.Submit(c.Request.Context(), caller, "market.setAllowRecertification", func(tx *chain.Tx) error {
		return h.market.SetAllowRecertification(tx, *req.Allow)
	})
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tx_id": receipt.TxID, "allow_recertification": *req.Allow})
}

func (h *Handler) SetTreasury(c *gin.Context) {
	caller, ok := auth.RequireCaller(c)
	if !ok {
		return
	}
	var req treasuryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.BadRequest(c, err.Error())
		return
	}
	treasury, err := chain.ParseAddress(req.Treasury)
	if err != nil {
		apperr.BadRequest(c, err.Error())
		return
	}
	receipt, err := h.exec.Submit(c.Request.Context(), caller, "market.setTreasury", func(tx *chain.Tx) error {
		return h.market.SetTreasury(tx, treasury)
	})
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tx_id": receipt.TxID, "treasury": treasury})
}

func priceString(p *big.Int) string {
	if p == nil {
		return "0"
	}
	return p.String()
}
