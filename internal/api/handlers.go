package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/depot/services/bagtrack/internal/metrics"
	"example.com/depot/services/bagtrack/internal/model"
	"example.com/depot/services/bagtrack/internal/service"
)

// actorHeader carries the operator identity for every mutating request
const actorHeader = "X-Operator"

// Handler defines the API handler
type Handler struct {
	bagService    *service.BagService
	linkerService *service.LinkerService
	billService   *service.BillService
	undoService   *service.UndoService
	statsService  *service.StatisticsService
}

// NewHandler creates a new API handler
func NewHandler(
	bagService *service.BagService,
	linkerService *service.LinkerService,
	billService *service.BillService,
	undoService *service.UndoService,
	statsService *service.StatisticsService,
) *Handler {
	registerValidations()
	return &Handler{
		bagService:    bagService,
		linkerService: linkerService,
		billService:   billService,
		undoService:   undoService,
		statsService:  statsService,
	}
}

// RegisterRoutes registers API routes
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		v1.POST("/bags", h.CreateBag)

		v1.POST("/scans/link", h.LinkChild)
		v1.POST("/scans/unlink", h.UnlinkChild)
		v1.POST("/scans/undo", h.UndoLastScan)

		v1.POST("/bills", h.CreateBill)
		v1.GET("/bills/:number", h.GetBill)
		v1.POST("/bills/:number/bags", h.AttachBag)
		v1.DELETE("/bills/:number/bags/:qr", h.DetachBag)
		v1.POST("/bills/:number/close", h.CloseBill)

		v1.GET("/statistics", h.GetStatistics)
	}

	router.GET("/health", h.Health)
	router.GET("/metrics", h.Metrics)
}

// CreateBagRequest represents a bag registration request
type CreateBagRequest struct {
	QRCode string `json:"qr_code" binding:"required,qrcode"`
	Kind   string `json:"kind" binding:"required,oneof=parent child"`
}

// CreateBag registers a bag, or returns the existing one for the QR code
func (h *Handler) CreateBag(c *gin.Context) {
	var req CreateBagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: err.Error(), Code: "VALIDATION_ERROR"})
		return
	}

	bag, created, err := h.bagService.CreateOrGet(c.Request.Context(), req.QRCode, model.KindFromString(req.Kind), c.GetHeader(actorHeader))
	if err != nil {
		WriteError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, bag)
}

// LinkRequest represents a link scan
type LinkRequest struct {
	ParentQR string `json:"parent_qr" binding:"required,qrcode"`
	ChildQR  string `json:"child_qr" binding:"required,qrcode"`
}

// LinkChild links a child bag into a parent bag
func (h *Handler) LinkChild(c *gin.Context) {
	var req LinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: err.Error(), Code: "VALIDATION_ERROR"})
		return
	}

	result, err := h.linkerService.LinkChild(c.Request.Context(), req.ParentQR, req.ChildQR, c.GetHeader(actorHeader))
	if err != nil {
		WriteError(c, err)
		return
	}

	status := http.StatusCreated
	if result.AlreadyLinked {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{
		"link":           result.Link,
		"parent":         result.Parent,
		"child":          result.Child,
		"already_linked": result.AlreadyLinked,
	})
}

// UnlinkRequest represents an unlink scan
type UnlinkRequest struct {
	ChildQR string `json:"child_qr" binding:"required,qrcode"`
}

// UnlinkChild removes a child bag's active link. Unlinking a bag that is
// not linked succeeds without effect.
func (h *Handler) UnlinkChild(c *gin.Context) {
	var req UnlinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: err.Error(), Code: "VALIDATION_ERROR"})
		return
	}

	result, err := h.linkerService.UnlinkChild(c.Request.Context(), req.ChildQR, c.GetHeader(actorHeader))
	if err != nil {
		WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"unlinked": result.Unlinked,
		"link":     result.Link,
	})
}

// UndoLastScan reverses the calling operator's most recent link scan
func (h *Handler) UndoLastScan(c *gin.Context) {
	result, err := h.undoService.UndoLastScan(c.Request.Context(), c.GetHeader(actorHeader))
	if err != nil {
		WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"undone": result.Record,
	})
}

// CreateBillRequest represents a bill creation request
type CreateBillRequest struct {
	Number         string `json:"number" binding:"required"`
	TargetBagCount int    `json:"target_bag_count" binding:"required,gt=0"`
}

// CreateBill opens a new bill
func (h *Handler) CreateBill(c *gin.Context) {
	var req CreateBillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: err.Error(), Code: "VALIDATION_ERROR"})
		return
	}

	bill, err := h.billService.Create(c.Request.Context(), req.Number, req.TargetBagCount, c.GetHeader(actorHeader))
	if err != nil {
		WriteError(c, err)
		return
	}

	c.JSON(http.StatusCreated, bill)
}

// GetBill returns a bill with its derived totals
func (h *Handler) GetBill(c *gin.Context) {
	bill, err := h.billService.Get(c.Request.Context(), c.Param("number"))
	if err != nil {
		WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, bill)
}

// AttachBagRequest represents a bill attach request
type AttachBagRequest struct {
	ParentQR string `json:"parent_qr" binding:"required,qrcode"`
}

// AttachBag attaches a parent bag to a bill
func (h *Handler) AttachBag(c *gin.Context) {
	var req AttachBagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: err.Error(), Code: "VALIDATION_ERROR"})
		return
	}

	result, err := h.billService.AttachParentToBill(c.Request.Context(), c.Param("number"), req.ParentQR, c.GetHeader(actorHeader))
	if err != nil {
		WriteError(c, err)
		return
	}

	status := http.StatusCreated
	if result.AlreadyAttached {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{
		"bill":             result.Bill,
		"already_attached": result.AlreadyAttached,
	})
}

// DetachBag removes a parent bag from a bill. Detaching a bag that is
// not attached succeeds without effect.
func (h *Handler) DetachBag(c *gin.Context) {
	result, err := h.billService.DetachParentFromBill(c.Request.Context(), c.Param("number"), c.Param("qr"), c.GetHeader(actorHeader))
	if err != nil {
		WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"bill":     result.Bill,
		"detached": result.Detached,
	})
}

// CloseBill finalizes a bill and freezes its derived totals
func (h *Handler) CloseBill(c *gin.Context) {
	bill, err := h.billService.CloseBill(c.Request.Context(), c.Param("number"))
	if err != nil {
		WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, bill)
}

// GetStatistics returns the cached warehouse statistics
func (h *Handler) GetStatistics(c *gin.Context) {
	stats, err := h.statsService.Get(c.Request.Context())
	if err != nil {
		WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// Health returns a basic health check response
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Metrics returns the in-process metrics snapshot
func (h *Handler) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, metrics.GetMetricsCollector().Snapshot())
}
