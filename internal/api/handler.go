package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"stock-service/internal/lock"
	"stock-service/internal/redisclient"
	"stock-service/internal/service"
	"stock-service/internal/stock"
	"stock-service/internal/store"
	"stock-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	stockService *service.StockService
	store        *store.Store
}

// NewHandler creates a new HTTP handler
func NewHandler(stockService *service.StockService, store *store.Store) *Handler {
	return &Handler{
		stockService: stockService,
		store:        store,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/inventory", h.provisionInventory)
		v1.GET("/stock/:productId", h.getStockStatus)
		v1.GET("/stock/:productId/availability", h.checkAvailability)
		v1.POST("/stock/reserve", h.reserveStock)
		v1.POST("/stock/release", h.releaseStock)
		v1.POST("/stock/confirm", h.confirmSale)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// StockRequest is the body for the stock mutation endpoints
type StockRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	OptionID  int64 `json:"option_id"`
	Quantity  int   `json:"quantity" binding:"required,min=1"`
}

// ProvisionRequest creates the counters for a new catalog option
type ProvisionRequest struct {
	ProductID     int64 `json:"product_id" binding:"required"`
	OptionID      int64 `json:"option_id"`
	TotalQuantity int   `json:"total_quantity" binding:"required,min=0"`
}

// provisionInventory creates an inventory record with everything available
func (h *Handler) provisionInventory(c *gin.Context) {
	var req ProvisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	inv, err := h.store.CreateInventory(c.Request.Context(), req.ProductID, req.OptionID, req.TotalQuantity)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to provision inventory", "details": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, inv)
}

// reserveStock handles reservation requests
func (h *Handler) reserveStock(c *gin.Context) {
	var req StockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := h.stockService.ReserveStock(c.Request.Context(), req.ProductID, req.OptionID, req.Quantity); err != nil {
		status, message := mapStockError(err)
		c.JSON(status, gin.H{"error": message, "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "reserved"})
}

// releaseStock handles release requests. Release is best-effort: the
// response is 200 regardless, matching the service's swallow semantics.
func (h *Handler) releaseStock(c *gin.Context) {
	var req StockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	h.stockService.ReleaseStock(c.Request.Context(), req.ProductID, req.OptionID, req.Quantity)
	c.JSON(http.StatusOK, gin.H{"status": "released"})
}

// confirmSale handles sale confirmation requests
func (h *Handler) confirmSale(c *gin.Context) {
	var req StockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := h.stockService.ConfirmSale(c.Request.Context(), req.ProductID, req.OptionID, req.Quantity); err != nil {
		status, message := mapStockError(err)
		c.JSON(status, gin.H{"error": message, "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "confirmed"})
}

// getStockStatus serves the cached read path
func (h *Handler) getStockStatus(c *gin.Context) {
	productID, err := strconv.ParseInt(c.Param("productId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}
	optionID, _ := strconv.ParseInt(c.Query("option_id"), 10, 64)

	status, err := h.stockService.GetStockStatus(c.Request.Context(), productID, optionID)
	if err != nil {
		statusCode, message := mapStockError(err)
		c.JSON(statusCode, gin.H{"error": message, "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, status)
}

// checkAvailability runs the lock-free availability validation
func (h *Handler) checkAvailability(c *gin.Context) {
	productID, err := strconv.ParseInt(c.Param("productId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}
	optionID, _ := strconv.ParseInt(c.Query("option_id"), 10, 64)
	quantity, err := strconv.Atoi(c.DefaultQuery("quantity", "1"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid quantity"})
		return
	}

	if err := h.stockService.ValidateAvailability(c.Request.Context(), productID, optionID, quantity); err != nil {
		status, message := mapStockError(err)
		c.JSON(status, gin.H{"error": message, "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"available": true})
}

// mapStockError translates domain failures into HTTP responses.
// Contention and store outage are both retryable but kept distinct.
func mapStockError(err error) (int, string) {
	switch {
	case errors.Is(err, store.ErrInventoryNotFound):
		return http.StatusNotFound, "Inventory not found"
	case errors.Is(err, stock.ErrInsufficientStock):
		return http.StatusConflict, "Insufficient stock"
	case errors.Is(err, stock.ErrInvalidQuantity):
		return http.StatusBadRequest, "Invalid quantity"
	case errors.Is(err, stock.ErrOverSell), errors.Is(err, stock.ErrOverRelease):
		return http.StatusConflict, "Quantity exceeds reserved units"
	case errors.Is(err, lock.ErrLockUnavailable):
		return http.StatusServiceUnavailable, "Stock is busy, retry shortly"
	case errors.Is(err, redisclient.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "Coordination store unavailable"
	default:
		return http.StatusInternalServerError, "Stock operation failed"
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
