// Package interfaces 转账服务接口层
package interfaces

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/crowdfunding/internal/transfer/application"
	"github.com/wyfcoding/crowdfunding/internal/transfer/domain"
)

// HTTPHandler HTTP 接口处理器
type HTTPHandler struct {
	transferService *application.TransferService
}

// NewHTTPHandler 创建 HTTP 处理器
func NewHTTPHandler(transferService *application.TransferService) *HTTPHandler {
	return &HTTPHandler{transferService: transferService}
}

// RegisterRoutes 注册路由
func (h *HTTPHandler) RegisterRoutes(r *gin.RouterGroup) {
	transfers := r.Group("/transfers")
	{
		transfers.POST("", h.CreateTransfer)
		transfers.GET("/:id", h.GetTransfer)
		transfers.GET("", h.ListByEscrow)

		transfers.POST("/:id/retry", h.RetryTransfer)
		transfers.POST("/:id/fail", h.FailTransfer)
		transfers.POST("/process", h.ProcessScheduled)
	}
}

func statusFromError(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrMaxAttemptsExceeded),
		errors.Is(err, domain.ErrExternalRefImmutable):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// CreateTransferRequest 创建转账请求
type CreateTransferRequest struct {
	EscrowID       string            `json:"escrow_id" binding:"required"`
	RecipientID    string            `json:"recipient_id" binding:"required"`
	AmountCents    int64             `json:"amount_cents" binding:"required"`
	Currency       string            `json:"currency" binding:"required"`
	Metadata       map[string]string `json:"metadata"`
	IdempotencyKey string            `json:"idempotency_key"`
}

// CreateTransfer 创建延迟转账指令
func (h *HTTPHandler) CreateTransfer(c *gin.Context) {
	var req CreateTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record, err := h.transferService.CreateTransfer(c.Request.Context(), application.CreateTransferCommand{
		EscrowID:       req.EscrowID,
		RecipientID:    req.RecipientID,
		AmountCents:    req.AmountCents,
		Currency:       req.Currency,
		Metadata:       req.Metadata,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		c.JSON(statusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"transfer_id":   record.TransferID,
		"status":        record.Status.String(),
		"scheduled_for": record.ScheduledFor,
	})
}

// RetryTransferRequest 重试请求
type RetryTransferRequest struct {
	Immediate bool `json:"immediate"`
}

// RetryTransfer 重试失败的转账
func (h *HTTPHandler) RetryTransfer(c *gin.Context) {
	var req RetryTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	policy := domain.RetryBackoff
	if req.Immediate {
		policy = domain.RetryImmediate
	}

	if err := h.transferService.RetryFailedTransfer(c.Request.Context(), c.Param("id"), policy); err != nil {
		c.JSON(statusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": domain.TransferStatusScheduled.String()})
}

// FailTransferRequest 标记失败请求
type FailTransferRequest struct {
	Reason  string `json:"reason" binding:"required"`
	ActorID string `json:"actor_id" binding:"required"`
}

// FailTransfer 强制标记失败
func (h *HTTPHandler) FailTransfer(c *gin.Context) {
	var req FailTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.transferService.MarkTransferFailed(c.Request.Context(), c.Param("id"), req.Reason, req.ActorID); err != nil {
		c.JSON(statusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": domain.TransferStatusFailed.String()})
}

// ProcessScheduled 手动触发一轮到期扫描，运维入口
func (h *HTTPHandler) ProcessScheduled(c *gin.Context) {
	result, err := h.transferService.ProcessScheduledTransfers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"processed": len(result.Processed),
		"failed":    len(result.Failed),
	})
}

// GetTransfer 查询转账
func (h *HTTPHandler) GetTransfer(c *gin.Context) {
	record, err := h.transferService.GetTransfer(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, record)
}

// ListByEscrow 查询托管账户下的转账
func (h *HTTPHandler) ListByEscrow(c *gin.Context) {
	escrowID := c.Query("escrow_id")
	if escrowID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "escrow_id is required"})
		return
	}

	records, err := h.transferService.ListByEscrow(c.Request.Context(), escrowID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"transfers": records, "total": len(records)})
}
