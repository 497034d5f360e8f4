// Package interfaces 托管服务接口层
package interfaces

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/crowdfunding/internal/escrow/application"
	"github.com/wyfcoding/crowdfunding/internal/escrow/domain"
)

// HTTPHandler HTTP 接口处理器
type HTTPHandler struct {
	escrowService *application.EscrowService
	queryService  *application.EscrowQueryService
}

// NewHTTPHandler 创建 HTTP 处理器
func NewHTTPHandler(
	escrowService *application.EscrowService,
	queryService *application.EscrowQueryService,
) *HTTPHandler {
	return &HTTPHandler{
		escrowService: escrowService,
		queryService:  queryService,
	}
}

// RegisterRoutes 注册路由
func (h *HTTPHandler) RegisterRoutes(r *gin.RouterGroup) {
	escrow := r.Group("/escrow")
	{
		escrow.POST("/accounts", h.CreateEscrow)
		escrow.GET("/accounts/:id", h.GetEscrow)
		escrow.GET("/accounts", h.ListBySubject)

		escrow.POST("/accounts/:id/deposit", h.Deposit)
		escrow.POST("/accounts/:id/release", h.ReleaseFunds)
		escrow.POST("/accounts/:id/freeze", h.Freeze)
		escrow.POST("/accounts/:id/unfreeze", h.Unfreeze)
		escrow.POST("/accounts/:id/close", h.Close)
	}
}

// statusFromError 领域错误到 HTTP 状态码的映射
func statusFromError(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrBalanceRemaining):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrConditionNotDeclared):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAccountClosed),
		errors.Is(err, domain.ErrAccountFrozen),
		errors.Is(err, domain.ErrAccountNotFrozen),
		errors.Is(err, domain.ErrConditionAlreadyReleased),
		errors.Is(err, domain.ErrReleaseBlocked):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// CreateEscrowRequest 创建托管账户请求
type CreateEscrowRequest struct {
	SubjectID         string   `json:"subject_id" binding:"required"`
	InitialAmount     int64    `json:"initial_amount"`
	Currency          string   `json:"currency" binding:"required"`
	ReleaseConditions []string `json:"release_conditions" binding:"required"`
	ActorID           string   `json:"actor_id" binding:"required"`
}

// CreateEscrow 创建托管账户
func (h *HTTPHandler) CreateEscrow(c *gin.Context) {
	var req CreateEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cmd := application.CreateEscrowCommand{
		SubjectID:         req.SubjectID,
		InitialAmount:     req.InitialAmount,
		Currency:          req.Currency,
		ReleaseConditions: req.ReleaseConditions,
		ActorID:           req.ActorID,
	}

	account, err := h.escrowService.CreateEscrow(c.Request.Context(), cmd)
	if err != nil {
		c.JSON(statusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"escrow_id": account.EscrowID,
		"balance":   account.Balance,
		"status":    account.Status.String(),
	})
}

// DepositRequest 入金请求
type DepositRequest struct {
	Amount  int64  `json:"amount" binding:"required"`
	ActorID string `json:"actor_id" binding:"required"`
}

// Deposit 入金
func (h *HTTPHandler) Deposit(c *gin.Context) {
	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	balance, err := h.escrowService.Deposit(c.Request.Context(), application.DepositCommand{
		EscrowID: c.Param("id"),
		Amount:   req.Amount,
		ActorID:  req.ActorID,
	})
	if err != nil {
		c.JSON(statusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

// ReleaseFundsRequest 资金释放请求
type ReleaseFundsRequest struct {
	Condition   string `json:"condition" binding:"required"`
	ActorID     string `json:"actor_id" binding:"required"`
	RecipientID string `json:"recipient_id"`
}

// ReleaseFunds 按条件释放资金
func (h *HTTPHandler) ReleaseFunds(c *gin.Context) {
	var req ReleaseFundsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.escrowService.ReleaseFunds(c.Request.Context(), application.ReleaseFundsCommand{
		EscrowID:    c.Param("id"),
		Condition:   req.Condition,
		ActorID:     req.ActorID,
		RecipientID: req.RecipientID,
	})
	if err != nil {
		c.JSON(statusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"released_amount": result.ReleasedAmount,
		"transfer_id":     result.TransferID,
	})
}

// FreezeRequest 冻结请求
type FreezeRequest struct {
	Reason  string `json:"reason" binding:"required"`
	ActorID string `json:"actor_id" binding:"required"`
}

// Freeze 冻结账户
func (h *HTTPHandler) Freeze(c *gin.Context) {
	var req FreezeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status, err := h.escrowService.FreezeEscrow(c.Request.Context(), application.FreezeEscrowCommand{
		EscrowID: c.Param("id"),
		Reason:   req.Reason,
		ActorID:  req.ActorID,
	})
	if err != nil {
		c.JSON(statusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": status.String()})
}

// ActorRequest 仅携带操作者的请求体
type ActorRequest struct {
	ActorID string `json:"actor_id" binding:"required"`
}

// Unfreeze 解冻账户
func (h *HTTPHandler) Unfreeze(c *gin.Context) {
	var req ActorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status, err := h.escrowService.UnfreezeEscrow(c.Request.Context(), c.Param("id"), req.ActorID)
	if err != nil {
		c.JSON(statusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": status.String()})
}

// Close 关闭账户
func (h *HTTPHandler) Close(c *gin.Context) {
	var req ActorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.escrowService.CloseEscrow(c.Request.Context(), c.Param("id"), req.ActorID); err != nil {
		c.JSON(statusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": domain.EscrowStatusClosed.String()})
}

// GetEscrow 查询托管账户
func (h *HTTPHandler) GetEscrow(c *gin.Context) {
	account, err := h.queryService.GetEscrow(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, account)
}

// ListBySubject 按众筹项目查询托管账户
func (h *HTTPHandler) ListBySubject(c *gin.Context) {
	subjectID := c.Query("subject_id")
	if subjectID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subject_id is required"})
		return
	}

	accounts, err := h.queryService.ListBySubject(c.Request.Context(), subjectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"accounts": accounts, "total": len(accounts)})
}
