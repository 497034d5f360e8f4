// Package interfaces 对账服务接口层
package interfaces

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/crowdfunding/internal/reconciliation/application"
	"github.com/wyfcoding/crowdfunding/internal/reconciliation/domain"
)

// HTTPHandler HTTP 接口处理器
type HTTPHandler struct {
	service *application.ReconciliationService
}

// NewHTTPHandler 创建 HTTP 处理器
func NewHTTPHandler(service *application.ReconciliationService) *HTTPHandler {
	return &HTTPHandler{service: service}
}

// RegisterRoutes 注册路由
func (h *HTTPHandler) RegisterRoutes(r *gin.RouterGroup) {
	recon := r.Group("/reconciliation")
	{
		recon.POST("/transfers", h.ReconcileTransfers)
		recon.POST("/payouts", h.VerifyPayouts)
		recon.POST("/merchants", h.ReconcileMerchants)

		recon.GET("/runs", h.ListRuns)
		recon.GET("/runs/:id", h.GetRun)
		recon.GET("/discrepancies", h.ListOpenDiscrepancies)
		recon.POST("/discrepancies/:id/resolve", h.ResolveDiscrepancy)
	}
}

// ReconcileTransfers 触发一轮转账状态对账
func (h *HTTPHandler) ReconcileTransfers(c *gin.Context) {
	run, err := h.service.ReconcilePendingTransfers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, runSummary(run))
}

// VerifyPayoutsRequest payout 校验请求
type VerifyPayoutsRequest struct {
	Start time.Time `json:"start" binding:"required"`
	End   time.Time `json:"end" binding:"required"`
}

// VerifyPayouts 校验时间窗口内的 payout 记录
func (h *HTTPHandler) VerifyPayouts(c *gin.Context) {
	var req VerifyPayoutsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.End.After(req.Start) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end must be after start"})
		return
	}

	run, err := h.service.VerifyPayouts(c.Request.Context(), req.Start, req.End)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, runSummary(run))
}

// ReconcileMerchants 刷新收款方能力镜像
func (h *HTTPHandler) ReconcileMerchants(c *gin.Context) {
	run, err := h.service.ReconcileMerchantAccounts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, runSummary(run))
}

// GetRun 查询对账执行详情
func (h *HTTPHandler) GetRun(c *gin.Context) {
	run, err := h.service.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}

// ListRuns 查询最近的对账执行
func (h *HTTPHandler) ListRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	runs, err := h.service.ListRuns(c.Request.Context(), c.Query("kind"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "total": len(runs)})
}

// ListOpenDiscrepancies 查询待处理差异
func (h *HTTPHandler) ListOpenDiscrepancies(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	items, err := h.service.ListOpenDiscrepancies(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"discrepancies": items, "total": len(items)})
}

// ResolveDiscrepancyRequest 差异处理请求
type ResolveDiscrepancyRequest struct {
	Resolution string `json:"resolution" binding:"required"`
	Comment    string `json:"comment"`
}

// ResolveDiscrepancy 人工处理差异
func (h *HTTPHandler) ResolveDiscrepancy(c *gin.Context) {
	var req ResolveDiscrepancyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.service.ResolveDiscrepancy(c.Request.Context(), c.Param("id"), req.Resolution, req.Comment); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resolved"})
}

func runSummary(run *domain.ReconciliationRun) gin.H {
	return gin.H{
		"run_id":        run.RunID,
		"kind":          run.Kind,
		"status":        run.Status.String(),
		"checked":       run.CheckedCount,
		"corrected":     run.CorrectedCount,
		"discrepancies": run.DiscrepancyCount,
		"errors":        run.ErrorCount,
	}
}
