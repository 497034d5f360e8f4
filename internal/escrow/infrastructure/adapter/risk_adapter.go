package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/wyfcoding/crowdfunding/internal/escrow/domain"
)

// RiskClientConfig 风控服务客户端配置
type RiskClientConfig struct {
	BaseURL string        `json:"base_url" yaml:"base_url" toml:"base_url"`
	Timeout time.Duration `json:"timeout" yaml:"timeout" toml:"timeout"`
}

// RiskClient 调用外部风控服务为大额释放评分
type RiskClient struct {
	http   *resty.Client
	logger *slog.Logger
}

// NewRiskClient 创建风控客户端
func NewRiskClient(cfg RiskClientConfig, logger *slog.Logger) domain.RiskGate {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RiskClient{
		http:   resty.New().SetBaseURL(cfg.BaseURL).SetTimeout(timeout),
		logger: logger,
	}
}

type scoreRequest struct {
	EscrowID    string `json:"escrow_id"`
	ActorID     string `json:"actor_id"`
	AmountCents int64  `json:"amount_cents"`
}

type scoreResponse struct {
	Score int `json:"score"`
}

func (c *RiskClient) Score(ctx context.Context, escrowID, actorID string, amountCents int64) (int, error) {
	var out scoreResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(scoreRequest{EscrowID: escrowID, ActorID: actorID, AmountCents: amountCents}).
		SetResult(&out).
		Post("/v1/risk/score")
	if err != nil {
		return 0, fmt.Errorf("risk service unreachable: %w", err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("risk service returned status %d", resp.StatusCode())
	}

	c.logger.DebugContext(ctx, "risk score fetched", "escrow_id", escrowID, "score", out.Score)
	return out.Score, nil
}
