// Package processor 外部支付处理方 HTTP 客户端。
// 所有调用携带有界超时与幂等键，超时与网络错误对调用方呈现为可重试错误。
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/wyfcoding/crowdfunding/internal/transfer/domain"
)

// Config 客户端配置
type Config struct {
	BaseURL string        `json:"base_url" yaml:"base_url" toml:"base_url"`
	APIKey  string        `json:"api_key" yaml:"api_key" toml:"api_key"`
	Timeout time.Duration `json:"timeout" yaml:"timeout" toml:"timeout"`
}

// Client 基于 resty 的 PaymentProcessor 实现
type Client struct {
	http   *resty.Client
	logger *slog.Logger
}

// NewClient 创建客户端
func NewClient(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Authorization", "Bearer "+cfg.APIKey).
		SetHeader("Content-Type", "application/json")

	return &Client{http: httpClient, logger: logger}
}

type transferPayload struct {
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Destination string            `json:"destination"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type transferResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Reversed  bool   `json:"reversed"`
	PayoutRef string `json:"payout_ref"`
}

type accountResponse struct {
	ID             string `json:"id"`
	ChargesEnabled bool   `json:"charges_enabled"`
	PayoutsEnabled bool   `json:"payouts_enabled"`
}

type payoutItem struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Created  int64  `json:"created"`
}

type payoutListResponse struct {
	Data    []payoutItem `json:"data"`
	HasMore bool         `json:"has_more"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// SubmitTransfer 向外部处理方提交转账。
// 幂等键透传到请求头，处理方侧保证同键请求只产生一笔转账
func (c *Client) SubmitTransfer(ctx context.Context, req domain.SubmitRequest) (string, error) {
	var (
		out    transferResponse
		outErr errorResponse
	)

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", req.IdempotencyKey).
		SetBody(transferPayload{
			Amount:      req.AmountCents,
			Currency:    req.Currency,
			Destination: req.RecipientRef,
			Metadata:    req.Metadata,
		}).
		SetResult(&out).
		SetError(&outErr).
		Post("/v1/transfers")
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrProcessorUnavailable, err)
	}

	if resp.IsError() {
		if resp.StatusCode() >= http.StatusInternalServerError || resp.StatusCode() == http.StatusTooManyRequests {
			return "", fmt.Errorf("%w: status %d", domain.ErrProcessorUnavailable, resp.StatusCode())
		}
		return "", fmt.Errorf("%w: %s", domain.ErrProcessorRejected, outErr.Error.Message)
	}

	c.logger.InfoContext(ctx, "transfer submitted to processor", "external_ref", out.ID, "status", out.Status)
	return out.ID, nil
}

// RetrieveTransfer 查询外部处理方的转账权威状态
func (c *Client) RetrieveTransfer(ctx context.Context, ref string) (*domain.RemoteTransfer, error) {
	var out transferResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/v1/transfers/" + ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProcessorUnavailable, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: retrieve transfer %s status %d", domain.ErrProcessorUnavailable, ref, resp.StatusCode())
	}

	return &domain.RemoteTransfer{
		Ref:       out.ID,
		Status:    out.Status,
		Reversed:  out.Reversed,
		PayoutRef: out.PayoutRef,
	}, nil
}

// RetrieveAccount 查询收款账户的开通状态
func (c *Client) RetrieveAccount(ctx context.Context, ref string) (*domain.RemoteAccount, error) {
	var out accountResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/v1/accounts/" + ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProcessorUnavailable, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: retrieve account %s status %d", domain.ErrProcessorUnavailable, ref, resp.StatusCode())
	}

	return &domain.RemoteAccount{
		Ref:            out.ID,
		ChargesEnabled: out.ChargesEnabled,
		PayoutsEnabled: out.PayoutsEnabled,
	}, nil
}

// ListPayouts 按创建时间窗口分页拉取 payout 记录
func (c *Client) ListPayouts(ctx context.Context, start, end time.Time) ([]domain.RemotePayout, error) {
	var (
		payouts       []domain.RemotePayout
		startingAfter string
	)

	for {
		var out payoutListResponse
		req := c.http.R().
			SetContext(ctx).
			SetQueryParam("created[gte]", fmt.Sprintf("%d", start.Unix())).
			SetQueryParam("created[lte]", fmt.Sprintf("%d", end.Unix())).
			SetQueryParam("limit", "100").
			SetResult(&out)
		if startingAfter != "" {
			req.SetQueryParam("starting_after", startingAfter)
		}

		resp, err := req.Get("/v1/payouts")
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrProcessorUnavailable, err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("%w: list payouts status %d", domain.ErrProcessorUnavailable, resp.StatusCode())
		}

		for _, item := range out.Data {
			payouts = append(payouts, domain.RemotePayout{
				PayoutRef: item.ID,
				Status:    item.Status,
				Amount:    item.Amount,
				Currency:  item.Currency,
				CreatedAt: time.Unix(item.Created, 0),
			})
		}

		if !out.HasMore || len(out.Data) == 0 {
			break
		}
		startingAfter = out.Data[len(out.Data)-1].ID
	}

	return payouts, nil
}
