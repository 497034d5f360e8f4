package domain

import (
	"context"
	"time"
)

// SubmitRequest 外部提交请求
type SubmitRequest struct {
	IdempotencyKey string
	AmountCents    int64
	Currency       string
	RecipientRef   string
	Metadata       map[string]string
}

// RemoteTransfer 外部处理方的转账权威记录
type RemoteTransfer struct {
	Ref       string
	Status    string
	Reversed  bool
	PayoutRef string
}

// RemoteAccount 外部处理方的账户开通状态
type RemoteAccount struct {
	Ref            string
	ChargesEnabled bool
	PayoutsEnabled bool
}

// RemotePayout 外部处理方的 payout 事件
type RemotePayout struct {
	PayoutRef string
	Status    string // paid / failed / pending
	Amount    int64
	Currency  string
	CreatedAt time.Time
}

// PaymentProcessor 外部支付处理方客户端端口。
// 实现必须携带有界超时与幂等键，超时视为失败交由重试策略处理
type PaymentProcessor interface {
	SubmitTransfer(ctx context.Context, req SubmitRequest) (ref string, err error)
	RetrieveTransfer(ctx context.Context, ref string) (*RemoteTransfer, error)
	RetrieveAccount(ctx context.Context, ref string) (*RemoteAccount, error)
	ListPayouts(ctx context.Context, start, end time.Time) ([]RemotePayout, error)
}
