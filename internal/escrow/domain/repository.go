package domain

import "context"

// EscrowRepository 托管账户仓储接口
type EscrowRepository interface {
	Save(ctx context.Context, account *EscrowAccount) error
	Update(ctx context.Context, account *EscrowAccount) error
	Get(ctx context.Context, escrowID string) (*EscrowAccount, error)
	// GetWithLock 行锁读取，deposit/release 必须走此入口以保证
	// 账户级别的读-改-写串行化
	GetWithLock(ctx context.Context, escrowID string) (*EscrowAccount, error)
	ListBySubject(ctx context.Context, subjectID string) ([]*EscrowAccount, error)
	WithTx(ctx context.Context, fn func(txCtx context.Context) error) error
}

// PayoutScheduler 释放审批通过后创建延迟转账指令的端口
type PayoutScheduler interface {
	Schedule(ctx context.Context, escrowID, recipientID string, amountCents int64, currency string, metadata map[string]string) (transferID string, err error)
}

// RiskGate 风控门，大额释放前咨询，返回 0-100 风险分
type RiskGate interface {
	Score(ctx context.Context, escrowID, actorID string, amountCents int64) (int, error)
}
