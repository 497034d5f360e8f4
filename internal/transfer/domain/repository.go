package domain

import (
	"context"
	"time"
)

// TransferRepository 转账仓储接口
type TransferRepository interface {
	Save(ctx context.Context, record *TransferRecord) error
	Update(ctx context.Context, record *TransferRecord) error
	Get(ctx context.Context, transferID string) (*TransferRecord, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*TransferRecord, error)
	GetByExternalRef(ctx context.Context, ref string) (*TransferRecord, error)
	GetByPayoutRef(ctx context.Context, payoutRef string) (*TransferRecord, error)

	// FindDue 查询延迟窗口已过的 scheduled 记录
	FindDue(ctx context.Context, now time.Time, limit int) ([]*TransferRecord, error)
	// FindStaleSubmitting 查询占用超过 staleness 阈值的 submitting 记录
	FindStaleSubmitting(ctx context.Context, olderThan time.Time, limit int) ([]*TransferRecord, error)
	// FindRetryableFailed 查询未达重试上限的瞬态失败记录（自动重试扫描源）
	FindRetryableFailed(ctx context.Context, limit int) ([]*TransferRecord, error)
	// FindPendingWithExternalRef 查询非终态且已有外部引用的记录（对账扫描源）
	FindPendingWithExternalRef(ctx context.Context, limit int) ([]*TransferRecord, error)
	ListByEscrow(ctx context.Context, escrowID string) ([]*TransferRecord, error)

	// CompareAndSetStatus 单记录原子状态迁移。仅当当前状态等于 from 时更新为 to，
	// 返回是否迁移成功。调度器的占用步骤与对账的读-比-写都建立在它之上
	CompareAndSetStatus(ctx context.Context, transferID string, from, to TransferStatus) (bool, error)

	WithTx(ctx context.Context, fn func(txCtx context.Context) error) error
}

// MerchantAccountRepository 收款方镜像仓储接口
type MerchantAccountRepository interface {
	Save(ctx context.Context, account *MerchantAccount) error
	Get(ctx context.Context, recipientID string) (*MerchantAccount, error)
	ListWithExternalRef(ctx context.Context, limit int) ([]*MerchantAccount, error)
}
