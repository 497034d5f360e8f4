// Package domain 出金转账领域模型
// 1) 定义 TransferRecord 聚合根，代表一条延迟出金指令
// 2) 实现 scheduled -> submitting -> submitted -> completed/failed/reversed 状态机
// 3) 重试策略：立即重试或指数退避 (base * 2^attempts)
package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TransferStatus 转账状态
type TransferStatus int8

const (
	TransferStatusScheduled  TransferStatus = 1 // 已排期，等待延迟窗口
	TransferStatusSubmitting TransferStatus = 2 // 已被调度器占用，提交中
	TransferStatusSubmitted  TransferStatus = 3 // 已提交到外部支付处理方
	TransferStatusCompleted  TransferStatus = 4 // 对账确认完成
	TransferStatusFailed     TransferStatus = 5 // 失败，可重试
	TransferStatusReversed   TransferStatus = 6 // 被外部处理方撤销
)

func (s TransferStatus) String() string {
	switch s {
	case TransferStatusScheduled:
		return "SCHEDULED"
	case TransferStatusSubmitting:
		return "SUBMITTING"
	case TransferStatusSubmitted:
		return "SUBMITTED"
	case TransferStatusCompleted:
		return "COMPLETED"
	case TransferStatusFailed:
		return "FAILED"
	case TransferStatusReversed:
		return "REVERSED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal 是否终态。终态记录不再参与调度与对账
func (s TransferStatus) IsTerminal() bool {
	return s == TransferStatusCompleted || s == TransferStatusReversed
}

// RetryPolicy 重试策略
type RetryPolicy int8

const (
	RetryImmediate RetryPolicy = 1 // 立即重试
	RetryBackoff   RetryPolicy = 2 // 指数退避
)

const (
	// MinimumDelayFloor 延迟窗口下限，保证人工/风控审查时间
	MinimumDelayFloor = time.Hour
	// DefaultMinimumDelay 默认延迟窗口
	DefaultMinimumDelay = 24 * time.Hour
	// DefaultMaxAttempts 默认重试上限
	DefaultMaxAttempts = 5
	// DefaultBackoffBase 指数退避基数
	DefaultBackoffBase = time.Minute
)

// TransferRecord 出金转账聚合根。记录只做终态标记，从不删除，保留审计链
type TransferRecord struct {
	gorm.Model
	TransferID     string          `gorm:"column:transfer_id;type:varchar(64);uniqueIndex;not null" json:"transfer_id"`
	IdempotencyKey string          `gorm:"column:idempotency_key;type:varchar(255);uniqueIndex;not null" json:"idempotency_key"`
	EscrowID       string          `gorm:"column:escrow_id;type:varchar(64);index" json:"escrow_id"`
	RecipientID    string          `gorm:"column:recipient_id;type:varchar(64);index;not null" json:"recipient_id"`
	AmountCents    int64           `gorm:"column:amount_cents;not null" json:"amount_cents"`
	Amount         decimal.Decimal `gorm:"column:amount;type:decimal(20,2);not null" json:"amount"` // 展示金额
	Currency       string          `gorm:"column:currency;type:char(3);not null" json:"currency"`
	Status         TransferStatus  `gorm:"column:status;type:tinyint;not null;default:1;index" json:"status"`

	ScheduledFor time.Time  `gorm:"column:scheduled_for;index;not null" json:"scheduled_for"`
	SubmittedAt  *time.Time `gorm:"column:submitted_at" json:"submitted_at"`
	ClaimedAt    *time.Time `gorm:"column:claimed_at" json:"claimed_at"`

	// 外部处理方分配的引用，提交成功后写入一次，之后不再变更
	ExternalRef string `gorm:"column:external_ref;type:varchar(128);index" json:"external_ref"`
	// 外部 payout 事件引用，用于窗口核对
	PayoutRef string `gorm:"column:payout_ref;type:varchar(128);index" json:"payout_ref"`

	Attempts      int        `gorm:"column:attempts;default:0" json:"attempts"`
	MaxAttempts   int        `gorm:"column:max_attempts;default:5" json:"max_attempts"`
	NextRetryAt   *time.Time `gorm:"column:next_retry_at" json:"next_retry_at"`
	FailureReason string     `gorm:"column:failure_reason;type:varchar(512)" json:"failure_reason"`
	// 瞬态失败标记（处理方不可用、占用超期等），调度器自动按退避重试；
	// 业务拒绝不打标记，只能人工重试
	Retryable bool `gorm:"column:retryable;default:false;index" json:"retryable"`

	Metadata string `gorm:"column:metadata;type:text" json:"metadata"`

	Events []TransferEvent `gorm:"foreignKey:TransferID;references:TransferID" json:"events"`
}

// TableName 表名
func (TransferRecord) TableName() string { return "transfer_records" }

// TransferEvent 转账审计事件
type TransferEvent struct {
	gorm.Model
	TransferID  string    `gorm:"column:transfer_id;type:varchar(64);index;not null" json:"transfer_id"`
	EventType   string    `gorm:"column:event_type;type:varchar(32);not null" json:"event_type"`
	ActorID     string    `gorm:"column:actor_id;type:varchar(64)" json:"actor_id"`
	Description string    `gorm:"column:description;type:varchar(255)" json:"description"`
	OccurredAt  time.Time `gorm:"column:occurred_at;not null" json:"occurred_at"`
}

// TableName 表名
func (TransferEvent) TableName() string { return "transfer_events" }

// NewTransferRecord 创建转账指令，scheduledFor = now + minDelay。
// minDelay 低于下限时按下限处理
func NewTransferRecord(transferID, idempotencyKey, escrowID, recipientID string, amountCents int64, currency string, metadata string, minDelay time.Duration) (*TransferRecord, error) {
	if amountCents <= 0 {
		return nil, ErrInvalidAmount
	}
	if minDelay < MinimumDelayFloor {
		minDelay = MinimumDelayFloor
	}

	now := time.Now()
	t := &TransferRecord{
		TransferID:     transferID,
		IdempotencyKey: idempotencyKey,
		EscrowID:       escrowID,
		RecipientID:    recipientID,
		AmountCents:    amountCents,
		Amount:         decimal.NewFromInt(amountCents).Div(decimal.NewFromInt(100)),
		Currency:       currency,
		Status:         TransferStatusScheduled,
		ScheduledFor:   now.Add(minDelay),
		MaxAttempts:    DefaultMaxAttempts,
		Metadata:       metadata,
	}
	t.addEvent("SCHEDULED", "system", fmt.Sprintf("scheduled for %s", t.ScheduledFor.Format(time.RFC3339)))
	return t, nil
}

// IsDue 延迟窗口是否已过
func (t *TransferRecord) IsDue(now time.Time) bool {
	return t.Status == TransferStatusScheduled && !now.Before(t.ScheduledFor)
}

// MarkSubmitted 提交成功，写入外部引用。引用只允许写入一次
func (t *TransferRecord) MarkSubmitted(externalRef string) error {
	if t.Status != TransferStatusSubmitting {
		return fmt.Errorf("invalid status %s for submit", t.Status)
	}
	if t.ExternalRef != "" {
		return ErrExternalRefImmutable
	}

	now := time.Now()
	t.Status = TransferStatusSubmitted
	t.ExternalRef = externalRef
	t.SubmittedAt = &now
	t.addEvent("SUBMITTED", "scheduler", fmt.Sprintf("external ref %s", externalRef))
	return nil
}

// Fail 标记失败。retryable 表示失败是瞬态的，允许调度器自动重试
func (t *TransferRecord) Fail(reason, actorID string, retryable bool) error {
	if t.Status.IsTerminal() {
		return fmt.Errorf("cannot fail transfer in terminal status %s", t.Status)
	}
	t.Status = TransferStatusFailed
	t.FailureReason = reason
	t.Retryable = retryable
	t.addEvent("FAILED", actorID, reason)
	return nil
}

// Retry 重试：回到 scheduled，按策略决定下一次可执行时间
func (t *TransferRecord) Retry(policy RetryPolicy, backoffBase time.Duration) error {
	if t.Status != TransferStatusFailed {
		return fmt.Errorf("invalid status %s for retry", t.Status)
	}
	if t.Attempts >= t.MaxAttempts {
		return ErrMaxAttemptsExceeded
	}
	if backoffBase <= 0 {
		backoffBase = DefaultBackoffBase
	}

	t.Attempts++
	now := time.Now()
	next := now
	if policy == RetryBackoff {
		next = now.Add(backoffBase * (1 << t.Attempts))
	}

	t.Status = TransferStatusScheduled
	t.ScheduledFor = next
	t.NextRetryAt = &next
	t.FailureReason = ""
	t.Retryable = false
	t.addEvent("RETRY", "scheduler", fmt.Sprintf("attempt %d, next at %s", t.Attempts, next.Format(time.RFC3339)))
	return nil
}

// CanRetry 是否还可以重试
func (t *TransferRecord) CanRetry() bool {
	return t.Status == TransferStatusFailed && t.Attempts < t.MaxAttempts
}

func (t *TransferRecord) addEvent(eventType, actorID, description string) {
	t.Events = append(t.Events, TransferEvent{
		TransferID:  t.TransferID,
		EventType:   eventType,
		ActorID:     actorID,
		Description: description,
		OccurredAt:  time.Now(),
	})
}
