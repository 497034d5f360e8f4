// Package domain 托管账户领域事件
package domain

import "time"

// 事件主题常量，同时作为 Kafka topic
const (
	EscrowCreatedEventType   = "escrow.created"
	FundsDepositedEventType  = "escrow.funds_deposited"
	FundsReleasedEventType   = "escrow.funds_released"
	EscrowFrozenEventType    = "escrow.frozen"
	EscrowUnfrozenEventType  = "escrow.unfrozen"
	EscrowClosedEventType    = "escrow.closed"
)

type DomainEvent interface {
	EventName() string
	OccurredAt() time.Time
}

// EscrowCreatedEvent 托管账户创建事件
type EscrowCreatedEvent struct {
	EscrowID  string    `json:"escrow_id"`
	SubjectID string    `json:"subject_id"`
	Balance   int64     `json:"balance"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *EscrowCreatedEvent) EventName() string     { return EscrowCreatedEventType }
func (e *EscrowCreatedEvent) OccurredAt() time.Time { return e.Timestamp }

// FundsDepositedEvent 入金事件
type FundsDepositedEvent struct {
	EscrowID  string    `json:"escrow_id"`
	Amount    int64     `json:"amount"`
	Balance   int64     `json:"balance"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *FundsDepositedEvent) EventName() string     { return FundsDepositedEventType }
func (e *FundsDepositedEvent) OccurredAt() time.Time { return e.Timestamp }

// FundsReleasedEvent 资金释放事件
type FundsReleasedEvent struct {
	EscrowID  string    `json:"escrow_id"`
	Condition string    `json:"condition"`
	ActorID   string    `json:"actor_id"`
	Amount    int64     `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *FundsReleasedEvent) EventName() string     { return FundsReleasedEventType }
func (e *FundsReleasedEvent) OccurredAt() time.Time { return e.Timestamp }

// EscrowFrozenEvent 冻结事件
type EscrowFrozenEvent struct {
	EscrowID  string    `json:"escrow_id"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *EscrowFrozenEvent) EventName() string     { return EscrowFrozenEventType }
func (e *EscrowFrozenEvent) OccurredAt() time.Time { return e.Timestamp }

// EscrowUnfrozenEvent 解冻事件
type EscrowUnfrozenEvent struct {
	EscrowID  string    `json:"escrow_id"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *EscrowUnfrozenEvent) EventName() string     { return EscrowUnfrozenEventType }
func (e *EscrowUnfrozenEvent) OccurredAt() time.Time { return e.Timestamp }

// EscrowClosedEvent 关闭事件
type EscrowClosedEvent struct {
	EscrowID  string    `json:"escrow_id"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *EscrowClosedEvent) EventName() string     { return EscrowClosedEventType }
func (e *EscrowClosedEvent) OccurredAt() time.Time { return e.Timestamp }
