// Package domain 转账领域事件
package domain

import "time"

const (
	TransferScheduledEventType = "transfer.scheduled"
	TransferSubmittedEventType = "transfer.submitted"
	TransferFailedEventType    = "transfer.failed"
	TransferReversedEventType  = "transfer.reversed"
	TransferCompletedEventType = "transfer.completed"
)

type DomainEvent interface {
	EventName() string
	OccurredAt() time.Time
}

// TransferScheduledEvent 转账排期事件
type TransferScheduledEvent struct {
	TransferID   string    `json:"transfer_id"`
	EscrowID     string    `json:"escrow_id"`
	RecipientID  string    `json:"recipient_id"`
	AmountCents  int64     `json:"amount_cents"`
	ScheduledFor time.Time `json:"scheduled_for"`
	Timestamp    time.Time `json:"timestamp"`
}

func (e *TransferScheduledEvent) EventName() string     { return TransferScheduledEventType }
func (e *TransferScheduledEvent) OccurredAt() time.Time { return e.Timestamp }

// TransferSubmittedEvent 转账提交事件
type TransferSubmittedEvent struct {
	TransferID  string    `json:"transfer_id"`
	ExternalRef string    `json:"external_ref"`
	AmountCents int64     `json:"amount_cents"`
	Timestamp   time.Time `json:"timestamp"`
}

func (e *TransferSubmittedEvent) EventName() string     { return TransferSubmittedEventType }
func (e *TransferSubmittedEvent) OccurredAt() time.Time { return e.Timestamp }

// TransferFailedEvent 转账失败事件
type TransferFailedEvent struct {
	TransferID string    `json:"transfer_id"`
	Reason     string    `json:"reason"`
	Attempts   int       `json:"attempts"`
	Timestamp  time.Time `json:"timestamp"`
}

func (e *TransferFailedEvent) EventName() string     { return TransferFailedEventType }
func (e *TransferFailedEvent) OccurredAt() time.Time { return e.Timestamp }

// TransferStatusCorrectedEvent 对账修正事件
type TransferStatusCorrectedEvent struct {
	TransferID string    `json:"transfer_id"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Timestamp  time.Time `json:"timestamp"`
}

func (e *TransferStatusCorrectedEvent) EventName() string {
	if e.ToStatus == TransferStatusReversed.String() {
		return TransferReversedEventType
	}
	return TransferCompletedEventType
}
func (e *TransferStatusCorrectedEvent) OccurredAt() time.Time { return e.Timestamp }
