// Package domain 托管账户领域模型
// 1) 定义 EscrowAccount 聚合根，代表众筹项目的托管资金账户
// 2) 实现入金、条件释放、冻结、解冻、关闭的状态机（不仅是CRUD）
package domain

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// EscrowStatus 托管账户状态
type EscrowStatus int8

const (
	EscrowStatusActive EscrowStatus = 1 // 正常
	EscrowStatusFrozen EscrowStatus = 2 // 冻结（争议中）
	EscrowStatusClosed EscrowStatus = 3 // 已关闭
)

func (s EscrowStatus) String() string {
	switch s {
	case EscrowStatusActive:
		return "ACTIVE"
	case EscrowStatusFrozen:
		return "FROZEN"
	case EscrowStatusClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// EscrowAccount 托管账户聚合根
type EscrowAccount struct {
	gorm.Model
	EscrowID  string       `gorm:"column:escrow_id;type:varchar(64);uniqueIndex;not null" json:"escrow_id"`
	SubjectID string       `gorm:"column:subject_id;type:varchar(64);index;not null" json:"subject_id"`
	Balance   int64        `gorm:"column:balance;not null;default:0" json:"balance"` // 余额(分)，恒 >= 0
	Currency  string       `gorm:"column:currency;type:char(3);not null;default:'EUR'" json:"currency"`
	Status    EscrowStatus `gorm:"column:status;type:tinyint;not null;default:1" json:"status"`

	FrozenReason string     `gorm:"column:frozen_reason;type:varchar(255)" json:"frozen_reason"`
	ClosedAt     *time.Time `gorm:"column:closed_at" json:"closed_at"`

	// 乐观锁版本号
	Version int64 `gorm:"column:version;not null;default:1" json:"version"`

	Conditions []ReleaseCondition `gorm:"foreignKey:EscrowID;references:EscrowID" json:"conditions"`
	Events     []EscrowEvent      `gorm:"foreignKey:EscrowID;references:EscrowID" json:"events"`

	// 领域事件
	domainEvents []DomainEvent `gorm:"-"`
}

// TableName 表名
func (EscrowAccount) TableName() string { return "escrow_accounts" }

// ReleaseCondition 释放条件，每个条件满足后一次性释放全部剩余余额
type ReleaseCondition struct {
	gorm.Model
	EscrowID       string     `gorm:"column:escrow_id;type:varchar(64);index;not null" json:"escrow_id"`
	Name           string     `gorm:"column:name;type:varchar(64);not null" json:"name"`
	ReleasedAt     *time.Time `gorm:"column:released_at" json:"released_at"`
	ReleasedAmount int64      `gorm:"column:released_amount;default:0" json:"released_amount"`
	ReleasedBy     string     `gorm:"column:released_by;type:varchar(64)" json:"released_by"`
}

// TableName 表名
func (ReleaseCondition) TableName() string { return "escrow_release_conditions" }

// EscrowEvent 托管账户审计事件（仅追加，用于争议与监管审计）
type EscrowEvent struct {
	gorm.Model
	EscrowID    string    `gorm:"column:escrow_id;type:varchar(64);index;not null" json:"escrow_id"`
	EventType   string    `gorm:"column:event_type;type:varchar(32);not null" json:"event_type"`
	ActorID     string    `gorm:"column:actor_id;type:varchar(64)" json:"actor_id"`
	Description string    `gorm:"column:description;type:varchar(255)" json:"description"`
	BalanceFrom int64     `gorm:"column:balance_from" json:"balance_from"`
	BalanceTo   int64     `gorm:"column:balance_to" json:"balance_to"`
	OccurredAt  time.Time `gorm:"column:occurred_at;not null" json:"occurred_at"`
}

// TableName 表名
func (EscrowEvent) TableName() string { return "escrow_events" }

// NewEscrowAccount 创建托管账户，initialAmount 必须 >= 0
func NewEscrowAccount(escrowID, subjectID string, initialAmount int64, currency string, conditionNames []string) (*EscrowAccount, error) {
	if initialAmount < 0 {
		return nil, ErrInvalidAmount
	}
	if currency == "" {
		currency = "EUR"
	}

	conditions := make([]ReleaseCondition, 0, len(conditionNames))
	for _, name := range conditionNames {
		conditions = append(conditions, ReleaseCondition{EscrowID: escrowID, Name: name})
	}

	a := &EscrowAccount{
		EscrowID:   escrowID,
		SubjectID:  subjectID,
		Balance:    initialAmount,
		Currency:   currency,
		Status:     EscrowStatusActive,
		Version:    1,
		Conditions: conditions,
	}

	a.addAuditEvent("CREATED", "system", fmt.Sprintf("escrow created for %s", subjectID), 0, initialAmount)
	a.addEvent(&EscrowCreatedEvent{
		EscrowID:  escrowID,
		SubjectID: subjectID,
		Balance:   initialAmount,
		Timestamp: time.Now(),
	})
	return a, nil
}

// Deposit 入金。冻结账户仍可入金，关闭账户拒绝
func (a *EscrowAccount) Deposit(amount int64, actorID string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if a.Status == EscrowStatusClosed {
		return ErrAccountClosed
	}

	before := a.Balance
	a.Balance += amount

	a.addAuditEvent("DEPOSITED", actorID, fmt.Sprintf("deposit %d", amount), before, a.Balance)
	a.addEvent(&FundsDepositedEvent{
		EscrowID:  a.EscrowID,
		Amount:    amount,
		Balance:   a.Balance,
		Timestamp: time.Now(),
	})
	return nil
}

// Release 按条件释放全部剩余余额。
// 策略：条件门控的是全部剩余余额的一次性释放，而非按比例拆分。
func (a *EscrowAccount) Release(conditionName, actorID string) (int64, error) {
	if a.Status == EscrowStatusClosed {
		return 0, ErrAccountClosed
	}
	if a.Status == EscrowStatusFrozen {
		return 0, ErrAccountFrozen
	}

	var cond *ReleaseCondition
	for i := range a.Conditions {
		if a.Conditions[i].Name == conditionName {
			cond = &a.Conditions[i]
			break
		}
	}
	if cond == nil {
		return 0, ErrConditionNotDeclared
	}
	if cond.ReleasedAt != nil {
		return 0, ErrConditionAlreadyReleased
	}
	if a.Balance <= 0 {
		return 0, ErrInsufficientBalance
	}

	now := time.Now()
	released := a.Balance
	before := a.Balance
	a.Balance = 0

	cond.ReleasedAt = &now
	cond.ReleasedAmount = released
	cond.ReleasedBy = actorID

	a.addAuditEvent("RELEASED", actorID, fmt.Sprintf("released %d on %s", released, conditionName), before, 0)
	a.addEvent(&FundsReleasedEvent{
		EscrowID:  a.EscrowID,
		Condition: conditionName,
		ActorID:   actorID,
		Amount:    released,
		Timestamp: now,
	})

	// 所有条件都已消耗后自动关闭
	if a.remainingConditions() == 0 {
		a.Status = EscrowStatusClosed
		a.ClosedAt = &now
		a.addAuditEvent("CLOSED", actorID, "all release conditions exhausted", 0, 0)
		a.addEvent(&EscrowClosedEvent{EscrowID: a.EscrowID, Timestamp: now})
	}

	return released, nil
}

// Freeze 冻结账户（争议处理）。重复冻结幂等
func (a *EscrowAccount) Freeze(reason, actorID string) error {
	if a.Status == EscrowStatusClosed {
		return ErrAccountClosed
	}
	if a.Status == EscrowStatusFrozen {
		return nil
	}

	a.Status = EscrowStatusFrozen
	a.FrozenReason = reason

	a.addAuditEvent("FROZEN", actorID, reason, a.Balance, a.Balance)
	a.addEvent(&EscrowFrozenEvent{
		EscrowID:  a.EscrowID,
		Reason:    reason,
		Timestamp: time.Now(),
	})
	return nil
}

// Unfreeze 解冻账户
func (a *EscrowAccount) Unfreeze(actorID string) error {
	if a.Status == EscrowStatusClosed {
		return ErrAccountClosed
	}
	if a.Status != EscrowStatusFrozen {
		return ErrAccountNotFrozen
	}

	a.Status = EscrowStatusActive
	a.FrozenReason = ""

	a.addAuditEvent("UNFROZEN", actorID, "", a.Balance, a.Balance)
	a.addEvent(&EscrowUnfrozenEvent{EscrowID: a.EscrowID, Timestamp: time.Now()})
	return nil
}

// Close 显式关闭。冻结账户必须先解冻（防止争议资金在冻结期间被放出）
func (a *EscrowAccount) Close(actorID string) error {
	if a.Status == EscrowStatusClosed {
		return nil
	}
	if a.Status == EscrowStatusFrozen {
		return ErrAccountFrozen
	}
	if a.Balance != 0 {
		return ErrBalanceRemaining
	}

	now := time.Now()
	a.Status = EscrowStatusClosed
	a.ClosedAt = &now

	a.addAuditEvent("CLOSED", actorID, "explicit close", 0, 0)
	a.addEvent(&EscrowClosedEvent{EscrowID: a.EscrowID, Timestamp: now})
	return nil
}

// HasCondition 是否声明了该释放条件
func (a *EscrowAccount) HasCondition(name string) bool {
	for i := range a.Conditions {
		if a.Conditions[i].Name == name {
			return true
		}
	}
	return false
}

func (a *EscrowAccount) remainingConditions() int {
	n := 0
	for i := range a.Conditions {
		if a.Conditions[i].ReleasedAt == nil {
			n++
		}
	}
	return n
}

func (a *EscrowAccount) addAuditEvent(eventType, actorID, description string, balanceFrom, balanceTo int64) {
	a.Events = append(a.Events, EscrowEvent{
		EscrowID:    a.EscrowID,
		EventType:   eventType,
		ActorID:     actorID,
		Description: description,
		BalanceFrom: balanceFrom,
		BalanceTo:   balanceTo,
		OccurredAt:  time.Now(),
	})
}

func (a *EscrowAccount) addEvent(event DomainEvent) {
	a.domainEvents = append(a.domainEvents, event)
}

func (a *EscrowAccount) GetDomainEvents() []DomainEvent {
	return a.domainEvents
}

func (a *EscrowAccount) ClearDomainEvents() {
	a.domainEvents = nil
}
