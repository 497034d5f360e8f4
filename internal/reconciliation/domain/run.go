// Package domain 对账领域模型。
// 本地转账台账与外部处理方的权威记录定期比对，外部侧为准：
// 差异要么被修正（本地状态纠偏），要么作为差异记录留待人工处理。
package domain

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

type RunStatus int8
type DiscrepancyStatus int8

const (
	RunRunning   RunStatus = 1
	RunCompleted RunStatus = 2
	RunFailed    RunStatus = 3

	DiscrepancyOpen     DiscrepancyStatus = 1
	DiscrepancyResolved DiscrepancyStatus = 2
	DiscrepancyIgnored  DiscrepancyStatus = 3
)

// 对账类型
const (
	RunKindTransfers = "transfers"
	RunKindPayouts   = "payouts"
	RunKindMerchants = "merchants"
)

func (s RunStatus) String() string {
	switch s {
	case RunRunning:
		return "RUNNING"
	case RunCompleted:
		return "COMPLETED"
	case RunFailed:
		return "FAILED"
	}
	return "UNKNOWN"
}

func (s DiscrepancyStatus) String() string {
	switch s {
	case DiscrepancyOpen:
		return "OPEN"
	case DiscrepancyResolved:
		return "RESOLVED"
	case DiscrepancyIgnored:
		return "IGNORED"
	}
	return "UNKNOWN"
}

// ReconciliationRun 一次对账执行
type ReconciliationRun struct {
	gorm.Model
	RunID            string     `gorm:"column:run_id;type:varchar(32);uniqueIndex;not null"`
	Kind             string     `gorm:"column:kind;type:varchar(20);not null"`
	WindowStart      *time.Time `gorm:"column:window_start"`
	WindowEnd        *time.Time `gorm:"column:window_end"`
	Status           RunStatus  `gorm:"column:status;type:tinyint;not null;default:1"`
	CheckedCount     int32      `gorm:"column:checked_count;default:0"`
	CorrectedCount   int32      `gorm:"column:corrected_count;default:0"`
	DiscrepancyCount int32      `gorm:"column:discrepancy_count;default:0"`
	ErrorCount       int32      `gorm:"column:error_count;default:0"`
	FinishedAt       *time.Time `gorm:"column:finished_at"`

	Discrepancies []Discrepancy `gorm:"foreignKey:RunID;references:RunID"`
}

// Discrepancy 差异记录
type Discrepancy struct {
	gorm.Model
	DiscrepancyID string            `gorm:"column:discrepancy_id;type:varchar(32);uniqueIndex;not null"`
	RunID         string            `gorm:"column:run_id;type:varchar(32);index;not null"`
	RecordID      string            `gorm:"column:record_id;type:varchar(64);index;not null"`
	Field         string            `gorm:"column:field;type:varchar(50);not null"`
	LocalValue    string            `gorm:"column:local_value;type:varchar(255)"`
	RemoteValue   string            `gorm:"column:remote_value;type:varchar(255)"`
	Corrected     bool              `gorm:"column:corrected;default:false"`
	Status        DiscrepancyStatus `gorm:"column:status;type:tinyint;not null;default:1"`
	Resolution    string            `gorm:"column:resolution;type:varchar(50)"`
	Comment       string            `gorm:"column:comment;type:varchar(255)"`
}

func (ReconciliationRun) TableName() string { return "reconciliation_runs" }
func (Discrepancy) TableName() string       { return "reconciliation_discrepancies" }

func NewRun(id, kind string, windowStart, windowEnd *time.Time) *ReconciliationRun {
	return &ReconciliationRun{
		RunID:       id,
		Kind:        kind,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		Status:      RunRunning,
	}
}

func (r *ReconciliationRun) Complete() {
	now := time.Now()
	r.Status = RunCompleted
	r.FinishedAt = &now
}

func (r *ReconciliationRun) Fail() {
	now := time.Now()
	r.Status = RunFailed
	r.FinishedAt = &now
}

func (d *Discrepancy) Resolve(resolution, comment string) error {
	if d.Status != DiscrepancyOpen {
		return errors.New("discrepancy not open")
	}
	d.Status = DiscrepancyResolved
	d.Resolution = resolution
	d.Comment = comment
	return nil
}

func (d *Discrepancy) Ignore(comment string) error {
	if d.Status != DiscrepancyOpen {
		return errors.New("discrepancy not open")
	}
	d.Status = DiscrepancyIgnored
	d.Comment = comment
	return nil
}
