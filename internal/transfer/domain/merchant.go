package domain

import (
	"time"

	"gorm.io/gorm"
)

// MerchantStatus 收款方账户状态
type MerchantStatus string

const (
	MerchantStatusActive     MerchantStatus = "active"
	MerchantStatusRestricted MerchantStatus = "restricted"
)

// MerchantAccount 收款方在外部处理方的开通状态镜像。
// ChargesEnabled/PayoutsEnabled 是远端状态的纯镜像，由对账服务无条件覆盖
type MerchantAccount struct {
	gorm.Model
	RecipientID        string         `gorm:"column:recipient_id;type:varchar(64);uniqueIndex;not null" json:"recipient_id"`
	ExternalAccountRef string         `gorm:"column:external_account_ref;type:varchar(128);index" json:"external_account_ref"`
	ChargesEnabled     bool           `gorm:"column:charges_enabled;default:false" json:"charges_enabled"`
	PayoutsEnabled     bool           `gorm:"column:payouts_enabled;default:false" json:"payouts_enabled"`
	Status             MerchantStatus `gorm:"column:status;type:varchar(16);default:'restricted'" json:"status"`
	LastSyncedAt       *time.Time     `gorm:"column:last_synced_at" json:"last_synced_at"`
}

// TableName 表名
func (MerchantAccount) TableName() string { return "merchant_accounts" }

// CanReceivePayouts 是否可以接收出金
func (m *MerchantAccount) CanReceivePayouts() bool {
	return m.PayoutsEnabled
}

// SyncFromRemote 用远端权威状态覆盖本地镜像
func (m *MerchantAccount) SyncFromRemote(chargesEnabled, payoutsEnabled bool) {
	m.ChargesEnabled = chargesEnabled
	m.PayoutsEnabled = payoutsEnabled
	if chargesEnabled {
		m.Status = MerchantStatusActive
	} else {
		m.Status = MerchantStatusRestricted
	}
	now := time.Now()
	m.LastSyncedAt = &now
}
