// Package infrastructure 转账基础设施层实现
// 1) GormTransferRepository 实现 domain.TransferRepository
// 2) CompareAndSetStatus 通过条件更新 + RowsAffected 实现单记录 CAS
package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/wyfcoding/crowdfunding/internal/transfer/domain"
	"github.com/wyfcoding/pkg/contextx"
	"gorm.io/gorm"
)

// GormTransferRepository 转账 Gorm 仓储
type GormTransferRepository struct {
	db *gorm.DB
}

// NewGormTransferRepository 创建仓储
func NewGormTransferRepository(db *gorm.DB) domain.TransferRepository {
	return &GormTransferRepository{db: db}
}

func (r *GormTransferRepository) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return r.db
}

func (r *GormTransferRepository) Save(ctx context.Context, record *domain.TransferRecord) error {
	return r.getDB(ctx).WithContext(ctx).Create(record).Error
}

func (r *GormTransferRepository) Update(ctx context.Context, record *domain.TransferRecord) error {
	return r.getDB(ctx).WithContext(ctx).Session(&gorm.Session{FullSaveAssociations: true}).Save(record).Error
}

func (r *GormTransferRepository) Get(ctx context.Context, transferID string) (*domain.TransferRecord, error) {
	var record domain.TransferRecord
	if err := r.getDB(ctx).WithContext(ctx).
		Where("transfer_id = ?", transferID).
		Preload("Events").
		First(&record).Error; err != nil {
		return nil, fmt.Errorf("transfer not found: %w", err)
	}
	return &record, nil
}

func (r *GormTransferRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.TransferRecord, error) {
	var record domain.TransferRecord
	err := r.getDB(ctx).WithContext(ctx).Where("idempotency_key = ?", key).First(&record).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *GormTransferRepository) GetByExternalRef(ctx context.Context, ref string) (*domain.TransferRecord, error) {
	var record domain.TransferRecord
	if err := r.getDB(ctx).WithContext(ctx).Where("external_ref = ?", ref).First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *GormTransferRepository) GetByPayoutRef(ctx context.Context, payoutRef string) (*domain.TransferRecord, error) {
	var record domain.TransferRecord
	err := r.getDB(ctx).WithContext(ctx).Where("payout_ref = ?", payoutRef).First(&record).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *GormTransferRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]*domain.TransferRecord, error) {
	var records []*domain.TransferRecord
	err := r.getDB(ctx).WithContext(ctx).
		Where("status = ? AND scheduled_for <= ?", domain.TransferStatusScheduled, now).
		Order("scheduled_for ASC, created_at ASC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

func (r *GormTransferRepository) FindStaleSubmitting(ctx context.Context, olderThan time.Time, limit int) ([]*domain.TransferRecord, error) {
	var records []*domain.TransferRecord
	err := r.getDB(ctx).WithContext(ctx).
		Where("status = ? AND claimed_at <= ?", domain.TransferStatusSubmitting, olderThan).
		Limit(limit).
		Find(&records).Error
	return records, err
}

func (r *GormTransferRepository) FindRetryableFailed(ctx context.Context, limit int) ([]*domain.TransferRecord, error) {
	var records []*domain.TransferRecord
	err := r.getDB(ctx).WithContext(ctx).
		Where("status = ? AND retryable = ? AND attempts < max_attempts", domain.TransferStatusFailed, true).
		Order("updated_at ASC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

func (r *GormTransferRepository) FindPendingWithExternalRef(ctx context.Context, limit int) ([]*domain.TransferRecord, error) {
	var records []*domain.TransferRecord
	err := r.getDB(ctx).WithContext(ctx).
		Where("status IN ? AND external_ref <> ''",
			[]domain.TransferStatus{domain.TransferStatusSubmitted, domain.TransferStatusFailed}).
		Limit(limit).
		Find(&records).Error
	return records, err
}

func (r *GormTransferRepository) ListByEscrow(ctx context.Context, escrowID string) ([]*domain.TransferRecord, error) {
	var records []*domain.TransferRecord
	err := r.getDB(ctx).WithContext(ctx).
		Where("escrow_id = ?", escrowID).
		Order("created_at ASC").
		Find(&records).Error
	return records, err
}

func (r *GormTransferRepository) CompareAndSetStatus(ctx context.Context, transferID string, from, to domain.TransferStatus) (bool, error) {
	updates := map[string]any{
		"status":     to,
		"updated_at": time.Now(),
	}
	if to == domain.TransferStatusSubmitting {
		updates["claimed_at"] = time.Now()
	}

	res := r.getDB(ctx).WithContext(ctx).Model(&domain.TransferRecord{}).
		Where("transfer_id = ? AND status = ?", transferID, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *GormTransferRepository) WithTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(contextx.WithTx(ctx, tx))
	})
}

// GormMerchantAccountRepository 收款方镜像 Gorm 仓储
type GormMerchantAccountRepository struct {
	db *gorm.DB
}

// NewGormMerchantAccountRepository 创建仓储
func NewGormMerchantAccountRepository(db *gorm.DB) domain.MerchantAccountRepository {
	return &GormMerchantAccountRepository{db: db}
}

func (r *GormMerchantAccountRepository) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return r.db
}

func (r *GormMerchantAccountRepository) Save(ctx context.Context, account *domain.MerchantAccount) error {
	return r.getDB(ctx).WithContext(ctx).Save(account).Error
}

func (r *GormMerchantAccountRepository) Get(ctx context.Context, recipientID string) (*domain.MerchantAccount, error) {
	var account domain.MerchantAccount
	if err := r.getDB(ctx).WithContext(ctx).Where("recipient_id = ?", recipientID).First(&account).Error; err != nil {
		return nil, fmt.Errorf("merchant account not found: %w", err)
	}
	return &account, nil
}

func (r *GormMerchantAccountRepository) ListWithExternalRef(ctx context.Context, limit int) ([]*domain.MerchantAccount, error) {
	var accounts []*domain.MerchantAccount
	err := r.getDB(ctx).WithContext(ctx).
		Where("external_account_ref <> ''").
		Limit(limit).
		Find(&accounts).Error
	return accounts, err
}
