// Package infrastructure 托管账户基础设施层实现
// 1) GormEscrowRepository 实现 domain.EscrowRepository
// 2) 统一处理事务上下文 (contextx.GetTx)
package infrastructure

import (
	"context"
	"fmt"

	"github.com/wyfcoding/crowdfunding/internal/escrow/domain"
	"github.com/wyfcoding/pkg/contextx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormEscrowRepository 托管账户 Gorm 仓储
type GormEscrowRepository struct {
	db *gorm.DB
}

// NewGormEscrowRepository 创建仓储
func NewGormEscrowRepository(db *gorm.DB) domain.EscrowRepository {
	return &GormEscrowRepository{db: db}
}

func (r *GormEscrowRepository) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return r.db
}

func (r *GormEscrowRepository) Save(ctx context.Context, account *domain.EscrowAccount) error {
	return r.getDB(ctx).WithContext(ctx).Create(account).Error
}

func (r *GormEscrowRepository) Update(ctx context.Context, account *domain.EscrowAccount) error {
	account.Version++
	return r.getDB(ctx).WithContext(ctx).Session(&gorm.Session{FullSaveAssociations: true}).Save(account).Error
}

func (r *GormEscrowRepository) Get(ctx context.Context, escrowID string) (*domain.EscrowAccount, error) {
	var account domain.EscrowAccount
	if err := r.getDB(ctx).WithContext(ctx).
		Where("escrow_id = ?", escrowID).
		Preload("Conditions").
		Preload("Events").
		First(&account).Error; err != nil {
		return nil, fmt.Errorf("escrow account not found: %w", err)
	}
	return &account, nil
}

func (r *GormEscrowRepository) GetWithLock(ctx context.Context, escrowID string) (*domain.EscrowAccount, error) {
	var account domain.EscrowAccount
	if err := r.getDB(ctx).WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("escrow_id = ?", escrowID).
		Preload("Conditions").
		First(&account).Error; err != nil {
		return nil, fmt.Errorf("escrow account lock failed: %w", err)
	}
	return &account, nil
}

func (r *GormEscrowRepository) ListBySubject(ctx context.Context, subjectID string) ([]*domain.EscrowAccount, error) {
	var accounts []*domain.EscrowAccount
	err := r.getDB(ctx).WithContext(ctx).
		Where("subject_id = ?", subjectID).
		Preload("Conditions").
		Order("created_at ASC").
		Find(&accounts).Error
	return accounts, err
}

func (r *GormEscrowRepository) WithTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(contextx.WithTx(ctx, tx))
	})
}
