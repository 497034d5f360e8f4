// Package infrastructure 对账仓储的 Gorm 实现
package infrastructure

import (
	"context"
	"fmt"

	"github.com/wyfcoding/crowdfunding/internal/reconciliation/domain"
	"gorm.io/gorm"
)

// GormReconciliationRepository 对账 Gorm 仓储
type GormReconciliationRepository struct {
	db *gorm.DB
}

// NewGormReconciliationRepository 创建仓储
func NewGormReconciliationRepository(db *gorm.DB) domain.ReconciliationRepository {
	return &GormReconciliationRepository{db: db}
}

func (r *GormReconciliationRepository) SaveRun(ctx context.Context, run *domain.ReconciliationRun) error {
	return r.db.WithContext(ctx).Save(run).Error
}

func (r *GormReconciliationRepository) GetRun(ctx context.Context, runID string) (*domain.ReconciliationRun, error) {
	var run domain.ReconciliationRun
	if err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Preload("Discrepancies").
		First(&run).Error; err != nil {
		return nil, fmt.Errorf("reconciliation run not found: %w", err)
	}
	return &run, nil
}

func (r *GormReconciliationRepository) ListRuns(ctx context.Context, kind string, limit int) ([]*domain.ReconciliationRun, error) {
	var runs []*domain.ReconciliationRun
	query := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if kind != "" {
		query = query.Where("kind = ?", kind)
	}
	err := query.Find(&runs).Error
	return runs, err
}

func (r *GormReconciliationRepository) SaveDiscrepancy(ctx context.Context, d *domain.Discrepancy) error {
	return r.db.WithContext(ctx).Save(d).Error
}

func (r *GormReconciliationRepository) GetDiscrepancy(ctx context.Context, discrepancyID string) (*domain.Discrepancy, error) {
	var d domain.Discrepancy
	if err := r.db.WithContext(ctx).Where("discrepancy_id = ?", discrepancyID).First(&d).Error; err != nil {
		return nil, fmt.Errorf("discrepancy not found: %w", err)
	}
	return &d, nil
}

func (r *GormReconciliationRepository) ListDiscrepancies(ctx context.Context, runID string) ([]domain.Discrepancy, error) {
	var items []domain.Discrepancy
	err := r.db.WithContext(ctx).Where("run_id = ?", runID).Find(&items).Error
	return items, err
}

func (r *GormReconciliationRepository) ListOpenDiscrepancies(ctx context.Context, limit int) ([]domain.Discrepancy, error) {
	var items []domain.Discrepancy
	err := r.db.WithContext(ctx).
		Where("status = ?", domain.DiscrepancyOpen).
		Order("created_at ASC").
		Limit(limit).
		Find(&items).Error
	return items, err
}
