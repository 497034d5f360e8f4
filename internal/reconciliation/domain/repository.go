package domain

import "context"

// ReconciliationRepository 对账仓储接口
type ReconciliationRepository interface {
	SaveRun(ctx context.Context, run *ReconciliationRun) error
	GetRun(ctx context.Context, runID string) (*ReconciliationRun, error)
	ListRuns(ctx context.Context, kind string, limit int) ([]*ReconciliationRun, error)

	SaveDiscrepancy(ctx context.Context, d *Discrepancy) error
	GetDiscrepancy(ctx context.Context, discrepancyID string) (*Discrepancy, error)
	ListDiscrepancies(ctx context.Context, runID string) ([]Discrepancy, error)
	ListOpenDiscrepancies(ctx context.Context, limit int) ([]Discrepancy, error)
}
