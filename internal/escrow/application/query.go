package application

import (
	"context"

	"github.com/wyfcoding/crowdfunding/internal/escrow/domain"
)

// EscrowQueryService 托管账户查询服务
type EscrowQueryService struct {
	repo domain.EscrowRepository
}

// NewEscrowQueryService 创建查询服务
func NewEscrowQueryService(repo domain.EscrowRepository) *EscrowQueryService {
	return &EscrowQueryService{repo: repo}
}

// GetEscrow 查询单个托管账户
func (s *EscrowQueryService) GetEscrow(ctx context.Context, escrowID string) (*domain.EscrowAccount, error) {
	return s.repo.Get(ctx, escrowID)
}

// ListBySubject 查询项目下的全部托管账户
func (s *EscrowQueryService) ListBySubject(ctx context.Context, subjectID string) ([]*domain.EscrowAccount, error) {
	return s.repo.ListBySubject(ctx, subjectID)
}
