// Package application 托管账户应用层
package application

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/wyfcoding/crowdfunding/internal/escrow/domain"
	"github.com/wyfcoding/pkg/contextx"
	"github.com/wyfcoding/pkg/idgen"
	"github.com/wyfcoding/pkg/messagequeue"
)

// RiskPolicy 风控策略：达到 ThresholdCents 的释放需咨询风控门，
// 分数超过 ScoreLimit 时冻结账户而非放行
type RiskPolicy struct {
	ThresholdCents int64
	ScoreLimit     int
}

// EscrowService 托管账户命令服务
type EscrowService struct {
	repo      domain.EscrowRepository
	payouts   domain.PayoutScheduler
	riskGate  domain.RiskGate
	risk      RiskPolicy
	publisher messagequeue.EventPublisher
	logger    *slog.Logger
}

// NewEscrowService 创建托管账户服务
func NewEscrowService(
	repo domain.EscrowRepository,
	payouts domain.PayoutScheduler,
	riskGate domain.RiskGate,
	risk RiskPolicy,
	publisher messagequeue.EventPublisher,
	logger *slog.Logger,
) *EscrowService {
	return &EscrowService{
		repo:      repo,
		payouts:   payouts,
		riskGate:  riskGate,
		risk:      risk,
		publisher: publisher,
		logger:    logger,
	}
}

// CreateEscrowCommand 创建托管账户命令
type CreateEscrowCommand struct {
	SubjectID         string
	InitialAmount     int64
	Currency          string
	ReleaseConditions []string
	ActorID           string
}

// CreateEscrow 创建托管账户
func (s *EscrowService) CreateEscrow(ctx context.Context, cmd CreateEscrowCommand) (*domain.EscrowAccount, error) {
	escrowID := fmt.Sprintf("ESC%s", idgen.GenIDString())

	account, err := domain.NewEscrowAccount(escrowID, cmd.SubjectID, cmd.InitialAmount, cmd.Currency, cmd.ReleaseConditions)
	if err != nil {
		return nil, err
	}

	err = s.repo.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.Save(txCtx, account); err != nil {
			return fmt.Errorf("failed to save escrow account: %w", err)
		}
		return s.publishInTx(txCtx, account)
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "escrow account created",
		"escrow_id", account.EscrowID, "subject_id", cmd.SubjectID, "balance", account.Balance)
	return account, nil
}

// DepositCommand 入金命令
type DepositCommand struct {
	EscrowID string
	Amount   int64
	ActorID  string
}

// Deposit 入金，返回新余额
func (s *EscrowService) Deposit(ctx context.Context, cmd DepositCommand) (int64, error) {
	var newBalance int64

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		account, err := s.repo.GetWithLock(txCtx, cmd.EscrowID)
		if err != nil {
			return err
		}
		if err := account.Deposit(cmd.Amount, cmd.ActorID); err != nil {
			return err
		}
		if err := s.repo.Update(txCtx, account); err != nil {
			return fmt.Errorf("failed to update escrow account: %w", err)
		}
		newBalance = account.Balance
		return s.publishInTx(txCtx, account)
	})
	if err != nil {
		return 0, err
	}

	s.logger.InfoContext(ctx, "escrow deposit", "escrow_id", cmd.EscrowID, "amount", cmd.Amount, "balance", newBalance)
	return newBalance, nil
}

// ReleaseFundsCommand 资金释放命令
type ReleaseFundsCommand struct {
	EscrowID    string
	Condition   string
	ActorID     string
	RecipientID string
}

// ReleaseResult 释放结果
type ReleaseResult struct {
	ReleasedAmount int64
	TransferID     string
}

// ReleaseFunds 按条件释放全部剩余余额。余额变更、条件消耗、转账指令创建
// 在同一个数据库事务中完成。大额释放先过风控门，超阈值分数转为冻结。
func (s *EscrowService) ReleaseFunds(ctx context.Context, cmd ReleaseFundsCommand) (*ReleaseResult, error) {
	var result ReleaseResult
	var blocked bool

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		account, err := s.repo.GetWithLock(txCtx, cmd.EscrowID)
		if err != nil {
			return err
		}

		if s.riskGate != nil && s.risk.ThresholdCents > 0 && account.Balance >= s.risk.ThresholdCents {
			score, err := s.riskGate.Score(txCtx, cmd.EscrowID, cmd.ActorID, account.Balance)
			if err != nil {
				return fmt.Errorf("risk gate unavailable: %w", err)
			}
			if score > s.risk.ScoreLimit {
				if err := account.Freeze(fmt.Sprintf("risk score %d exceeds limit", score), "risk-gate"); err != nil {
					return err
				}
				if err := s.repo.Update(txCtx, account); err != nil {
					return err
				}
				if err := s.publishInTx(txCtx, account); err != nil {
					return err
				}
				s.logger.WarnContext(ctx, "release blocked by risk gate",
					"escrow_id", cmd.EscrowID, "score", score, "amount", account.Balance)
				// 冻结必须随事务提交：返回错误会整体回滚，账户会留在 active。
				// 这里正常提交，拒绝释放由事务外映射成 ErrReleaseBlocked
				blocked = true
				return nil
			}
		}

		released, err := account.Release(cmd.Condition, cmd.ActorID)
		if err != nil {
			return err
		}

		if err := s.repo.Update(txCtx, account); err != nil {
			return fmt.Errorf("failed to update escrow account: %w", err)
		}

		recipient := cmd.RecipientID
		if recipient == "" {
			recipient = account.SubjectID
		}
		transferID, err := s.payouts.Schedule(txCtx, account.EscrowID, recipient, released, account.Currency, map[string]string{
			"condition": cmd.Condition,
			"actor_id":  cmd.ActorID,
			"amount":    strconv.FormatInt(released, 10),
		})
		if err != nil {
			return fmt.Errorf("failed to schedule payout: %w", err)
		}

		result.ReleasedAmount = released
		result.TransferID = transferID
		return s.publishInTx(txCtx, account)
	})
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, domain.ErrReleaseBlocked
	}

	s.logger.InfoContext(ctx, "escrow funds released",
		"escrow_id", cmd.EscrowID, "condition", cmd.Condition,
		"amount", result.ReleasedAmount, "transfer_id", result.TransferID)
	return &result, nil
}

// FreezeEscrowCommand 冻结命令
type FreezeEscrowCommand struct {
	EscrowID string
	Reason   string
	ActorID  string
}

// FreezeEscrow 冻结账户，返回冻结后状态
func (s *EscrowService) FreezeEscrow(ctx context.Context, cmd FreezeEscrowCommand) (domain.EscrowStatus, error) {
	var status domain.EscrowStatus

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		account, err := s.repo.GetWithLock(txCtx, cmd.EscrowID)
		if err != nil {
			return err
		}
		if err := account.Freeze(cmd.Reason, cmd.ActorID); err != nil {
			return err
		}
		if err := s.repo.Update(txCtx, account); err != nil {
			return err
		}
		status = account.Status
		return s.publishInTx(txCtx, account)
	})
	if err != nil {
		return 0, err
	}

	s.logger.InfoContext(ctx, "escrow frozen", "escrow_id", cmd.EscrowID, "reason", cmd.Reason)
	return status, nil
}

// UnfreezeEscrow 解冻账户
func (s *EscrowService) UnfreezeEscrow(ctx context.Context, escrowID, actorID string) (domain.EscrowStatus, error) {
	var status domain.EscrowStatus

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		account, err := s.repo.GetWithLock(txCtx, escrowID)
		if err != nil {
			return err
		}
		if err := account.Unfreeze(actorID); err != nil {
			return err
		}
		if err := s.repo.Update(txCtx, account); err != nil {
			return err
		}
		status = account.Status
		return s.publishInTx(txCtx, account)
	})
	if err != nil {
		return 0, err
	}

	s.logger.InfoContext(ctx, "escrow unfrozen", "escrow_id", escrowID)
	return status, nil
}

// CloseEscrow 显式关闭账户
func (s *EscrowService) CloseEscrow(ctx context.Context, escrowID, actorID string) error {
	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		account, err := s.repo.GetWithLock(txCtx, escrowID)
		if err != nil {
			return err
		}
		if err := account.Close(actorID); err != nil {
			return err
		}
		if err := s.repo.Update(txCtx, account); err != nil {
			return err
		}
		return s.publishInTx(txCtx, account)
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "escrow closed", "escrow_id", escrowID)
	return nil
}

// publishInTx 在事务内通过 Outbox 发布领域事件。
// 通知投递失败发生在中继阶段，不会回滚触发它的账本变更。
func (s *EscrowService) publishInTx(txCtx context.Context, account *domain.EscrowAccount) error {
	for _, event := range account.GetDomainEvents() {
		if err := s.publisher.PublishInTx(txCtx, contextx.GetTx(txCtx), event.EventName(), account.EscrowID, event); err != nil {
			return fmt.Errorf("failed to publish %s: %w", event.EventName(), err)
		}
	}
	account.ClearDomainEvents()
	return nil
}
