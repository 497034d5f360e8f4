// Package application 转账调度应用层
package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/wyfcoding/crowdfunding/internal/transfer/domain"
	"github.com/wyfcoding/pkg/idgen"
	"github.com/wyfcoding/pkg/messagequeue"
)

// Config 调度器配置
type Config struct {
	MinimumDelay       time.Duration // 创建到可提交的延迟窗口，下限 1h
	BackoffBase        time.Duration // 指数退避基数
	StalenessThreshold time.Duration // submitting 占用视为过期的阈值
	BatchLimit         int           // 单次扫描批量上限
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		MinimumDelay:       domain.DefaultMinimumDelay,
		BackoffBase:        domain.DefaultBackoffBase,
		StalenessThreshold: 15 * time.Minute,
		BatchLimit:         200,
	}
}

// TransferService 转账调度服务
type TransferService struct {
	repo      domain.TransferRepository
	merchants domain.MerchantAccountRepository
	processor domain.PaymentProcessor
	publisher messagequeue.EventPublisher
	cfg       Config
	logger    *slog.Logger
}

// NewTransferService 创建转账服务
func NewTransferService(
	repo domain.TransferRepository,
	merchants domain.MerchantAccountRepository,
	processor domain.PaymentProcessor,
	publisher messagequeue.EventPublisher,
	cfg Config,
	logger *slog.Logger,
) *TransferService {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = DefaultConfig().BatchLimit
	}
	if cfg.StalenessThreshold <= 0 {
		cfg.StalenessThreshold = DefaultConfig().StalenessThreshold
	}
	return &TransferService{
		repo:      repo,
		merchants: merchants,
		processor: processor,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

// CreateTransferCommand 创建转账命令
type CreateTransferCommand struct {
	EscrowID       string
	RecipientID    string
	AmountCents    int64
	Currency       string
	Metadata       map[string]string
	IdempotencyKey string
}

// CreateTransfer 创建延迟转账指令。幂等键重复时返回已有记录
func (s *TransferService) CreateTransfer(ctx context.Context, cmd CreateTransferCommand) (*domain.TransferRecord, error) {
	key := cmd.IdempotencyKey
	if key == "" {
		key = uuid.New().String()
	}

	if existing, err := s.repo.GetByIdempotencyKey(ctx, key); err == nil && existing != nil {
		return existing, nil
	}

	metadata := ""
	if len(cmd.Metadata) > 0 {
		raw, err := json.Marshal(cmd.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = string(raw)
	}

	transferID := fmt.Sprintf("TRF%s", idgen.GenIDString())
	record, err := domain.NewTransferRecord(transferID, key, cmd.EscrowID, cmd.RecipientID, cmd.AmountCents, cmd.Currency, metadata, s.cfg.MinimumDelay)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Save(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to save transfer record: %w", err)
	}

	s.publish(ctx, &domain.TransferScheduledEvent{
		TransferID:   record.TransferID,
		EscrowID:     record.EscrowID,
		RecipientID:  record.RecipientID,
		AmountCents:  record.AmountCents,
		ScheduledFor: record.ScheduledFor,
		Timestamp:    time.Now(),
	}, record.TransferID)

	s.logger.InfoContext(ctx, "transfer scheduled",
		"transfer_id", record.TransferID, "recipient_id", record.RecipientID,
		"amount_cents", record.AmountCents, "scheduled_for", record.ScheduledFor)
	return record, nil
}

// ProcessResult 批处理结果
type ProcessResult struct {
	Processed []*domain.TransferRecord
	Failed    []*domain.TransferRecord
}

// ProcessScheduledTransfers 扫描到期记录并提交。
// 占用步骤是 scheduled -> submitting 的单记录 CAS：多个调度器实例并发扫描
// 同一条到期记录时，只有一个能占用成功，杜绝向外部处理方重复提交。
func (s *TransferService) ProcessScheduledTransfers(ctx context.Context) (*ProcessResult, error) {
	due, err := s.repo.FindDue(ctx, time.Now(), s.cfg.BatchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to scan due transfers: %w", err)
	}

	result := &ProcessResult{}
	for _, record := range due {
		claimed, err := s.repo.CompareAndSetStatus(ctx, record.TransferID, domain.TransferStatusScheduled, domain.TransferStatusSubmitting)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to claim transfer", "transfer_id", record.TransferID, "error", err)
			continue
		}
		if !claimed {
			// 已被其他调度器实例占用
			continue
		}

		submitted, err := s.submitClaimed(ctx, record.TransferID)
		if err != nil {
			s.logger.ErrorContext(ctx, "transfer submission failed", "transfer_id", record.TransferID, "error", err)
			if submitted != nil {
				result.Failed = append(result.Failed, submitted)
			}
			continue
		}
		result.Processed = append(result.Processed, submitted)
	}

	return result, nil
}

// submitClaimed 提交一条已占用的记录，返回最新状态的记录
func (s *TransferService) submitClaimed(ctx context.Context, transferID string) (*domain.TransferRecord, error) {
	record, err := s.repo.Get(ctx, transferID)
	if err != nil {
		return nil, err
	}

	merchant, merr := s.merchants.Get(ctx, record.RecipientID)
	if merr != nil || !merchant.CanReceivePayouts() {
		failErr := fmt.Errorf("%w: recipient %s", domain.ErrRecipientNotPayable, record.RecipientID)
		return record, s.failRecord(ctx, record, failErr.Error(), false)
	}

	var metadata map[string]string
	if record.Metadata != "" {
		_ = json.Unmarshal([]byte(record.Metadata), &metadata)
	}

	ref, err := s.processor.SubmitTransfer(ctx, domain.SubmitRequest{
		IdempotencyKey: record.IdempotencyKey,
		AmountCents:    record.AmountCents,
		Currency:       record.Currency,
		RecipientRef:   merchant.ExternalAccountRef,
		Metadata:       metadata,
	})
	if err != nil {
		// 处理方不可用是瞬态失败，打上重试标记由调度器按退避自动重试；
		// 业务拒绝是持久失败，只能人工处理
		return record, s.failRecord(ctx, record, err.Error(), errors.Is(err, domain.ErrProcessorUnavailable))
	}

	if err := record.MarkSubmitted(ref); err != nil {
		return record, err
	}
	if err := s.repo.Update(ctx, record); err != nil {
		return record, fmt.Errorf("failed to persist submitted transfer: %w", err)
	}

	s.publish(ctx, &domain.TransferSubmittedEvent{
		TransferID:  record.TransferID,
		ExternalRef: ref,
		AmountCents: record.AmountCents,
		Timestamp:   time.Now(),
	}, record.TransferID)

	s.logger.InfoContext(ctx, "transfer submitted", "transfer_id", record.TransferID, "external_ref", ref)
	return record, nil
}

// RetryFailedTransfer 重试失败的转账
func (s *TransferService) RetryFailedTransfer(ctx context.Context, transferID string, policy domain.RetryPolicy) error {
	record, err := s.repo.Get(ctx, transferID)
	if err != nil {
		return err
	}

	if err := record.Retry(policy, s.cfg.BackoffBase); err != nil {
		return err
	}
	if err := s.repo.Update(ctx, record); err != nil {
		return fmt.Errorf("failed to persist retried transfer: %w", err)
	}

	s.logger.InfoContext(ctx, "transfer retry scheduled",
		"transfer_id", transferID, "attempts", record.Attempts, "scheduled_for", record.ScheduledFor)
	return nil
}

// MarkTransferFailed 运维/测试钩子：强制标记失败
func (s *TransferService) MarkTransferFailed(ctx context.Context, transferID, reason, actorID string) error {
	record, err := s.repo.Get(ctx, transferID)
	if err != nil {
		return err
	}
	if err := record.Fail(reason, actorID, false); err != nil {
		return err
	}
	if err := s.repo.Update(ctx, record); err != nil {
		return err
	}

	s.publish(ctx, &domain.TransferFailedEvent{
		TransferID: transferID,
		Reason:     reason,
		Attempts:   record.Attempts,
		Timestamp:  time.Now(),
	}, transferID)
	return nil
}

// ReclaimStuckSubmitting 回收占用超期的 submitting 记录：
// 占用窗口过期视为提交失败，交还给下一轮扫描
func (s *TransferService) ReclaimStuckSubmitting(ctx context.Context) (int, error) {
	stale, err := s.repo.FindStaleSubmitting(ctx, time.Now().Add(-s.cfg.StalenessThreshold), s.cfg.BatchLimit)
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, record := range stale {
		ok, err := s.repo.CompareAndSetStatus(ctx, record.TransferID, domain.TransferStatusSubmitting, domain.TransferStatusFailed)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to reclaim stuck transfer", "transfer_id", record.TransferID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		record.FailureReason = "submitting claim expired"
		record.Status = domain.TransferStatusFailed
		record.Retryable = true
		if err := s.repo.Update(ctx, record); err != nil {
			s.logger.ErrorContext(ctx, "failed to record reclaim reason", "transfer_id", record.TransferID, "error", err)
		}
		reclaimed++
	}
	return reclaimed, nil
}

// RetryRetryableFailures 自动重试瞬态失败的记录：按指数退避回到 scheduled，
// 由下一轮到期扫描重新提交。达到重试上限后清除标记，转为持久失败等待人工
func (s *TransferService) RetryRetryableFailures(ctx context.Context) (int, error) {
	failed, err := s.repo.FindRetryableFailed(ctx, s.cfg.BatchLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to scan retryable transfers: %w", err)
	}

	retried := 0
	for _, record := range failed {
		if err := record.Retry(domain.RetryBackoff, s.cfg.BackoffBase); err != nil {
			if errors.Is(err, domain.ErrMaxAttemptsExceeded) {
				record.Retryable = false
				if uerr := s.repo.Update(ctx, record); uerr != nil {
					s.logger.ErrorContext(ctx, "failed to finalize exhausted transfer", "transfer_id", record.TransferID, "error", uerr)
				}
				s.logger.WarnContext(ctx, "transfer retry ceiling reached", "transfer_id", record.TransferID, "attempts", record.Attempts)
			} else {
				s.logger.ErrorContext(ctx, "failed to retry transfer", "transfer_id", record.TransferID, "error", err)
			}
			continue
		}
		if err := s.repo.Update(ctx, record); err != nil {
			s.logger.ErrorContext(ctx, "failed to persist retried transfer", "transfer_id", record.TransferID, "error", err)
			continue
		}
		retried++
	}
	return retried, nil
}

// GetTransfer 查询转账
func (s *TransferService) GetTransfer(ctx context.Context, transferID string) (*domain.TransferRecord, error) {
	return s.repo.Get(ctx, transferID)
}

// ListByEscrow 查询托管账户下的转账
func (s *TransferService) ListByEscrow(ctx context.Context, escrowID string) ([]*domain.TransferRecord, error) {
	return s.repo.ListByEscrow(ctx, escrowID)
}

func (s *TransferService) failRecord(ctx context.Context, record *domain.TransferRecord, reason string, retryable bool) error {
	if err := record.Fail(reason, "scheduler", retryable); err != nil {
		return err
	}
	if err := s.repo.Update(ctx, record); err != nil {
		return fmt.Errorf("failed to persist failed transfer: %w", err)
	}

	s.publish(ctx, &domain.TransferFailedEvent{
		TransferID: record.TransferID,
		Reason:     reason,
		Attempts:   record.Attempts,
		Timestamp:  time.Now(),
	}, record.TransferID)
	return errors.New(reason)
}

func (s *TransferService) publish(ctx context.Context, event domain.DomainEvent, key string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event.EventName(), key, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish event", "event", event.EventName(), "error", err)
	}
}
