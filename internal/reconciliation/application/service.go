// Package application 对账应用层。
// 外部处理方的记录为权威侧：各工作流扫描一批本地记录与远端比对，
// 差异要么就地修正本地副本，要么作为差异记录留待人工跟进。
// 单条记录失败只计数，不中断整轮对账。
package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	recondomain "github.com/wyfcoding/crowdfunding/internal/reconciliation/domain"
	transferdomain "github.com/wyfcoding/crowdfunding/internal/transfer/domain"
	"github.com/wyfcoding/pkg/idgen"
	"github.com/wyfcoding/pkg/messagequeue"
)

// Config 对账批量配置
type Config struct {
	BatchLimit int
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{BatchLimit: 500}
}

// ReconciliationService 驱动三类对账工作流
type ReconciliationService struct {
	runs      recondomain.ReconciliationRepository
	transfers transferdomain.TransferRepository
	merchants transferdomain.MerchantAccountRepository
	processor transferdomain.PaymentProcessor
	publisher messagequeue.EventPublisher
	cfg       Config
	logger    *slog.Logger
}

// NewReconciliationService 创建对账服务
func NewReconciliationService(
	runs recondomain.ReconciliationRepository,
	transfers transferdomain.TransferRepository,
	merchants transferdomain.MerchantAccountRepository,
	processor transferdomain.PaymentProcessor,
	publisher messagequeue.EventPublisher,
	cfg Config,
	logger *slog.Logger,
) *ReconciliationService {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = DefaultConfig().BatchLimit
	}
	return &ReconciliationService{
		runs:      runs,
		transfers: transfers,
		merchants: merchants,
		processor: processor,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

// ReconcilePendingTransfers 扫描已有外部引用的非终态转账，对齐到处理方视图：
// 远端已撤销的落为 reversed，其余落为 completed。
// 状态修正是以读取时观察到的状态为前提的 CAS，并发写入方只会让修正变成空操作，
// 不会盲目覆盖。重复执行无副作用：已修正的记录进入终态，自然退出扫描范围。
func (s *ReconciliationService) ReconcilePendingTransfers(ctx context.Context) (*recondomain.ReconciliationRun, error) {
	run := recondomain.NewRun(fmt.Sprintf("RUN%s", idgen.GenIDString()), recondomain.RunKindTransfers, nil, nil)
	if err := s.runs.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create reconciliation run: %w", err)
	}

	pending, err := s.transfers.FindPendingWithExternalRef(ctx, s.cfg.BatchLimit)
	if err != nil {
		run.Fail()
		_ = s.runs.SaveRun(ctx, run)
		return run, fmt.Errorf("failed to scan pending transfers: %w", err)
	}

	for _, record := range pending {
		run.CheckedCount++

		remote, err := s.processor.RetrieveTransfer(ctx, record.ExternalRef)
		if err != nil {
			run.ErrorCount++
			s.logger.ErrorContext(ctx, "failed to retrieve remote transfer",
				"transfer_id", record.TransferID, "external_ref", record.ExternalRef, "error", err)
			continue
		}

		target := transferdomain.TransferStatusCompleted
		if remote.Reversed {
			target = transferdomain.TransferStatusReversed
		}
		if record.Status == target {
			continue
		}

		if err := s.correctTransfer(ctx, run, record, target, remote.PayoutRef); err != nil {
			run.ErrorCount++
			s.logger.ErrorContext(ctx, "failed to correct transfer",
				"transfer_id", record.TransferID, "error", err)
		}
	}

	run.Complete()
	if err := s.runs.SaveRun(ctx, run); err != nil {
		return run, fmt.Errorf("failed to finalize reconciliation run: %w", err)
	}

	s.logger.InfoContext(ctx, "transfer reconciliation finished",
		"run_id", run.RunID, "checked", run.CheckedCount,
		"corrected", run.CorrectedCount, "errors", run.ErrorCount)
	return run, nil
}

// VerifyPayouts 拉取窗口内处理方的 payout 清单，逐条核对本地台账。
// 远端存在而本地缺失的只记差异，绝不凭空补造记录；状态分歧以远端为准修正。
func (s *ReconciliationService) VerifyPayouts(ctx context.Context, start, end time.Time) (*recondomain.ReconciliationRun, error) {
	run := recondomain.NewRun(fmt.Sprintf("RUN%s", idgen.GenIDString()), recondomain.RunKindPayouts, &start, &end)
	if err := s.runs.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create reconciliation run: %w", err)
	}

	payouts, err := s.processor.ListPayouts(ctx, start, end)
	if err != nil {
		run.Fail()
		_ = s.runs.SaveRun(ctx, run)
		return run, fmt.Errorf("failed to list remote payouts: %w", err)
	}

	for _, payout := range payouts {
		run.CheckedCount++

		var expected transferdomain.TransferStatus
		switch payout.Status {
		case "paid":
			expected = transferdomain.TransferStatusCompleted
		case "failed":
			expected = transferdomain.TransferStatusFailed
		default:
			expected = transferdomain.TransferStatusSubmitted
		}

		record, err := s.transfers.GetByPayoutRef(ctx, payout.PayoutRef)
		if err != nil {
			run.ErrorCount++
			s.logger.ErrorContext(ctx, "failed to look up payout locally",
				"payout_ref", payout.PayoutRef, "error", err)
			continue
		}
		if record == nil {
			run.DiscrepancyCount++
			s.fileDiscrepancy(ctx, run, payout.PayoutRef, "local_record", "", payout.Status, false)
			continue
		}
		if record.Status == expected {
			continue
		}

		if err := s.correctTransfer(ctx, run, record, expected, payout.PayoutRef); err != nil {
			run.ErrorCount++
			s.logger.ErrorContext(ctx, "failed to correct payout status",
				"transfer_id", record.TransferID, "error", err)
		}
	}

	run.Complete()
	if err := s.runs.SaveRun(ctx, run); err != nil {
		return run, fmt.Errorf("failed to finalize reconciliation run: %w", err)
	}

	s.logger.InfoContext(ctx, "payout verification finished",
		"run_id", run.RunID, "checked", run.CheckedCount,
		"corrected", run.CorrectedCount, "discrepancies", run.DiscrepancyCount)
	return run, nil
}

// ReconcileMerchantAccounts 从处理方刷新本地收款方能力镜像。
// 远端标志无条件覆盖镜像。
func (s *ReconciliationService) ReconcileMerchantAccounts(ctx context.Context) (*recondomain.ReconciliationRun, error) {
	run := recondomain.NewRun(fmt.Sprintf("RUN%s", idgen.GenIDString()), recondomain.RunKindMerchants, nil, nil)
	if err := s.runs.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create reconciliation run: %w", err)
	}

	accounts, err := s.merchants.ListWithExternalRef(ctx, s.cfg.BatchLimit)
	if err != nil {
		run.Fail()
		_ = s.runs.SaveRun(ctx, run)
		return run, fmt.Errorf("failed to list merchant accounts: %w", err)
	}

	for _, account := range accounts {
		run.CheckedCount++

		remote, err := s.processor.RetrieveAccount(ctx, account.ExternalAccountRef)
		if err != nil {
			run.ErrorCount++
			s.logger.ErrorContext(ctx, "failed to retrieve remote account",
				"recipient_id", account.RecipientID, "error", err)
			continue
		}

		account.SyncFromRemote(remote.ChargesEnabled, remote.PayoutsEnabled)
		if err := s.merchants.Save(ctx, account); err != nil {
			run.ErrorCount++
			s.logger.ErrorContext(ctx, "failed to persist merchant sync",
				"recipient_id", account.RecipientID, "error", err)
			continue
		}
		run.CorrectedCount++
	}

	run.Complete()
	if err := s.runs.SaveRun(ctx, run); err != nil {
		return run, fmt.Errorf("failed to finalize reconciliation run: %w", err)
	}

	s.logger.InfoContext(ctx, "merchant reconciliation finished",
		"run_id", run.RunID, "checked", run.CheckedCount, "synced", run.CorrectedCount)
	return run, nil
}

// correctTransfer 通过 CAS 把记录迁移到权威状态，并把修正登记为已解决的差异
func (s *ReconciliationService) correctTransfer(
	ctx context.Context,
	run *recondomain.ReconciliationRun,
	record *transferdomain.TransferRecord,
	target transferdomain.TransferStatus,
	payoutRef string,
) error {
	ok, err := s.transfers.CompareAndSetStatus(ctx, record.TransferID, record.Status, target)
	if err != nil {
		return err
	}
	if !ok {
		// 状态在读取后被并发修改，留给下一轮
		s.logger.WarnContext(ctx, "transfer changed concurrently, skipping correction",
			"transfer_id", record.TransferID)
		return nil
	}

	fromStatus := record.Status
	record.Status = target
	if payoutRef != "" && record.PayoutRef == "" {
		record.PayoutRef = payoutRef
		if err := s.transfers.Update(ctx, record); err != nil {
			s.logger.ErrorContext(ctx, "failed to persist payout ref",
				"transfer_id", record.TransferID, "error", err)
		}
	}

	run.CorrectedCount++
	run.DiscrepancyCount++
	s.fileDiscrepancy(ctx, run, record.TransferID, "status", fromStatus.String(), target.String(), true)

	if s.publisher != nil {
		event := &transferdomain.TransferStatusCorrectedEvent{
			TransferID: record.TransferID,
			FromStatus: fromStatus.String(),
			ToStatus:   target.String(),
			Timestamp:  time.Now(),
		}
		if err := s.publisher.Publish(ctx, event.EventName(), record.TransferID, event); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish correction event",
				"transfer_id", record.TransferID, "error", err)
		}
	}

	s.logger.InfoContext(ctx, "transfer status corrected",
		"transfer_id", record.TransferID, "from", fromStatus.String(), "to", target.String())
	return nil
}

func (s *ReconciliationService) fileDiscrepancy(ctx context.Context, run *recondomain.ReconciliationRun, recordID, field, local, remote string, corrected bool) {
	d := &recondomain.Discrepancy{
		DiscrepancyID: fmt.Sprintf("DSC%s", idgen.GenIDString()),
		RunID:         run.RunID,
		RecordID:      recordID,
		Field:         field,
		LocalValue:    local,
		RemoteValue:   remote,
		Corrected:     corrected,
		Status:        recondomain.DiscrepancyOpen,
	}
	if corrected {
		d.Status = recondomain.DiscrepancyResolved
		d.Resolution = "auto_corrected"
	}
	if err := s.runs.SaveDiscrepancy(ctx, d); err != nil {
		s.logger.ErrorContext(ctx, "failed to record discrepancy",
			"record_id", recordID, "field", field, "error", err)
	}
}

// GetRun 查询一次对账执行及其差异
func (s *ReconciliationService) GetRun(ctx context.Context, runID string) (*recondomain.ReconciliationRun, error) {
	return s.runs.GetRun(ctx, runID)
}

// ListRuns 查询近期对账执行，可按类型过滤
func (s *ReconciliationService) ListRuns(ctx context.Context, kind string, limit int) ([]*recondomain.ReconciliationRun, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.runs.ListRuns(ctx, kind, limit)
}

// ListOpenDiscrepancies 查询等待人工跟进的差异
func (s *ReconciliationService) ListOpenDiscrepancies(ctx context.Context, limit int) ([]recondomain.Discrepancy, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.runs.ListOpenDiscrepancies(ctx, limit)
}

// ResolveDiscrepancy 标记差异已处理
func (s *ReconciliationService) ResolveDiscrepancy(ctx context.Context, discrepancyID, resolution, comment string) error {
	d, err := s.runs.GetDiscrepancy(ctx, discrepancyID)
	if err != nil {
		return err
	}
	if err := d.Resolve(resolution, comment); err != nil {
		return err
	}
	return s.runs.SaveDiscrepancy(ctx, d)
}
