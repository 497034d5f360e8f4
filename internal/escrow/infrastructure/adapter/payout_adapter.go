// Package adapter 托管服务对外依赖的适配器实现
package adapter

import (
	"context"

	"github.com/wyfcoding/crowdfunding/internal/escrow/domain"
	transferapp "github.com/wyfcoding/crowdfunding/internal/transfer/application"
)

// TransferPayoutScheduler 将释放产生的打款请求接入转账调度服务。
// Schedule 在调用方事务上下文内执行：转账仓储通过 contextx 取到同一事务，
// 余额扣减与转账指令创建要么同时生效，要么同时回滚
type TransferPayoutScheduler struct {
	transfers *transferapp.TransferService
}

// NewTransferPayoutScheduler 创建适配器
func NewTransferPayoutScheduler(transfers *transferapp.TransferService) domain.PayoutScheduler {
	return &TransferPayoutScheduler{transfers: transfers}
}

func (a *TransferPayoutScheduler) Schedule(ctx context.Context, escrowID, recipientID string, amountCents int64, currency string, metadata map[string]string) (string, error) {
	record, err := a.transfers.CreateTransfer(ctx, transferapp.CreateTransferCommand{
		EscrowID:    escrowID,
		RecipientID: recipientID,
		AmountCents: amountCents,
		Currency:    currency,
		Metadata:    metadata,
	})
	if err != nil {
		return "", err
	}
	return record.TransferID, nil
}
