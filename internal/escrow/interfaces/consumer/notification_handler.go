// Package consumer 托管事件消费端。
// 订阅托管与转账主题，向关注方投递通知。通知链路是尽力而为：
// 投递失败只记录日志，绝不回传错误去阻塞账本侧的提交。
package consumer

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"
	escrowdomain "github.com/wyfcoding/crowdfunding/internal/escrow/domain"
	transferdomain "github.com/wyfcoding/crowdfunding/internal/transfer/domain"
)

// Notification 投递给关注方的通知
type Notification struct {
	Kind     string `json:"kind"`
	EscrowID string `json:"escrow_id,omitempty"`
	Subject  string `json:"subject,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// Notifier 通知投递端
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier 以结构化日志落地通知，开发与测试环境的默认投递端
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier 创建日志投递端
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, notification Notification) error {
	n.logger.InfoContext(ctx, "notification dispatched",
		"kind", notification.Kind, "escrow_id", notification.EscrowID, "detail", notification.Detail)
	return nil
}

// NotificationHandler 托管与转账事件的通知处理器
type NotificationHandler struct {
	notifier Notifier
	logger   *slog.Logger
}

// NewNotificationHandler 创建通知处理器
func NewNotificationHandler(notifier Notifier, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{notifier: notifier, logger: logger}
}

// Handle 处理一条事件消息。未知主题忽略，通知失败不向消费框架报错，
// 避免通知渠道故障导致消息无限重投
func (h *NotificationHandler) Handle(ctx context.Context, msg kafka.Message) error {
	var payload struct {
		EscrowID   string `json:"escrow_id"`
		TransferID string `json:"transfer_id"`
		Amount     int64  `json:"amount"`
		Reason     string `json:"reason"`
		Condition  string `json:"condition"`
	}
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		h.logger.ErrorContext(ctx, "failed to unmarshal event", "topic", msg.Topic, "error", err)
		return nil
	}

	var notification Notification
	switch msg.Topic {
	case escrowdomain.EscrowCreatedEventType:
		notification = Notification{Kind: "escrow_created", EscrowID: payload.EscrowID}
	case escrowdomain.FundsDepositedEventType:
		notification = Notification{Kind: "funds_deposited", EscrowID: payload.EscrowID}
	case escrowdomain.FundsReleasedEventType:
		notification = Notification{Kind: "funds_released", EscrowID: payload.EscrowID, Detail: payload.Condition}
	case escrowdomain.EscrowFrozenEventType:
		notification = Notification{Kind: "escrow_frozen", EscrowID: payload.EscrowID, Detail: payload.Reason}
	case escrowdomain.EscrowUnfrozenEventType:
		notification = Notification{Kind: "escrow_unfrozen", EscrowID: payload.EscrowID}
	case escrowdomain.EscrowClosedEventType:
		notification = Notification{Kind: "escrow_closed", EscrowID: payload.EscrowID}
	case transferdomain.TransferSubmittedEventType:
		notification = Notification{Kind: "transfer_submitted", Subject: payload.TransferID}
	case transferdomain.TransferFailedEventType:
		notification = Notification{Kind: "transfer_failed", Subject: payload.TransferID, Detail: payload.Reason}
	case transferdomain.TransferReversedEventType:
		notification = Notification{Kind: "transfer_reversed", Subject: payload.TransferID}
	case transferdomain.TransferCompletedEventType:
		notification = Notification{Kind: "transfer_completed", Subject: payload.TransferID}
	default:
		h.logger.WarnContext(ctx, "unknown event topic", "topic", msg.Topic)
		return nil
	}

	if err := h.notifier.Notify(ctx, notification); err != nil {
		h.logger.ErrorContext(ctx, "notification delivery failed",
			"kind", notification.Kind, "escrow_id", notification.EscrowID, "error", err)
	}
	return nil
}
