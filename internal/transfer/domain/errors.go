package domain

import "errors"

var (
	ErrInvalidAmount        = errors.New("transfer amount must be positive")
	ErrMaxAttemptsExceeded  = errors.New("transfer retry attempts exceeded")
	ErrExternalRefImmutable = errors.New("external reference already set")
	ErrRecipientNotPayable  = errors.New("recipient cannot receive payouts")

	// ErrProcessorUnavailable 外部处理方超时/网络失败，可按退避策略重试
	ErrProcessorUnavailable = errors.New("external processor unavailable")
	// ErrProcessorRejected 外部处理方业务拒绝，不做自动重试
	ErrProcessorRejected = errors.New("external processor rejected transfer")
)
