package domain

import "errors"

// 校验类错误直接面向调用方，不做自动重试
var (
	ErrInvalidAmount            = errors.New("amount must be positive")
	ErrAccountClosed            = errors.New("escrow account is closed")
	ErrAccountFrozen            = errors.New("escrow account is frozen")
	ErrAccountNotFrozen         = errors.New("escrow account is not frozen")
	ErrConditionNotDeclared     = errors.New("release condition not declared on account")
	ErrConditionAlreadyReleased = errors.New("release condition already consumed")
	ErrInsufficientBalance      = errors.New("insufficient escrow balance")
	ErrBalanceRemaining         = errors.New("cannot close account with remaining balance")
	ErrReleaseBlocked           = errors.New("release blocked by risk review, account frozen")
)
