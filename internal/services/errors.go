package services

import (
	"errors"
	"strings"

	"DepositPay/internal/models"
)

var (
	ErrUnknownInvoice = errors.New("unknown invoice")
	ErrNotImplemented = errors.New("not implemented")

	// 提现错误：前两个对本次请求是终态，后两个调用方可重试
	ErrNotPayable          = errors.New("invoice is not payable")
	ErrAlreadyWithdrawn    = errors.New("invoice already withdrawn")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrChainUnreachable    = errors.New("chain unreachable")
)

// ValidationError 客户端参数错误
type ValidationError = models.FieldError

// ValidationErrors 每个出错字段一项
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, e.Parameter+": "+e.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Retriable 对提现错误判断调用方是否可以重试
func Retriable(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) || errors.Is(err, ErrChainUnreachable)
}
