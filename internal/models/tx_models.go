package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderRequest 创建/修改订单请求体
type OrderRequest struct {
	Currency string           `json:"currency"`
	Amount   *decimal.Decimal `json:"amount"`
	Callback string           `json:"callback,omitempty"`
}

// OrderResponse 订单响应
type OrderResponse struct {
	Order          string          `json:"order"`
	Recipient      string          `json:"recipient"`
	PaymentAccount string          `json:"paymentAccount"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency,omitempty"`
	Callback       string          `json:"callback,omitempty"`
	Status         string          `json:"status"` // "waiting" 或 "paid"
	Withdrawal     string          `json:"withdrawal"`
	CreatedAt      time.Time       `json:"createdAt"`
	WSS            string          `json:"wss"`
	Mul            int32           `json:"mul"`
	Version        string          `json:"version"`
}

// WithdrawalResponse 提现回执
type WithdrawalResponse struct {
	ID          string          `json:"id"`
	Order       string          `json:"order"`
	Account     string          `json:"account"`
	Recipient   string          `json:"recipient"`
	Amount      decimal.Decimal `json:"amount"`
	Signature   string          `json:"signature"`
	ExplorerURL string          `json:"explorerUrl"`
	SubmittedAt time.Time       `json:"submittedAt"`
}

// FieldError 单个参数校验错误
type FieldError struct {
	Parameter string `json:"parameter"`
	Message   string `json:"message"`
}

// ErrorBody 提现等操作的结构化错误
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retriable bool   `json:"retriable"`
}
