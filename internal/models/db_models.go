package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	StatusUnpaid = "unpaid"
	StatusPaid   = "paid"
)

const (
	WithdrawalNone      = ""
	WithdrawalPending   = "pending"
	WithdrawalCompleted = "completed"
)

// Invoice 发票表，以派生出的收款账户为业务主键
type Invoice struct {
	gorm.Model
	Account   string `gorm:"uniqueIndex;size:44;not null"` // 收款账户（base58）
	Recipient string `gorm:"index;size:44;not null"`       // 商户收款人
	OrderID   string `gorm:"size:512;not null"`

	Status          string              `gorm:"size:10;index;not null;default:'unpaid'"`
	RequestedAmount decimal.Decimal     `gorm:"type:varchar(80);not null"`
	ReceivedAmount  decimal.NullDecimal `gorm:"type:varchar(80)"`
	PaidAt          *time.Time

	Currency string `gorm:"size:16"`
	Callback string `gorm:"size:1024"`

	// 提现记录，只在已支付后变化
	WithdrawalStatus    string              `gorm:"size:10;index;not null;default:''"`
	WithdrawalSignature string              `gorm:"size:88"`
	WithdrawnAmount     decimal.NullDecimal `gorm:"type:varchar(80)"`
	WithdrawnAt         *time.Time
}

func (inv *Invoice) IsPaid() bool { return inv.Status == StatusPaid }

// Amount 未支付时返回请求金额，已支付时返回实收金额
func (inv *Invoice) Amount() decimal.Decimal {
	if inv.IsPaid() && inv.ReceivedAmount.Valid {
		return inv.ReceivedAmount.Decimal
	}
	return inv.RequestedAmount
}

func (inv *Invoice) Withdrawn() bool { return inv.WithdrawalStatus != WithdrawalNone }
