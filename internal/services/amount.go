package services

import (
	"errors"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

var (
	ErrAmountPrecision = errors.New("amount has more decimal places than the currency supports")
	ErrAmountRange     = errors.New("amount exceeds the largest on-chain balance")
)

var maxUnits = decimal.NewFromBigInt(new(big.Int).SetUint64(math.MaxUint64), 0)

// ToAmount 最小单位（lamports）转为带小数的金额
func ToAmount(units uint64, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(units), -decimals)
}

// ToUnits 金额转为最小单位；小数位超出精度或超出 uint64 时报错，不截断
func ToUnits(amount decimal.Decimal, decimals int32) (uint64, error) {
	if amount.Sign() <= 0 {
		return 0, nil
	}
	units := amount.Shift(decimals)
	if !units.IsInteger() {
		return 0, ErrAmountPrecision
	}
	if units.GreaterThan(maxUnits) {
		return 0, ErrAmountRange
	}
	return units.BigInt().Uint64(), nil
}
