package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"DepositPay/internal/db"
	"DepositPay/internal/derivation"
	"DepositPay/internal/models"
	"DepositPay/utils"
)

// AccountDeriver 由 derivation.Deriver 实现
type AccountDeriver interface {
	DeriveDepositAccount(recipient solana.PublicKey, order []byte) (solana.PublicKey, error)
}

type OutcomeKind int

const (
	NewOrder OutcomeKind = iota + 1
	FoundOrder
	ModifiedOrder
	CollidedOrder
)

func (k OutcomeKind) String() string {
	switch k {
	case NewOrder:
		return "new"
	case FoundOrder:
		return "found"
	case ModifiedOrder:
		return "modified"
	case CollidedOrder:
		return "collided"
	}
	return fmt.Sprintf("OutcomeKind(%d)", int(k))
}

// OrderOutcome 创建/查询订单的结果；CollidedOrder 时 Invoice 为库中已保存的版本
type OrderOutcome struct {
	Kind    OutcomeKind
	Invoice models.Invoice
}

// OrderRequest 引擎层的订单请求，账户已在传输层解码
type OrderRequest struct {
	Recipient solana.PublicKey
	Order     string
	Amount    decimal.Decimal
	Currency  string
	Callback  string
}

type OrderConfig struct {
	MinAmount  decimal.Decimal
	Currencies []string
	// 币种精度，默认 9（lamports）
	Decimals int32
}

type OrderService struct {
	store      *db.Store
	deriver    AccountDeriver
	minAmount  decimal.Decimal
	decimals   int32
	currencies map[string]struct{}
	log        *utils.Logger
	now        func() time.Time
}

func NewOrderService(store *db.Store, deriver AccountDeriver, cfg OrderConfig, logger *utils.Logger) *OrderService {
	currencies := make(map[string]struct{}, len(cfg.Currencies))
	for _, c := range cfg.Currencies {
		currencies[strings.ToUpper(c)] = struct{}{}
	}
	if cfg.Decimals <= 0 {
		cfg.Decimals = 9
	}
	return &OrderService{
		store:      store,
		deriver:    deriver,
		minAmount:  cfg.MinAmount,
		decimals:   cfg.Decimals,
		currencies: currencies,
		log:        logger,
		now:        time.Now,
	}
}

func (s *OrderService) MinAmount() decimal.Decimal { return s.minAmount }

// belowMinimum 低于最低金额的请求不能建单
func (s *OrderService) belowMinimum(amount decimal.Decimal) ValidationErrors {
	if amount.LessThan(s.minAmount) {
		return ValidationErrors{{
			Parameter: "amount",
			Message:   fmt.Sprintf("amount %s is below the minimum %s", amount, s.minAmount),
		}}
	}
	return nil
}

func (s *OrderService) validate(req OrderRequest) ValidationErrors {
	var errs ValidationErrors
	if req.Amount.Sign() <= 0 {
		errs = append(errs, ValidationError{Parameter: "amount", Message: "amount must be positive"})
	} else if _, err := ToUnits(req.Amount, s.decimals); err != nil {
		errs = append(errs, ValidationError{Parameter: "amount", Message: err.Error()})
	}

	if req.Currency == "" {
		errs = append(errs, ValidationError{Parameter: "currency", Message: "parameter is required"})
	} else if _, ok := s.currencies[strings.ToUpper(req.Currency)]; !ok {
		errs = append(errs, ValidationError{Parameter: "currency", Message: fmt.Sprintf("unknown currency %q", req.Currency)})
	}

	if req.Callback != "" {
		u, err := url.Parse(req.Callback)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, ValidationError{Parameter: "callback", Message: "callback must be an absolute http(s) URL"})
		}
	}
	return errs
}

// DepositAccount 派生订单的收款账户，派生错误转换为参数错误
func (s *OrderService) DepositAccount(recipient solana.PublicKey, order string) (solana.PublicKey, error) {
	account, err := s.deriver.DeriveDepositAccount(recipient, []byte(order))
	switch {
	case errors.Is(err, derivation.ErrInvalidRecipient):
		return account, ValidationErrors{{Parameter: "recipient", Message: err.Error()}}
	case errors.Is(err, derivation.ErrInvalidOrder):
		return account, ValidationErrors{{Parameter: "orderId", Message: err.Error()}}
	}
	return account, err
}

func (s *OrderService) prepare(req OrderRequest) (solana.PublicKey, error) {
	if errs := s.validate(req); len(errs) > 0 {
		return solana.PublicKey{}, errs
	}
	return s.DepositAccount(req.Recipient, req.Order)
}

// classify 对已存在的发票做价格核对，不修改任何状态
func classify(existing *models.Invoice, requested decimal.Decimal) OrderOutcome {
	if existing.IsPaid() || existing.RequestedAmount.Equal(requested) {
		return OrderOutcome{Kind: FoundOrder, Invoice: *existing}
	}
	return OrderOutcome{Kind: CollidedOrder, Invoice: *existing}
}

// CreateOrGetOrder 创建订单或返回已存在的订单。
// 已存在且金额不同的未支付订单返回 CollidedOrder，不会覆盖原价格。
// 最低金额只在需要新建时检查，已存在的订单照常做价格核对。
func (s *OrderService) CreateOrGetOrder(ctx context.Context, req OrderRequest) (OrderOutcome, error) {
	account, err := s.prepare(req)
	if err != nil {
		return OrderOutcome{}, err
	}

	// 只读分支走读事务，不占用写锁
	r, err := s.store.BeginRead(ctx)
	if err != nil {
		return OrderOutcome{}, err
	}
	existing, err := r.Get(account)
	r.Close()
	if err != nil {
		return OrderOutcome{}, err
	}
	if existing != nil {
		return classify(existing, req.Amount), nil
	}
	if errs := s.belowMinimum(req.Amount); errs != nil {
		return OrderOutcome{}, errs
	}

	w, err := s.store.BeginWrite(ctx)
	if err != nil {
		return OrderOutcome{}, err
	}
	defer w.Abort()

	// 等写锁期间可能已被并发请求创建
	existing, err = w.Get(account)
	if err != nil {
		return OrderOutcome{}, err
	}
	if existing != nil {
		return classify(existing, req.Amount), nil
	}

	inv := &models.Invoice{
		Account:         account.String(),
		Recipient:       req.Recipient.String(),
		OrderID:         req.Order,
		Status:          models.StatusUnpaid,
		RequestedAmount: req.Amount,
		Currency:        strings.ToUpper(req.Currency),
		Callback:        req.Callback,
	}
	if err := w.Put(inv); err != nil {
		return OrderOutcome{}, err
	}
	if err := w.Commit(); err != nil {
		return OrderOutcome{}, err
	}

	s.log.Info("新订单: order=%s account=%s amount=%s", req.Order, inv.Account, req.Amount)
	return OrderOutcome{Kind: NewOrder, Invoice: *inv}, nil
}

// ModifyOrder 显式修改未支付订单的金额、币种和回调地址
func (s *OrderService) ModifyOrder(ctx context.Context, req OrderRequest) (OrderOutcome, error) {
	account, err := s.prepare(req)
	if err != nil {
		return OrderOutcome{}, err
	}
	if errs := s.belowMinimum(req.Amount); errs != nil {
		return OrderOutcome{}, errs
	}

	w, err := s.store.BeginWrite(ctx)
	if err != nil {
		return OrderOutcome{}, err
	}
	defer w.Abort()

	inv, err := w.Get(account)
	if err != nil {
		return OrderOutcome{}, err
	}
	if inv == nil {
		return OrderOutcome{}, fmt.Errorf("%w: order %s", ErrUnknownInvoice, req.Order)
	}
	if inv.IsPaid() {
		return OrderOutcome{Kind: FoundOrder, Invoice: *inv}, nil
	}

	previous := inv.RequestedAmount
	inv.RequestedAmount = req.Amount
	inv.Currency = strings.ToUpper(req.Currency)
	inv.Callback = req.Callback
	if err := w.Put(inv); err != nil {
		return OrderOutcome{}, err
	}
	if err := w.Commit(); err != nil {
		return OrderOutcome{}, err
	}

	s.log.Info("修改订单: order=%s account=%s amount %s -> %s", req.Order, inv.Account, previous, req.Amount)
	return OrderOutcome{Kind: ModifiedOrder, Invoice: *inv}, nil
}

// GetOrder 只读查询
func (s *OrderService) GetOrder(ctx context.Context, recipient solana.PublicKey, order string) (*models.Invoice, error) {
	account, err := s.DepositAccount(recipient, order)
	if err != nil {
		return nil, err
	}
	r, err := s.store.BeginRead(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	inv, err := r.Get(account)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, fmt.Errorf("%w: order %s", ErrUnknownInvoice, order)
	}
	return inv, nil
}

// MarkPaid 由链上支付检测方调用，是进入 Paid 状态的唯一入口。
// 已支付的发票重复通知时原样返回。
func (s *OrderService) MarkPaid(ctx context.Context, account solana.PublicKey, received decimal.Decimal) (*models.Invoice, error) {
	w, err := s.store.BeginWrite(ctx)
	if err != nil {
		return nil, err
	}
	defer w.Abort()

	inv, err := w.Get(account)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		s.log.Error("收到未知账户的支付通知: account=%s amount=%s", account, received)
		return nil, fmt.Errorf("%w: account %s", ErrUnknownInvoice, account)
	}
	if inv.IsPaid() {
		s.log.Debug("重复支付通知，忽略: account=%s", account)
		return inv, nil
	}

	paidAt := s.now()
	inv.Status = models.StatusPaid
	inv.ReceivedAmount = decimal.NewNullDecimal(received)
	inv.PaidAt = &paidAt
	if err := w.Put(inv); err != nil {
		return nil, err
	}
	if err := w.Commit(); err != nil {
		return nil, err
	}

	s.log.Info("订单已支付: order=%s account=%s requested=%s received=%s",
		inv.OrderID, inv.Account, inv.RequestedAmount, received)
	return inv, nil
}
