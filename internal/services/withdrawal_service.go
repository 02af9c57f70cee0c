package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"DepositPay/internal/db"
	"DepositPay/internal/models"
	"DepositPay/utils"
)

// Chain 提现需要的链上能力，由 SolanaClient 实现
type Chain interface {
	Balance(ctx context.Context, account solana.PublicKey) (uint64, error)
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

// DepositSigner 派生收款账户并用其私钥签名
type DepositSigner interface {
	AccountDeriver
	SignTransaction(recipient solana.PublicKey, order []byte, tx *solana.Transaction) error
}

type WithdrawalConfig struct {
	FeeLamports uint64
	Decimals    int32
	Timeout     time.Duration
}

// WithdrawalReceipt 提现已提交到链上的回执
type WithdrawalReceipt struct {
	ID          uuid.UUID
	Order       string
	Account     solana.PublicKey
	Recipient   solana.PublicKey
	Amount      decimal.Decimal
	Signature   solana.Signature
	SubmittedAt time.Time
}

type WithdrawalService struct {
	store  *db.Store
	signer DepositSigner
	chain  Chain
	cfg    WithdrawalConfig
	log    *utils.Logger
	now    func() time.Time
}

func NewWithdrawalService(store *db.Store, signer DepositSigner, chain Chain, cfg WithdrawalConfig, logger *utils.Logger) *WithdrawalService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &WithdrawalService{
		store:  store,
		signer: signer,
		chain:  chain,
		cfg:    cfg,
		log:    logger,
		now:    time.Now,
	}
}

// ForceWithdrawal 把已支付发票收款账户里的全部余额（扣除手续费）转给收款人。
// 发票上的提现标记保证同一张发票最多发起一次成功的转账；
// 链上步骤失败时标记被撤销，调用方可以重试。
func (s *WithdrawalService) ForceWithdrawal(ctx context.Context, recipient solana.PublicKey, order string) (WithdrawalReceipt, error) {
	account, err := s.signer.DeriveDepositAccount(recipient, []byte(order))
	if err != nil {
		return WithdrawalReceipt{}, fmt.Errorf("%w: %v", ErrNotPayable, err)
	}

	if err := s.reserve(ctx, account); err != nil {
		return WithdrawalReceipt{}, err
	}

	chainCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	receipt, err := s.transfer(chainCtx, recipient, order, account)
	if err != nil {
		s.release(ctx, account)
		return WithdrawalReceipt{}, err
	}

	if err := s.complete(ctx, receipt); err != nil {
		// 交易已上链，标记保持 pending，不允许再次提现
		s.log.Error("提现已提交但记录失败: order=%s signature=%s err=%v", order, receipt.Signature, err)
		return WithdrawalReceipt{}, err
	}

	s.log.Info("提现已提交: order=%s account=%s amount=%s signature=%s",
		order, account, receipt.Amount, receipt.Signature)
	return receipt, nil
}

func (s *WithdrawalService) reserve(ctx context.Context, account solana.PublicKey) error {
	w, err := s.store.BeginWrite(ctx)
	if err != nil {
		return err
	}
	defer w.Abort()

	inv, err := w.Get(account)
	if err != nil {
		return err
	}
	if inv == nil || !inv.IsPaid() {
		return fmt.Errorf("%w: account %s", ErrNotPayable, account)
	}
	if inv.Withdrawn() {
		return fmt.Errorf("%w: account %s (%s)", ErrAlreadyWithdrawn, account, inv.WithdrawalStatus)
	}

	inv.WithdrawalStatus = models.WithdrawalPending
	if err := w.Put(inv); err != nil {
		return err
	}
	return w.Commit()
}

func (s *WithdrawalService) transfer(ctx context.Context, recipient solana.PublicKey, order string, account solana.PublicKey) (WithdrawalReceipt, error) {
	balance, err := s.chain.Balance(ctx, account)
	if err != nil {
		return WithdrawalReceipt{}, chainError("get balance", err)
	}
	if balance <= s.cfg.FeeLamports {
		return WithdrawalReceipt{}, fmt.Errorf("%w: balance %d lamports, fee %d", ErrInsufficientBalance, balance, s.cfg.FeeLamports)
	}
	amount := balance - s.cfg.FeeLamports

	blockhash, err := s.chain.LatestBlockhash(ctx)
	if err != nil {
		return WithdrawalReceipt{}, chainError("get blockhash", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(amount, account, recipient).Build(),
		},
		blockhash,
		solana.TransactionPayer(account),
	)
	if err != nil {
		return WithdrawalReceipt{}, fmt.Errorf("build transfer: %w", err)
	}
	if err := s.signer.SignTransaction(recipient, []byte(order), tx); err != nil {
		return WithdrawalReceipt{}, err
	}

	sig, err := s.chain.Submit(ctx, tx)
	if err != nil {
		return WithdrawalReceipt{}, chainError("submit", err)
	}

	return WithdrawalReceipt{
		ID:          uuid.New(),
		Order:       order,
		Account:     account,
		Recipient:   recipient,
		Amount:      ToAmount(amount, s.cfg.Decimals),
		Signature:   sig,
		SubmittedAt: s.now(),
	}, nil
}

func (s *WithdrawalService) complete(ctx context.Context, receipt WithdrawalReceipt) error {
	w, err := s.store.BeginWrite(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}
	defer w.Abort()

	inv, err := w.Get(receipt.Account)
	if err != nil {
		return err
	}
	if inv == nil {
		return fmt.Errorf("%w: invoice %s vanished", db.ErrStore, receipt.Account)
	}
	at := receipt.SubmittedAt
	inv.WithdrawalStatus = models.WithdrawalCompleted
	inv.WithdrawalSignature = receipt.Signature.String()
	inv.WithdrawnAmount = decimal.NewNullDecimal(receipt.Amount)
	inv.WithdrawnAt = &at
	if err := w.Put(inv); err != nil {
		return err
	}
	return w.Commit()
}

// release 撤销 pending 标记；请求 ctx 可能已取消，这里不受其影响
func (s *WithdrawalService) release(ctx context.Context, account solana.PublicKey) {
	w, err := s.store.BeginWrite(context.WithoutCancel(ctx))
	if err != nil {
		s.log.Error("撤销提现标记失败: account=%s err=%v", account, err)
		return
	}
	defer w.Abort()

	inv, err := w.Get(account)
	if err != nil || inv == nil || inv.WithdrawalStatus != models.WithdrawalPending {
		return
	}
	inv.WithdrawalStatus = models.WithdrawalNone
	if err := w.Put(inv); err != nil {
		s.log.Error("撤销提现标记失败: account=%s err=%v", account, err)
		return
	}
	if err := w.Commit(); err != nil {
		s.log.Error("撤销提现标记失败: account=%s err=%v", account, err)
	}
}

func chainError(op string, err error) error {
	if errors.Is(err, ErrChainUnreachable) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrChainUnreachable, op, err)
}
