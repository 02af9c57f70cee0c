package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"DepositPay/internal/db"
	"DepositPay/internal/derivation"
	"DepositPay/utils"
)

func openTestStore(t *testing.T) *db.Store {
	t.Helper()
	s, err := db.Open(db.Options{Driver: db.DriverSQLite, DSN: db.SQLiteDSN(filepath.Join(t.TempDir(), "invoices.db"))})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestDeriver(t *testing.T) *derivation.Deriver {
	t.Helper()
	d, err := derivation.New(solana.NewWallet().PrivateKey)
	require.NoError(t, err)
	return d
}

func newTestOrders(t *testing.T, store *db.Store, d *derivation.Deriver) *OrderService {
	t.Helper()
	return NewOrderService(store, d, OrderConfig{
		MinAmount:  decimal.RequireFromString("0.07"),
		Currencies: []string{"SOL"},
	}, utils.NewDiscardLogger())
}

func amount(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeChain 内存中的链，记录提交过的交易
type fakeChain struct {
	mu         sync.Mutex
	balances   map[solana.PublicKey]uint64
	blockhash  solana.Hash
	balanceErr error
	submitErr  error
	delay      time.Duration
	submitted  []*solana.Transaction
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		balances:  make(map[solana.PublicKey]uint64),
		blockhash: solana.Hash{1, 2, 3},
	}
}

func (f *fakeChain) setBalance(account solana.PublicKey, lamports uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[account] = lamports
}

func (f *fakeChain) Balance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balanceErr != nil {
		return 0, f.balanceErr
	}
	return f.balances[account], nil
}

func (f *fakeChain) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	return f.blockhash, nil
}

func (f *fakeChain) Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return solana.Signature{}, f.submitErr
	}
	if len(tx.Signatures) == 0 {
		return solana.Signature{}, errors.New("unsigned transaction")
	}
	f.submitted = append(f.submitted, tx)
	return tx.Signatures[0], nil
}

func (f *fakeChain) submissions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}
