package listener

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DepositPay/internal/db"
	"DepositPay/internal/derivation"
	"DepositPay/internal/services"
	"DepositPay/utils"
)

type fakeChain struct {
	mu        sync.Mutex
	balances  map[solana.PublicKey]uint64
	healthErr error
}

func (f *fakeChain) Balance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[account], nil
}

func (f *fakeChain) Healthy(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthErr
}

func (f *fakeChain) set(account solana.PublicKey, lamports uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[account] = lamports
}

// fakeStream 测试用的余额推送，Unsubscribe 后 Recv 返回错误
type fakeStream struct {
	updates      chan uint64
	done         chan struct{}
	once         sync.Once
	unsubscribed atomic.Bool
}

func (s *fakeStream) Recv(ctx context.Context) (uint64, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-s.done:
		return 0, errors.New("unsubscribed")
	case v := <-s.updates:
		return v, nil
	}
}

func (s *fakeStream) Unsubscribe() {
	s.unsubscribed.Store(true)
	s.once.Do(func() { close(s.done) })
}

type fakeSubscriber struct {
	mu      sync.Mutex
	streams map[solana.PublicKey]*fakeStream
}

func (f *fakeSubscriber) Subscribe(account solana.PublicKey) (Notifications, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := &fakeStream{updates: make(chan uint64), done: make(chan struct{})}
	f.streams[account] = st
	return st, nil
}

func (f *fakeSubscriber) stream(account solana.PublicKey) *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams[account]
}

type fixture struct {
	store  *db.Store
	orders *services.OrderService
	chain  *fakeChain
	l      *Listener
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := db.Open(db.Options{Driver: db.DriverSQLite, DSN: db.SQLiteDSN(filepath.Join(t.TempDir(), "invoices.db"))})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	d, err := derivation.New(solana.NewWallet().PrivateKey)
	require.NoError(t, err)
	orders := services.NewOrderService(store, d, services.OrderConfig{
		MinAmount:  decimal.RequireFromString("0.07"),
		Currencies: []string{"SOL"},
	}, utils.NewDiscardLogger())

	chain := &fakeChain{balances: make(map[solana.PublicKey]uint64)}
	l := New(Config{Interval: 20 * time.Millisecond, Decimals: 9, Workers: 2}, store, chain, orders, utils.NewDiscardLogger())
	return &fixture{store: store, orders: orders, chain: chain, l: l}
}

func (f *fixture) create(t *testing.T, order, amount string) solana.PublicKey {
	t.Helper()
	out, err := f.orders.CreateOrGetOrder(context.Background(), services.OrderRequest{
		Recipient: solana.NewWallet().PublicKey(),
		Order:     order,
		Amount:    decimal.RequireFromString(amount),
		Currency:  "SOL",
	})
	require.NoError(t, err)
	return solana.MustPublicKeyFromBase58(out.Invoice.Account)
}

func (f *fixture) isPaid(account solana.PublicKey) (bool, error) {
	r, err := f.store.BeginRead(context.Background())
	if err != nil {
		return false, err
	}
	defer r.Close()
	inv, err := r.Get(account)
	if err != nil || inv == nil {
		return false, err
	}
	return inv.IsPaid(), nil
}

func (f *fixture) paid(t *testing.T, account solana.PublicKey) bool {
	t.Helper()
	ok, err := f.isPaid(account)
	require.NoError(t, err)
	return ok
}

func TestSweepMarksFundedInvoices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	funded := f.create(t, "funded", "0.07")
	short := f.create(t, "short", "0.1")
	empty := f.create(t, "empty", "0.2")
	f.chain.set(funded, 71_000_000)
	f.chain.set(short, 99_999_999)

	n, err := f.l.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, f.l.Connected())

	assert.True(t, f.paid(t, funded))
	assert.False(t, f.paid(t, short))
	assert.False(t, f.paid(t, empty))

	r, err := f.store.BeginRead(ctx)
	require.NoError(t, err)
	inv, err := r.Get(funded)
	r.Close()
	require.NoError(t, err)
	assert.True(t, inv.Amount().Equal(decimal.RequireFromString("0.071")))

	// 已支付的发票不再被检查
	f.chain.set(short, 100_000_000)
	n, err = f.l.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, f.paid(t, short))
}

func TestSweepReportsDisconnected(t *testing.T) {
	f := newFixture(t)
	account := f.create(t, "x", "0.07")
	f.chain.set(account, 70_000_000)
	f.chain.healthErr = errors.New("node behind")

	_, err := f.l.Sweep(context.Background())
	assert.Error(t, err)
	assert.False(t, f.l.Connected())
	assert.False(t, f.paid(t, account))
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	account := f.create(t, "loop", "0.07")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.l.Run(ctx)
		close(done)
	}()

	f.chain.set(account, 70_000_000)
	assert.Eventually(t, func() bool {
		ok, _ := f.isPaid(account)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestSettleRejectsUnrepresentableAmount(t *testing.T) {
	f := newFixture(t)
	account := solana.NewWallet().PublicKey()

	assert.False(t, f.l.settle(context.Background(), account, decimal.RequireFromString("18446744073.709551617"), 1))
	assert.False(t, f.l.settle(context.Background(), account, decimal.RequireFromString("0.0700000009"), 70_000_000))
}

func TestPushNotificationSettlesAndUnsubscribes(t *testing.T) {
	f := newFixture(t)
	subscriber := &fakeSubscriber{streams: make(map[solana.PublicKey]*fakeStream)}
	f.l.subscriber = subscriber

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	account := f.create(t, "push", "0.07")
	n, err := f.l.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	st := subscriber.stream(account)
	require.NotNil(t, st)

	// 未达到请求金额的推送不结算
	st.updates <- 69_999_999
	st.updates <- 70_000_000

	assert.Eventually(t, func() bool {
		ok, _ := f.isPaid(account)
		return ok && st.unsubscribed.Load()
	}, 2*time.Second, 10*time.Millisecond)

	f.l.mu.Lock()
	_, still := f.l.subs[account.String()]
	f.l.mu.Unlock()
	assert.False(t, still)

	// 已支付的账户不再订阅
	_, err = f.l.Sweep(ctx)
	require.NoError(t, err)
	assert.Same(t, st, subscriber.stream(account))
}

func TestUnsubscribeAllOnStop(t *testing.T) {
	f := newFixture(t)
	subscriber := &fakeSubscriber{streams: make(map[solana.PublicKey]*fakeStream)}
	f.l.subscriber = subscriber
	account := f.create(t, "pending", "0.07")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.l.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return subscriber.stream(account) != nil }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done
	assert.True(t, subscriber.stream(account).unsubscribed.Load())
}
