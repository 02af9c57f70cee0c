// Package listener 检测收款账户的到账并通知订单引擎。
//
// 主循环按固定间隔轮询所有未支付发票的余额；配置了 ws 地址时额外为每个
// 未支付账户建立 accountSubscribe 订阅，余额变化时立即结算，轮询作为兜底。
package listener

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
	"github.com/shopspring/decimal"

	"DepositPay/internal/db"
	"DepositPay/internal/models"
	"DepositPay/internal/services"
	"DepositPay/utils"
)

// Chain 轮询需要的链上查询，由 services.SolanaClient 实现
type Chain interface {
	Balance(ctx context.Context, account solana.PublicKey) (uint64, error)
	Healthy(ctx context.Context) error
}

// PaymentSink 由 services.OrderService 实现
type PaymentSink interface {
	MarkPaid(ctx context.Context, account solana.PublicKey, received decimal.Decimal) (*models.Invoice, error)
}

// Notifications 单个账户的余额推送
type Notifications interface {
	Recv(ctx context.Context) (uint64, error)
	Unsubscribe()
}

// Subscriber 为账户建立余额推送，默认实现基于 ws 客户端
type Subscriber interface {
	Subscribe(account solana.PublicKey) (Notifications, error)
}

type Config struct {
	WSURL    string
	Interval time.Duration
	Decimals int32
	// 每轮最多检查的发票数，0 表示不限制
	BatchSize int
	// 并发查询余额的 goroutine 数
	Workers int
}

type Listener struct {
	cfg   Config
	store *db.Store
	chain Chain
	sink  PaymentSink
	log   *utils.Logger

	connected atomic.Bool

	subscriber Subscriber
	subs       map[string]Notifications // 以收款账户 base58 为键
	mu         sync.Mutex
}

func New(cfg Config, store *db.Store, chain Chain, sink PaymentSink, logger *utils.Logger) *Listener {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	return &Listener{
		cfg:   cfg,
		store: store,
		chain: chain,
		sink:  sink,
		log:   logger,
		subs:  make(map[string]Notifications),
	}
}

// Connected 最近一次与链通信是否成功
func (l *Listener) Connected() bool { return l.connected.Load() }

// Run 阻塞直到 ctx 取消
func (l *Listener) Run(ctx context.Context) {
	if l.cfg.WSURL != "" && l.subscriber == nil {
		wsClient, err := ws.Connect(ctx, l.cfg.WSURL)
		if err != nil {
			l.log.Warn("WebSocket 连接失败，仅使用轮询: %v", err)
		} else {
			l.subscriber = wsSubscriber{client: wsClient}
			defer wsClient.Close()
		}
	}

	l.log.Info("监听器启动: interval=%s push=%v", l.cfg.Interval, l.subscriber != nil)
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := l.Sweep(ctx); err != nil && ctx.Err() == nil {
			l.log.Warn("轮询失败: %v", err)
		}
		select {
		case <-ctx.Done():
			l.unsubscribeAll()
			l.log.Info("监听器停止")
			return
		case <-ticker.C:
		}
	}
}

// Sweep 检查一轮未支付发票，返回本轮标记为已支付的数量
func (l *Listener) Sweep(ctx context.Context) (int, error) {
	if err := l.chain.Healthy(ctx); err != nil {
		l.connected.Store(false)
		return 0, err
	}
	l.connected.Store(true)

	r, err := l.store.BeginRead(ctx)
	if err != nil {
		return 0, err
	}
	invoices, err := r.Unpaid(l.cfg.BatchSize)
	r.Close()
	if err != nil {
		return 0, err
	}

	var (
		paid       atomic.Int64
		wg         sync.WaitGroup
		workerPool = make(chan struct{}, l.cfg.Workers)
	)
	for i := range invoices {
		inv := invoices[i]
		account, err := solana.PublicKeyFromBase58(inv.Account)
		if err != nil {
			l.log.Error("发票账户格式错误: id=%d account=%s", inv.ID, inv.Account)
			continue
		}
		l.subscribe(ctx, account, inv.RequestedAmount)

		workerPool <- struct{}{}
		wg.Add(1)
		go func() {
			defer func() {
				<-workerPool
				wg.Done()
			}()
			balance, err := l.chain.Balance(ctx, account)
			if err != nil {
				l.log.Debug("查询余额失败: account=%s err=%v", account, err)
				return
			}
			if l.settle(ctx, account, inv.RequestedAmount, balance) {
				paid.Add(1)
			}
		}()
	}
	wg.Wait()

	if n := paid.Load(); n > 0 {
		l.log.Info("本轮检测到 %d 笔到账", n)
	}
	return int(paid.Load()), nil
}

// settle 余额达到请求金额时通知订单引擎
func (l *Listener) settle(ctx context.Context, account solana.PublicKey, requested decimal.Decimal, balance uint64) bool {
	want, err := services.ToUnits(requested, l.cfg.Decimals)
	if err != nil {
		l.log.Error("发票金额无法换算: account=%s amount=%s err=%v", account, requested, err)
		return false
	}
	if balance == 0 || balance < want {
		return false
	}
	received := services.ToAmount(balance, l.cfg.Decimals)
	if _, err := l.sink.MarkPaid(ctx, account, received); err != nil {
		l.log.Error("标记支付失败: account=%s err=%v", account, err)
		return false
	}
	l.unsubscribe(account)
	return true
}

func (l *Listener) subscribe(ctx context.Context, account solana.PublicKey, requested decimal.Decimal) {
	if l.subscriber == nil {
		return
	}
	key := account.String()

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.subs[key]; ok {
		return
	}
	sub, err := l.subscriber.Subscribe(account)
	if err != nil {
		l.log.Warn("订阅 %s 失败: %v", key, err)
		return
	}
	l.subs[key] = sub
	go l.handleNotifications(ctx, sub, account, requested)
}

func (l *Listener) handleNotifications(ctx context.Context, sub Notifications, account solana.PublicKey, requested decimal.Decimal) {
	for {
		lamports, err := sub.Recv(ctx)
		if err != nil {
			// 订阅断开后由下一轮轮询重新建立
			l.log.Debug("通知接收结束 %s: %v", account, err)
			l.forget(account, sub)
			return
		}
		if l.settle(ctx, account, requested, lamports) {
			return
		}
	}
}

func (l *Listener) forget(account solana.PublicKey, sub Notifications) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.subs[account.String()]; ok && cur == sub {
		delete(l.subs, account.String())
	}
	sub.Unsubscribe()
}

func (l *Listener) unsubscribe(account solana.PublicKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if sub, ok := l.subs[account.String()]; ok {
		sub.Unsubscribe()
		delete(l.subs, account.String())
	}
}

func (l *Listener) unsubscribeAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, sub := range l.subs {
		sub.Unsubscribe()
	}
	l.subs = make(map[string]Notifications)
}

// wsSubscriber 基于 accountSubscribe 的推送
type wsSubscriber struct {
	client *ws.Client
}

func (w wsSubscriber) Subscribe(account solana.PublicKey) (Notifications, error) {
	sub, err := w.client.AccountSubscribeWithOpts(account, rpc.CommitmentConfirmed, solana.EncodingBase64)
	if err != nil {
		return nil, err
	}
	return &wsAccount{sub: sub}, nil
}

// wsAccount 重复 Unsubscribe 会关闭已关闭的 channel，用 once 保护
type wsAccount struct {
	sub  *ws.AccountSubscription
	once sync.Once
}

func (a *wsAccount) Recv(ctx context.Context) (uint64, error) {
	for {
		res, err := a.sub.Recv(ctx)
		if err != nil {
			return 0, err
		}
		if res != nil {
			return res.Value.Lamports, nil
		}
	}
}

func (a *wsAccount) Unsubscribe() { a.once.Do(a.sub.Unsubscribe) }
