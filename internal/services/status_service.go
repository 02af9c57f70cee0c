package services

import (
	"context"
	"time"

	"DepositPay/internal/db"
)

// ConnectivityFeed 支付检测方报告与链的连接状态
type ConnectivityFeed interface {
	Connected() bool
}

// ServerStatus 每次请求重新计算，不缓存
type ServerStatus struct {
	Version        string    `json:"version"`
	StartedAt      time.Time `json:"startedAt"`
	CheckedAt      time.Time `json:"checkedAt"`
	StoreReachable bool      `json:"storeReachable"`
	ChainConnected bool      `json:"chainConnected"`
	PendingCount   int64     `json:"pendingCount"`
	PaidCount      int64     `json:"paidCount"`
	WithdrawnCount int64     `json:"withdrawnCount"`
	Recipient      string    `json:"recipient,omitempty"`
	MinAmount      string    `json:"minAmount,omitempty"`
}

type StatusService struct {
	store     *db.Store
	feed      ConnectivityFeed
	version   string
	recipient string
	minAmount string
	startedAt time.Time
}

func NewStatusService(store *db.Store, feed ConnectivityFeed, version, recipient, minAmount string) *StatusService {
	return &StatusService{
		store:     store,
		feed:      feed,
		version:   version,
		recipient: recipient,
		minAmount: minAmount,
		startedAt: time.Now(),
	}
}

// ServerStatus 汇总存储和链连接状态；存储不可用时返回部分结果和 db.ErrStore
func (s *StatusService) ServerStatus(ctx context.Context) (ServerStatus, error) {
	st := ServerStatus{
		Version:   s.version,
		StartedAt: s.startedAt,
		CheckedAt: time.Now(),
		Recipient: s.recipient,
		MinAmount: s.minAmount,
	}
	if s.feed != nil {
		st.ChainConnected = s.feed.Connected()
	}

	if err := s.store.Ping(ctx); err != nil {
		return st, err
	}
	r, err := s.store.BeginRead(ctx)
	if err != nil {
		return st, err
	}
	defer r.Close()

	st.PendingCount, st.PaidCount, st.WithdrawnCount, err = r.Counts()
	if err != nil {
		st.PendingCount, st.PaidCount, st.WithdrawnCount = 0, 0, 0
		return st, err
	}
	st.StoreReachable = true
	return st, nil
}

// Ready 存储可用即就绪
func (s *StatusService) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Audit 尚未实现
func (s *StatusService) Audit(ctx context.Context) error {
	return ErrNotImplemented
}
