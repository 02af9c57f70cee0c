package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gagliardetto/solana-go"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"DepositPay/internal/models"
)

// ErrStore 存储层 I/O 或数据损坏，调用方按内部错误处理
var ErrStore = errors.New("invoice store failure")

const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Options 打开存储的参数
type Options struct {
	Driver string
	DSN    string
	Debug  bool
}

// Store 发票存储：读事务走快照，写事务全局单写者。
// 句柄由 main 创建后显式传给各个服务，不使用全局变量。
type Store struct {
	db     *gorm.DB
	writer chan struct{}
}

// Open 按驱动连接数据库并迁移表结构
func Open(opts Options) (*Store, error) {
	var dialector gorm.Dialector
	switch opts.Driver {
	case DriverSQLite, "":
		dialector = sqlite.Open(opts.DSN)
	case DriverMySQL:
		dialector = mysql.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}

	level := logger.Warn
	if opts.Debug {
		level = logger.Info
	}
	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(log.New(os.Stderr, "[gorm] ", log.LstdFlags), logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrStore, opts.Driver, err)
	}
	return New(conn)
}

// SQLiteDSN 生成带 WAL 与同步落盘参数的 sqlite 连接串
func SQLiteDSN(path string) string {
	return path + "?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000&_foreign_keys=on"
}

// MySQLDSN 拼接 go-sql-driver 连接串
func MySQLDSN(user, password, host string, port int, dbname string) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		user, password, host, port, dbname)
}

// New 包装已有连接并运行迁移
func New(conn *gorm.DB) (*Store, error) {
	if err := Migrate(conn); err != nil {
		return nil, fmt.Errorf("%w: migrate: %v", ErrStore, err)
	}
	return &Store{db: conn, writer: make(chan struct{}, 1)}, nil
}

// Migrate 运行表结构迁移（创建新表或更新表结构）
func Migrate(conn *gorm.DB) error {
	return conn.AutoMigrate(&models.Invoice{})
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping: %v", ErrStore, err)
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ReadTxn 一致性快照，只读
type ReadTxn struct {
	tx   *gorm.DB
	done bool
}

// BeginRead 打开只读事务，不会等待写者
func (s *Store) BeginRead(ctx context.Context) (*ReadTxn, error) {
	tx := s.db.WithContext(ctx).Begin(&sql.TxOptions{ReadOnly: true})
	if tx.Error != nil {
		return nil, fmt.Errorf("%w: begin read: %v", ErrStore, tx.Error)
	}
	return &ReadTxn{tx: tx}, nil
}

// Close 结束只读事务，可重复调用
func (t *ReadTxn) Close() {
	if t.done {
		return
	}
	t.done = true
	t.tx.Rollback()
}

// Get 按收款账户查询，不存在时返回 nil, nil
func (t *ReadTxn) Get(account solana.PublicKey) (*models.Invoice, error) {
	return get(t.tx, account)
}

// Counts 统计未支付、已支付、已发起提现的发票数
func (t *ReadTxn) Counts() (unpaid, paid, withdrawn int64, err error) {
	if err = t.tx.Model(&models.Invoice{}).Where("status = ?", models.StatusUnpaid).Count(&unpaid).Error; err != nil {
		return 0, 0, 0, fmt.Errorf("%w: count unpaid: %v", ErrStore, err)
	}
	if err = t.tx.Model(&models.Invoice{}).Where("status = ?", models.StatusPaid).Count(&paid).Error; err != nil {
		return 0, 0, 0, fmt.Errorf("%w: count paid: %v", ErrStore, err)
	}
	if err = t.tx.Model(&models.Invoice{}).Where("withdrawal_status <> ?", models.WithdrawalNone).Count(&withdrawn).Error; err != nil {
		return 0, 0, 0, fmt.Errorf("%w: count withdrawn: %v", ErrStore, err)
	}
	return unpaid, paid, withdrawn, nil
}

// Unpaid 按创建顺序列出未支付发票，limit<=0 表示不限制
func (t *ReadTxn) Unpaid(limit int) ([]models.Invoice, error) {
	var invoices []models.Invoice
	q := t.tx.Where("status = ?", models.StatusUnpaid).Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&invoices).Error; err != nil {
		return nil, fmt.Errorf("%w: list unpaid: %v", ErrStore, err)
	}
	return invoices, nil
}

// WriteTxn 独占写事务，Commit 或 Abort 后释放写锁
type WriteTxn struct {
	ReadTxn
	store *Store
}

// BeginWrite 获取全局写锁后开启事务；等待期间 ctx 取消则返回 ctx.Err()
func (s *Store) BeginWrite(ctx context.Context) (*WriteTxn, error) {
	select {
	case s.writer <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		<-s.writer
		return nil, fmt.Errorf("%w: begin write: %v", ErrStore, tx.Error)
	}
	return &WriteTxn{ReadTxn: ReadTxn{tx: tx}, store: s}, nil
}

// Put 插入或更新发票
func (t *WriteTxn) Put(inv *models.Invoice) error {
	var err error
	if inv.ID == 0 {
		err = t.tx.Create(inv).Error
	} else {
		err = t.tx.Save(inv).Error
	}
	if err != nil {
		return fmt.Errorf("%w: put %s: %v", ErrStore, inv.Account, err)
	}
	return nil
}

// Commit 持久化后才返回成功
func (t *WriteTxn) Commit() error {
	if t.done {
		return errors.New("transaction already finished")
	}
	t.done = true
	defer t.release()
	if err := t.tx.Commit().Error; err != nil {
		return fmt.Errorf("%w: commit: %v", ErrStore, err)
	}
	return nil
}

// Abort 丢弃所有未提交的写入，可重复调用
func (t *WriteTxn) Abort() {
	if t.done {
		return
	}
	t.done = true
	t.tx.Rollback()
	t.release()
}

// Close 与 Abort 相同，便于 defer
func (t *WriteTxn) Close() { t.Abort() }

func (t *WriteTxn) release() { <-t.store.writer }

func get(tx *gorm.DB, account solana.PublicKey) (*models.Invoice, error) {
	var inv models.Invoice
	err := tx.Where("account = ?", account.String()).First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", ErrStore, account, err)
	}
	return &inv, nil
}
