package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"DepositPay/internal/db"
)

type Config struct {
	Database struct {
		Driver   string `mapstructure:"driver"` // "sqlite" 或 "mysql"
		Path     string `mapstructure:"path"`   // sqlite 文件路径
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		DBName   string `mapstructure:"dbname"`
		Debug    bool   `mapstructure:"debug"`
	} `mapstructure:"database"`
	Solana struct {
		RPCURL       string        `mapstructure:"rpc_url"`
		WSURL        string        `mapstructure:"ws_url"`        // 为空时监听器只轮询
		MasterSecret string        `mapstructure:"master_secret"` // base58 主私钥，只交给派生器
		Recipient    string        `mapstructure:"recipient"`     // 默认商户收款人
		Decimals     int32         `mapstructure:"decimals"`
		Currency     string        `mapstructure:"currency"`
		RPCTimeout   time.Duration `mapstructure:"rpc_timeout"`
		FeeLamports  uint64        `mapstructure:"fee_lamports"`
		Explorer     string        `mapstructure:"explorer"`
	} `mapstructure:"solana"`
	App struct {
		Port                int    `mapstructure:"port"`
		PollInterval        int    `mapstructure:"poll_interval"` // 秒
		MinAmount           string `mapstructure:"min_amount"`
		WithdrawalLocalOnly bool   `mapstructure:"withdrawal_local_only"`
		Debug               bool   `mapstructure:"debug"`
	} `mapstructure:"app"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", db.DriverSQLite)
	v.SetDefault("database.path", "depositpay.db")
	v.SetDefault("database.port", 3306)
	v.SetDefault("solana.rpc_url", "https://api.devnet.solana.com")
	v.SetDefault("solana.decimals", 9)
	v.SetDefault("solana.currency", "SOL")
	v.SetDefault("solana.rpc_timeout", 10*time.Second)
	v.SetDefault("solana.fee_lamports", 5000)
	v.SetDefault("solana.explorer", "https://explorer.solana.com/tx/%s?cluster=devnet")
	v.SetDefault("app.port", 16726)
	v.SetDefault("app.poll_interval", 10)
	v.SetDefault("app.min_amount", "0.07")
	v.SetDefault("app.withdrawal_local_only", true)
}

// Load 读取配置文件（可为空）并应用 DEPOSITPAY_ 前缀的环境变量覆盖
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("depositpay")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/depositpay")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
	}

	// AutomaticEnv 只对 Get 生效，Unmarshal 需要逐个绑定
	for _, key := range []string{
		"database.driver", "database.path", "database.host", "database.port", "database.user",
		"database.password", "database.dbname", "database.debug",
		"solana.rpc_url", "solana.ws_url", "solana.master_secret", "solana.recipient",
		"solana.decimals", "solana.currency", "solana.rpc_timeout", "solana.fee_lamports", "solana.explorer",
		"app.port", "app.poll_interval", "app.min_amount", "app.withdrawal_local_only", "app.debug",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	return &cfg, nil
}

// Validate 检查启动 serve 所需的字段
func (c *Config) Validate() error {
	var errs []error
	if c.Solana.MasterSecret == "" {
		errs = append(errs, errors.New("solana.master_secret is empty"))
	}
	if c.Solana.Recipient == "" {
		errs = append(errs, errors.New("solana.recipient is empty"))
	}
	if c.Solana.RPCURL == "" {
		errs = append(errs, errors.New("solana.rpc_url is empty"))
	}
	if c.Solana.Decimals < 0 || c.Solana.Decimals > 18 {
		errs = append(errs, fmt.Errorf("solana.decimals %d out of range", c.Solana.Decimals))
	}
	if _, err := c.MinAmount(); err != nil {
		errs = append(errs, err)
	}
	switch c.Database.Driver {
	case db.DriverSQLite, db.DriverMySQL:
	default:
		errs = append(errs, fmt.Errorf("database.driver %q unsupported", c.Database.Driver))
	}
	return errors.Join(errs...)
}

func (c *Config) MinAmount() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(c.App.MinAmount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("app.min_amount %q: %w", c.App.MinAmount, err)
	}
	return d, nil
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.App.PollInterval) * time.Second
}

// StoreOptions 按驱动拼接连接串
func (c *Config) StoreOptions() db.Options {
	opts := db.Options{Driver: c.Database.Driver, Debug: c.Database.Debug}
	if c.Database.Driver == db.DriverMySQL {
		opts.DSN = db.MySQLDSN(c.Database.User, c.Database.Password, c.Database.Host, c.Database.Port, c.Database.DBName)
	} else {
		opts.DSN = db.SQLiteDSN(c.Database.Path)
	}
	return opts
}
