package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DepositPay/internal/db"
)

const sampleYAML = `
database:
  driver: mysql
  host: 127.0.0.1
  port: 3307
  user: pay
  password: secret
  dbname: invoices
solana:
  rpc_url: http://localhost:8899
  ws_url: ws://localhost:8900
  master_secret: master
  recipient: recipient
  rpc_timeout: 3s
app:
  port: 9000
  poll_interval: 5
  min_amount: "0.5"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, db.DriverMySQL, cfg.Database.Driver)
	assert.Equal(t, 3307, cfg.Database.Port)
	assert.Equal(t, "ws://localhost:8900", cfg.Solana.WSURL)
	assert.Equal(t, 3*time.Second, cfg.Solana.RPCTimeout)
	assert.Equal(t, int32(9), cfg.Solana.Decimals)
	assert.Equal(t, "SOL", cfg.Solana.Currency)
	assert.Equal(t, 9000, cfg.App.Port)
	assert.Equal(t, 5*time.Second, cfg.PollInterval())
	assert.True(t, cfg.App.WithdrawalLocalOnly)

	min, err := cfg.MinAmount()
	require.NoError(t, err)
	assert.Equal(t, "0.5", min.String())

	opts := cfg.StoreOptions()
	assert.Equal(t, "pay:secret@tcp(127.0.0.1:3307)/invoices?charset=utf8mb4&parseTime=True&loc=Local", opts.DSN)
	require.NoError(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DEPOSITPAY_APP_MIN_AMOUNT", "1.25")
	t.Setenv("DEPOSITPAY_SOLANA_RECIPIENT", "from-env")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "1.25", cfg.App.MinAmount)
	assert.Equal(t, "from-env", cfg.Solana.Recipient)
}

func TestDefaultsAndValidate(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  port: 1\n"))
	require.NoError(t, err)

	assert.Equal(t, db.DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "0.07", cfg.App.MinAmount)
	assert.Equal(t, uint64(5000), cfg.Solana.FeeLamports)
	assert.Equal(t, db.SQLiteDSN("depositpay.db"), cfg.StoreOptions().DSN)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "master_secret")
	assert.Contains(t, err.Error(), "recipient")
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
