package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jsonConfig = `{
	"strategy": {
		"currency_pair": "btc_jpy",
		"max_investment": "100000",
		"buy_amount_per_tick": 10000
	},
	"scheduler": {
		"tick_interval_seconds": 3600,
		"max_retry_attempts": 2
	}
}`

const yamlConfig = `
bot_id: weekly-btc
strategy:
  currency_pair: BTC/JPY
  max_investment: "100000"
  buy_amount_per_tick: "10000"
  price_multiplier: "1.05"
scheduler:
  tick_interval_seconds: 60
  retry_backoff_base_seconds: "0.5"
log:
  level: debug
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigJSONAppliesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeFile(t, "config.json", jsonConfig))
	require.NoError(t, err)

	assert.Equal(t, "dca-btc_jpy", cfg.BotID)
	assert.True(t, cfg.Strategy.MaxInvestment.Equal(decimal.NewFromInt(100000)))
	assert.True(t, cfg.Strategy.BuyAmountPerTick.Equal(decimal.NewFromInt(10000)))
	assert.True(t, cfg.Strategy.PriceMultiplier.Equal(decimal.RequireFromString("1.2")))
	assert.Equal(t, int32(8), cfg.Strategy.QtyPrecision)
	assert.Equal(t, 2, cfg.Scheduler.MaxRetryAttempts)
	assert.Equal(t, 10, cfg.Scheduler.CallTimeoutSeconds)
	assert.Equal(t, "info", cfg.LogConfig.Level)
}

func TestLoadConfigYAML(t *testing.T) {
	cfg, err := LoadConfig(writeFile(t, "config.yaml", yamlConfig))
	require.NoError(t, err)

	assert.Equal(t, "weekly-btc", cfg.BotID)
	assert.True(t, cfg.Strategy.PriceMultiplier.Equal(decimal.RequireFromString("1.05")))
	assert.True(t, cfg.Scheduler.RetryBackoffBaseSeconds.Equal(decimal.RequireFromString("0.5")))
	assert.Equal(t, "debug", cfg.LogConfig.Level)
}

func TestLoadConfigKeepsZeroQuantityPrecision(t *testing.T) {
	body := `{"strategy":{"currency_pair":"doge_usdt","max_investment":"100","buy_amount_per_tick":"10","quantity_precision":0},"scheduler":{"tick_interval_seconds":60}}`
	cfg, err := LoadConfig(writeFile(t, "config.json", body))
	require.NoError(t, err)
	assert.Equal(t, int32(0), cfg.Strategy.QtyPrecision)

	cfg, err = LoadConfig(writeFile(t, "config.yaml", "strategy:\n  currency_pair: doge_usdt\n  max_investment: \"100\"\n  buy_amount_per_tick: \"10\"\n  quantity_precision: 0\nscheduler:\n  tick_interval_seconds: 60\n"))
	require.NoError(t, err)
	assert.Equal(t, int32(0), cfg.Strategy.QtyPrecision)
}

func TestValidateRejectsBadOptions(t *testing.T) {
	cases := map[string]string{
		"bad pair":          `{"strategy":{"currency_pair":"btcjpy","max_investment":"1","buy_amount_per_tick":"1"},"scheduler":{"tick_interval_seconds":1}}`,
		"zero max":          `{"strategy":{"currency_pair":"btc_jpy","max_investment":"0","buy_amount_per_tick":"1"},"scheduler":{"tick_interval_seconds":1}}`,
		"negative buy":      `{"strategy":{"currency_pair":"btc_jpy","max_investment":"10","buy_amount_per_tick":"-1"},"scheduler":{"tick_interval_seconds":1}}`,
		"buy above max":     `{"strategy":{"currency_pair":"btc_jpy","max_investment":"10","buy_amount_per_tick":"11"},"scheduler":{"tick_interval_seconds":1}}`,
		"discount price":    `{"strategy":{"currency_pair":"btc_jpy","max_investment":"10","buy_amount_per_tick":"1","price_multiplier":"0.9"},"scheduler":{"tick_interval_seconds":1}}`,
		"no interval":       `{"strategy":{"currency_pair":"btc_jpy","max_investment":"10","buy_amount_per_tick":"1"}}`,
		"negative attempts": `{"strategy":{"currency_pair":"btc_jpy","max_investment":"10","buy_amount_per_tick":"1"},"scheduler":{"tick_interval_seconds":1,"max_retry_attempts":-1}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeFile(t, "config.json", body))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadCredentialsFromEnv(t *testing.T) {
	t.Setenv("BINANCE_API_KEY", "key")
	t.Setenv("BINANCE_SECRET_KEY", "secret")
	t.Setenv("DCA_SMTP_PASSWORD", "pw")

	c, err := LoadCredentials()
	require.NoError(t, err)
	assert.Equal(t, "key", c.APIKey)
	assert.Equal(t, "secret", c.SecretKey)
	assert.Equal(t, "pw", c.SMTPPassword)
}
