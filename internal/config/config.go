package config

import (
	"dca-bot-go/internal/models"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate for any rejected option.
var ErrInvalidConfig = errors.New("invalid config")

// unsetPrecision 标记配置文件中未出现的 quantity_precision, 0 是合法取值
const unsetPrecision = -1

// Credentials 从环境变量读取, 不写入配置文件
type Credentials struct {
	APIKey       string `envconfig:"BINANCE_API_KEY"`
	SecretKey    string `envconfig:"BINANCE_SECRET_KEY"`
	SMTPPassword string `envconfig:"DCA_SMTP_PASSWORD"`
}

// LoadConfig 从指定路径加载配置文件(JSON 或 YAML)，填充默认值并校验
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	cfg := &models.Config{Strategy: models.StrategyConfig{QtyPrecision: unsetPrecision}}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.NewDecoder(file).Decode(cfg)
	default:
		err = json.NewDecoder(file).Decode(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadCredentials 加载 .env (如存在) 后从环境变量读取密钥
func LoadCredentials() (*Credentials, error) {
	_ = godotenv.Load()

	var c Credentials
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ApplyDefaults 为未设置的可选项填充默认值。
// 只有 LoadConfig 解码前预置的 unsetPrecision 会被替换为 8。
func ApplyDefaults(cfg *models.Config) {
	s := &cfg.Strategy
	if s.PriceMultiplier.IsZero() {
		s.PriceMultiplier = decimal.RequireFromString("1.2")
	}
	if s.QtyPrecision == unsetPrecision {
		s.QtyPrecision = 8
	}
	if cfg.BotID == "" {
		if pair, err := models.ParsePair(s.CurrencyPair); err == nil {
			cfg.BotID = "dca-" + pair.String()
		}
	}

	sc := &cfg.Scheduler
	if sc.RetryBackoffBaseSeconds.IsZero() {
		sc.RetryBackoffBaseSeconds = decimal.NewFromInt(2)
	}
	if sc.RetryBackoffMaxSeconds.IsZero() {
		sc.RetryBackoffMaxSeconds = decimal.NewFromInt(60)
	}
	if sc.CallTimeoutSeconds == 0 {
		sc.CallTimeoutSeconds = 10
	}

	if cfg.Exchange.RequestsPerSecond == 0 {
		cfg.Exchange.RequestsPerSecond = 5
	}
	if cfg.Notification.TimeoutSeconds == 0 {
		cfg.Notification.TimeoutSeconds = 10
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "data/state"
	}
	if cfg.LedgerPath == "" {
		cfg.LedgerPath = "data/ledger.db"
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.LogConfig.Output == "" {
		cfg.LogConfig.Output = "console"
	}
}

// Validate rejects configurations that must never reach the tick loop.
func Validate(cfg *models.Config) error {
	s := cfg.Strategy
	if _, err := models.ParsePair(s.CurrencyPair); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if !s.MaxInvestment.IsPositive() {
		return fmt.Errorf("%w: max_investment must be > 0, got %s", ErrInvalidConfig, s.MaxInvestment)
	}
	if !s.BuyAmountPerTick.IsPositive() {
		return fmt.Errorf("%w: buy_amount_per_tick must be > 0, got %s", ErrInvalidConfig, s.BuyAmountPerTick)
	}
	if s.BuyAmountPerTick.GreaterThan(s.MaxInvestment) {
		return fmt.Errorf("%w: buy_amount_per_tick %s exceeds max_investment %s", ErrInvalidConfig, s.BuyAmountPerTick, s.MaxInvestment)
	}
	if s.PriceMultiplier.LessThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: price_multiplier must be >= 1, got %s", ErrInvalidConfig, s.PriceMultiplier)
	}
	if s.PricePrecision < 0 || s.QtyPrecision < 0 {
		return fmt.Errorf("%w: precision must not be negative", ErrInvalidConfig)
	}

	sc := cfg.Scheduler
	if sc.TickIntervalSeconds <= 0 {
		return fmt.Errorf("%w: tick_interval_seconds must be > 0, got %d", ErrInvalidConfig, sc.TickIntervalSeconds)
	}
	if sc.MaxRetryAttempts < 0 {
		return fmt.Errorf("%w: max_retry_attempts must be >= 0, got %d", ErrInvalidConfig, sc.MaxRetryAttempts)
	}
	if !sc.RetryBackoffBaseSeconds.IsPositive() {
		return fmt.Errorf("%w: retry_backoff_base_seconds must be > 0", ErrInvalidConfig)
	}
	if sc.RetryBackoffMaxSeconds.LessThan(sc.RetryBackoffBaseSeconds) {
		return fmt.Errorf("%w: retry_backoff_max_seconds must be >= retry_backoff_base_seconds", ErrInvalidConfig)
	}
	if sc.CallTimeoutSeconds <= 0 {
		return fmt.Errorf("%w: call_timeout_seconds must be > 0", ErrInvalidConfig)
	}
	return nil
}
