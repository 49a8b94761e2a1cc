package models

import "github.com/shopspring/decimal"

// Config 结构体定义了机器人的所有配置参数
type Config struct {
	BotID         string `json:"bot_id" yaml:"bot_id"`                   // Bot的唯一标识符, 为空时由交易对生成
	IsTestnet     bool   `json:"is_testnet" yaml:"is_testnet"`           // 是否使用测试网
	DBPath        string `json:"db_path" yaml:"db_path"`                 // 状态数据库(badger)目录
	LedgerPath    string `json:"ledger_path" yaml:"ledger_path"`         // 成交记录(sqlite)文件路径
	LiveAPIURL    string `json:"live_api_url" yaml:"live_api_url"`       // 生产网 REST 地址, 为空使用 SDK 默认值
	TestnetAPIURL string `json:"testnet_api_url" yaml:"testnet_api_url"` // 测试网 REST 地址

	Strategy     StrategyConfig     `json:"strategy" yaml:"strategy"`
	Scheduler    SchedulerConfig    `json:"scheduler" yaml:"scheduler"`
	Exchange     ExchangeConfig     `json:"exchange" yaml:"exchange"`
	Notification NotificationConfig `json:"notification" yaml:"notification"`
	Paper        PaperConfig        `json:"paper" yaml:"paper"`
	LogConfig    LogConfig          `json:"log" yaml:"log"`

	BaseURL string `json:"base_url" yaml:"-"` // REST API基础地址 (将由程序动态设置)
}

// StrategyConfig 是定投策略的不可变参数, 启动时校验一次。
type StrategyConfig struct {
	CurrencyPair     string          `json:"currency_pair" yaml:"currency_pair"`             // 交易对, e.g. "btc_jpy"
	MaxInvestment    decimal.Decimal `json:"max_investment" yaml:"max_investment"`           // 累计买入金额上限
	BuyAmountPerTick decimal.Decimal `json:"buy_amount_per_tick" yaml:"buy_amount_per_tick"` // 每次执行的买入金额(计价货币)
	PriceMultiplier  decimal.Decimal `json:"price_multiplier" yaml:"price_multiplier"`       // 限价相对买一价的溢价倍数
	PricePrecision   int32           `json:"price_precision" yaml:"price_precision"`         // 下单价格保留的小数位
	QtyPrecision     int32           `json:"quantity_precision" yaml:"quantity_precision"`   // 下单数量保留的小数位
}

// SchedulerConfig 定义了执行周期和重试策略
type SchedulerConfig struct {
	TickIntervalSeconds     int             `json:"tick_interval_seconds" yaml:"tick_interval_seconds"`
	MaxRetryAttempts        int             `json:"max_retry_attempts" yaml:"max_retry_attempts"`
	RetryBackoffBaseSeconds decimal.Decimal `json:"retry_backoff_base_seconds" yaml:"retry_backoff_base_seconds"`
	RetryBackoffMaxSeconds  decimal.Decimal `json:"retry_backoff_max_seconds" yaml:"retry_backoff_max_seconds"`
	CallTimeoutSeconds      int             `json:"call_timeout_seconds" yaml:"call_timeout_seconds"` // 单次远程调用超时
}

// ExchangeConfig 定义了交易所访问相关的配置
type ExchangeConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"` // REST 请求限速
	RecvWindowMs      int64   `json:"recv_window_ms" yaml:"recv_window_ms"`
}

// NotificationConfig 定义了告警通道
type NotificationConfig struct {
	TimeoutSeconds int             `json:"timeout_seconds" yaml:"timeout_seconds"`
	SMTP           SMTPConfig      `json:"smtp" yaml:"smtp"`
	Websocket      WebsocketConfig `json:"websocket" yaml:"websocket"`
}

// SMTPConfig 邮件通知配置, 密码从环境变量读取
type SMTPConfig struct {
	Enabled  bool     `json:"enabled" yaml:"enabled"`
	Host     string   `json:"host" yaml:"host"`
	Port     int      `json:"port" yaml:"port"`
	Username string   `json:"username" yaml:"username"`
	Password string   `json:"-" yaml:"-"`
	From     string   `json:"from" yaml:"from"`
	To       []string `json:"to" yaml:"to"`
}

// WebsocketConfig 将告警推送到一个 WebSocket 端点
type WebsocketConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	URL     string `json:"url" yaml:"url"`
}

// PaperConfig 定义了模拟交易/回测的账户参数
type PaperConfig struct {
	InitialQuoteBalance decimal.Decimal `json:"initial_quote_balance" yaml:"initial_quote_balance"` // 初始计价货币余额
	FeeRate             decimal.Decimal `json:"fee_rate" yaml:"fee_rate"`                           // 手续费率, 以基础货币扣除
	Spread              decimal.Decimal `json:"spread" yaml:"spread"`                               // 卖一相对买一的价差比例
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level" yaml:"level"`             // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output" yaml:"output"`           // 输出模式: "console", "file", "both"
	File       string `json:"file" yaml:"file"`               // 日志文件路径
	MaxSize    int    `json:"max_size" yaml:"max_size"`       // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups" yaml:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age" yaml:"max_age"`         // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress" yaml:"compress"`       // 是否压缩旧日志文件
}
