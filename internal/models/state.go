package models

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// StateVersion 是当前状态模型的版本号，用于未来迁移
const StateVersion = 1

// Status 定义了 Bot 的运行状态
type Status string

const (
	StatusRunning                    Status = "RUNNING"
	StatusStoppedBudgetExceeded      Status = "STOPPED_BUDGET_EXCEEDED"
	StatusStoppedInsufficientBalance Status = "STOPPED_INSUFFICIENT_BALANCE"
	StatusStoppedManually            Status = "STOPPED_MANUALLY"
)

// IsTerminal 报告该状态是否为终止状态
func (s Status) IsTerminal() bool {
	switch s {
	case StatusStoppedBudgetExceeded, StatusStoppedInsufficientBalance, StatusStoppedManually:
		return true
	}
	return false
}

// BotRunState 定义了需要持久化的所有关键数据
type BotRunState struct {
	BotID               string          `json:"bot_id"`                         // Bot的唯一标识符
	Pair                string          `json:"pair"`                           // 交易对, e.g., "btc_jpy"
	Version             int             `json:"version"`                        // 状态模型的版本号
	TickCount           int64           `json:"tick_count"`                     // 已执行(成交确认)的次数
	TotalBuyOrderAmount decimal.Decimal `json:"total_buy_order_amount"`         // 累计买入金额(计价货币), 单调不减
	TotalBaseAcquired   decimal.Decimal `json:"total_base_acquired"`            // 累计买入的基础货币数量
	Status              Status          `json:"status"`                         // 运行状态
	StopReason          string          `json:"stop_reason,omitempty"`          // 终止原因
	LastOrderID         string          `json:"last_order_id,omitempty"`        // 最近一次成交的交易所订单ID
	LastClientOrderID   string          `json:"last_client_order_id,omitempty"` // 最近一次成交的客户端订单ID
	StartedAt           time.Time       `json:"started_at"`
	LastTickAt          time.Time       `json:"last_tick_at,omitempty"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// NewBotRunState 创建一个计数清零、处于运行状态的新状态
func NewBotRunState(botID, pair string, now time.Time) BotRunState {
	return BotRunState{
		BotID:               botID,
		Pair:                pair,
		Version:             StateVersion,
		TotalBuyOrderAmount: decimal.Zero,
		TotalBaseAcquired:   decimal.Zero,
		Status:              StatusRunning,
		StartedAt:           now,
		UpdatedAt:           now,
	}
}

// IsRunning 报告 Bot 是否仍会处理新的 tick
func (s BotRunState) IsRunning() bool {
	return s.Status == StatusRunning
}

// AverageCost 返回平均买入成本, 尚未买入时返回零
func (s BotRunState) AverageCost() decimal.Decimal {
	if s.TotalBaseAcquired.IsZero() {
		return decimal.Zero
	}
	return s.TotalBuyOrderAmount.DivRound(s.TotalBaseAcquired, 8)
}

// RunKey 标识一次运行: Reset 之后 StartedAt 改变, 新旧运行的订单号不会冲突
func (s BotRunState) RunKey() string {
	return s.BotID + "@" + strconv.FormatInt(s.StartedAt.UnixNano(), 36)
}

// ClientOrderID 返回本次运行第 tick 次买入的客户端订单ID
func (s BotRunState) ClientOrderID(tick int64) string {
	return ClientOrderID(s.RunKey(), tick)
}
