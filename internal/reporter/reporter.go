package reporter

import (
	"dca-bot-go/internal/backtest"
	"dca-bot-go/internal/models"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/shopspring/decimal"
)

const timeLayout = "2006-01-02 15:04"

var hundred = decimal.NewFromInt(100)

// Metrics 存储计算出的所有回测性能指标
type Metrics struct {
	InitialBalance   decimal.Decimal
	Invested         decimal.Decimal // 累计买入金额
	BaseAcquired     decimal.Decimal // 累计买入的基础货币数量
	AverageCost      decimal.Decimal
	EndingCash       decimal.Decimal // 期末现金
	EndingAssetValue decimal.Decimal // 期末持仓市值
	TotalAssetQty    decimal.Decimal // 持有资产的总数量(已扣手续费)
	FinalBalance     decimal.Decimal
	TotalProfit      decimal.Decimal
	ProfitPercentage decimal.Decimal // 相对投入金额的收益率
	MaxDrawdown      decimal.Decimal // 百分比
	TotalTrades      int
	Ticks            int64
	SkippedTicks     int
	Status           models.Status
	StartTime        time.Time
	EndTime          time.Time
}

// CalculateMetrics 根据回测结果计算性能指标
func CalculateMetrics(res *backtest.Result) Metrics {
	m := Metrics{
		InitialBalance: res.InitialBalance,
		Invested:       res.State.TotalBuyOrderAmount,
		BaseAcquired:   res.State.TotalBaseAcquired,
		AverageCost:    res.State.AverageCost(),
		EndingCash:     res.QuoteBalance,
		TotalAssetQty:  res.BaseBalance,
		TotalTrades:    len(res.Trades),
		Ticks:          res.State.TickCount,
		SkippedTicks:   res.SkippedTicks,
		Status:         res.State.Status,
		StartTime:      res.Start,
		EndTime:        res.End,
	}
	m.EndingAssetValue = m.TotalAssetQty.Mul(res.LastPrice)
	m.FinalBalance = m.EndingCash.Add(m.EndingAssetValue)
	m.TotalProfit = m.FinalBalance.Sub(m.InitialBalance)
	if m.Invested.IsPositive() {
		m.ProfitPercentage = m.TotalProfit.Div(m.Invested).Mul(hundred)
	}
	m.MaxDrawdown = MaxDrawdown(res.EquityCurve).Mul(hundred)
	return m
}

// MaxDrawdown 返回权益曲线的最大回撤比例(0-1)
func MaxDrawdown(equityCurve []decimal.Decimal) decimal.Decimal {
	if len(equityCurve) < 2 {
		return decimal.Zero
	}
	peak := equityCurve[0]
	maxDrawdown := decimal.Zero

	for _, equity := range equityCurve {
		if equity.GreaterThan(peak) {
			peak = equity
		}
		if !peak.IsPositive() {
			continue
		}
		drawdown := peak.Sub(equity).Div(peak)
		if drawdown.GreaterThan(maxDrawdown) {
			maxDrawdown = drawdown
		}
	}
	return maxDrawdown
}

// WriteBacktestReport 打印回测结果报告
func WriteBacktestReport(w io.Writer, res *backtest.Result, dataPath string) Metrics {
	m := CalculateMetrics(res)
	quote := res.Pair.Quote
	base := res.Pair.Base

	t := newTable(w, "回测结果报告")
	t.AppendRows([]table.Row{
		{"数据文件", dataPath},
		{"交易对", res.Pair.String()},
		{"回测周期", fmt.Sprintf("%s 到 %s", m.StartTime.Format(timeLayout), m.EndTime.Format(timeLayout))},
		{"最终状态", m.Status},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"初始资金", money(m.InitialBalance, quote)},
		{"累计投入", money(m.Invested, quote)},
		{"买入次数", fmt.Sprintf("%d (跳过 %d)", m.Ticks, m.SkippedTicks)},
		{"成交笔数", m.TotalTrades},
		{"累计买入", money(m.BaseAcquired, base)},
		{"平均成本", money(m.AverageCost, quote)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"期末现金", money(m.EndingCash, quote)},
		{"期末持仓市值", fmt.Sprintf("%s (共 %s %s)", money(m.EndingAssetValue, quote), m.TotalAssetQty.StringFixed(8), base)},
		{"最终资金", money(m.FinalBalance, quote)},
		{"总利润", money(m.TotalProfit, quote)},
		{"投入收益率", m.ProfitPercentage.StringFixed(2) + "%"},
		{"最大回撤", m.MaxDrawdown.StringFixed(2) + "%"},
	})
	t.Render()
	return m
}

// WriteStatus 打印持久化的运行状态和最近的成交记录
func WriteStatus(w io.Writer, state models.BotRunState, fills []models.Fill) {
	t := newTable(w, "机器人状态")
	t.AppendRows([]table.Row{
		{"Bot ID", state.BotID},
		{"交易对", state.Pair},
		{"状态", state.Status},
		{"已执行次数", state.TickCount},
		{"累计买入金额", state.TotalBuyOrderAmount.String()},
		{"累计买入数量", state.TotalBaseAcquired.String()},
		{"平均成本", state.AverageCost().String()},
		{"最近订单", state.LastClientOrderID},
		{"开始时间", formatTime(state.StartedAt)},
		{"最近执行", formatTime(state.LastTickAt)},
	})
	if state.StopReason != "" {
		t.AppendRow(table.Row{"终止原因", state.StopReason})
	}
	t.Render()

	if len(fills) == 0 {
		return
	}
	ft := table.NewWriter()
	ft.SetOutputMirror(w)
	ft.SetStyle(table.StyleLight)
	ft.SetTitle("最近成交")
	ft.AppendHeader(table.Row{"Tick", "时间", "订单", "状态", "限价", "委托数量", "成交数量", "成交金额"})
	for _, f := range fills {
		ft.AppendRow(table.Row{
			f.Tick,
			formatTime(f.CreatedAt),
			f.ClientOrderID,
			f.Status,
			f.LimitPrice.String(),
			f.RequestedQty.String(),
			f.FilledQuantity.String(),
			f.FilledQuote.String(),
		})
	}
	ft.SetColumnConfigs([]table.ColumnConfig{
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
		{Number: 8, Align: text.AlignRight},
	})
	ft.Render()
}

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle(title)
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	return t
}

func money(v decimal.Decimal, asset string) string {
	return v.StringFixed(2) + " " + asset
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeLayout)
}
