package backtest

import (
	"math"

	"hqtrade.com/internal/model"
)

// Report 回测绩效报告
type Report struct {
	StartDate string  `json:"StartDate"`
	EndDate   string  `json:"EndDate"`
	BarCount  int     `json:"BarCount"`
	Capital   float64 `json:"Capital"`

	EndBalance      float64 `json:"EndBalance"`
	TotalPnL        float64 `json:"TotalPnL"`
	TotalReturn     float64 `json:"TotalReturn"` // percent
	TotalCommission float64 `json:"TotalCommission"`
	TotalTurnover   float64 `json:"TotalTurnover"`

	MaxDrawdown    float64 `json:"MaxDrawdown"`    // absolute
	MaxDrawdownPct float64 `json:"MaxDrawdownPct"` // percent of peak
	SharpeRatio    float64 `json:"SharpeRatio"`

	TotalTrades   int     `json:"TotalTrades"`
	WinningTrades int     `json:"WinningTrades"`
	LosingTrades  int     `json:"LosingTrades"`
	WinRate       float64 `json:"WinRate"` // percent of closed round trips

	EquityCurve []float64 `json:"EquityCurve,omitempty"`
}

// lot 未平仓的进场批次，先进先出配对
type lot struct {
	price  float64
	volume float64
}

// CalculateStatistics 从成交序列和K线收盘价重建权益曲线并计算指标。
// 权益 = 现金 + 持仓市值，手续费按成交额计提，滑点已含在成交价里。
// 夏普比率用逐K线收益，按 365 天年化。
func CalculateStatistics(cfg Config, bars []model.Bar, trades []model.Trade) *Report {
	cfg.normalize()
	report := &Report{
		Capital:     cfg.Capital,
		BarCount:    len(bars),
		TotalTrades: len(trades),
	}
	if len(bars) > 0 {
		report.StartDate = bars[0].Timestamp.Format("2006-01-02")
		report.EndDate = bars[len(bars)-1].Timestamp.Format("2006-01-02")
	}

	var (
		cash     = cfg.Capital
		pos      float64
		ti       int
		peak     = cfg.Capital
		returns  []float64
		prevEq   = cfg.Capital
		openLots []lot // positive volume = long lots, negative = short lots
	)

	for i := range bars {
		bar := &bars[i]
		for ti < len(trades) && !trades[ti].Timestamp.After(bar.Timestamp) {
			trade := trades[ti]
			ti++

			signed := trade.SignedVolume()
			turnover := trade.Price * trade.Volume * cfg.Size
			commission := turnover * cfg.CommissionRate

			cash -= trade.Price * signed * cfg.Size
			cash -= commission
			pos += signed
			report.TotalCommission += commission
			report.TotalTurnover += turnover

			openLots = matchLots(openLots, trade, cfg.Size, report)
		}

		equity := cash + pos*bar.Close*cfg.Size
		report.EquityCurve = append(report.EquityCurve, equity)

		if equity > peak {
			peak = equity
		}
		drawdown := peak - equity
		if drawdown > report.MaxDrawdown {
			report.MaxDrawdown = drawdown
			if peak > 0 {
				report.MaxDrawdownPct = drawdown / peak * 100
			}
		}
		if prevEq > 0 {
			returns = append(returns, equity/prevEq-1)
		}
		prevEq = equity
	}

	report.EndBalance = prevEq
	report.TotalPnL = prevEq - cfg.Capital
	if cfg.Capital > 0 {
		report.TotalReturn = report.TotalPnL / cfg.Capital * 100
	}
	report.SharpeRatio = sharpe(returns)

	closed := report.WinningTrades + report.LosingTrades
	if closed > 0 {
		report.WinRate = float64(report.WinningTrades) / float64(closed) * 100
	}
	return report
}

// matchLots 先进先出配对平仓，统计每个回合的盈亏方向
func matchLots(openLots []lot, trade model.Trade, size float64, report *Report) []lot {
	remaining := trade.SignedVolume()

	for remaining != 0 && len(openLots) > 0 {
		head := &openLots[0]
		if sameSign(head.volume, remaining) {
			break // same direction, adds to position
		}

		closeVol := math.Min(math.Abs(remaining), math.Abs(head.volume))
		// long lot closed by short trade profits when price rises
		pnl := (trade.Price - head.price) * closeVol * size
		if head.volume < 0 {
			pnl = -pnl
		}
		if pnl > 0 {
			report.WinningTrades++
		} else {
			report.LosingTrades++
		}

		if head.volume > 0 {
			head.volume -= closeVol
			remaining += closeVol
		} else {
			head.volume += closeVol
			remaining -= closeVol
		}
		if head.volume == 0 {
			openLots = openLots[1:]
		}
	}

	if remaining != 0 {
		openLots = append(openLots, lot{price: trade.Price, volume: remaining})
	}
	return openLots
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

// sharpe 逐期收益年化夏普，收益全零或只有一期时返回 0
func sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(365)
}
