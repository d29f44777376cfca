package strategies

import (
	"encoding/json"

	"hqtrade.com/internal/model"
	"hqtrade.com/internal/runtime"
)

// DoubleMAParams 双均线参数
type DoubleMAParams struct {
	FastWindow int     `json:"FastWindow"`
	SlowWindow int     `json:"SlowWindow"`
	Volume     float64 `json:"Volume"`
	Interval   string  `json:"Interval"`
}

// DoubleMAStrategy 双均线策略：快线上穿慢线做多，下穿平多做空。
// 目标仓位始终是 +Volume 或 -Volume，换向时一次性反手。
type DoubleMAStrategy struct {
	runtime.BaseStrategy
	params DoubleMAParams

	closes   []float64
	fastMA   float64
	slowMA   float64
	lastFast float64
	lastSlow float64
}

// NewDoubleMAStrategy 解析参数并创建实例
func NewDoubleMAStrategy(params json.RawMessage) (runtime.Strategy, error) {
	s := &DoubleMAStrategy{
		params: DoubleMAParams{FastWindow: 10, SlowWindow: 20, Volume: 1, Interval: "1d"},
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &s.params); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func init() {
	runtime.Register("DoubleMA", NewDoubleMAStrategy)
}

// OnInit 用历史K线预热均线
func (s *DoubleMAStrategy) OnInit(ctx runtime.Context) error {
	bars, err := ctx.LoadBars(s.params.Interval, s.params.SlowWindow*2)
	if err != nil {
		return err
	}
	for i := range bars {
		s.pushClose(bars[i].Close)
	}
	ctx.Log("initialized with %d warmup bars", len(bars))
	return nil
}

func (s *DoubleMAStrategy) OnBar(ctx runtime.Context, bar *model.Bar) {
	s.pushClose(bar.Close)
	// 慢线需要上一根的值才能判穿越
	if len(s.closes) <= s.params.SlowWindow {
		return
	}

	crossOver := s.fastMA > s.slowMA && s.lastFast <= s.lastSlow
	crossBelow := s.fastMA < s.slowMA && s.lastFast >= s.lastSlow
	if !crossOver && !crossBelow {
		return
	}

	pos := ctx.Pos()
	if crossOver && pos < s.params.Volume {
		// 反手做多：一笔市价单从当前仓位打到目标仓位
		if _, err := ctx.Buy(0, s.params.Volume-pos); err != nil {
			ctx.Log("buy failed: %v", err)
		}
	} else if crossBelow && pos > -s.params.Volume {
		if _, err := ctx.Sell(0, pos+s.params.Volume); err != nil {
			ctx.Log("sell failed: %v", err)
		}
	}
}

func (s *DoubleMAStrategy) pushClose(close float64) {
	s.closes = append(s.closes, close)
	if len(s.closes) > s.params.SlowWindow+1 {
		s.closes = s.closes[1:]
	}
	s.lastFast, s.lastSlow = s.fastMA, s.slowMA
	s.fastMA = mean(s.closes, s.params.FastWindow)
	s.slowMA = mean(s.closes, s.params.SlowWindow)
}

func mean(values []float64, window int) float64 {
	if window <= 0 || len(values) < window {
		return 0
	}
	var sum float64
	for _, v := range values[len(values)-window:] {
		sum += v
	}
	return sum / float64(window)
}

// Variables 落盘均线状态，重启后不用重新预热
func (s *DoubleMAStrategy) Variables() json.RawMessage {
	data, _ := json.Marshal(map[string]interface{}{
		"closes": s.closes,
		"fastMA": s.fastMA,
		"slowMA": s.slowMA,
	})
	return data
}

func (s *DoubleMAStrategy) Restore(vars json.RawMessage) error {
	if len(vars) == 0 {
		return nil
	}
	var saved struct {
		Closes []float64 `json:"closes"`
		FastMA float64   `json:"fastMA"`
		SlowMA float64   `json:"slowMA"`
	}
	if err := json.Unmarshal(vars, &saved); err != nil {
		return err
	}
	s.closes = saved.Closes
	s.fastMA = saved.FastMA
	s.slowMA = saved.SlowMA
	return nil
}
