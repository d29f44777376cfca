package backtest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hqtrade.com/internal/event"
	"hqtrade.com/internal/gateway"
	"hqtrade.com/internal/model"
	"hqtrade.com/internal/runtime"
)

func day(n int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func makeBar(n int, open, high, low, close float64) model.Bar {
	return model.Bar{
		Symbol: "BTCUSDT", Interval: "1d",
		Open: open, High: high, Low: low, Close: close,
		Timestamp: day(n),
	}
}

// collector gathers all events from a sync bus.
type collector struct {
	trades []*model.Trade
	orders []*model.Order
}

func newSimHarness(cfg Config) (*Simulator, *collector) {
	bus := event.NewBus(event.Config{Workers: 1, BufferSize: 1})
	c := &collector{}
	bus.Subscribe(event.EventTrade, func(_ context.Context, e event.Event) error {
		c.trades = append(c.trades, e.Data.(*model.Trade))
		return nil
	})
	bus.Subscribe(event.EventOrder, func(_ context.Context, e event.Event) error {
		c.orders = append(c.orders, e.Data.(*model.Order))
		return nil
	})
	cfg.Symbol = "BTCUSDT"
	return NewSimulator(cfg, gateway.SyncPublisher(bus)), c
}

func TestSimulatorLimitBuyCrossesBarLow(t *testing.T) {
	sim, c := newSimHarness(Config{})
	ctx := context.Background()

	ref, err := sim.SendOrder(ctx, model.OrderRequest{
		Symbol: "BTCUSDT", Direction: model.DirectionLong,
		Type: model.OrderTypeLimit, Price: 97, Volume: 1,
	})
	require.NoError(t, err)

	bar := makeBar(0, 100, 105, 95, 102)
	require.NoError(t, sim.ProcessBar(ctx, &bar))

	// bar low 95 crossed the 97 limit: filled at the limit price
	require.Len(t, c.trades, 1)
	assert.Equal(t, 97.0, c.trades[0].Price)
	assert.Equal(t, 1.0, c.trades[0].Volume)
	assert.Equal(t, ref, c.trades[0].OrderRef)

	last := c.orders[len(c.orders)-1]
	assert.Equal(t, model.StatusAllTraded, last.Status)
	assert.Equal(t, 0, sim.ActiveOrderCount())
}

func TestSimulatorLimitBuyBelowLowStaysOpen(t *testing.T) {
	sim, c := newSimHarness(Config{})
	ctx := context.Background()

	_, err := sim.SendOrder(ctx, model.OrderRequest{
		Symbol: "BTCUSDT", Direction: model.DirectionLong,
		Type: model.OrderTypeLimit, Price: 90, Volume: 1,
	})
	require.NoError(t, err)

	bar := makeBar(0, 100, 105, 95, 102)
	require.NoError(t, sim.ProcessBar(ctx, &bar))

	assert.Empty(t, c.trades, "low 95 never reached the 90 limit")
	assert.Equal(t, 1, sim.ActiveOrderCount())
	last := c.orders[len(c.orders)-1]
	assert.Equal(t, model.StatusNotTraded, last.Status)
}

func TestSimulatorGapDownFillsAtOpen(t *testing.T) {
	sim, c := newSimHarness(Config{})
	ctx := context.Background()

	// buy limit 97 but the bar opens below it: better price at the open
	_, err := sim.SendOrder(ctx, model.OrderRequest{
		Symbol: "BTCUSDT", Direction: model.DirectionLong,
		Type: model.OrderTypeLimit, Price: 97, Volume: 1,
	})
	require.NoError(t, err)

	bar := makeBar(0, 94, 96, 93, 95)
	require.NoError(t, sim.ProcessBar(ctx, &bar))

	require.Len(t, c.trades, 1)
	assert.Equal(t, 94.0, c.trades[0].Price)
}

func TestSimulatorSellLimitCrossesBarHigh(t *testing.T) {
	sim, c := newSimHarness(Config{})
	ctx := context.Background()

	_, err := sim.SendOrder(ctx, model.OrderRequest{
		Symbol: "BTCUSDT", Direction: model.DirectionShort,
		Type: model.OrderTypeLimit, Price: 104, Volume: 2,
	})
	require.NoError(t, err)

	bar := makeBar(0, 100, 105, 95, 102)
	require.NoError(t, sim.ProcessBar(ctx, &bar))

	require.Len(t, c.trades, 1)
	assert.Equal(t, 104.0, c.trades[0].Price)
	assert.Equal(t, model.DirectionShort, c.trades[0].Direction)
}

func TestSimulatorMarketOrderFillsAtOpenWithSlippage(t *testing.T) {
	sim, c := newSimHarness(Config{Slippage: 0.5})
	ctx := context.Background()

	_, err := sim.SendOrder(ctx, model.OrderRequest{
		Symbol: "BTCUSDT", Direction: model.DirectionLong,
		Type: model.OrderTypeMarket, Volume: 1,
	})
	require.NoError(t, err)

	bar := makeBar(0, 100, 105, 95, 102)
	require.NoError(t, sim.ProcessBar(ctx, &bar))

	require.Len(t, c.trades, 1)
	assert.Equal(t, 100.5, c.trades[0].Price, "buy pays open plus slippage")
}

func TestSimulatorCancelBeforeCross(t *testing.T) {
	sim, c := newSimHarness(Config{})
	ctx := context.Background()

	ref, err := sim.SendOrder(ctx, model.OrderRequest{
		Symbol: "BTCUSDT", Direction: model.DirectionLong,
		Type: model.OrderTypeLimit, Price: 90, Volume: 1,
	})
	require.NoError(t, err)

	bar := makeBar(0, 100, 105, 95, 102)
	require.NoError(t, sim.ProcessBar(ctx, &bar))
	require.NoError(t, sim.CancelOrder(ctx, ref))

	// price now reaches the limit, but the cancel lands first
	bar2 := makeBar(1, 92, 93, 88, 89)
	require.NoError(t, sim.ProcessBar(ctx, &bar2))

	assert.Empty(t, c.trades)
	last := c.orders[len(c.orders)-1]
	assert.Equal(t, model.StatusCancelled, last.Status)
	assert.Equal(t, 0, sim.ActiveOrderCount())
}

func TestSimulatorRejectsNonPositiveVolume(t *testing.T) {
	sim, _ := newSimHarness(Config{})
	_, err := sim.SendOrder(context.Background(), model.OrderRequest{
		Symbol: "BTCUSDT", Direction: model.DirectionLong,
		Type: model.OrderTypeLimit, Price: 100, Volume: 0,
	})
	assert.Error(t, err)
}

// holdStrategy buys once at market and holds to the end.
type holdStrategy struct {
	runtime.BaseStrategy
	volume float64
	bought bool
}

func (s *holdStrategy) OnBar(ctx runtime.Context, bar *model.Bar) {
	if s.bought {
		return
	}
	if _, err := ctx.Buy(0, s.volume); err == nil {
		s.bought = true
	}
}

func (s *holdStrategy) Variables() json.RawMessage {
	data, _ := json.Marshal(map[string]bool{"bought": s.bought})
	return data
}

func init() {
	runtime.Register("BuyAndHold", func(params json.RawMessage) (runtime.Strategy, error) {
		s := &holdStrategy{volume: 1}
		if len(params) > 0 {
			var p struct {
				Volume float64 `json:"Volume"`
			}
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, err
			}
			if p.Volume > 0 {
				s.volume = p.Volume
			}
		}
		return s, nil
	})
}

func risingBars(n int) []model.Bar {
	bars := make([]model.Bar, n)
	for i := 0; i < n; i++ {
		base := 100 + float64(i)
		bars[i] = makeBar(i, base, base+2, base-2, base+1)
	}
	return bars
}

func TestEngineBuyAndHold(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(Config{Symbol: "BTCUSDT", Capital: 10000})
	require.NoError(t, engine.AddStrategy(ctx, "hold", "BuyAndHold", nil))
	engine.SetBars(risingBars(10))

	report, err := engine.Run(ctx)
	require.NoError(t, err)

	// order placed on bar 0, filled at bar 1 open (101), closed at 110
	require.Len(t, engine.Trades(), 1)
	assert.Equal(t, 101.0, engine.Trades()[0].Price)

	info, err := engine.StrategyInfo("hold")
	require.NoError(t, err)
	assert.Equal(t, 1.0, info.Pos)

	assert.Equal(t, 10, report.BarCount)
	assert.InDelta(t, 9.0, report.TotalPnL, 1e-9) // bought 101, last close 110
	assert.Greater(t, report.TotalReturn, 0.0)
}

func TestEngineRequiresBarsAndStrategy(t *testing.T) {
	ctx := context.Background()

	engine := NewEngine(Config{Symbol: "BTCUSDT"})
	require.NoError(t, engine.AddStrategy(ctx, "hold", "BuyAndHold", nil))
	_, err := engine.Run(ctx)
	assert.Error(t, err, "no bars loaded")

	engine2 := NewEngine(Config{Symbol: "BTCUSDT"})
	engine2.SetBars(risingBars(3))
	_, err = engine2.Run(ctx)
	assert.Error(t, err, "no strategy added")
}

func TestEngineCommissionReducesPnL(t *testing.T) {
	ctx := context.Background()
	bars := risingBars(10)

	free := NewEngine(Config{Symbol: "BTCUSDT", Capital: 10000})
	require.NoError(t, free.AddStrategy(ctx, "hold", "BuyAndHold", nil))
	free.SetBars(bars)
	freeReport, err := free.Run(ctx)
	require.NoError(t, err)

	paid := NewEngine(Config{Symbol: "BTCUSDT", Capital: 10000, CommissionRate: 0.001})
	require.NoError(t, paid.AddStrategy(ctx, "hold", "BuyAndHold", nil))
	paid.SetBars(bars)
	paidReport, err := paid.Run(ctx)
	require.NoError(t, err)

	assert.Greater(t, paidReport.TotalCommission, 0.0)
	assert.Less(t, paidReport.TotalPnL, freeReport.TotalPnL)
}
