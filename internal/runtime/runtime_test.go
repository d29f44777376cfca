package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hqtrade.com/internal/domain"
	"hqtrade.com/internal/event"
	"hqtrade.com/internal/model"
)

// memStrategyStore is an in-memory StrategyStore for tests.
type memStrategyStore struct {
	mu       sync.Mutex
	settings map[string]model.StrategySetting
	states   map[string]model.StrategyState
	saveErr  error
}

func newMemStrategyStore() *memStrategyStore {
	return &memStrategyStore{
		settings: make(map[string]model.StrategySetting),
		states:   make(map[string]model.StrategyState),
	}
}

func (s *memStrategyStore) SaveSetting(_ context.Context, setting model.StrategySetting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[setting.Name] = setting
	return nil
}

func (s *memStrategyStore) LoadSettings(context.Context) ([]model.StrategySetting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.StrategySetting, 0, len(s.settings))
	for _, v := range s.settings {
		out = append(out, v)
	}
	return out, nil
}

func (s *memStrategyStore) RemoveSetting(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.settings, name)
	return nil
}

func (s *memStrategyStore) SaveState(_ context.Context, state model.StrategyState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.states[state.Name] = state
	return nil
}

func (s *memStrategyStore) LoadState(_ context.Context, name string) (*model.StrategyState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[name]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

func (s *memStrategyStore) ClearState(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, name)
	return nil
}

// stubGateway records sent and cancelled orders.
type stubGateway struct {
	mu        sync.Mutex
	seq       int
	sent      []model.OrderRequest
	cancelled []string
}

func (g *stubGateway) Name() string                                      { return "stub" }
func (g *stubGateway) Connect(context.Context, domain.Credentials) error { return nil }
func (g *stubGateway) Subscribe(context.Context, string) error           { return nil }
func (g *stubGateway) Unsubscribe(context.Context, string) error         { return nil }
func (g *stubGateway) SendOrder(_ context.Context, req model.OrderRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	g.sent = append(g.sent, req)
	return fmt.Sprintf("ref-%d", g.seq), nil
}
func (g *stubGateway) CancelOrder(_ context.Context, orderRef string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, orderRef)
	return nil
}
func (g *stubGateway) QueryOrders(context.Context) error    { return nil }
func (g *stubGateway) QueryPositions(context.Context) error { return nil }
func (g *stubGateway) QueryAccount(context.Context) error   { return nil }
func (g *stubGateway) Close() error                         { return nil }

// probeStrategy records callbacks and optionally trades on start.
type probeStrategy struct {
	BaseStrategy
	mu       sync.Mutex
	events   []string
	buyOnBar bool
	panicOn  string
	vars     map[string]float64
}

func (s *probeStrategy) record(name string) {
	s.mu.Lock()
	s.events = append(s.events, name)
	s.mu.Unlock()
}

func (s *probeStrategy) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func (s *probeStrategy) OnInit(Context) error  { s.record("init"); return nil }
func (s *probeStrategy) OnStart(Context) error { s.record("start"); return nil }
func (s *probeStrategy) OnStop(Context) error  { s.record("stop"); return nil }

func (s *probeStrategy) OnTick(ctx Context, tick *model.Tick) {
	if s.panicOn == "tick" {
		panic("boom")
	}
	s.record("tick:" + tick.Symbol)
}

func (s *probeStrategy) OnBar(ctx Context, bar *model.Bar) {
	s.record("bar")
	if s.buyOnBar {
		if _, err := ctx.Buy(bar.Close, 1); err != nil {
			s.record("buy-err")
		}
	}
}

func (s *probeStrategy) OnOrder(ctx Context, order *model.Order) {
	s.record(fmt.Sprintf("order:%s", order.Status))
}

func (s *probeStrategy) OnTrade(ctx Context, trade *model.Trade) {
	s.record(fmt.Sprintf("trade:%.0f@pos=%.0f", trade.Volume, ctx.Pos()))
}

func (s *probeStrategy) OnTimer(Context) { s.record("timer") }

func (s *probeStrategy) OnSignal(ctx Context, sig *model.Signal) {
	s.record("signal:" + string(sig.Action))
}

func (s *probeStrategy) Variables() json.RawMessage {
	if s.vars == nil {
		return nil
	}
	data, _ := json.Marshal(s.vars)
	return data
}

func (s *probeStrategy) Restore(vars json.RawMessage) error {
	if len(vars) == 0 {
		return nil
	}
	return json.Unmarshal(vars, &s.vars)
}

func init() {
	Register("Probe", func(params json.RawMessage) (Strategy, error) {
		s := &probeStrategy{}
		if len(params) > 0 {
			var p struct {
				BuyOnBar bool   `json:"BuyOnBar"`
				PanicOn  string `json:"PanicOn"`
			}
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, err
			}
			s.buyOnBar = p.BuyOnBar
			s.panicOn = p.PanicOn
		}
		return s, nil
	})
}

func setup(t *testing.T) (*Runtime, *event.Bus, *stubGateway, *memStrategyStore) {
	t.Helper()
	bus := event.NewBus(event.Config{Workers: 1, BufferSize: 64})
	gw := &stubGateway{}
	store := newMemStrategyStore()
	rt := NewRuntime(bus, gw, store, nil)
	return rt, bus, gw, store
}

func addProbe(t *testing.T, rt *Runtime, name string, params string) *probeStrategy {
	t.Helper()
	setting := model.StrategySetting{Name: name, ClassName: "Probe", Symbol: "BTCUSDT"}
	if params != "" {
		setting.Params = json.RawMessage(params)
	}
	require.NoError(t, rt.AddStrategy(context.Background(), setting))
	inst, err := rt.get(name)
	require.NoError(t, err)
	return inst.strategy.(*probeStrategy)
}

func startProbe(t *testing.T, rt *Runtime, name string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, rt.InitStrategy(ctx, name))
	require.NoError(t, rt.StartStrategy(ctx, name))
}

func TestLifecycleTransitions(t *testing.T) {
	rt, _, _, _ := setup(t)
	ctx := context.Background()
	probe := addProbe(t, rt, "s1", "")

	// cannot start before init
	assert.ErrorIs(t, rt.StartStrategy(ctx, "s1"), domain.ErrStrategyState)

	require.NoError(t, rt.InitStrategy(ctx, "s1"))
	require.NoError(t, rt.StartStrategy(ctx, "s1"))

	// double start rejected
	assert.ErrorIs(t, rt.StartStrategy(ctx, "s1"), domain.ErrStrategyRunning)
	// cannot remove while running
	assert.ErrorIs(t, rt.RemoveStrategy(ctx, "s1"), domain.ErrStrategyRunning)
	// init fires once per lifecycle, not again while initialized or running
	assert.ErrorIs(t, rt.InitStrategy(ctx, "s1"), domain.ErrStrategyState)

	require.NoError(t, rt.StopStrategy(ctx, "s1"))
	info, err := rt.GetInfo("s1")
	require.NoError(t, err)
	assert.Equal(t, model.StrategyStatusStopped, info.Status)

	// stopped strategy restarts directly, without repeating the warmup
	require.NoError(t, rt.StartStrategy(ctx, "s1"))
	require.NoError(t, rt.StopStrategy(ctx, "s1"))

	var inits int
	for _, ev := range probe.seen() {
		if ev == "init" {
			inits++
		}
	}
	assert.Equal(t, 1, inits, "OnInit must run exactly once across stop/restart")

	require.NoError(t, rt.RemoveStrategy(ctx, "s1"))
	_, err = rt.GetInfo("s1")
	assert.Error(t, err)
}

func TestDuplicateStrategyRejected(t *testing.T) {
	rt, _, _, _ := setup(t)
	addProbe(t, rt, "s1", "")
	err := rt.AddStrategy(context.Background(),
		model.StrategySetting{Name: "s1", ClassName: "Probe", Symbol: "BTCUSDT"})
	assert.Error(t, err)
}

func TestPositionAccounting(t *testing.T) {
	rt, bus, gw, store := setup(t)
	ctx := context.Background()
	addProbe(t, rt, "s1", `{"BuyOnBar":true}`)
	startProbe(t, rt, "s1")

	// bar triggers a buy, runtime registers ownership of ref-1
	require.NoError(t, bus.PublishSync(ctx, event.Event{
		Type: event.EventBar,
		Data: &model.Bar{Symbol: "BTCUSDT", Close: 100},
	}))
	require.Len(t, gw.sent, 1)
	assert.Equal(t, "s1", gw.sent[0].Strategy)

	// long fill increases pos, short fill decreases it
	require.NoError(t, bus.PublishSync(ctx, event.Event{
		Type: event.EventTrade,
		Data: &model.Trade{TradeID: "t1", OrderRef: "ref-1", Direction: model.DirectionLong, Volume: 3},
	}))
	info, _ := rt.GetInfo("s1")
	assert.Equal(t, 3.0, info.Pos)

	require.NoError(t, bus.PublishSync(ctx, event.Event{
		Type: event.EventTrade,
		Data: &model.Trade{TradeID: "t2", OrderRef: "ref-1", Direction: model.DirectionShort, Volume: 1},
	}))
	info, _ = rt.GetInfo("s1")
	assert.Equal(t, 2.0, info.Pos)

	// every fill wrote a checkpoint
	state, err := store.LoadState(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, 2.0, state.Pos)
}

func TestTradeDeliveredAfterPosUpdate(t *testing.T) {
	rt, bus, _, _ := setup(t)
	ctx := context.Background()
	probe := addProbe(t, rt, "s1", `{"BuyOnBar":true}`)
	startProbe(t, rt, "s1")

	require.NoError(t, bus.PublishSync(ctx, event.Event{
		Type: event.EventBar, Data: &model.Bar{Symbol: "BTCUSDT", Close: 100}}))
	require.NoError(t, bus.PublishSync(ctx, event.Event{
		Type: event.EventTrade,
		Data: &model.Trade{TradeID: "t1", OrderRef: "ref-1", Direction: model.DirectionLong, Volume: 2},
	}))

	// strategy observed the already-updated position inside OnTrade
	assert.Contains(t, probe.seen(), "trade:2@pos=2")
}

func TestRestoreFromCheckpoint(t *testing.T) {
	rt, _, _, store := setup(t)
	ctx := context.Background()
	require.NoError(t, store.SaveState(ctx, model.StrategyState{
		Name:      "s1",
		Pos:       7,
		Variables: json.RawMessage(`{"lastClose":99}`),
	}))

	probe := addProbe(t, rt, "s1", "")
	info, err := rt.GetInfo("s1")
	require.NoError(t, err)
	assert.Equal(t, 7.0, info.Pos)
	assert.Equal(t, 99.0, probe.vars["lastClose"])
}

func TestStopCancelsActiveOrders(t *testing.T) {
	rt, bus, gw, _ := setup(t)
	ctx := context.Background()
	addProbe(t, rt, "s1", `{"BuyOnBar":true}`)
	startProbe(t, rt, "s1")

	require.NoError(t, bus.PublishSync(ctx, event.Event{
		Type: event.EventBar, Data: &model.Bar{Symbol: "BTCUSDT", Close: 100}}))
	require.Len(t, gw.sent, 1)

	require.NoError(t, rt.StopStrategy(ctx, "s1"))
	assert.Equal(t, []string{"ref-1"}, gw.cancelled)
}

func TestTerminalOrderClearsActiveSet(t *testing.T) {
	rt, bus, gw, _ := setup(t)
	ctx := context.Background()
	probe := addProbe(t, rt, "s1", `{"BuyOnBar":true}`)
	startProbe(t, rt, "s1")

	require.NoError(t, bus.PublishSync(ctx, event.Event{
		Type: event.EventBar, Data: &model.Bar{Symbol: "BTCUSDT", Close: 100}}))
	require.NoError(t, bus.PublishSync(ctx, event.Event{
		Type: event.EventOrder,
		Data: &model.Order{OrderRef: "ref-1", Symbol: "BTCUSDT", Status: model.StatusAllTraded},
	}))

	// terminal order still delivered, then dropped from the active set
	assert.Contains(t, probe.seen(), "order:alltraded")
	require.NoError(t, rt.StopStrategy(ctx, "s1"))
	assert.Empty(t, gw.cancelled)
}

func TestTickRoutedBySymbolAndTradingFlag(t *testing.T) {
	rt, bus, _, _ := setup(t)
	ctx := context.Background()
	probe := addProbe(t, rt, "s1", "")

	// not started yet: tick ignored
	require.NoError(t, bus.PublishSync(ctx, event.Event{
		Type: event.EventTick, Data: &model.Tick{Symbol: "BTCUSDT", LastPrice: 1}}))
	assert.NotContains(t, probe.seen(), "tick:BTCUSDT")

	startProbe(t, rt, "s1")
	require.NoError(t, bus.PublishSync(ctx, event.Event{
		Type: event.EventTick, Data: &model.Tick{Symbol: "ETHUSDT", LastPrice: 1}}))
	require.NoError(t, bus.PublishSync(ctx, event.Event{
		Type: event.EventTick, Data: &model.Tick{Symbol: "BTCUSDT", LastPrice: 1}}))

	seen := probe.seen()
	assert.Contains(t, seen, "tick:BTCUSDT")
	assert.NotContains(t, seen, "tick:ETHUSDT")
}

func TestPanicDisablesStrategy(t *testing.T) {
	rt, bus, _, _ := setup(t)
	ctx := context.Background()
	probe := addProbe(t, rt, "s1", `{"PanicOn":"tick"}`)
	startProbe(t, rt, "s1")

	require.NoError(t, bus.PublishSync(ctx, event.Event{
		Type: event.EventTick, Data: &model.Tick{Symbol: "BTCUSDT"}}))

	info, _ := rt.GetInfo("s1")
	assert.Equal(t, model.StrategyStatusStopped, info.Status)

	// further events are no longer delivered
	n := len(probe.seen())
	require.NoError(t, bus.PublishSync(ctx, event.Event{
		Type: event.EventTimer}))
	assert.Len(t, probe.seen(), n)
}

func TestLateFillAfterStopStillAccounted(t *testing.T) {
	rt, bus, _, _ := setup(t)
	ctx := context.Background()
	probe := addProbe(t, rt, "s1", `{"BuyOnBar":true}`)
	startProbe(t, rt, "s1")

	require.NoError(t, bus.PublishSync(ctx, event.Event{
		Type: event.EventBar, Data: &model.Bar{Symbol: "BTCUSDT", Close: 100}}))
	require.NoError(t, rt.StopStrategy(ctx, "s1"))

	// 撤单和在途成交在交易所侧竞争，停止后回报仍须入账
	require.NoError(t, bus.PublishSync(ctx, event.Event{
		Type: event.EventTrade, Data: &model.Trade{
			TradeID: "ref-1-1", OrderRef: "ref-1", Symbol: "BTCUSDT",
			Direction: model.DirectionLong, Price: 100, Volume: 1}}))
	require.NoError(t, bus.PublishSync(ctx, event.Event{
		Type: event.EventOrder, Data: &model.Order{
			OrderRef: "ref-1", Symbol: "BTCUSDT",
			Status: model.StatusCancelled, Traded: 1}}))

	info, err := rt.GetInfo("s1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, info.Pos, "fill racing the stop must still move the position")
	assert.Contains(t, probe.seen(), "order:cancelled")

	// market data is no longer delivered after stop
	n := len(probe.seen())
	require.NoError(t, bus.PublishSync(ctx, event.Event{
		Type: event.EventBar, Data: &model.Bar{Symbol: "BTCUSDT", Close: 101}}))
	assert.Len(t, probe.seen(), n)
}

func TestEditParamsRequiresStopped(t *testing.T) {
	rt, _, _, store := setup(t)
	ctx := context.Background()
	addProbe(t, rt, "s1", "")
	startProbe(t, rt, "s1")

	err := rt.EditStrategyParams(ctx, "s1", json.RawMessage(`{"BuyOnBar":true}`))
	assert.ErrorIs(t, err, domain.ErrStrategyRunning)

	require.NoError(t, rt.StopStrategy(ctx, "s1"))
	require.NoError(t, rt.EditStrategyParams(ctx, "s1", json.RawMessage(`{"BuyOnBar":true}`)))

	saved := store.settings["s1"]
	assert.JSONEq(t, `{"BuyOnBar":true}`, string(saved.Params))

	// edited strategy must be re-initialized before starting
	assert.ErrorIs(t, rt.StartStrategy(ctx, "s1"), domain.ErrStrategyState)
	require.NoError(t, rt.InitStrategy(ctx, "s1"))
	require.NoError(t, rt.StartStrategy(ctx, "s1"))
}

func TestSignalRoutedByTargetID(t *testing.T) {
	rt, bus, _, _ := setup(t)
	ctx := context.Background()
	listener := addProbe(t, rt, "s1", `{"TargetID":"tv-42"}`)
	other := addProbe(t, rt, "s2", "")
	startProbe(t, rt, "s1")
	startProbe(t, rt, "s2")

	require.NoError(t, bus.PublishSync(ctx, event.Event{
		Type: event.EventSignal,
		Data: &model.Signal{TargetID: "tv-42", Action: model.SignalActionLong, Symbol: "BTCUSDT"},
	}))

	assert.Contains(t, listener.seen(), "signal:long")
	assert.NotContains(t, other.seen(), "signal:long")
}

func TestCheckpointRetryWarning(t *testing.T) {
	rt, bus, _, store := setup(t)
	ctx := context.Background()
	addProbe(t, rt, "s1", `{"BuyOnBar":true}`)
	startProbe(t, rt, "s1")

	require.NoError(t, bus.PublishSync(ctx, event.Event{
		Type: event.EventBar, Data: &model.Bar{Symbol: "BTCUSDT", Close: 100}}))

	// checkpoint failure must not lose the in-memory position
	store.saveErr = fmt.Errorf("db down")
	require.NoError(t, bus.PublishSync(ctx, event.Event{
		Type: event.EventTrade,
		Data: &model.Trade{TradeID: "t1", OrderRef: "ref-1", Direction: model.DirectionLong, Volume: 1},
	}))
	info, _ := rt.GetInfo("s1")
	assert.Equal(t, 1.0, info.Pos)
}

func TestLoadAllRestoresSettings(t *testing.T) {
	rt, _, _, store := setup(t)
	ctx := context.Background()
	require.NoError(t, store.SaveSetting(ctx, model.StrategySetting{
		Name: "s1", ClassName: "Probe", Symbol: "BTCUSDT", CreatedAt: time.Now()}))
	require.NoError(t, store.SaveSetting(ctx, model.StrategySetting{
		Name: "s2", ClassName: "Probe", Symbol: "ETHUSDT", CreatedAt: time.Now()}))

	require.NoError(t, rt.LoadAll(ctx))
	assert.Len(t, rt.Names(), 2)
}
