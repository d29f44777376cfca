package strategies

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hqtrade.com/internal/domain"
	"hqtrade.com/internal/event"
	"hqtrade.com/internal/model"
	"hqtrade.com/internal/runtime"
)

// captureGateway records order requests.
type captureGateway struct {
	mu   sync.Mutex
	seq  int
	sent []model.OrderRequest
}

func (g *captureGateway) Name() string                                      { return "capture" }
func (g *captureGateway) Connect(context.Context, domain.Credentials) error { return nil }
func (g *captureGateway) Subscribe(context.Context, string) error           { return nil }
func (g *captureGateway) Unsubscribe(context.Context, string) error         { return nil }
func (g *captureGateway) SendOrder(_ context.Context, req model.OrderRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	g.sent = append(g.sent, req)
	return fmt.Sprintf("cap-%d", g.seq), nil
}
func (g *captureGateway) CancelOrder(context.Context, string) error { return nil }
func (g *captureGateway) QueryOrders(context.Context) error         { return nil }
func (g *captureGateway) QueryPositions(context.Context) error      { return nil }
func (g *captureGateway) QueryAccount(context.Context) error        { return nil }
func (g *captureGateway) Close() error                              { return nil }

type memStore struct {
	mu     sync.Mutex
	states map[string]model.StrategyState
}

func (s *memStore) SaveSetting(context.Context, model.StrategySetting) error { return nil }
func (s *memStore) LoadSettings(context.Context) ([]model.StrategySetting, error) {
	return nil, nil
}
func (s *memStore) RemoveSetting(context.Context, string) error { return nil }
func (s *memStore) SaveState(_ context.Context, state model.StrategyState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.states == nil {
		s.states = make(map[string]model.StrategyState)
	}
	s.states[state.Name] = state
	return nil
}
func (s *memStore) LoadState(_ context.Context, name string) (*model.StrategyState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[name]
	if !ok {
		return nil, nil
	}
	return &state, nil
}
func (s *memStore) ClearState(context.Context, string) error { return nil }

func harness(t *testing.T, className, params string) (*event.Bus, *captureGateway, *runtime.Runtime) {
	t.Helper()
	bus := event.NewBus(event.Config{Workers: 1, BufferSize: 16})
	gw := &captureGateway{}
	rt := runtime.NewRuntime(bus, gw, &memStore{}, nil)

	ctx := context.Background()
	setting := model.StrategySetting{Name: "s1", ClassName: className, Symbol: "BTCUSDT"}
	if params != "" {
		setting.Params = json.RawMessage(params)
	}
	require.NoError(t, rt.AddStrategy(ctx, setting))
	require.NoError(t, rt.InitStrategy(ctx, "s1"))
	require.NoError(t, rt.StartStrategy(ctx, "s1"))
	return bus, gw, rt
}

func pushBar(t *testing.T, bus *event.Bus, close float64) {
	t.Helper()
	require.NoError(t, bus.PublishSync(context.Background(), event.Event{
		Type: event.EventBar,
		Data: &model.Bar{Symbol: "BTCUSDT", Close: close},
	}))
}

func pushTick(t *testing.T, bus *event.Bus, price float64) {
	t.Helper()
	require.NoError(t, bus.PublishSync(context.Background(), event.Event{
		Type: event.EventTick,
		Data: &model.Tick{Symbol: "BTCUSDT", LastPrice: price},
	}))
}

func TestDoubleMACrossoverBuys(t *testing.T) {
	bus, gw, _ := harness(t, "DoubleMA", `{"FastWindow":2,"SlowWindow":4,"Volume":1}`)

	// falling closes keep the fast MA below the slow MA
	for _, c := range []float64{100, 98, 96, 94, 92} {
		pushBar(t, bus, c)
	}
	require.Empty(t, gw.sent)

	// sharp rally: fast MA crosses over
	pushBar(t, bus, 105)
	pushBar(t, bus, 110)

	require.NotEmpty(t, gw.sent)
	first := gw.sent[0]
	assert.Equal(t, model.DirectionLong, first.Direction)
	assert.Equal(t, model.OrderTypeMarket, first.Type)
	assert.Equal(t, 1.0, first.Volume)
}

func TestDoubleMARejectsBadParams(t *testing.T) {
	_, err := NewDoubleMAStrategy(json.RawMessage(`{bad`))
	assert.Error(t, err)
}

func TestConditionOrderTriggersOnce(t *testing.T) {
	bus, gw, _ := harness(t, "ConditionOrder",
		`{"Operator":">=","TriggerPrice":100,"Direction":"long","Volume":2}`)

	pushTick(t, bus, 99)
	assert.Empty(t, gw.sent)

	pushTick(t, bus, 100)
	require.Len(t, gw.sent, 1)
	assert.Equal(t, model.DirectionLong, gw.sent[0].Direction)
	assert.Equal(t, 2.0, gw.sent[0].Volume)

	// 再次满足条件不应重复下单
	pushTick(t, bus, 120)
	assert.Len(t, gw.sent, 1)
}

func TestConditionOrderBelowOperator(t *testing.T) {
	bus, gw, _ := harness(t, "ConditionOrder",
		`{"Operator":"<","TriggerPrice":90,"Direction":"short","Price":89.5,"Volume":1}`)

	pushTick(t, bus, 91)
	assert.Empty(t, gw.sent)

	pushTick(t, bus, 89)
	require.Len(t, gw.sent, 1)
	assert.Equal(t, model.DirectionShort, gw.sent[0].Direction)
	assert.Equal(t, model.OrderTypeLimit, gw.sent[0].Type)
	assert.Equal(t, 89.5, gw.sent[0].Price)
}

func TestConditionOrderValidation(t *testing.T) {
	_, err := NewConditionOrderStrategy(json.RawMessage(
		`{"Operator":"!=","TriggerPrice":100,"Volume":1}`))
	assert.Error(t, err, "unsupported operator")

	_, err = NewConditionOrderStrategy(json.RawMessage(
		`{"Operator":">","TriggerPrice":100,"Volume":0}`))
	assert.Error(t, err, "volume must be positive")
}

func TestConditionOrderTriggerSurvivesRestore(t *testing.T) {
	s, err := NewConditionOrderStrategy(json.RawMessage(
		`{"Operator":">","TriggerPrice":100,"Volume":1}`))
	require.NoError(t, err)

	impl := s.(*ConditionOrderStrategy)
	impl.triggered = true
	vars := impl.Variables()

	restored, err := NewConditionOrderStrategy(json.RawMessage(
		`{"Operator":">","TriggerPrice":100,"Volume":1}`))
	require.NoError(t, err)
	require.NoError(t, restored.Restore(vars))
	assert.True(t, restored.(*ConditionOrderStrategy).triggered)
}

func pushSignal(t *testing.T, bus *event.Bus, sig model.Signal) {
	t.Helper()
	require.NoError(t, bus.PublishSync(context.Background(), event.Event{
		Type: event.EventSignal,
		Data: &sig,
	}))
}

func TestSignalFollowerLongThenExit(t *testing.T) {
	bus, gw, _ := harness(t, "SignalFollower",
		`{"TargetID":"tv-1","DefaultVolume":2,"MaxPos":5}`)

	pushSignal(t, bus, model.Signal{
		TargetID: "tv-1", Action: model.SignalActionLong, Symbol: "BTCUSDT"})
	require.Len(t, gw.sent, 1)
	assert.Equal(t, model.DirectionLong, gw.sent[0].Direction)
	assert.Equal(t, 2.0, gw.sent[0].Volume)

	// simulate the fill so pos becomes 2
	require.NoError(t, bus.PublishSync(context.Background(), event.Event{
		Type: event.EventTrade,
		Data: &model.Trade{TradeID: "t1", OrderRef: "cap-1",
			Direction: model.DirectionLong, Volume: 2},
	}))

	pushSignal(t, bus, model.Signal{
		TargetID: "tv-1", Action: model.SignalActionExit, Symbol: "BTCUSDT"})
	require.Len(t, gw.sent, 2)
	assert.Equal(t, model.DirectionShort, gw.sent[1].Direction)
	assert.Equal(t, 2.0, gw.sent[1].Volume)
}

func TestSignalFollowerCapsAtMaxPos(t *testing.T) {
	bus, gw, _ := harness(t, "SignalFollower",
		`{"TargetID":"tv-1","DefaultVolume":1,"MaxPos":3}`)

	pushSignal(t, bus, model.Signal{
		TargetID: "tv-1", Action: model.SignalActionShort, Symbol: "BTCUSDT", Volume: 10})
	require.Len(t, gw.sent, 1)
	assert.Equal(t, model.DirectionShort, gw.sent[0].Direction)
	assert.Equal(t, 3.0, gw.sent[0].Volume)
}

func TestSignalFollowerIgnoresWrongSymbol(t *testing.T) {
	bus, gw, _ := harness(t, "SignalFollower", `{"TargetID":"tv-1"}`)

	pushSignal(t, bus, model.Signal{
		TargetID: "tv-1", Action: model.SignalActionLong, Symbol: "ETHUSDT"})
	assert.Empty(t, gw.sent)
}

func TestSignalFollowerRequiresTargetID(t *testing.T) {
	_, err := NewSignalFollowerStrategy(json.RawMessage(`{"DefaultVolume":1}`))
	assert.Error(t, err)
}
