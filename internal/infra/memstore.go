package infra

import (
	"context"
	"sort"
	"sync"

	"hqtrade.com/internal/model"
)

// MemStrategyStore 内存版策略存储，回测与单机试跑使用
type MemStrategyStore struct {
	mu       sync.Mutex
	settings map[string]model.StrategySetting
	states   map[string]model.StrategyState
}

func NewMemStrategyStore() *MemStrategyStore {
	return &MemStrategyStore{
		settings: make(map[string]model.StrategySetting),
		states:   make(map[string]model.StrategyState),
	}
}

func (s *MemStrategyStore) SaveSetting(_ context.Context, setting model.StrategySetting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[setting.Name] = setting
	return nil
}

func (s *MemStrategyStore) LoadSettings(context.Context) ([]model.StrategySetting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.StrategySetting, 0, len(s.settings))
	for _, setting := range s.settings {
		out = append(out, setting)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemStrategyStore) RemoveSetting(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.settings, name)
	return nil
}

func (s *MemStrategyStore) SaveState(_ context.Context, state model.StrategyState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.Name] = state
	return nil
}

func (s *MemStrategyStore) LoadState(_ context.Context, name string) (*model.StrategyState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[name]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

func (s *MemStrategyStore) ClearState(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, name)
	return nil
}

// MemTradeStore 内存版成交存储
type MemTradeStore struct {
	mu        sync.Mutex
	orders    map[string]model.Order
	trades    []model.Trade
	tradeIDs  map[string]bool
	positions map[string]model.Position
}

func NewMemTradeStore() *MemTradeStore {
	return &MemTradeStore{
		orders:    make(map[string]model.Order),
		tradeIDs:  make(map[string]bool),
		positions: make(map[string]model.Position),
	}
}

func (s *MemTradeStore) SaveOrder(_ context.Context, order model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.OrderRef] = order
	return nil
}

func (s *MemTradeStore) SaveTrade(_ context.Context, trade model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tradeIDs[trade.TradeID] {
		return nil
	}
	s.tradeIDs[trade.TradeID] = true
	s.trades = append(s.trades, trade)
	return nil
}

func (s *MemTradeStore) SavePosition(_ context.Context, pos model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[pos.Symbol+"/"+string(pos.Direction)] = pos
	return nil
}

func (s *MemTradeStore) GetOrders(_ context.Context, symbol string, page, pageSize int) ([]model.Order, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]model.Order, 0, len(s.orders))
	for _, order := range s.orders {
		if symbol == "" || order.Symbol == symbol {
			all = append(all, order)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UpdatedAt.After(all[j].UpdatedAt) })
	return paginate(all, page, pageSize), int64(len(all)), nil
}

func (s *MemTradeStore) GetTrades(_ context.Context, symbol string, page, pageSize int) ([]model.Trade, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]model.Trade, 0, len(s.trades))
	for _, trade := range s.trades {
		if symbol == "" || trade.Symbol == symbol {
			all = append(all, trade)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })
	return paginate(all, page, pageSize), int64(len(all)), nil
}

func (s *MemTradeStore) GetPositions(context.Context) ([]model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Position, 0, len(s.positions))
	for _, pos := range s.positions {
		out = append(out, pos)
	}
	return out, nil
}

// AllTrades 按时间顺序返回全部成交（回测统计用）
func (s *MemTradeStore) AllTrades() []model.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Trade, len(s.trades))
	copy(out, s.trades)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// MemBarStore 内存版K线存储
type MemBarStore struct {
	mu   sync.Mutex
	bars map[string][]model.Bar // symbol/interval -> chronological bars
}

func NewMemBarStore() *MemBarStore {
	return &MemBarStore{bars: make(map[string][]model.Bar)}
}

func (s *MemBarStore) SaveBars(_ context.Context, bars []model.Bar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, bar := range bars {
		key := bar.Symbol + "/" + bar.Interval
		s.bars[key] = append(s.bars[key], bar)
	}
	for key := range s.bars {
		list := s.bars[key]
		sort.Slice(list, func(i, j int) bool { return list[i].Timestamp.Before(list[j].Timestamp) })
		s.bars[key] = list
	}
	return nil
}

func (s *MemBarStore) LoadBars(_ context.Context, symbol, interval string, limit int) ([]model.Bar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.bars[symbol+"/"+interval]
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	out := make([]model.Bar, len(list))
	copy(out, list)
	return out, nil
}

// MemReportStore 内存版回测报告存储
type MemReportStore struct {
	mu      sync.Mutex
	nextID  uint
	records []model.BacktestRecord
}

func NewMemReportStore() *MemReportStore {
	return &MemReportStore{}
}

func (s *MemReportStore) SaveReport(_ context.Context, rec *model.BacktestRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec.ID = s.nextID
	s.records = append(s.records, *rec)
	return nil
}

func (s *MemReportStore) GetReport(_ context.Context, id uint) (*model.BacktestRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].ID == id {
			rec := s.records[i]
			return &rec, nil
		}
	}
	return nil, nil
}

func (s *MemReportStore) ListReports(_ context.Context, page, pageSize int) ([]model.BacktestRecord, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]model.BacktestRecord, len(s.records))
	copy(all, s.records)
	// newest first
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return paginate(all, page, pageSize), int64(len(all)), nil
}

func paginate[T any](all []T, page, pageSize int) []T {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	start := (page - 1) * pageSize
	if start >= len(all) {
		return []T{}
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end]
}
