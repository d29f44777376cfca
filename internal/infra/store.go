package infra

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"hqtrade.com/internal/model"
)

// GormStrategyStore 用数据库持久化策略配置与检查点
type GormStrategyStore struct {
	db *gorm.DB
}

func NewGormStrategyStore(db *gorm.DB) *GormStrategyStore {
	return &GormStrategyStore{db: db}
}

func (s *GormStrategyStore) SaveSetting(ctx context.Context, setting model.StrategySetting) error {
	return s.db.WithContext(ctx).Save(&setting).Error
}

func (s *GormStrategyStore) LoadSettings(ctx context.Context) ([]model.StrategySetting, error) {
	var settings []model.StrategySetting
	err := s.db.WithContext(ctx).Order("created_at asc").Find(&settings).Error
	return settings, err
}

func (s *GormStrategyStore) RemoveSetting(ctx context.Context, name string) error {
	return s.db.WithContext(ctx).Delete(&model.StrategySetting{}, "name = ?", name).Error
}

func (s *GormStrategyStore) SaveState(ctx context.Context, state model.StrategyState) error {
	return s.db.WithContext(ctx).Save(&state).Error
}

func (s *GormStrategyStore) LoadState(ctx context.Context, name string) (*model.StrategyState, error) {
	var state model.StrategyState
	err := s.db.WithContext(ctx).First(&state, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *GormStrategyStore) ClearState(ctx context.Context, name string) error {
	return s.db.WithContext(ctx).Delete(&model.StrategyState{}, "name = ?", name).Error
}

// GormTradeStore 持久化对账后的订单、成交与持仓
type GormTradeStore struct {
	db *gorm.DB
}

func NewGormTradeStore(db *gorm.DB) *GormTradeStore {
	return &GormTradeStore{db: db}
}

// SaveOrder 按 OrderRef 幂等写入订单快照
func (s *GormTradeStore) SaveOrder(ctx context.Context, order model.Order) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "order_ref"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"order_sys_id", "traded", "traded_price", "status", "status_msg", "updated_at",
		}),
	}).Create(&order).Error
}

// SaveTrade 按 TradeID 幂等写入成交
func (s *GormTradeStore) SaveTrade(ctx context.Context, trade model.Trade) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "trade_id"}},
		DoNothing: true,
	}).Create(&trade).Error
}

func (s *GormTradeStore) SavePosition(ctx context.Context, pos model.Position) error {
	return s.db.WithContext(ctx).Save(&pos).Error
}

func (s *GormTradeStore) GetOrders(ctx context.Context, symbol string, page, pageSize int) ([]model.Order, int64, error) {
	query := s.db.WithContext(ctx).Model(&model.Order{})
	if symbol != "" {
		query = query.Where("symbol = ?", symbol)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var orders []model.Order
	err := query.Order("updated_at desc").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&orders).Error
	return orders, total, err
}

func (s *GormTradeStore) GetTrades(ctx context.Context, symbol string, page, pageSize int) ([]model.Trade, int64, error) {
	query := s.db.WithContext(ctx).Model(&model.Trade{})
	if symbol != "" {
		query = query.Where("symbol = ?", symbol)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var trades []model.Trade
	err := query.Order("timestamp desc").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&trades).Error
	return trades, total, err
}

func (s *GormTradeStore) GetPositions(ctx context.Context) ([]model.Position, error) {
	var positions []model.Position
	err := s.db.WithContext(ctx).Find(&positions).Error
	return positions, err
}

// GormBarStore 历史K线存取
type GormBarStore struct {
	db *gorm.DB
}

func NewGormBarStore(db *gorm.DB) *GormBarStore {
	return &GormBarStore{db: db}
}

func (s *GormBarStore) SaveBars(ctx context.Context, bars []model.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).CreateInBatches(bars, 500).Error
}

// LoadBars 返回最近 limit 根K线，按时间升序
func (s *GormBarStore) LoadBars(ctx context.Context, symbol, interval string, limit int) ([]model.Bar, error) {
	var bars []model.Bar
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND interval = ?", symbol, interval).
		Order("timestamp desc").Limit(limit).
		Find(&bars).Error
	if err != nil {
		return nil, err
	}
	// reverse to chronological order
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars, nil
}

// GormReportStore 回测报告存取
type GormReportStore struct {
	db *gorm.DB
}

func NewGormReportStore(db *gorm.DB) *GormReportStore {
	return &GormReportStore{db: db}
}

func (s *GormReportStore) SaveReport(ctx context.Context, rec *model.BacktestRecord) error {
	return s.db.WithContext(ctx).Create(rec).Error
}

func (s *GormReportStore) GetReport(ctx context.Context, id uint) (*model.BacktestRecord, error) {
	var rec model.BacktestRecord
	err := s.db.WithContext(ctx).First(&rec, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *GormReportStore) ListReports(ctx context.Context, page, pageSize int) ([]model.BacktestRecord, int64, error) {
	query := s.db.WithContext(ctx).Model(&model.BacktestRecord{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var records []model.BacktestRecord
	err := query.Order("created_at desc").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&records).Error
	return records, total, err
}
