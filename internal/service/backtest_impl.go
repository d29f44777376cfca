package service

import (
	"context"
	"encoding/json"
	"log"

	"hqtrade.com/internal/backtest"
	"hqtrade.com/internal/config"
	"hqtrade.com/internal/domain"
	"hqtrade.com/internal/model"
)

// BacktestServiceImpl 实现 domain.BacktestService 接口
// 每次回测用独立的引擎同步执行，结果连同参数一起落库。
type BacktestServiceImpl struct {
	cfg     config.BacktestConfig
	bars    domain.BarStore
	reports domain.ReportStore
}

// NewBacktestService 创建回测服务
func NewBacktestService(cfg config.BacktestConfig, bars domain.BarStore, reports domain.ReportStore) *BacktestServiceImpl {
	return &BacktestServiceImpl{
		cfg:     cfg,
		bars:    bars,
		reports: reports,
	}
}

var _ domain.BacktestService = (*BacktestServiceImpl)(nil)

// RunBacktest 执行一次回测并保存报告
func (s *BacktestServiceImpl) RunBacktest(ctx context.Context, req model.BacktestRequest) (*model.BacktestRecord, error) {
	if req.ClassName == "" {
		return nil, domain.NewBadRequestError("className is required")
	}
	if req.Symbol == "" {
		return nil, domain.NewBadRequestError("symbol is required")
	}
	if req.Interval == "" {
		req.Interval = "1d"
	}
	if req.Limit <= 0 {
		req.Limit = 2000
	}
	if len(req.Params) == 0 {
		req.Params = json.RawMessage("{}")
	}

	bars, err := s.bars.LoadBars(ctx, req.Symbol, req.Interval, req.Limit)
	if err != nil {
		return nil, domain.NewInternalError("failed to load bars", err)
	}
	if len(bars) == 0 {
		return nil, domain.NewNotFoundError("no bars found for " + req.Symbol + " " + req.Interval)
	}

	eng := backtest.NewEngine(backtest.Config{
		Symbol:         req.Symbol,
		Interval:       req.Interval,
		Capital:        s.cfg.Capital,
		Slippage:       s.cfg.Slippage,
		CommissionRate: s.cfg.CommissionRate,
		Size:           s.cfg.Size,
	})
	if err := eng.AddStrategy(ctx, "backtest", req.ClassName, req.Params); err != nil {
		return nil, err
	}
	eng.SetBars(bars)

	report, err := eng.Run(ctx)
	if err != nil {
		return nil, err
	}

	reportJSON, err := json.Marshal(report)
	if err != nil {
		return nil, domain.NewInternalError("failed to marshal report", err)
	}

	rec := &model.BacktestRecord{
		ClassName: req.ClassName,
		Symbol:    req.Symbol,
		Interval:  req.Interval,
		Params:    req.Params,
		Report:    reportJSON,
	}
	if err := s.reports.SaveReport(ctx, rec); err != nil {
		// 报告落库失败不吞掉结果，记录后照常返回
		log.Printf("BacktestService: Failed to save report: %v", err)
	}
	return rec, nil
}

// GetReport 查询单份回测报告
func (s *BacktestServiceImpl) GetReport(ctx context.Context, id uint) (*model.BacktestRecord, error) {
	rec, err := s.reports.GetReport(ctx, id)
	if err != nil {
		return nil, domain.NewInternalError("failed to load report", err)
	}
	if rec == nil {
		return nil, domain.NewNotFoundError("report not found")
	}
	return rec, nil
}

// ListReports 查询回测报告列表
func (s *BacktestServiceImpl) ListReports(ctx context.Context, page, pageSize int) ([]model.BacktestRecord, int64, error) {
	return s.reports.ListReports(ctx, page, pageSize)
}
