package service

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"QuantSync/pkg/database"
	"QuantSync/pkg/dispatch"
	"QuantSync/pkg/errs"
	"QuantSync/pkg/logger"
	"QuantSync/pkg/model"
	"QuantSync/pkg/sharding"
)

// FanOutResult 扇出请求的返回
type FanOutResult struct {
	JobSetID  string `json:"job_set_id"`
	TotalJobs int    `json:"total_jobs"`
}

// KlineQuery K线查询参数
type KlineQuery struct {
	Code  string
	From  time.Time
	To    time.Time
	Limit int
	Desc  bool
}

// OpsService 运维接口，提交同步任务并查询进度
type OpsService struct {
	stores     *database.Stores
	dispatcher dispatch.Dispatcher
	logger     *logrus.Entry
}

func NewOpsService(stores *database.Stores, dispatcher dispatch.Dispatcher) *OpsService {
	return &OpsService{
		stores:     stores,
		dispatcher: dispatcher,
		logger:     logger.WithComponent("service"),
	}
}

func (s *OpsService) fanOut(ctx context.Context, auth AuthContext, kind dispatch.Kind, entities []dispatch.Entity, payload map[string]interface{}) (*FanOutResult, error) {
	set, err := s.dispatcher.FanOut(ctx, dispatch.FanOutRequest{
		Kind:      kind,
		Entities:  entities,
		Payload:   payload,
		CreatedBy: auth.Actor(),
	})
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"actor":      auth.Actor(),
		"kind":       kind,
		"job_set_id": set.ID,
		"total":      set.Total,
	}).Info("提交同步任务")
	return &FanOutResult{JobSetID: set.ID, TotalJobs: set.Total}, nil
}

// SyncKlines 为全部启用股票提交日K线同步
func (s *OpsService) SyncKlines(ctx context.Context, auth AuthContext) (*FanOutResult, error) {
	stocks, err := s.stores.Stocks.ListActive(ctx, model.AShareMarkets)
	if err != nil {
		return nil, err
	}
	entities := make([]dispatch.Entity, len(stocks))
	for i, st := range stocks {
		entities[i] = dispatch.Entity{ID: st.ID, Code: st.Code}
	}
	return s.fanOut(ctx, auth, dispatch.KindKlineDaily, entities, map[string]interface{}{"period": "1d"})
}

// SyncSingleKline 为单只启用的A股提交日K线同步
func (s *OpsService) SyncSingleKline(ctx context.Context, auth AuthContext, stockID uint) (*FanOutResult, error) {
	stock, err := s.stores.Stocks.GetByID(ctx, stockID)
	if err != nil {
		return nil, err
	}
	if !stock.Market.IsAShare() {
		return nil, errs.New(errs.CodeNormalization, "只支持A股市场股票的同步")
	}
	if stock.Code == "" || stock.Name == "" {
		return nil, errs.New(errs.CodeNormalization, "股票代码或名称为空")
	}
	if !stock.IsActive() {
		return nil, errs.New(errs.CodeNormalization, "股票已停用: "+stock.Code)
	}
	entities := []dispatch.Entity{{ID: stock.ID, Code: stock.Code}}
	return s.fanOut(ctx, auth, dispatch.KindKlineDaily, entities, map[string]interface{}{"period": "1d"})
}

// SyncRelations 为某类全部启用板块提交成分股同步
func (s *OpsService) SyncRelations(ctx context.Context, auth AuthContext, kind model.CategoryKind) (*FanOutResult, error) {
	categories, err := s.stores.Categories.ListActive(ctx, kind)
	if err != nil {
		return nil, err
	}
	entities := make([]dispatch.Entity, len(categories))
	for i, c := range categories {
		entities[i] = dispatch.Entity{ID: c.ID, Code: c.Code}
	}
	jobKind := dispatch.KindIndustryMembers
	if kind == model.KindConcept {
		jobKind = dispatch.KindConceptMembers
	}
	return s.fanOut(ctx, auth, jobKind, entities, nil)
}

// SyncStockList 每个市场一个任务
func (s *OpsService) SyncStockList(ctx context.Context, auth AuthContext) (*FanOutResult, error) {
	entities := make([]dispatch.Entity, len(model.AShareMarkets))
	for i, m := range model.AShareMarkets {
		entities[i] = dispatch.Entity{ID: uint(m), Code: m.String()}
	}
	return s.fanOut(ctx, auth, dispatch.KindStockList, entities, nil)
}

// SyncCategoryList 板块列表只有一个任务
func (s *OpsService) SyncCategoryList(ctx context.Context, auth AuthContext, kind model.CategoryKind) (*FanOutResult, error) {
	jobKind := dispatch.KindIndustryList
	if kind == model.KindConcept {
		jobKind = dispatch.KindConceptList
	}
	return s.fanOut(ctx, auth, jobKind, []dispatch.Entity{{Code: string(kind)}}, nil)
}

// Progress 任务集进度
func (s *OpsService) Progress(ctx context.Context, auth AuthContext, setID string) (*model.JobSetProgress, error) {
	return s.dispatcher.Progress(ctx, setID)
}

// Jobs 任务集内的任务明细
func (s *OpsService) Jobs(ctx context.Context, auth AuthContext, setID string, state model.JobState, limit int) ([]model.JobRecordDTO, error) {
	if _, err := s.stores.Jobs.GetSet(ctx, setID); err != nil {
		return nil, err
	}
	records, err := s.stores.Jobs.ListBySet(ctx, setID, state, limit)
	if err != nil {
		return nil, err
	}
	out := make([]model.JobRecordDTO, len(records))
	for i := range records {
		out[i] = model.ToJobRecordDTO(&records[i])
	}
	return out, nil
}

// Cancel 取消任务集
func (s *OpsService) Cancel(ctx context.Context, auth AuthContext, setID string) (int64, error) {
	s.logger.WithFields(logrus.Fields{
		"actor":      auth.Actor(),
		"job_set_id": setID,
	}).Info("取消任务集")
	return s.dispatcher.Cancel(ctx, setID)
}

// Klines 跨分表查询某只股票的K线
func (s *OpsService) Klines(ctx context.Context, auth AuthContext, q KlineQuery) ([]model.KlineDTO, error) {
	if q.To.Before(q.From) {
		return nil, errs.New(errs.CodeNormalization, "结束日期早于开始日期")
	}
	stock, err := s.stores.Stocks.GetByCode(ctx, strings.TrimSpace(q.Code))
	if err != nil {
		return nil, err
	}
	rows, err := s.stores.Klines.QueryRange(ctx, q.From, q.To, sharding.Query{
		Where: map[string]interface{}{"stock_id": stock.ID},
		Desc:  q.Desc,
		Limit: q.Limit,
	})
	if err != nil {
		return nil, err
	}
	out := make([]model.KlineDTO, len(rows))
	for i := range rows {
		out[i] = model.ToKlineDTO(&rows[i])
	}
	return out, nil
}

// Stock 股票详情
func (s *OpsService) Stock(ctx context.Context, auth AuthContext, code string) (*model.StockDTO, error) {
	stock, err := s.stores.Stocks.GetByCode(ctx, strings.TrimSpace(code))
	if err != nil {
		return nil, err
	}
	dto := model.ToStockDTO(stock)
	return &dto, nil
}
