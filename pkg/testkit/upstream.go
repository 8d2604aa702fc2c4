package testkit

import (
	"context"
	"sync"
	"time"

	"QuantSync/pkg/collector"
	"QuantSync/pkg/model"
	"QuantSync/pkg/normalize"
)

// KlineRequest 记录一次K线请求
type KlineRequest struct {
	Code   string
	From   time.Time
	To     time.Time
	Period collector.Period
	Adjust collector.Adjust
}

// FakeUpstream 内存中的上游数据源；错误按调用顺序依次返回，用完后返回数据
type FakeUpstream struct {
	mu sync.Mutex

	Stocks     map[model.Market][]normalize.Row
	Categories map[model.CategoryKind][]normalize.Row
	Members    map[string][]normalize.Row // 板块代码 -> 成分股
	Klines     map[string][]normalize.Row // 股票代码 -> K线

	KlineErrors  map[string][]error
	MemberErrors map[string][]error
	Delay        time.Duration // 每次调用的耗时，遵守 ctx

	KlineRequests []KlineRequest
	calls         map[string]int
}

func NewFakeUpstream() *FakeUpstream {
	return &FakeUpstream{
		Stocks:       make(map[model.Market][]normalize.Row),
		Categories:   make(map[model.CategoryKind][]normalize.Row),
		Members:      make(map[string][]normalize.Row),
		Klines:       make(map[string][]normalize.Row),
		KlineErrors:  make(map[string][]error),
		MemberErrors: make(map[string][]error),
		calls:        make(map[string]int),
	}
}

// Calls 某个方法被调用的次数
func (f *FakeUpstream) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// Requests K线请求记录的副本
func (f *FakeUpstream) Requests() []KlineRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]KlineRequest(nil), f.KlineRequests...)
}

func (f *FakeUpstream) wait(ctx context.Context) error {
	if f.Delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(f.Delay):
		return nil
	}
}

func popError(queue map[string][]error, key string) error {
	errs := queue[key]
	if len(errs) == 0 {
		return nil
	}
	queue[key] = errs[1:]
	return errs[0]
}

func (f *FakeUpstream) ListStocks(ctx context.Context, market model.Market) ([]normalize.Row, error) {
	f.mu.Lock()
	f.calls["ListStocks"]++
	rows := f.Stocks[market]
	f.mu.Unlock()
	return rows, f.wait(ctx)
}

func (f *FakeUpstream) ListCategories(ctx context.Context, kind model.CategoryKind) ([]normalize.Row, error) {
	f.mu.Lock()
	f.calls["ListCategories"]++
	rows := f.Categories[kind]
	f.mu.Unlock()
	return rows, f.wait(ctx)
}

func (f *FakeUpstream) ListMembers(ctx context.Context, kind model.CategoryKind, categoryCode string) ([]normalize.Row, error) {
	f.mu.Lock()
	f.calls["ListMembers"]++
	err := popError(f.MemberErrors, categoryCode)
	rows := f.Members[categoryCode]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return rows, f.wait(ctx)
}

func (f *FakeUpstream) FetchKlines(ctx context.Context, stockCode string, from, to time.Time, period collector.Period, adjust collector.Adjust) ([]normalize.Row, error) {
	f.mu.Lock()
	f.calls["FetchKlines"]++
	f.KlineRequests = append(f.KlineRequests, KlineRequest{
		Code: stockCode, From: from, To: to, Period: period, Adjust: adjust,
	})
	err := popError(f.KlineErrors, stockCode)
	rows := f.Klines[stockCode]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return rows, nil
}

// KlineRow 构造上游格式的日K线行
func KlineRow(date string, close float64) normalize.Row {
	return normalize.Row{
		"日期":  date,
		"开盘":  close - 0.1,
		"收盘":  close,
		"最高":  close + 0.2,
		"最低":  close - 0.3,
		"成交量": 120000.0,
		"成交额": 1.5e8,
		"振幅":  1.2,
		"涨跌幅": 0.5,
		"涨跌额": 0.05,
		"换手率": 0.8,
	}
}

// KlineRows 按交易日列表构造K线
func KlineRows(dates ...string) []normalize.Row {
	rows := make([]normalize.Row, len(dates))
	for i, d := range dates {
		rows[i] = KlineRow(d, 10+float64(i)*0.1)
	}
	return rows
}

// StockRow 构造上游格式的股票列表行
func StockRow(code, name string) normalize.Row {
	return normalize.Row{
		"代码":  code,
		"名称":  name,
		"最新价": 10.5,
		"涨跌幅": 1.2,
		"总市值": 2.5e10,
		"流通市值": 2.0e10,
	}
}

// CategoryRow 构造上游格式的板块列表行
func CategoryRow(code, name string) normalize.Row {
	return normalize.Row{
		"排名":      1,
		"板块名称":    name,
		"板块代码":    code,
		"最新价":     1000.5,
		"涨跌幅":     2.1,
		"总市值":     1.2e12,
		"换手率":     1.1,
		"上涨家数":    30,
		"下跌家数":    5,
		"领涨股票":    "贵州茅台",
		"领涨股票-涨跌幅": 3.2,
	}
}

// MemberRows 构造成分股行
func MemberRows(codes ...string) []normalize.Row {
	rows := make([]normalize.Row, len(codes))
	for i, c := range codes {
		rows[i] = normalize.Row{"序号": i + 1, "代码": c}
	}
	return rows
}
