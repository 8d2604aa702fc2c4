package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"QuantSync/pkg/config"
	"QuantSync/pkg/database"
	"QuantSync/pkg/dispatch"
	"QuantSync/pkg/errs"
	"QuantSync/pkg/ingest"
	"QuantSync/pkg/model"
	"QuantSync/pkg/normalize"
	"QuantSync/pkg/retry"
	"QuantSync/pkg/testkit"
)

var testAuth = AuthContext{AdminID: "7", Token: "t", Source: "api"}

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

type env struct {
	stores     *database.Stores
	upstream   *testkit.FakeUpstream
	dispatcher *dispatch.InlineDispatcher
	ops        *OpsService
}

func newEnv(t *testing.T, today string) *env {
	t.Helper()
	stores := testkit.NewStores(t)
	up := testkit.NewFakeUpstream()

	d := date(today)
	clock := func() time.Time {
		return time.Date(d.Year(), d.Month(), d.Day(), 18, 0, 0, 0, time.FixedZone("CST", 8*3600))
	}
	cfg := config.IngestConfig{KlineEpoch: "2023-01-01", EmptyRunLimit: 3, MissingLimit: 3, Adjust: "qfq"}
	klines, err := ingest.NewKlinePipeline(stores, up, cfg)
	require.NoError(t, err)
	klines.WithClock(clock)
	listing := ingest.NewListingPipeline(stores, up, cfg).WithClock(clock)

	controller := retry.NewController(retry.Policy{MaxAttempts: 5, Base: 10 * time.Millisecond, Cap: time.Second})
	worker := dispatch.NewWorker(stores.Jobs, controller, dispatch.Limits{Hard: 5 * time.Second})
	RegisterPipelines(worker, stores, klines, ingest.NewMemberPipeline(stores, up), listing)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	dispatcher := dispatch.NewInlineDispatcher(ctx, stores.Jobs, worker, map[string]int{
		dispatch.QueueKline:   4,
		dispatch.QueueMembers: 4,
		dispatch.QueueLists:   1,
	}, 5)

	return &env{
		stores:     stores,
		upstream:   up,
		dispatcher: dispatcher,
		ops:        NewOpsService(stores, dispatcher),
	}
}

func (e *env) seedStocks(t *testing.T, codes ...string) {
	t.Helper()
	for _, c := range codes {
		require.NoError(t, e.stores.DB.Create(&model.Stock{Code: c, Name: c, Market: model.MarketSZ, Status: model.StatusActive}).Error)
	}
}

func (e *env) onlyJob(t *testing.T, setID string) model.JobRecordDTO {
	t.Helper()
	jobs, err := e.ops.Jobs(context.Background(), testAuth, setID, "", 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	return jobs[0]
}

func TestSyncKlinesFirstRun(t *testing.T) {
	e := newEnv(t, "2024-01-16")
	e.seedStocks(t, "000001")
	e.upstream.Klines["000001"] = testkit.KlineRows(
		"2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05", "2024-01-08",
		"2024-01-09", "2024-01-10", "2024-01-11", "2024-01-12", "2024-01-15",
	)

	res, err := e.ops.SyncKlines(context.Background(), testAuth)
	require.NoError(t, err)
	assert.NotEmpty(t, res.JobSetID)
	assert.Equal(t, 1, res.TotalJobs)
	e.dispatcher.Wait()

	job := e.onlyJob(t, res.JobSetID)
	assert.Equal(t, string(model.JobSucceeded), job.State)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, 10, job.RowsWritten)
	require.NotNil(t, job.Checkpoint)
	assert.Equal(t, "2024-01-15", *job.Checkpoint)

	set, err := e.stores.Jobs.GetSet(context.Background(), res.JobSetID)
	require.NoError(t, err)
	assert.Equal(t, "api:7", set.CreatedBy)

	klines, err := e.ops.Klines(context.Background(), testAuth, KlineQuery{
		Code: "000001", From: date("2024-01-01"), To: date("2024-01-31"), Limit: 2, Desc: true,
	})
	require.NoError(t, err)
	require.Len(t, klines, 2)
	assert.Equal(t, "2024-01-15", klines[0].TradeDate)
	assert.Equal(t, "2024-01-12", klines[1].TradeDate)
}

func TestSyncKlinesTransientThenSuccess(t *testing.T) {
	e := newEnv(t, "2024-01-16")
	e.seedStocks(t, "000001")
	e.upstream.Klines["000001"] = testkit.KlineRows("2024-01-15")
	e.upstream.KlineErrors["000001"] = []error{
		errors.New("dial tcp 127.0.0.1:8080: connect: connection refused"),
		errors.New("dial tcp 127.0.0.1:8080: connect: connection refused"),
	}

	start := time.Now()
	res, err := e.ops.SyncKlines(context.Background(), testAuth)
	require.NoError(t, err)
	e.dispatcher.Wait()

	job := e.onlyJob(t, res.JobSetID)
	assert.Equal(t, string(model.JobSucceeded), job.State)
	assert.Equal(t, 3, job.Attempts)
	assert.Equal(t, 1, job.RowsWritten)
	// 两次退避 base·2 + base·4
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
	assert.Equal(t, 3, e.upstream.Calls("FetchKlines"))
}

func TestSyncKlinesPermanentFailure(t *testing.T) {
	e := newEnv(t, "2024-01-16")
	e.seedStocks(t, "000001", "000002")
	e.upstream.Klines["000002"] = testkit.KlineRows("2024-01-15")
	e.upstream.KlineErrors["000001"] = []error{errs.New(errs.CodeUpstreamPermanent, "股票代码不存在")}

	res, err := e.ops.SyncKlines(context.Background(), testAuth)
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalJobs)
	e.dispatcher.Wait()

	failed, err := e.ops.Jobs(context.Background(), testAuth, res.JobSetID, model.JobFailed, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "000001", failed[0].EntityCode)
	assert.Equal(t, 1, failed[0].Attempts)
	assert.Contains(t, failed[0].LastError, "股票代码不存在")

	progress, err := e.ops.Progress(context.Background(), testAuth, res.JobSetID)
	require.NoError(t, err)
	assert.True(t, progress.Done)
	assert.Equal(t, 1, progress.States[model.JobSucceeded])
	assert.Equal(t, 1, progress.States[model.JobFailed])
}

func TestSyncKlinesSkipsDisabledStock(t *testing.T) {
	e := newEnv(t, "2024-01-16")
	require.NoError(t, e.stores.DB.Create(&model.Stock{Code: "000009", Market: model.MarketSZ, Status: model.StatusActive}).Error)

	res, err := e.ops.SyncKlines(context.Background(), testAuth)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalJobs)

	// 停用的股票不再扇出
	require.NoError(t, e.stores.DB.Model(&model.Stock{}).Where("code = ?", "000009").Update("status", model.StatusDisabled).Error)
	e.dispatcher.Wait()
	res, err = e.ops.SyncKlines(context.Background(), testAuth)
	require.NoError(t, err)
	assert.Zero(t, res.TotalJobs)
}

func TestSyncSingleKline(t *testing.T) {
	e := newEnv(t, "2024-01-16")
	ctx := context.Background()
	e.seedStocks(t, "000001", "000002")
	e.upstream.Klines["000001"] = testkit.KlineRows("2024-01-12", "2024-01-15")

	stock, err := e.stores.Stocks.GetByCode(ctx, "000001")
	require.NoError(t, err)
	res, err := e.ops.SyncSingleKline(ctx, testAuth, stock.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalJobs)
	e.dispatcher.Wait()

	job := e.onlyJob(t, res.JobSetID)
	assert.Equal(t, "000001", job.EntityCode)
	assert.Equal(t, string(model.JobSucceeded), job.State)
	assert.Equal(t, 2, job.RowsWritten)
	assert.Equal(t, 1, e.upstream.Calls("FetchKlines"))

	hk := &model.Stock{Code: "00700", Name: "腾讯控股", Market: model.Market(4), Status: model.StatusActive}
	unnamed := &model.Stock{Code: "600000", Market: model.MarketSH, Status: model.StatusActive}
	disabled := &model.Stock{Code: "600001", Name: "邯郸钢铁", Market: model.MarketSH, Status: model.StatusDisabled}
	for _, st := range []*model.Stock{hk, unnamed, disabled} {
		require.NoError(t, e.stores.DB.Create(st).Error)
	}

	tests := []struct {
		name string
		id   uint
		want error
		msg  string
	}{
		{"股票不存在", 9999, errs.ErrNotFound, "股票不存在"},
		{"非A股市场", hk.ID, errs.ErrNormalization, "只支持A股市场股票的同步"},
		{"名称为空", unnamed.ID, errs.ErrNormalization, "股票代码或名称为空"},
		{"已停用", disabled.ID, errs.ErrNormalization, "股票已停用"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.ops.SyncSingleKline(ctx, testAuth, tt.id)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestSyncListsAndRelations(t *testing.T) {
	e := newEnv(t, "2024-01-16")
	ctx := context.Background()
	e.upstream.Stocks[model.MarketSH] = []normalize.Row{testkit.StockRow("600000", "浦发银行")}
	e.upstream.Stocks[model.MarketSZ] = []normalize.Row{testkit.StockRow("000001", "平安银行")}
	e.upstream.Categories[model.KindIndustry] = []normalize.Row{testkit.CategoryRow("BK0475", "银行")}
	e.upstream.Members["BK0475"] = testkit.MemberRows("600000", "000001")

	res, err := e.ops.SyncStockList(ctx, testAuth)
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalJobs)
	e.dispatcher.Wait()

	progress, err := e.ops.Progress(ctx, testAuth, res.JobSetID)
	require.NoError(t, err)
	assert.Equal(t, 3, progress.States[model.JobSucceeded])

	res, err = e.ops.SyncCategoryList(ctx, testAuth, model.KindIndustry)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalJobs)
	e.dispatcher.Wait()
	job := e.onlyJob(t, res.JobSetID)
	assert.Equal(t, string(dispatch.KindIndustryList), job.Kind)
	assert.Equal(t, "2024-01-16", *job.Checkpoint)

	res, err = e.ops.SyncRelations(ctx, testAuth, model.KindIndustry)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalJobs)
	e.dispatcher.Wait()
	job = e.onlyJob(t, res.JobSetID)
	assert.Equal(t, string(model.JobSucceeded), job.State)
	assert.Equal(t, 2, job.RowsWritten)

	// 概念板块为空时不产生任务
	res, err = e.ops.SyncRelations(ctx, testAuth, model.KindConcept)
	require.NoError(t, err)
	assert.Zero(t, res.TotalJobs)

	stock, err := e.ops.Stock(ctx, testAuth, "600000")
	require.NoError(t, err)
	assert.Equal(t, "SH", stock.Market)
	require.NotNil(t, stock.TotalMarketCap)
	assert.Equal(t, "250.0000", *stock.TotalMarketCap)
}

func TestCancelJobSet(t *testing.T) {
	e := newEnv(t, "2024-01-16")
	ctx := context.Background()
	e.seedStocks(t, "000001")
	e.upstream.Klines["000001"] = testkit.KlineRows("2024-01-15")
	e.upstream.Delay = 200 * time.Millisecond

	res, err := e.ops.SyncKlines(ctx, testAuth)
	require.NoError(t, err)

	_, err = e.ops.Cancel(ctx, testAuth, res.JobSetID)
	require.NoError(t, err)
	e.dispatcher.Wait()

	progress, err := e.ops.Progress(ctx, testAuth, res.JobSetID)
	require.NoError(t, err)
	assert.True(t, progress.Cancelled)
	assert.True(t, progress.Done)
}

func TestQueryErrors(t *testing.T) {
	e := newEnv(t, "2024-01-16")
	ctx := context.Background()

	_, err := e.ops.Progress(ctx, testAuth, "no-such-set")
	assert.True(t, errors.Is(err, errs.ErrNotFound))

	_, err = e.ops.Jobs(ctx, testAuth, "no-such-set", "", 0)
	assert.True(t, errors.Is(err, errs.ErrNotFound))

	_, err = e.ops.Cancel(ctx, testAuth, "no-such-set")
	assert.True(t, errors.Is(err, errs.ErrNotFound))

	_, err = e.ops.Klines(ctx, testAuth, KlineQuery{Code: "000001", From: date("2024-02-01"), To: date("2024-01-01")})
	assert.True(t, errors.Is(err, errs.ErrNormalization))

	_, err = e.ops.Stock(ctx, testAuth, "000001")
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestActor(t *testing.T) {
	assert.Equal(t, "api:7", testAuth.Actor())
	assert.Equal(t, "scheduler", SystemAuth("scheduler").Actor())
}
