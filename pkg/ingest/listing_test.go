package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"QuantSync/pkg/model"
	"QuantSync/pkg/normalize"
	"QuantSync/pkg/testkit"
)

func TestSyncStocksMissingAndDisable(t *testing.T) {
	stores := testkit.NewStores(t)
	up := testkit.NewFakeUpstream()
	ctx := context.Background()
	p := NewListingPipeline(stores, up, ingestConfig())

	up.Stocks[model.MarketSH] = []normalize.Row{
		testkit.StockRow("600000", "浦发银行"),
		testkit.StockRow("600036", "招商银行"),
		testkit.StockRow("600519", "贵州茅台"),
		testkit.StockRow("600519", "贵州茅台"),
	}
	out, err := p.SyncStocks(ctx, model.MarketSH)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Rows)

	stock, err := stores.Stocks.GetByCode(ctx, "600519")
	require.NoError(t, err)
	assert.Equal(t, model.MarketSH, stock.Market)
	assert.Equal(t, model.StatusActive, stock.Status)
	assert.Equal(t, "25000000000", stock.TotalMarketCap.Decimal.String())

	up.Stocks[model.MarketSH] = up.Stocks[model.MarketSH][:2]
	_, err = p.SyncStocks(ctx, model.MarketSH)
	require.NoError(t, err)
	stock, err = stores.Stocks.GetByCode(ctx, "600519")
	require.NoError(t, err)
	assert.Equal(t, 1, stock.MissingCount)
	assert.Equal(t, model.StatusActive, stock.Status)

	_, err = p.SyncStocks(ctx, model.MarketSH)
	require.NoError(t, err)
	stock, err = stores.Stocks.GetByCode(ctx, "600519")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDisabled, stock.Status)

	active, err := stores.Stocks.ListActive(ctx, []model.Market{model.MarketSH})
	require.NoError(t, err)
	assert.Len(t, active, 2)

	// 重新出现后恢复
	up.Stocks[model.MarketSH] = append(up.Stocks[model.MarketSH], testkit.StockRow("600519", "贵州茅台"))
	_, err = p.SyncStocks(ctx, model.MarketSH)
	require.NoError(t, err)
	stock, err = stores.Stocks.GetByCode(ctx, "600519")
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, stock.Status)
	assert.Zero(t, stock.MissingCount)
}

func TestSyncStocksEmptyUpstream(t *testing.T) {
	stores := testkit.NewStores(t)
	up := testkit.NewFakeUpstream()
	ctx := context.Background()
	seedStock(t, stores, "000001")

	out, err := NewListingPipeline(stores, up, ingestConfig()).SyncStocks(ctx, model.MarketSZ)
	require.NoError(t, err)
	assert.Zero(t, out.Rows)

	stock, err := stores.Stocks.GetByCode(ctx, "000001")
	require.NoError(t, err)
	assert.Zero(t, stock.MissingCount)
}

func TestSyncAllStocks(t *testing.T) {
	stores := testkit.NewStores(t)
	up := testkit.NewFakeUpstream()
	up.Stocks[model.MarketSH] = []normalize.Row{testkit.StockRow("600000", "浦发银行")}
	up.Stocks[model.MarketSZ] = []normalize.Row{testkit.StockRow("1", "平安银行")}
	up.Stocks[model.MarketBJ] = []normalize.Row{testkit.StockRow("830799", "艾融软件")}

	out, err := NewListingPipeline(stores, up, ingestConfig()).SyncAllStocks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, out.Rows)
	assert.Equal(t, 3, up.Calls("ListStocks"))

	// 代码补零
	stock, err := stores.Stocks.GetByCode(context.Background(), "000001")
	require.NoError(t, err)
	assert.Equal(t, model.MarketSZ, stock.Market)
}

func TestSyncCategoriesDailyLog(t *testing.T) {
	stores := testkit.NewStores(t)
	up := testkit.NewFakeUpstream()
	ctx := context.Background()

	up.Categories[model.KindConcept] = []normalize.Row{
		testkit.CategoryRow("BK1000", "算力概念"),
		testkit.CategoryRow("BK1001", "低空经济"),
	}
	p := NewListingPipeline(stores, up, ingestConfig()).WithClock(at("2024-01-16"))

	out, err := p.SyncCategories(ctx, model.KindConcept)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Rows)
	require.NotNil(t, out.Checkpoint)
	assert.True(t, date("2024-01-16").Equal(*out.Checkpoint))

	// 同一天重复同步不新增快照
	_, err = p.SyncCategories(ctx, model.KindConcept)
	require.NoError(t, err)
	assert.EqualValues(t, 2, countTable(t, stores, "category_logs"))

	p.WithClock(at("2024-01-17"))
	_, err = p.SyncCategories(ctx, model.KindConcept)
	require.NoError(t, err)
	assert.EqualValues(t, 4, countTable(t, stores, "category_logs"))

	cat, err := stores.Categories.GetByCode(ctx, model.KindConcept, "BK1000")
	require.NoError(t, err)
	assert.Equal(t, "算力概念", cat.Name)
	assert.Equal(t, 30, cat.UpCount)

	logs, err := stores.Categories.ListLogs(ctx, cat.ID, date("2024-01-01"), date("2024-01-31"))
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.True(t, date("2024-01-16").Equal(logs[0].RecordDate))

	// 行业与概念互不影响
	industries, err := stores.Categories.ListActive(ctx, model.KindIndustry)
	require.NoError(t, err)
	assert.Empty(t, industries)

	n, err := stores.Categories.DeleteLogsBefore(ctx, date("2024-01-17"))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}
