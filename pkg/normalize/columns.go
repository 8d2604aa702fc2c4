package normalize

import (
	"time"

	"github.com/shopspring/decimal"
)

func src(names ...string) []Source {
	out := make([]Source, len(names))
	for i, n := range names {
		out[i] = Source{Name: n}
	}
	return out
}

// KlineColumns stock_zh_a_hist
var KlineColumns = ColumnMap{
	Endpoint: "stock_zh_a_hist",
	Columns: []Column{
		{Field: "trade_date", Sources: src("日期", "date"), Type: Date, Key: true},
		{Field: "open", Sources: src("开盘", "open"), Type: Decimal},
		{Field: "close", Sources: src("收盘", "close"), Type: Decimal},
		{Field: "high", Sources: src("最高", "high"), Type: Decimal},
		{Field: "low", Sources: src("最低", "low"), Type: Decimal},
		{Field: "volume", Sources: src("成交量", "volume"), Type: Decimal},
		{Field: "amount", Sources: src("成交额", "amount"), Type: Decimal},
		{Field: "amplitude", Sources: src("振幅"), Type: Decimal},
		{Field: "change_percent", Sources: src("涨跌幅"), Type: Decimal},
		{Field: "change_amount", Sources: src("涨跌额"), Type: Decimal},
		{Field: "turnover_rate", Sources: src("换手率", "turnover"), Type: Decimal},
	},
}

// StockColumns stock_{sh,sz,bj}_a_spot_em
var StockColumns = ColumnMap{
	Endpoint: "stock_a_spot_em",
	Columns: []Column{
		{Field: "code", Sources: src("代码"), Type: String, Key: true, Pad: 6},
		{Field: "name", Sources: src("名称"), Type: String},
		{Field: "latest_price", Sources: src("最新价"), Type: Decimal},
		{Field: "change_percent", Sources: src("涨跌幅"), Type: Decimal},
		{Field: "change_amount", Sources: src("涨跌额"), Type: Decimal},
		{Field: "volume", Sources: src("成交量"), Type: Decimal},
		{Field: "amount", Sources: src("成交额"), Type: Decimal},
		{Field: "amplitude", Sources: src("振幅"), Type: Decimal},
		{Field: "turnover_rate", Sources: src("换手率"), Type: Decimal},
		{Field: "pe_ratio", Sources: src("市盈率-动态"), Type: Decimal},
		{Field: "pb_ratio", Sources: src("市净率"), Type: Decimal},
		{Field: "total_market_cap", Sources: []Source{{Name: "总市值"}, {Name: "总市值(亿)", Exp: 8}}, Type: Decimal},
		{Field: "circulating_market_cap", Sources: []Source{{Name: "流通市值"}, {Name: "流通市值(亿)", Exp: 8}}, Type: Decimal},
	},
}

// CategoryColumns stock_board_{industry,concept}_name_em
var CategoryColumns = ColumnMap{
	Endpoint: "stock_board_name_em",
	Columns: []Column{
		{Field: "code", Sources: src("板块代码"), Type: String, Key: true},
		{Field: "name", Sources: src("板块名称"), Type: String},
		{Field: "sort", Sources: src("排名"), Type: Int},
		{Field: "latest_price", Sources: src("最新价"), Type: Decimal},
		{Field: "change_amount", Sources: src("涨跌额"), Type: Decimal},
		{Field: "change_percent", Sources: src("涨跌幅"), Type: Decimal},
		{Field: "total_market_cap", Sources: []Source{{Name: "总市值"}, {Name: "总市值(亿)", Exp: 8}}, Type: Decimal},
		{Field: "turnover_rate", Sources: src("换手率"), Type: Decimal},
		{Field: "up_count", Sources: src("上涨家数"), Type: Int},
		{Field: "down_count", Sources: src("下跌家数"), Type: Int},
		{Field: "leading_stock", Sources: src("领涨股票"), Type: String},
		{Field: "leading_stock_change", Sources: src("领涨股票-涨跌幅"), Type: Decimal},
	},
}

// MemberColumns stock_board_{industry,concept}_cons_em
var MemberColumns = ColumnMap{
	Endpoint: "stock_board_cons_em",
	Columns: []Column{
		{Field: "code", Sources: src("代码"), Type: String, Key: true, Pad: 6},
	},
}

// KlineRecord 日K线记录
type KlineRecord struct {
	TradeDate     time.Time
	Open          decimal.NullDecimal
	High          decimal.NullDecimal
	Low           decimal.NullDecimal
	Close         decimal.NullDecimal
	Volume        decimal.NullDecimal
	Amount        decimal.NullDecimal
	Amplitude     decimal.NullDecimal
	ChangePercent decimal.NullDecimal
	ChangeAmount  decimal.NullDecimal
	TurnoverRate  decimal.NullDecimal
}

// StockRecord 股票列表记录
type StockRecord struct {
	Code                 string
	Name                 string
	LatestPrice          decimal.NullDecimal
	ChangePercent        decimal.NullDecimal
	ChangeAmount         decimal.NullDecimal
	Volume               decimal.NullDecimal
	Amount               decimal.NullDecimal
	Amplitude            decimal.NullDecimal
	TurnoverRate         decimal.NullDecimal
	PERatio              decimal.NullDecimal
	PBRatio              decimal.NullDecimal
	TotalMarketCap       decimal.NullDecimal
	CirculatingMarketCap decimal.NullDecimal
}

// CategoryRecord 板块列表记录
type CategoryRecord struct {
	Code               string
	Name               string
	Sort               int
	LatestPrice        decimal.NullDecimal
	ChangeAmount       decimal.NullDecimal
	ChangePercent      decimal.NullDecimal
	TotalMarketCap     decimal.NullDecimal
	TurnoverRate       decimal.NullDecimal
	UpCount            int
	DownCount          int
	LeadingStock       string
	LeadingStockChange decimal.NullDecimal
}

// Klines 规范化K线
func (n *Normalizer) Klines(rows []Row) []KlineRecord {
	recs := n.Normalize(KlineColumns, rows)
	out := make([]KlineRecord, 0, len(recs))
	for _, r := range recs {
		d, _ := r.Date("trade_date")
		out = append(out, KlineRecord{
			TradeDate:     d,
			Open:          r.Decimal("open"),
			High:          r.Decimal("high"),
			Low:           r.Decimal("low"),
			Close:         r.Decimal("close"),
			Volume:        r.Decimal("volume"),
			Amount:        r.Decimal("amount"),
			Amplitude:     r.Decimal("amplitude"),
			ChangePercent: r.Decimal("change_percent"),
			ChangeAmount:  r.Decimal("change_amount"),
			TurnoverRate:  r.Decimal("turnover_rate"),
		})
	}
	return out
}

// Stocks 规范化股票列表
func (n *Normalizer) Stocks(rows []Row) []StockRecord {
	recs := n.Normalize(StockColumns, rows)
	out := make([]StockRecord, 0, len(recs))
	for _, r := range recs {
		out = append(out, StockRecord{
			Code:                 r.String("code"),
			Name:                 r.String("name"),
			LatestPrice:          r.Decimal("latest_price"),
			ChangePercent:        r.Decimal("change_percent"),
			ChangeAmount:         r.Decimal("change_amount"),
			Volume:               r.Decimal("volume"),
			Amount:               r.Decimal("amount"),
			Amplitude:            r.Decimal("amplitude"),
			TurnoverRate:         r.Decimal("turnover_rate"),
			PERatio:              r.Decimal("pe_ratio"),
			PBRatio:              r.Decimal("pb_ratio"),
			TotalMarketCap:       r.Decimal("total_market_cap"),
			CirculatingMarketCap: r.Decimal("circulating_market_cap"),
		})
	}
	return out
}

// Categories 规范化板块列表
func (n *Normalizer) Categories(rows []Row) []CategoryRecord {
	recs := n.Normalize(CategoryColumns, rows)
	out := make([]CategoryRecord, 0, len(recs))
	for _, r := range recs {
		out = append(out, CategoryRecord{
			Code:               r.String("code"),
			Name:               r.String("name"),
			Sort:               r.Int("sort"),
			LatestPrice:        r.Decimal("latest_price"),
			ChangeAmount:       r.Decimal("change_amount"),
			ChangePercent:      r.Decimal("change_percent"),
			TotalMarketCap:     r.Decimal("total_market_cap"),
			TurnoverRate:       r.Decimal("turnover_rate"),
			UpCount:            r.Int("up_count"),
			DownCount:          r.Int("down_count"),
			LeadingStock:       r.String("leading_stock"),
			LeadingStockChange: r.Decimal("leading_stock_change"),
		})
	}
	return out
}

// Members 规范化成分股代码，去重后保持上游顺序
func (n *Normalizer) Members(rows []Row) []string {
	recs := n.Normalize(MemberColumns, rows)
	seen := make(map[string]bool, len(recs))
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		code := r.String("code")
		if seen[code] {
			continue
		}
		seen[code] = true
		out = append(out, code)
	}
	return out
}
