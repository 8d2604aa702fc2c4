package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// yi 亿，市值只在展示层换算
var yi = decimal.New(1, 8)

// KlineDTO 日K线对外结构
type KlineDTO struct {
	StockID       uint    `json:"stock_id"`
	TradeDate     string  `json:"trade_date"`
	Open          *string `json:"open"`
	High          *string `json:"high"`
	Low           *string `json:"low"`
	Close         *string `json:"close"`
	Volume        *string `json:"volume"`
	Amount        *string `json:"amount"`
	Amplitude     *string `json:"amplitude"`
	ChangePercent *string `json:"change_percent"`
	ChangeAmount  *string `json:"change_amount"`
	TurnoverRate  *string `json:"turnover_rate"`
}

// StockDTO 股票对外结构，市值单位为亿元
type StockDTO struct {
	ID                   uint    `json:"id"`
	Code                 string  `json:"code"`
	Name                 string  `json:"name"`
	Market               string  `json:"market"`
	Status               int     `json:"status"`
	LatestPrice          *string `json:"latest_price"`
	ChangePercent        *string `json:"change_percent"`
	TurnoverRate         *string `json:"turnover_rate"`
	TotalMarketCap       *string `json:"total_market_cap"`
	CirculatingMarketCap *string `json:"circulating_market_cap"`
	LastSyncAt           *string `json:"last_sync_at"`
}

// JobRecordDTO 任务对外结构
type JobRecordDTO struct {
	ID          string  `json:"id"`
	Kind        string  `json:"kind"`
	EntityID    uint    `json:"entity_id"`
	EntityCode  string  `json:"entity_code"`
	State       string  `json:"state"`
	Attempts    int     `json:"attempts"`
	MaxAttempts int     `json:"max_attempts"`
	LastError   string  `json:"last_error,omitempty"`
	RowsWritten int     `json:"rows_written"`
	Checkpoint  *string `json:"checkpoint"`
	StartedAt   *string `json:"started_at"`
	FinishedAt  *string `json:"finished_at"`
}

// JobSetProgress 任务集进度
type JobSetProgress struct {
	JobSetID  string           `json:"job_set_id"`
	Kind      string           `json:"kind"`
	Total     int              `json:"total_jobs"`
	Cancelled bool             `json:"cancelled"`
	States    map[JobState]int `json:"states"`
	Finished  int              `json:"finished"` // 已进入终态的任务数
	Done      bool             `json:"done"`
}

func decimalString(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

func scaledString(d decimal.NullDecimal, unit decimal.Decimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.Div(unit).StringFixed(4)
	return &s
}

func timeString(t *time.Time, layout string) *string {
	if t == nil {
		return nil
	}
	s := t.Format(layout)
	return &s
}

// ToKlineDTO 投影K线
func ToKlineDTO(k *KlineDaily) KlineDTO {
	return KlineDTO{
		StockID:       k.StockID,
		TradeDate:     k.TradeDate.Format(dateLayout),
		Open:          decimalString(k.Open),
		High:          decimalString(k.High),
		Low:           decimalString(k.Low),
		Close:         decimalString(k.Close),
		Volume:        decimalString(k.Volume),
		Amount:        decimalString(k.Amount),
		Amplitude:     decimalString(k.Amplitude),
		ChangePercent: decimalString(k.ChangePercent),
		ChangeAmount:  decimalString(k.ChangeAmount),
		TurnoverRate:  decimalString(k.TurnoverRate),
	}
}

// ToStockDTO 投影股票，市值换算为亿元
func ToStockDTO(s *Stock) StockDTO {
	return StockDTO{
		ID:                   s.ID,
		Code:                 s.Code,
		Name:                 s.Name,
		Market:               s.Market.String(),
		Status:               s.Status,
		LatestPrice:          decimalString(s.LatestPrice),
		ChangePercent:        decimalString(s.ChangePercent),
		TurnoverRate:         decimalString(s.TurnoverRate),
		TotalMarketCap:       scaledString(s.TotalMarketCap, yi),
		CirculatingMarketCap: scaledString(s.CirculatingMarketCap, yi),
		LastSyncAt:           timeString(s.LastSyncAt, time.RFC3339),
	}
}

// ToJobRecordDTO 投影任务记录
func ToJobRecordDTO(j *JobRecord) JobRecordDTO {
	return JobRecordDTO{
		ID:          j.ID,
		Kind:        j.Kind,
		EntityID:    j.EntityID,
		EntityCode:  j.EntityCode,
		State:       string(j.State),
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		LastError:   j.LastError,
		RowsWritten: j.RowsWritten,
		Checkpoint:  timeString(j.Checkpoint, dateLayout),
		StartedAt:   timeString(j.StartedAt, time.RFC3339),
		FinishedAt:  timeString(j.FinishedAt, time.RFC3339),
	}
}
