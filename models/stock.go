package models

import "time"

// StockRecord is the canonical per-instrument document, keyed by the 6-digit
// stock code. Market cap fields are stored in 亿元.
type StockRecord struct {
	Code         string    `bson:"_id" json:"code"`
	Name         string    `bson:"name" json:"name"`
	Area         string    `bson:"area,omitempty" json:"area,omitempty"`
	Industry     string    `bson:"industry,omitempty" json:"industry,omitempty"`
	Market       string    `bson:"market,omitempty" json:"market,omitempty"`
	ListDate     string    `bson:"list_date,omitempty" json:"list_date,omitempty"`
	Exchange     string    `bson:"exchange" json:"exchange"` // SH, SZ or BJ, derived from the code
	TotalMV      float64   `bson:"total_mv,omitempty" json:"total_mv,omitempty"`
	CircMV       float64   `bson:"circ_mv,omitempty" json:"circ_mv,omitempty"`
	PE           float64   `bson:"pe,omitempty" json:"pe,omitempty"`
	PETTM        float64   `bson:"pe_ttm,omitempty" json:"pe_ttm,omitempty"`
	PB           float64   `bson:"pb,omitempty" json:"pb,omitempty"`
	PBMRQ        float64   `bson:"pb_mrq,omitempty" json:"pb_mrq,omitempty"`
	TurnoverRate float64   `bson:"turnover_rate,omitempty" json:"turnover_rate,omitempty"`
	VolumeRatio  float64   `bson:"volume_ratio,omitempty" json:"volume_ratio,omitempty"`
	Source       string    `bson:"source" json:"source"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updated_at"`
}

// QuoteSnapshot is the latest captured quote for one instrument, keyed by
// code. It is overwritten on every ingestion cycle (last write wins).
type QuoteSnapshot struct {
	Code      string    `bson:"_id" json:"code"`
	Close     float64   `bson:"close" json:"close"`
	Open      float64   `bson:"open" json:"open"`
	High      float64   `bson:"high" json:"high"`
	Low       float64   `bson:"low" json:"low"`
	PreClose  float64   `bson:"pre_close" json:"pre_close"`
	PctChg    float64   `bson:"pct_chg" json:"pct_chg"`
	Amount    float64   `bson:"amount" json:"amount"`
	TradeDate string    `bson:"trade_date" json:"trade_date"` // YYYYMMDD
	Source    string    `bson:"source" json:"source"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}
