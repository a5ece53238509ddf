package providers

import "context"

// Provider capabilities
const (
	CapStockList  = "stock_list"
	CapDailyBasic = "daily_basic"
	CapQuotes     = "quotes"
	CapTradeDate  = "trade_date"
)

// Descriptor describes one data provider. Loaded once at startup and
// immutable afterwards; ordering by Priority is total and stable.
type Descriptor struct {
	Name         string   `json:"name"`
	Priority     int      `json:"priority"` // lower = preferred
	Capabilities []string `json:"capabilities"`
}

// StockRow is a normalized instrument row from a provider's listing API.
type StockRow struct {
	Code     string // 6-digit code
	Name     string
	Area     string
	Industry string
	Market   string
	ListDate string // YYYYMMDD
	Exchange string // SH/SZ/BJ hint from the source, may be empty
}

// DailyBasic carries per-code valuation and liquidity metrics for one trade
// date. Market cap fields are in 万元 regardless of source; adapters convert.
type DailyBasic struct {
	Code         string
	TotalMV      float64 // 万元
	CircMV       float64 // 万元
	PE           float64
	PETTM        float64
	PB           float64
	PBMRQ        float64 // against the latest reported quarterly equity
	TurnoverRate float64
	VolumeRatio  float64
}

// QuoteRow is a normalized near-real-time quote.
type QuoteRow struct {
	Code      string
	Close     float64
	Open      float64
	High      float64
	Low       float64
	PreClose  float64
	PctChg    float64
	Amount    float64
	TradeDate string // YYYYMMDD
}

// DataProvider is the common contract every market-data source adapter
// implements. Adapters own their session lifecycle and swallow all internal
// failures: a nil or empty return signals "no data", never an error the
// caller has to handle. Every outbound call is rate limited.
type DataProvider interface {
	Name() string
	Priority() int
	Descriptor() Descriptor

	// IsAvailable is a cheap probe; it must not panic or block on network I/O.
	IsAvailable() bool

	// GetStockList returns the instrument universe, or nil on failure.
	GetStockList(ctx context.Context) []StockRow

	// GetDailyBasic returns valuation metrics keyed by code for the given
	// trade date (YYYYMMDD), or nil on failure or when unsupported.
	GetDailyBasic(ctx context.Context, tradeDate string) map[string]DailyBasic

	// GetQuotes returns quotes for the given codes (some sources ignore the
	// argument and return the whole market), or nil on failure.
	GetQuotes(ctx context.Context, codes []string) []QuoteRow

	// FindLatestTradeDate probes backward a bounded number of days until a
	// trading day with data is found. Returns "" when the probe is exhausted.
	FindLatestTradeDate(ctx context.Context) string
}

// maxTradeDateProbeDays bounds how far back FindLatestTradeDate probes.
const maxTradeDateProbeDays = 10

// ExchangeFromCode derives the exchange from a 6-digit code prefix.
func ExchangeFromCode(code string) string {
	if len(code) != 6 {
		return ""
	}
	switch code[0] {
	case '6', '9':
		return "SH"
	case '0', '3':
		return "SZ"
	case '4', '8':
		return "BJ"
	}
	return ""
}
