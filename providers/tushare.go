package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// TushareAPIURL is the endpoint for the Tushare Pro HTTP API
const TushareAPIURL = "https://api.tushare.pro"

// TushareProvider adapts the Tushare Pro API. It is the preferred source:
// its stock_basic and daily_basic endpoints carry the full reference and
// valuation field set. Requires an API token.
type TushareProvider struct {
	token   string
	client  *http.Client
	limiter *RateLimiter
}

// NewTushareProvider creates a Tushare adapter
func NewTushareProvider(token string, limiter *RateLimiter) *TushareProvider {
	return &TushareProvider{
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: limiter,
	}
}

func (p *TushareProvider) Name() string  { return "tushare" }
func (p *TushareProvider) Priority() int { return 1 }

func (p *TushareProvider) Descriptor() Descriptor {
	return Descriptor{
		Name:         p.Name(),
		Priority:     p.Priority(),
		Capabilities: []string{CapStockList, CapDailyBasic, CapQuotes, CapTradeDate},
	}
}

// IsAvailable reports whether the adapter is usable. The API is token
// gated, so a missing token means every call would be rejected.
func (p *TushareProvider) IsAvailable() bool {
	return p.token != ""
}

// tushareRequest is the request envelope for every Tushare Pro call
type tushareRequest struct {
	APIName string            `json:"api_name"`
	Token   string            `json:"token"`
	Params  map[string]string `json:"params,omitempty"`
	Fields  string            `json:"fields,omitempty"`
}

// tushareResponse is the common response envelope: a code/msg pair plus a
// column-oriented table (field names and row arrays).
type tushareResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		Fields []string        `json:"fields"`
		Items  [][]interface{} `json:"items"`
	} `json:"data"`
}

// call performs one Tushare Pro API call and returns the decoded table
func (p *TushareProvider) call(ctx context.Context, apiName string, params map[string]string, fields string) (*tushareResponse, error) {
	if err := p.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(tushareRequest{
		APIName: apiName,
		Token:   p.token,
		Params:  params,
		Fields:  fields,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", TushareAPIURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tushare %s request failed: %w", apiName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var result tushareResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse %s response: %w", apiName, err)
	}
	if result.Code != 0 {
		return nil, fmt.Errorf("tushare %s returned code %d: %s", apiName, result.Code, result.Msg)
	}
	return &result, nil
}

// fieldIndex maps column names to their positions in the items rows
func fieldIndex(fields []string) map[string]int {
	idx := make(map[string]int, len(fields))
	for i, f := range fields {
		idx[f] = i
	}
	return idx
}

func itemStr(row []interface{}, idx map[string]int, field string) string {
	i, ok := idx[field]
	if !ok || i >= len(row) {
		return ""
	}
	s, _ := row[i].(string)
	return s
}

func itemFloat(row []interface{}, idx map[string]int, field string) float64 {
	i, ok := idx[field]
	if !ok || i >= len(row) {
		return 0
	}
	f, _ := row[i].(float64)
	return f
}

// GetStockList fetches the listed A-share universe
func (p *TushareProvider) GetStockList(ctx context.Context) []StockRow {
	resp, err := p.call(ctx, "stock_basic",
		map[string]string{"list_status": "L"},
		"ts_code,symbol,name,area,industry,market,list_date")
	if err != nil {
		log.Printf("tushare stock_basic failed: %v", err)
		return nil
	}

	idx := fieldIndex(resp.Data.Fields)
	rows := make([]StockRow, 0, len(resp.Data.Items))
	for _, item := range resp.Data.Items {
		code := itemStr(item, idx, "symbol")
		if len(code) != 6 {
			// funds, indices and other non-equity instruments
			continue
		}
		tsCode := itemStr(item, idx, "ts_code")
		exchange := ""
		if i := strings.IndexByte(tsCode, '.'); i >= 0 {
			exchange = tsCode[i+1:]
		}
		rows = append(rows, StockRow{
			Code:     code,
			Name:     itemStr(item, idx, "name"),
			Area:     itemStr(item, idx, "area"),
			Industry: itemStr(item, idx, "industry"),
			Market:   itemStr(item, idx, "market"),
			ListDate: itemStr(item, idx, "list_date"),
			Exchange: exchange,
		})
	}
	return rows
}

// GetDailyBasic fetches valuation metrics for one trade date. Tushare
// reports market caps in 万元, which is the normalized unit.
func (p *TushareProvider) GetDailyBasic(ctx context.Context, tradeDate string) map[string]DailyBasic {
	resp, err := p.call(ctx, "daily_basic",
		map[string]string{"trade_date": tradeDate},
		"ts_code,turnover_rate,volume_ratio,pe,pe_ttm,pb,total_mv,circ_mv")
	if err != nil {
		log.Printf("tushare daily_basic failed for %s: %v", tradeDate, err)
		return nil
	}
	if len(resp.Data.Items) == 0 {
		return nil
	}

	idx := fieldIndex(resp.Data.Fields)
	basics := make(map[string]DailyBasic, len(resp.Data.Items))
	for _, item := range resp.Data.Items {
		tsCode := itemStr(item, idx, "ts_code")
		if i := strings.IndexByte(tsCode, '.'); i >= 0 {
			tsCode = tsCode[:i]
		}
		if len(tsCode) != 6 {
			continue
		}
		basics[tsCode] = DailyBasic{
			Code:         tsCode,
			TotalMV:      itemFloat(item, idx, "total_mv"),
			CircMV:       itemFloat(item, idx, "circ_mv"),
			PE:           itemFloat(item, idx, "pe"),
			PETTM:        itemFloat(item, idx, "pe_ttm"),
			PB:           itemFloat(item, idx, "pb"),
			TurnoverRate: itemFloat(item, idx, "turnover_rate"),
			VolumeRatio:  itemFloat(item, idx, "volume_ratio"),
		}
	}
	return basics
}

// GetQuotes fetches end-of-day bars for the latest trade date. Tushare has
// no intraday endpoint on the standard tiers, so these quotes are the
// last-session snapshot; the codes argument is ignored (whole market).
func (p *TushareProvider) GetQuotes(ctx context.Context, codes []string) []QuoteRow {
	tradeDate := p.FindLatestTradeDate(ctx)
	if tradeDate == "" {
		return nil
	}

	resp, err := p.call(ctx, "daily",
		map[string]string{"trade_date": tradeDate},
		"ts_code,trade_date,open,high,low,close,pre_close,pct_chg,amount")
	if err != nil {
		log.Printf("tushare daily failed for %s: %v", tradeDate, err)
		return nil
	}

	idx := fieldIndex(resp.Data.Fields)
	rows := make([]QuoteRow, 0, len(resp.Data.Items))
	for _, item := range resp.Data.Items {
		tsCode := itemStr(item, idx, "ts_code")
		if i := strings.IndexByte(tsCode, '.'); i >= 0 {
			tsCode = tsCode[:i]
		}
		if len(tsCode) != 6 {
			continue
		}
		rows = append(rows, QuoteRow{
			Code:      tsCode,
			Open:      itemFloat(item, idx, "open"),
			High:      itemFloat(item, idx, "high"),
			Low:       itemFloat(item, idx, "low"),
			Close:     itemFloat(item, idx, "close"),
			PreClose:  itemFloat(item, idx, "pre_close"),
			PctChg:    itemFloat(item, idx, "pct_chg"),
			Amount:    itemFloat(item, idx, "amount"),
			TradeDate: itemStr(item, idx, "trade_date"),
		})
	}
	return rows
}

// FindLatestTradeDate probes backward day by day until daily data exists
func (p *TushareProvider) FindLatestTradeDate(ctx context.Context) string {
	day := time.Now()
	for i := 0; i < maxTradeDateProbeDays; i++ {
		date := day.Format("20060102")
		if day.Weekday() != time.Saturday && day.Weekday() != time.Sunday {
			resp, err := p.call(ctx, "daily",
				map[string]string{"trade_date": date, "ts_code": "000001.SZ"},
				"ts_code,trade_date")
			if err != nil {
				log.Printf("tushare trade date probe failed for %s: %v", date, err)
			} else if len(resp.Data.Items) > 0 {
				return date
			}
		}
		day = day.AddDate(0, 0, -1)
	}
	return ""
}
