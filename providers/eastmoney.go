package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	eastmoneyListURL  = "https://push2.eastmoney.com/api/qt/clist/get"
	eastmoneyKlineURL = "https://push2his.eastmoney.com/api/qt/stock/kline/get"

	// A-share equities on SSE, SZSE and BSE
	eastmoneyEquityFilter = "m:0+t:6,m:0+t:80,m:1+t:2,m:1+t:23,m:0+t:81+s:2048"

	eastmoneyPageSize = 200
)

// EastmoneyProvider adapts the Eastmoney push2 endpoints. No session or
// token, but valuations are spot values for the current session only, so
// GetDailyBasic ignores dates older than the latest session.
type EastmoneyProvider struct {
	client  *http.Client
	limiter *RateLimiter

	mu             sync.Mutex
	cachedDate     string
	cachedDateTime time.Time
}

// NewEastmoneyProvider creates an Eastmoney adapter
func NewEastmoneyProvider(limiter *RateLimiter) *EastmoneyProvider {
	return &EastmoneyProvider{
		client:  &http.Client{Timeout: 15 * time.Second},
		limiter: limiter,
	}
}

func (p *EastmoneyProvider) Name() string  { return "eastmoney" }
func (p *EastmoneyProvider) Priority() int { return 2 }

func (p *EastmoneyProvider) Descriptor() Descriptor {
	return Descriptor{
		Name:         p.Name(),
		Priority:     p.Priority(),
		Capabilities: []string{CapStockList, CapDailyBasic, CapQuotes, CapTradeDate},
	}
}

// IsAvailable always reports true: the endpoints are public and the only
// failure mode is at call time, which the fallback chain already handles.
func (p *EastmoneyProvider) IsAvailable() bool { return true }

// eastmoneyListResponse is the clist envelope. Field values arrive as
// numbers, or as the string "-" for suspended instruments, hence interface{}.
type eastmoneyListResponse struct {
	Data *struct {
		Total int                      `json:"total"`
		Diff  []map[string]interface{} `json:"diff"`
	} `json:"data"`
}

func emFloat(row map[string]interface{}, field string) float64 {
	v, ok := row[field]
	if !ok {
		return 0
	}
	f, _ := v.(float64)
	return f
}

func emStr(row map[string]interface{}, field string) string {
	v, ok := row[field]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// fetchPage fetches one clist page with the given field list
func (p *EastmoneyProvider) fetchPage(ctx context.Context, page int, fields string) ([]map[string]interface{}, error) {
	if err := p.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s?pn=%d&pz=%d&po=0&fltt=2&fid=f12&fs=%s&fields=%s",
		eastmoneyListURL, page, eastmoneyPageSize, eastmoneyEquityFilter, fields)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Referer", "https://quote.eastmoney.com/")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var result eastmoneyListResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}
	if result.Data == nil {
		return nil, nil
	}
	return result.Data.Diff, nil
}

// fetchAllPages walks clist pagination until a short page
func (p *EastmoneyProvider) fetchAllPages(ctx context.Context, fields string) []map[string]interface{} {
	var all []map[string]interface{}
	for page := 1; ; page++ {
		rows, err := p.fetchPage(ctx, page, fields)
		if err != nil {
			log.Printf("eastmoney clist page %d failed: %v", page, err)
			return nil
		}
		if len(rows) == 0 {
			break
		}
		all = append(all, rows...)
		if len(rows) < eastmoneyPageSize {
			break
		}
	}
	return all
}

// GetStockList fetches the A-share universe. Area and industry are not
// exposed on this endpoint and stay empty.
func (p *EastmoneyProvider) GetStockList(ctx context.Context) []StockRow {
	raw := p.fetchAllPages(ctx, "f12,f14")
	if len(raw) == 0 {
		return nil
	}

	rows := make([]StockRow, 0, len(raw))
	for _, item := range raw {
		code := emStr(item, "f12")
		if len(code) != 6 {
			continue
		}
		rows = append(rows, StockRow{
			Code:     code,
			Name:     emStr(item, "f14"),
			Exchange: ExchangeFromCode(code),
		})
	}
	return rows
}

// GetDailyBasic fetches spot valuation metrics. Market caps arrive in 元
// and are converted to 万元 to match the normalized unit. Only the latest
// session is served; a request for an older trade date returns nil.
func (p *EastmoneyProvider) GetDailyBasic(ctx context.Context, tradeDate string) map[string]DailyBasic {
	if latest := p.FindLatestTradeDate(ctx); latest != "" && tradeDate != latest {
		log.Printf("eastmoney cannot serve daily basics for %s (latest session is %s)", tradeDate, latest)
		return nil
	}

	raw := p.fetchAllPages(ctx, "f8,f9,f10,f12,f20,f21,f23,f115")
	if len(raw) == 0 {
		return nil
	}

	basics := make(map[string]DailyBasic, len(raw))
	for _, item := range raw {
		code := emStr(item, "f12")
		if len(code) != 6 {
			continue
		}
		basics[code] = DailyBasic{
			Code:         code,
			TotalMV:      emFloat(item, "f20") / 1e4,
			CircMV:       emFloat(item, "f21") / 1e4,
			PE:           emFloat(item, "f9"),
			PETTM:        emFloat(item, "f115"),
			PB:           emFloat(item, "f23"),
			PBMRQ:        emFloat(item, "f23"), // f23 is computed against the latest quarterly equity
			TurnoverRate: emFloat(item, "f8"),
			VolumeRatio:  emFloat(item, "f10"),
		}
	}
	return basics
}

// GetQuotes fetches spot quotes for the whole market; codes are ignored
func (p *EastmoneyProvider) GetQuotes(ctx context.Context, codes []string) []QuoteRow {
	tradeDate := p.FindLatestTradeDate(ctx)
	if tradeDate == "" {
		return nil
	}

	raw := p.fetchAllPages(ctx, "f2,f3,f6,f12,f15,f16,f17,f18")
	if len(raw) == 0 {
		return nil
	}

	rows := make([]QuoteRow, 0, len(raw))
	for _, item := range raw {
		code := emStr(item, "f12")
		if len(code) != 6 {
			continue
		}
		closePx := emFloat(item, "f2")
		if closePx == 0 {
			// suspended, no tradable quote
			continue
		}
		rows = append(rows, QuoteRow{
			Code:      code,
			Close:     closePx,
			PctChg:    emFloat(item, "f3"),
			Amount:    emFloat(item, "f6"),
			High:      emFloat(item, "f15"),
			Low:       emFloat(item, "f16"),
			Open:      emFloat(item, "f17"),
			PreClose:  emFloat(item, "f18"),
			TradeDate: tradeDate,
		})
	}
	return rows
}

// FindLatestTradeDate reads the last daily bar of the SSE composite index.
// The result is cached briefly because quote fetches call this on every
// cycle.
func (p *EastmoneyProvider) FindLatestTradeDate(ctx context.Context) string {
	p.mu.Lock()
	if p.cachedDate != "" && time.Since(p.cachedDateTime) < 10*time.Minute {
		date := p.cachedDate
		p.mu.Unlock()
		return date
	}
	p.mu.Unlock()

	if err := p.limiter.Acquire(ctx); err != nil {
		return ""
	}

	url := fmt.Sprintf("%s?secid=1.000001&klt=101&fqt=1&lmt=%d&end=20500101&fields1=f1&fields2=f51",
		eastmoneyKlineURL, maxTradeDateProbeDays)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("Referer", "https://quote.eastmoney.com/")

	resp, err := p.client.Do(req)
	if err != nil {
		log.Printf("eastmoney kline probe failed: %v", err)
		return ""
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ""
	}

	var result struct {
		Data *struct {
			Klines []string `json:"klines"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil || result.Data == nil || len(result.Data.Klines) == 0 {
		log.Printf("eastmoney kline probe returned no data")
		return ""
	}

	last := result.Data.Klines[len(result.Data.Klines)-1]
	if i := strings.IndexByte(last, ','); i >= 0 {
		last = last[:i]
	}
	date := strings.ReplaceAll(last, "-", "")
	if len(date) != 8 {
		return ""
	}

	p.mu.Lock()
	p.cachedDate = date
	p.cachedDateTime = time.Now()
	p.mu.Unlock()
	return date
}
