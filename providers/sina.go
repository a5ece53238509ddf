package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

const (
	sinaQuoteURL = "https://hq.sinajs.cn/list="
	sinaKlineURL = "https://money.finance.sina.com.cn/quotes_service/api/json_v2.php/CN_MarketData.getKLineData"

	// hq.sinajs.cn rejects overly long list= queries
	sinaQuoteBatchSize = 100
)

// SinaProvider adapts the Sina HQ quote feed. It serves quotes and the
// latest trade date only; it cannot enumerate the universe or provide
// valuation metrics, so those calls report no data and the fallback chain
// moves on. Responses are GBK encoded.
type SinaProvider struct {
	client  *http.Client
	limiter *RateLimiter
}

// NewSinaProvider creates a Sina adapter
func NewSinaProvider(limiter *RateLimiter) *SinaProvider {
	return &SinaProvider{
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: limiter,
	}
}

func (p *SinaProvider) Name() string  { return "sina" }
func (p *SinaProvider) Priority() int { return 3 }

func (p *SinaProvider) Descriptor() Descriptor {
	return Descriptor{
		Name:         p.Name(),
		Priority:     p.Priority(),
		Capabilities: []string{CapQuotes, CapTradeDate},
	}
}

func (p *SinaProvider) IsAvailable() bool { return true }

// GetStockList is unsupported on this source
func (p *SinaProvider) GetStockList(ctx context.Context) []StockRow { return nil }

// GetDailyBasic is unsupported on this source
func (p *SinaProvider) GetDailyBasic(ctx context.Context, tradeDate string) map[string]DailyBasic {
	return nil
}

// sinaSymbol converts a 6-digit code to the sh/sz prefixed form. BSE codes
// are not served by this feed and map to "".
func sinaSymbol(code string) string {
	switch ExchangeFromCode(code) {
	case "SH":
		return "sh" + code
	case "SZ":
		return "sz" + code
	}
	return ""
}

// GetQuotes fetches quotes for the given codes in batches. An empty code
// list returns nil: this feed cannot enumerate the market.
func (p *SinaProvider) GetQuotes(ctx context.Context, codes []string) []QuoteRow {
	if len(codes) == 0 {
		return nil
	}

	symbols := make([]string, 0, len(codes))
	for _, code := range codes {
		if s := sinaSymbol(code); s != "" {
			symbols = append(symbols, s)
		}
	}

	var rows []QuoteRow
	for i := 0; i < len(symbols); i += sinaQuoteBatchSize {
		end := i + sinaQuoteBatchSize
		if end > len(symbols) {
			end = len(symbols)
		}
		batch, err := p.fetchQuoteBatch(ctx, symbols[i:end])
		if err != nil {
			log.Printf("sina quote batch failed: %v", err)
			return nil
		}
		rows = append(rows, batch...)
	}
	return rows
}

// fetchQuoteBatch fetches one hq.sinajs.cn list= batch and decodes the GBK
// payload into quote rows.
func (p *SinaProvider) fetchQuoteBatch(ctx context.Context, symbols []string) ([]QuoteRow, error) {
	if err := p.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "GET", sinaQuoteURL+strings.Join(symbols, ","), nil)
	if err != nil {
		return nil, err
	}
	// the feed rejects requests without a finance.sina.com.cn referer
	req.Header.Set("Referer", "https://finance.sina.com.cn")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	utf8Reader := transform.NewReader(resp.Body, simplifiedchinese.GBK.NewDecoder())
	body, err := io.ReadAll(utf8Reader)
	if err != nil {
		return nil, err
	}

	var rows []QuoteRow
	for _, line := range strings.Split(string(body), "\n") {
		row, ok := parseSinaQuoteLine(line)
		if ok {
			rows = append(rows, row)
		}
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no parsable quotes in response")
	}
	return rows, nil
}

// parseSinaQuoteLine parses one `var hq_str_sh600036="..."` line
func parseSinaQuoteLine(line string) (QuoteRow, bool) {
	const marker = "var hq_str_"
	start := strings.Index(line, marker)
	if start < 0 {
		return QuoteRow{}, false
	}
	rest := line[start+len(marker):]

	eq := strings.IndexByte(rest, '=')
	if eq < 8 {
		return QuoteRow{}, false
	}
	symbol := rest[:eq]
	code := symbol[2:] // strip sh/sz prefix

	open, close := strings.IndexByte(rest, '"'), strings.LastIndexByte(rest, '"')
	if open < 0 || close <= open {
		return QuoteRow{}, false
	}
	parts := strings.Split(rest[open+1:close], ",")
	if len(parts) < 32 {
		// suspended or delisted symbols return a short payload
		return QuoteRow{}, false
	}

	openPx, _ := strconv.ParseFloat(parts[1], 64)
	preClose, _ := strconv.ParseFloat(parts[2], 64)
	price, _ := strconv.ParseFloat(parts[3], 64)
	high, _ := strconv.ParseFloat(parts[4], 64)
	low, _ := strconv.ParseFloat(parts[5], 64)
	amount, _ := strconv.ParseFloat(parts[9], 64)

	if price == 0 {
		return QuoteRow{}, false
	}
	pctChg := 0.0
	if preClose > 0 {
		pctChg = (price - preClose) / preClose * 100
	}

	return QuoteRow{
		Code:      code,
		Close:     price,
		Open:      openPx,
		High:      high,
		Low:       low,
		PreClose:  preClose,
		PctChg:    pctChg,
		Amount:    amount,
		TradeDate: strings.ReplaceAll(parts[30], "-", ""),
	}, true
}

// FindLatestTradeDate reads the most recent daily bar of the SSE composite
// index (scale=240 is daily).
func (p *SinaProvider) FindLatestTradeDate(ctx context.Context) string {
	if err := p.limiter.Acquire(ctx); err != nil {
		return ""
	}

	url := fmt.Sprintf("%s?symbol=sh000001&scale=240&ma=no&datalen=1", sinaKlineURL)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return ""
	}

	resp, err := p.client.Do(req)
	if err != nil {
		log.Printf("sina kline probe failed: %v", err)
		return ""
	}
	defer resp.Body.Close()

	var bars []struct {
		Day string `json:"day"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&bars); err != nil || len(bars) == 0 {
		log.Printf("sina kline probe returned no data")
		return ""
	}

	date := strings.ReplaceAll(bars[len(bars)-1].Day, "-", "")
	if len(date) < 8 {
		return ""
	}
	return date[:8]
}
