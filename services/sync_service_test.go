package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock_sync_backend/config"
	"stock_sync_backend/models"
	"stock_sync_backend/providers"
)

// stubProvider feeds canned data through a real provider manager.
type stubProvider struct {
	name      string
	priority  int
	stocks    []providers.StockRow
	daily     map[string]providers.DailyBasic
	quotes    []providers.QuoteRow
	tradeDate string

	// optional gate to hold GetStockList open, for concurrency tests
	block chan struct{}
}

func (p *stubProvider) Name() string      { return p.name }
func (p *stubProvider) Priority() int     { return p.priority }
func (p *stubProvider) IsAvailable() bool { return true }

func (p *stubProvider) Descriptor() providers.Descriptor {
	return providers.Descriptor{Name: p.name, Priority: p.priority}
}

func (p *stubProvider) GetStockList(ctx context.Context) []providers.StockRow {
	if p.block != nil {
		<-p.block
	}
	return p.stocks
}

func (p *stubProvider) GetDailyBasic(ctx context.Context, tradeDate string) map[string]providers.DailyBasic {
	return p.daily
}

func (p *stubProvider) GetQuotes(ctx context.Context, codes []string) []providers.QuoteRow {
	return p.quotes
}

func (p *stubProvider) FindLatestTradeDate(ctx context.Context) string { return p.tradeDate }

// fakeStore is an in-memory SyncStore and QuoteStore. Setting the
// failBatches fields makes the corresponding upsert report that many failed
// batches while still writing the rest, mimicking partial bulk failures.
type fakeStore struct {
	mu          sync.Mutex
	stocks      map[string]models.StockRecord
	quotes      map[string]models.QuoteSnapshot
	runs        map[string]models.SyncRun
	upsertCalls int
	quoteCalls  int

	failStockBatches int
	failQuoteBatches int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		stocks: make(map[string]models.StockRecord),
		quotes: make(map[string]models.QuoteSnapshot),
		runs:   make(map[string]models.SyncRun),
	}
}

func (f *fakeStore) BulkUpsertStocks(ctx context.Context, records []models.StockRecord) (int64, int64, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertCalls++
	var inserted, updated int64
	for _, r := range records {
		if _, ok := f.stocks[r.Code]; ok {
			updated++
		} else {
			inserted++
		}
		f.stocks[r.Code] = r
	}
	if f.failStockBatches > 0 {
		return inserted, updated, f.failStockBatches, errors.New("bulk write failed")
	}
	return inserted, updated, 0, nil
}

func (f *fakeStore) BulkUpsertQuotes(ctx context.Context, snapshots []models.QuoteSnapshot) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quoteCalls++
	for _, s := range snapshots {
		f.quotes[s.Code] = s
	}
	if f.failQuoteBatches > 0 {
		return f.failQuoteBatches, errors.New("bulk write failed")
	}
	return 0, nil
}

func (f *fakeStore) StockCodes(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	codes := make([]string, 0, len(f.stocks))
	for code := range f.stocks {
		codes = append(codes, code)
	}
	return codes, nil
}

func (f *fakeStore) CountQuotes(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.quotes)), nil
}

func (f *fakeStore) LatestQuoteTradeDate(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	latest := ""
	for _, q := range f.quotes {
		if q.TradeDate > latest {
			latest = q.TradeDate
		}
	}
	return latest, nil
}

func (f *fakeStore) SaveSyncRun(ctx context.Context, run *models.SyncRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[run.JobKey] = *run
	return nil
}

func (f *fakeStore) GetSyncRun(ctx context.Context, jobKey string) (*models.SyncRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if run, ok := f.runs[jobKey]; ok {
		copied := run
		return &copied, nil
	}
	return nil, nil
}

func testConfig() *config.Config {
	return &config.Config{
		MarketTimezone:   "Asia/Shanghai",
		QuotePollSeconds: 30,
	}
}

func newTestManager(adapters ...providers.DataProvider) *providers.Manager {
	return providers.NewManager(providers.NewConsistencyChecker(0.05), adapters...)
}

func TestRunFullSyncSuccess(t *testing.T) {
	provider := &stubProvider{
		name: "tushare", priority: 1,
		stocks: []providers.StockRow{
			{Code: "600036", Name: "招商银行", Industry: "银行"},
			{Code: "000001", Name: "平安银行", Industry: "银行"},
		},
		daily: map[string]providers.DailyBasic{
			"600036": {Code: "600036", TotalMV: 90000000, PE: 8.5, PB: 1.1}, // 万元
		},
		tradeDate: "20250822",
	}
	store := newFakeStore()
	svc := NewSyncService(newTestManager(provider), store, testConfig())

	run, err := svc.RunFullSync(context.Background(), false, nil)
	require.NoError(t, err)

	assert.Equal(t, models.SyncStatusSuccess, run.Status)
	assert.Equal(t, 2, run.Total)
	assert.Equal(t, 2, run.Inserted)
	assert.Equal(t, 0, run.Updated)
	assert.Equal(t, "20250822", run.LastTradeDate)
	assert.Contains(t, run.DataSourcesUsed, "tushare")
	require.NotNil(t, run.FinishedAt)

	// metrics merged and converted from 万元 to 亿元
	stored := store.stocks["600036"]
	assert.Equal(t, 9000.0, stored.TotalMV)
	assert.Equal(t, 8.5, stored.PE)
	assert.Equal(t, "SH", stored.Exchange)

	// code without metrics keeps static fields only
	assert.Equal(t, "SZ", store.stocks["000001"].Exchange)
	assert.Zero(t, store.stocks["000001"].PE)
}

func TestRunFullSyncIdempotent(t *testing.T) {
	provider := &stubProvider{
		name: "tushare", priority: 1,
		stocks:    []providers.StockRow{{Code: "600036", Name: "招商银行"}},
		tradeDate: "20250822",
	}
	store := newFakeStore()
	svc := NewSyncService(newTestManager(provider), store, testConfig())

	first, err := svc.RunFullSync(context.Background(), false, nil)
	require.NoError(t, err)
	second, err := svc.RunFullSync(context.Background(), false, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, first.Inserted)
	assert.Equal(t, 1, second.Updated)
	assert.Equal(t, 0, second.Inserted)
	assert.Len(t, store.stocks, 1)
}

func TestRunFullSyncEmptyUniverseFails(t *testing.T) {
	provider := &stubProvider{name: "tushare", priority: 1, tradeDate: "20250822"}
	store := newFakeStore()
	svc := NewSyncService(newTestManager(provider), store, testConfig())

	run, err := svc.RunFullSync(context.Background(), false, nil)
	require.NoError(t, err)

	assert.Equal(t, models.SyncStatusFailed, run.Status)
	assert.Zero(t, store.upsertCalls)
}

func TestRunFullSyncNoTradeDateFails(t *testing.T) {
	provider := &stubProvider{
		name: "tushare", priority: 1,
		stocks: []providers.StockRow{{Code: "600036"}},
	}
	store := newFakeStore()
	svc := NewSyncService(newTestManager(provider), store, testConfig())

	run, err := svc.RunFullSync(context.Background(), false, nil)
	require.NoError(t, err)

	assert.Equal(t, models.SyncStatusFailed, run.Status)
	assert.Zero(t, store.upsertCalls)
}

func TestRunFullSyncNoMetricsCompletesWithErrors(t *testing.T) {
	provider := &stubProvider{
		name: "tushare", priority: 1,
		stocks:    []providers.StockRow{{Code: "600036", Name: "招商银行"}},
		tradeDate: "20250822",
	}
	store := newFakeStore()
	svc := NewSyncService(newTestManager(provider), store, testConfig())

	run, err := svc.RunFullSync(context.Background(), false, nil)
	require.NoError(t, err)

	assert.Equal(t, models.SyncStatusWithErrors, run.Status)
	assert.Equal(t, 1, run.Errors)
	assert.Len(t, store.stocks, 1, "static fields still synced")
}

func TestRunFullSyncFailedBatchesCountAsErrors(t *testing.T) {
	provider := &stubProvider{
		name: "tushare", priority: 1,
		stocks: []providers.StockRow{{Code: "600036", Name: "招商银行"}},
		daily: map[string]providers.DailyBasic{
			"600036": {Code: "600036", PE: 8.5},
		},
		tradeDate: "20250822",
	}
	store := newFakeStore()
	store.failStockBatches = 2
	svc := NewSyncService(newTestManager(provider), store, testConfig())

	run, err := svc.RunFullSync(context.Background(), false, nil)
	require.NoError(t, err)

	assert.Equal(t, models.SyncStatusWithErrors, run.Status)
	assert.Equal(t, 2, run.Errors, "one error per failed batch")
	assert.Len(t, store.stocks, 1, "surviving batches still written")
}

func TestRunFullSyncConcurrentCallReturnsStatus(t *testing.T) {
	provider := &stubProvider{
		name: "tushare", priority: 1,
		stocks:    []providers.StockRow{{Code: "600036"}},
		tradeDate: "20250822",
		block:     make(chan struct{}),
	}
	store := newFakeStore()
	svc := NewSyncService(newTestManager(provider), store, testConfig())

	done := make(chan *models.SyncRun)
	go func() {
		run, _ := svc.RunFullSync(context.Background(), false, nil)
		done <- run
	}()

	// wait until the first run has persisted its running record
	require.Eventually(t, func() bool {
		run, _ := store.GetSyncRun(context.Background(), StockSyncJobKey)
		return run != nil && run.Status == models.SyncStatusRunning
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, models.SyncStatusRunning, svc.State())

	second, err := svc.RunFullSync(context.Background(), false, nil)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusRunning, second.Status)
	assert.Equal(t, 0, store.upsertCalls, "second call must not start another run")

	close(provider.block)
	first := <-done
	assert.Equal(t, models.SyncStatusSuccess, first.Status)
	assert.Equal(t, 1, store.upsertCalls)
	assert.Equal(t, models.SyncStatusIdle, svc.State())
}

func TestStateIdleBeforeFirstRun(t *testing.T) {
	svc := NewSyncService(newTestManager(), newFakeStore(), testConfig())
	assert.Equal(t, models.SyncStatusIdle, svc.State())
}

func TestRunFullSyncPreferredSources(t *testing.T) {
	primary := &stubProvider{
		name: "tushare", priority: 1,
		stocks:    []providers.StockRow{{Code: "600036", Name: "from-tushare"}},
		tradeDate: "20250822",
	}
	secondary := &stubProvider{
		name: "eastmoney", priority: 2,
		stocks:    []providers.StockRow{{Code: "600036", Name: "from-eastmoney"}},
		tradeDate: "20250822",
	}
	store := newFakeStore()
	svc := NewSyncService(newTestManager(primary, secondary), store, testConfig())

	run, err := svc.RunFullSync(context.Background(), false, []string{"eastmoney"})
	require.NoError(t, err)

	assert.Contains(t, run.DataSourcesUsed, "eastmoney")
	assert.Equal(t, "from-eastmoney", store.stocks["600036"].Name)
}

func TestGetStatusNeverRun(t *testing.T) {
	store := newFakeStore()
	svc := NewSyncService(newTestManager(), store, testConfig())

	run, err := svc.GetStatus(context.Background(), StockSyncJobKey)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusNeverRun, run.Status)
	assert.Equal(t, StockSyncJobKey, run.JobKey)
}
