package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"stock_sync_backend/config"
	"stock_sync_backend/models"
	"stock_sync_backend/providers"
)

// StockSyncJobKey identifies the full basics/financial sync job
const StockSyncJobKey = "stock_basics_sync"

// SyncStore is the persistence surface the orchestrator needs.
// *MongoStore satisfies it; tests use fakes.
type SyncStore interface {
	BulkUpsertStocks(ctx context.Context, records []models.StockRecord) (int64, int64, int, error)
	SaveSyncRun(ctx context.Context, run *models.SyncRun) error
	GetSyncRun(ctx context.Context, jobKey string) (*models.SyncRun, error)
}

// SyncService runs the end-to-end basics/financial synchronization:
// fetch the universe, resolve the trade date, fetch metrics, normalize,
// upsert in batches and persist the run record. A mutex plus running flag
// enforce at most one active run; a second invocation without force gets
// the persisted status back instead of a new run.
type SyncService struct {
	manager *providers.Manager
	store   SyncStore
	cfg     *config.Config

	mu      sync.Mutex
	running bool
}

// NewSyncService creates the sync orchestrator
func NewSyncService(manager *providers.Manager, store SyncStore, cfg *config.Config) *SyncService {
	return &SyncService{manager: manager, store: store, cfg: cfg}
}

// State reports the in-memory orchestrator state: running while a sync is
// active, idle otherwise. Persisted history is served by GetStatus.
func (s *SyncService) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return models.SyncStatusRunning
	}
	return models.SyncStatusIdle
}

// GetStatus returns the persisted run record for a job key, or a never_run
// placeholder when there is no history.
func (s *SyncService) GetStatus(ctx context.Context, jobKey string) (*models.SyncRun, error) {
	run, err := s.store.GetSyncRun(ctx, jobKey)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return models.NeverRun(jobKey), nil
	}
	return run, nil
}

// RunFullSync executes one synchronization run. While a run is active,
// calls without force return the current persisted status; force starts
// anyway and relies on idempotent upserts (use with care, see GetStatus
// for observing an active run).
func (s *SyncService) RunFullSync(ctx context.Context, force bool, preferredSources []string) (*models.SyncRun, error) {
	s.mu.Lock()
	if s.running && !force {
		s.mu.Unlock()
		log.Printf("Sync already in progress, returning current status")
		return s.GetStatus(ctx, StockSyncJobKey)
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	manager := s.manager
	if len(preferredSources) > 0 {
		manager = manager.WithPreferred(preferredSources)
	}

	run := &models.SyncRun{
		JobKey:    StockSyncJobKey,
		Status:    models.SyncStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := s.store.SaveSyncRun(ctx, run); err != nil {
		log.Printf("Warning: could not persist running status: %v", err)
	}

	result := s.execute(ctx, manager, run)
	if err := s.store.SaveSyncRun(ctx, result); err != nil {
		log.Printf("Warning: could not persist final sync status: %v", err)
	}
	log.Printf("Stock sync finished: status=%s total=%d inserted=%d updated=%d errors=%d",
		result.Status, result.Total, result.Inserted, result.Updated, result.Errors)
	return result, nil
}

// execute performs the ordered run steps and never panics out; every stage
// failure lands in the run record instead.
func (s *SyncService) execute(ctx context.Context, manager *providers.Manager, run *models.SyncRun) *models.SyncRun {
	finish := func(status, message string) *models.SyncRun {
		now := time.Now().UTC()
		run.Status = status
		run.Message = message
		run.FinishedAt = &now
		return run
	}

	// 1. instrument universe
	universe, listSource := manager.FetchStockList(ctx)
	if len(universe) == 0 {
		return finish(models.SyncStatusFailed, "no provider returned a stock list")
	}
	run.Total = len(universe)
	run.DataSourcesUsed = appendSource(run.DataSourcesUsed, listSource)
	log.Printf("Fetched %d instruments from %s", len(universe), listSource)

	// 2. latest trade date
	tradeDate, dateSource := manager.FindLatestTradeDate(ctx)
	if tradeDate == "" {
		return finish(models.SyncStatusFailed, "could not determine the latest trade date")
	}
	run.LastTradeDate = tradeDate
	run.DataSourcesUsed = appendSource(run.DataSourcesUsed, dateSource)

	// 3. valuation metrics; an empty result degrades the run, not aborts it
	var basics map[string]providers.DailyBasic
	var basicsSource string
	if s.cfg.ConsistencyCheckEnable {
		basics, basicsSource, _ = manager.FetchDailyBasicChecked(ctx, tradeDate)
	} else {
		basics, basicsSource = manager.FetchDailyBasic(ctx, tradeDate)
	}
	if basicsSource != "" {
		run.DataSourcesUsed = appendSource(run.DataSourcesUsed, basicsSource)
	}
	if len(basics) == 0 {
		log.Printf("No valuation metrics for %s, syncing static fields only", tradeDate)
		run.Errors++
	}

	// 4. normalize
	records := make([]models.StockRecord, 0, len(universe))
	now := time.Now().UTC()
	for _, row := range universe {
		record := normalizeRecord(row, basics, listSource, now)
		records = append(records, record)
	}

	// 5. batched idempotent upsert; each failed batch counts, the run continues
	inserted, updated, failedBatches, err := s.store.BulkUpsertStocks(ctx, records)
	run.Inserted = int(inserted)
	run.Updated = int(updated)
	if failedBatches > 0 {
		log.Printf("Stock upsert error: %v", err)
		run.Errors += failedBatches
	}

	// 6. final status
	if run.Errors > 0 {
		return finish(models.SyncStatusWithErrors, fmt.Sprintf("completed with %d errors", run.Errors))
	}
	return finish(models.SyncStatusSuccess, "completed")
}

// normalizeRecord merges an instrument row with its valuation metrics into
// the canonical document. Market caps arrive in 万元 and are stored in 亿元.
func normalizeRecord(row providers.StockRow, basics map[string]providers.DailyBasic, source string, now time.Time) models.StockRecord {
	exchange := row.Exchange
	if exchange == "" {
		exchange = providers.ExchangeFromCode(row.Code)
	}

	record := models.StockRecord{
		Code:      row.Code,
		Name:      row.Name,
		Area:      row.Area,
		Industry:  row.Industry,
		Market:    row.Market,
		ListDate:  row.ListDate,
		Exchange:  exchange,
		Source:    source,
		UpdatedAt: now,
	}

	if basic, ok := basics[row.Code]; ok {
		record.TotalMV = wanToYi(basic.TotalMV)
		record.CircMV = wanToYi(basic.CircMV)
		record.PE = basic.PE
		record.PETTM = basic.PETTM
		record.PB = basic.PB
		record.PBMRQ = basic.PBMRQ
		record.TurnoverRate = basic.TurnoverRate
		record.VolumeRatio = basic.VolumeRatio
	}
	return record
}

// wanToYi converts 万元 to 亿元, rounded to 4 decimal places
func wanToYi(wan float64) float64 {
	if wan == 0 {
		return 0
	}
	yi, _ := decimal.NewFromFloat(wan).
		Div(decimal.NewFromInt(10000)).
		Round(4).
		Float64()
	return yi
}

func appendSource(sources []string, source string) []string {
	for _, s := range sources {
		if s == source {
			return sources
		}
	}
	return append(sources, source)
}
