package services

import (
	"context"
	"errors"
	"log"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"stock_sync_backend/config"
	"stock_sync_backend/models"
	"stock_sync_backend/providers"
)

// QuoteBackfillJobKey identifies backfill runs in the sync status collection
const QuoteBackfillJobKey = "quote_backfill"

// errNoQuotes reports an ingestion pass where no provider returned any rows
var errNoQuotes = errors.New("no provider returned quotes")

// quoteCacheSize bounds the in-memory snapshot cache; the full A-share
// universe is around 5400 instruments.
const quoteCacheSize = 8192

// QuoteStore is the persistence surface quote ingestion needs.
type QuoteStore interface {
	BulkUpsertQuotes(ctx context.Context, snapshots []models.QuoteSnapshot) (int, error)
	CountQuotes(ctx context.Context) (int64, error)
	LatestQuoteTradeDate(ctx context.Context) (string, error)
	StockCodes(ctx context.Context) ([]string, error)
	SaveSyncRun(ctx context.Context, run *models.SyncRun) error
}

// QuoteService ingests market quote snapshots on a poll cadence. Inside
// trading hours each tick fetches and upserts; outside trading hours the
// tick is a no-op unless off-hours backfill is enabled and the stored data
// turns out stale. Quote failures are logged and swallowed: the next tick
// retries anyway.
type QuoteService struct {
	manager *providers.Manager
	store   QuoteStore
	cfg     *config.Config
	loc     *time.Location
	cache   *lru.Cache[string, *models.QuoteSnapshot]

	// test seam
	now func() time.Time
}

// NewQuoteService creates the quote ingestion service. An unknown timezone
// falls back to UTC rather than failing startup.
func NewQuoteService(manager *providers.Manager, store QuoteStore, cfg *config.Config) *QuoteService {
	loc, err := time.LoadLocation(cfg.MarketTimezone)
	if err != nil {
		log.Printf("Unknown market timezone %q, falling back to UTC: %v", cfg.MarketTimezone, err)
		loc = time.UTC
	}
	cache, _ := lru.New[string, *models.QuoteSnapshot](quoteCacheSize)
	return &QuoteService{
		manager: manager,
		store:   store,
		cfg:     cfg,
		loc:     loc,
		cache:   cache,
		now:     time.Now,
	}
}

// isTradingTime reports whether t falls inside a mainland session:
// weekdays 09:30-11:30 and 13:00-15:00 market time.
func (s *QuoteService) isTradingTime(t time.Time) bool {
	local := t.In(s.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	minutes := local.Hour()*60 + local.Minute()
	morning := minutes >= 9*60+30 && minutes <= 11*60+30
	afternoon := minutes >= 13*60 && minutes <= 15*60
	return morning || afternoon
}

// RunOnce is one scheduler tick. During trading hours it ingests a fresh
// snapshot; off hours it optionally checks for staleness and backfills.
func (s *QuoteService) RunOnce(ctx context.Context) {
	if s.isTradingTime(s.now()) {
		if err := s.ingest(ctx); err != nil {
			log.Printf("Quote ingestion failed: %v", err)
		}
		return
	}
	if s.cfg.BackfillOffHours {
		s.BackfillIfNeeded(ctx)
	}
}

// BackfillIfNeeded checks whether stored quotes are missing or behind the
// latest completed session and, if so, runs exactly one ingestion pass.
// The outcome is recorded under the quote_backfill job key.
func (s *QuoteService) BackfillIfNeeded(ctx context.Context) {
	count, err := s.store.CountQuotes(ctx)
	if err != nil {
		log.Printf("Backfill staleness check failed: %v", err)
		return
	}
	if count > 0 {
		stored, err := s.store.LatestQuoteTradeDate(ctx)
		if err != nil {
			log.Printf("Backfill staleness check failed: %v", err)
			return
		}
		latest, _ := s.manager.FindLatestTradeDate(ctx)
		if latest == "" || stored >= latest {
			return
		}
		log.Printf("Stored quotes at %s are behind latest session %s, backfilling", stored, latest)
	} else {
		log.Printf("No stored quotes, backfilling")
	}

	run := &models.SyncRun{
		JobKey:    QuoteBackfillJobKey,
		Status:    models.SyncStatusRunning,
		StartedAt: s.now().UTC(),
	}
	err = s.ingest(ctx)
	finished := s.now().UTC()
	run.FinishedAt = &finished
	if err != nil {
		run.Status = models.SyncStatusFailed
		run.Message = err.Error()
	} else {
		run.Status = models.SyncStatusSuccess
		run.Message = "backfill completed"
	}
	if saveErr := s.store.SaveSyncRun(ctx, run); saveErr != nil {
		log.Printf("Warning: could not persist backfill status: %v", saveErr)
	}
}

// ingest fetches one snapshot of the whole watched universe and upserts it.
func (s *QuoteService) ingest(ctx context.Context) error {
	codes, err := s.store.StockCodes(ctx)
	if err != nil {
		return err
	}

	rows, source := s.manager.FetchQuotes(ctx, codes)
	if len(rows) == 0 {
		return errNoQuotes
	}

	now := s.now().UTC()
	snapshots := make([]models.QuoteSnapshot, 0, len(rows))
	for _, row := range rows {
		snapshot := models.QuoteSnapshot{
			Code:      row.Code,
			Close:     row.Close,
			Open:      row.Open,
			High:      row.High,
			Low:       row.Low,
			PreClose:  row.PreClose,
			PctChg:    row.PctChg,
			Amount:    row.Amount,
			TradeDate: row.TradeDate,
			Source:    source,
			UpdatedAt: now,
		}
		snapshots = append(snapshots, snapshot)
		s.cache.Add(row.Code, &snapshot)
	}

	if failed, err := s.store.BulkUpsertQuotes(ctx, snapshots); failed > 0 {
		return err
	}
	log.Printf("Ingested %d quotes from %s", len(snapshots), source)
	return nil
}

// CachedQuote returns the most recent in-memory snapshot for a code, if any.
func (s *QuoteService) CachedQuote(code string) (*models.QuoteSnapshot, bool) {
	return s.cache.Get(code)
}

// Status summarizes the stored quote data for the status endpoint.
func (s *QuoteService) Status(ctx context.Context) (map[string]interface{}, error) {
	count, err := s.store.CountQuotes(ctx)
	if err != nil {
		return nil, err
	}
	latest, err := s.store.LatestQuoteTradeDate(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"quote_count":       count,
		"latest_trade_date": latest,
		"cached_quotes":     s.cache.Len(),
		"trading_now":       s.isTradingTime(s.now()),
	}, nil
}
