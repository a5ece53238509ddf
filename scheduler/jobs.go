package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"stock_sync_backend/config"
	"stock_sync_backend/services"
)

// Scheduler manages the recurring sync jobs
type Scheduler struct {
	cron         *gocron.Scheduler
	syncService  *services.SyncService
	quoteService *services.QuoteService
	cfg          *config.Config
	loc          *time.Location
}

// NewScheduler creates a new scheduler instance running in market time.
func NewScheduler(syncService *services.SyncService, quoteService *services.QuoteService, cfg *config.Config) *Scheduler {
	loc, err := time.LoadLocation(cfg.MarketTimezone)
	if err != nil {
		log.Printf("Unknown market timezone %q, scheduling in UTC: %v", cfg.MarketTimezone, err)
		loc = time.UTC
	}
	return &Scheduler{
		cron:         gocron.NewScheduler(loc),
		syncService:  syncService,
		quoteService: quoteService,
		cfg:          cfg,
		loc:          loc,
	}
}

// Start starts all scheduled jobs
func (s *Scheduler) Start() {
	log.Println("Starting scheduler...")

	// Poll quotes on a short cadence; the service gates on trading hours
	// internally so off-hours ticks are cheap
	s.cron.Every(s.cfg.QuotePollSeconds).Seconds().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		s.quoteService.RunOnce(ctx)
	})

	// Full basics sync daily after the close
	s.cron.Every(1).Day().At(s.cfg.SyncScheduleTime).Do(func() {
		if isWeekend(time.Now().In(s.loc)) {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		s.runFullSync(ctx)
	})

	s.cron.StartAsync()
	log.Println("Scheduler started successfully")
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Scheduler stopped")
}

// runFullSync executes the daily stock basics synchronization
func (s *Scheduler) runFullSync(ctx context.Context) {
	log.Println("Running scheduled stock basics sync...")
	if _, err := s.syncService.RunFullSync(ctx, false, nil); err != nil {
		log.Printf("Scheduled sync error: %v", err)
	}
}

func isWeekend(t time.Time) bool {
	return t.Weekday() == time.Saturday || t.Weekday() == time.Sunday
}
