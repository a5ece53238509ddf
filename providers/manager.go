package providers

import (
	"context"
	"log"
	"sort"
)

// Manager holds the configured adapters ordered by ascending priority and
// implements the fallback chain: try each available adapter in order, first
// non-empty result wins. A single adapter failing is never an error; only
// when every adapter fails does the caller see an empty result.
type Manager struct {
	adapters []DataProvider
	checker  *ConsistencyChecker
}

// NewManager creates a manager over the given adapters, sorted by priority.
func NewManager(checker *ConsistencyChecker, adapters ...DataProvider) *Manager {
	sorted := make([]DataProvider, len(adapters))
	copy(sorted, adapters)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})
	return &Manager{adapters: sorted, checker: checker}
}

// Available filters the adapters by their availability probe, preserving
// priority order.
func (m *Manager) Available() []DataProvider {
	available := make([]DataProvider, 0, len(m.adapters))
	for _, a := range m.adapters {
		if a.IsAvailable() {
			available = append(available, a)
		} else {
			log.Printf("Provider %s unavailable, skipping", a.Name())
		}
	}
	return available
}

// Descriptors returns the static descriptors of all configured adapters.
func (m *Manager) Descriptors() []Descriptor {
	descs := make([]Descriptor, 0, len(m.adapters))
	for _, a := range m.adapters {
		descs = append(descs, a.Descriptor())
	}
	return descs
}

// WithPreferred returns a manager whose adapter order puts the named
// sources first (in the given order), keeping the rest in priority order.
// Used for runs that pin preferred sources.
func (m *Manager) WithPreferred(names []string) *Manager {
	if len(names) == 0 {
		return m
	}
	byName := make(map[string]DataProvider, len(m.adapters))
	for _, a := range m.adapters {
		byName[a.Name()] = a
	}
	reordered := make([]DataProvider, 0, len(m.adapters))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if a, ok := byName[name]; ok && !seen[name] {
			reordered = append(reordered, a)
			seen[name] = true
		} else if !ok {
			log.Printf("Preferred provider %q not configured, ignoring", name)
		}
	}
	for _, a := range m.adapters {
		if !seen[a.Name()] {
			reordered = append(reordered, a)
		}
	}
	return &Manager{adapters: reordered, checker: m.checker}
}

// FetchStockList walks the fallback chain for the instrument universe.
// Returns the rows and the name of the source that served them, or
// (nil, "") when every adapter failed.
func (m *Manager) FetchStockList(ctx context.Context) ([]StockRow, string) {
	for _, a := range m.Available() {
		rows := a.GetStockList(ctx)
		if len(rows) > 0 {
			return rows, a.Name()
		}
		log.Printf("Provider %s returned no stock list, trying next", a.Name())
	}
	log.Printf("All providers failed to return a stock list")
	return nil, ""
}

// FetchDailyBasic walks the fallback chain for one trade date's valuation
// metrics.
func (m *Manager) FetchDailyBasic(ctx context.Context, tradeDate string) (map[string]DailyBasic, string) {
	for _, a := range m.Available() {
		basics := a.GetDailyBasic(ctx, tradeDate)
		if len(basics) > 0 {
			return basics, a.Name()
		}
		log.Printf("Provider %s returned no daily basics for %s, trying next", a.Name(), tradeDate)
	}
	log.Printf("All providers failed to return daily basics for %s", tradeDate)
	return nil, ""
}

// FetchQuotes walks the fallback chain for quotes.
func (m *Manager) FetchQuotes(ctx context.Context, codes []string) ([]QuoteRow, string) {
	for _, a := range m.Available() {
		rows := a.GetQuotes(ctx, codes)
		if len(rows) > 0 {
			return rows, a.Name()
		}
		log.Printf("Provider %s returned no quotes, trying next", a.Name())
	}
	log.Printf("All providers failed to return quotes")
	return nil, ""
}

// FindLatestTradeDate walks the fallback chain for the most recent trading
// day with data.
func (m *Manager) FindLatestTradeDate(ctx context.Context) (string, string) {
	for _, a := range m.Available() {
		if date := a.FindLatestTradeDate(ctx); date != "" {
			return date, a.Name()
		}
		log.Printf("Provider %s could not determine the latest trade date, trying next", a.Name())
	}
	return "", ""
}

// FetchDailyBasicChecked fetches valuation metrics from the top two
// available adapters and reconciles them through the consistency checker.
// With fewer than two available adapters it degrades to the plain fallback
// chain; when the secondary call fails the primary result is used as is.
// The report is nil whenever only one source contributed.
func (m *Manager) FetchDailyBasicChecked(ctx context.Context, tradeDate string) (map[string]DailyBasic, string, *ConsistencyReport) {
	available := m.Available()
	if len(available) < 2 {
		basics, source := m.FetchDailyBasic(ctx, tradeDate)
		return basics, source, nil
	}

	primary, secondary := available[0], available[1]
	primaryRows := primary.GetDailyBasic(ctx, tradeDate)
	if len(primaryRows) == 0 {
		// primary has nothing to reconcile; walk the remaining adapters
		// without re-spending a call on the one that just came back empty
		for _, a := range available[1:] {
			if basics := a.GetDailyBasic(ctx, tradeDate); len(basics) > 0 {
				return basics, a.Name(), nil
			}
			log.Printf("Provider %s returned no daily basics for %s, trying next", a.Name(), tradeDate)
		}
		log.Printf("All providers failed to return daily basics for %s", tradeDate)
		return nil, "", nil
	}

	secondaryRows := secondary.GetDailyBasic(ctx, tradeDate)
	if len(secondaryRows) == 0 {
		log.Printf("Secondary provider %s returned no data, using %s without consistency check",
			secondary.Name(), primary.Name())
		return primaryRows, primary.Name(), nil
	}

	report := m.checker.Compare(primaryRows, secondaryRows, primary.Name(), secondary.Name())
	resolved, strategy := m.checker.ResolveDataConflicts(primaryRows, secondaryRows, report)
	log.Printf("Consistency check %s vs %s: confidence=%.2f differences=%d strategy=%s",
		primary.Name(), secondary.Name(), report.ConfidenceScore, len(report.Differences), strategy)

	source := primary.Name()
	if strategy == ActionUseSecondary {
		source = secondary.Name()
	}
	return resolved, source, report
}
