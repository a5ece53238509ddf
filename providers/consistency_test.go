package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func basics(entries ...DailyBasic) map[string]DailyBasic {
	m := make(map[string]DailyBasic, len(entries))
	for _, e := range entries {
		m[e.Code] = e
	}
	return m
}

func TestCompareIdenticalSources(t *testing.T) {
	checker := NewConsistencyChecker(0.05)
	a := basics(DailyBasic{Code: "600036", TotalMV: 9000000, PE: 8.5, PB: 1.1, TurnoverRate: 1.2})
	b := basics(DailyBasic{Code: "600036", TotalMV: 9000000, PE: 8.5, PB: 1.1, TurnoverRate: 1.2})

	report := checker.Compare(a, b, "tushare", "eastmoney")

	assert.Equal(t, 1.0, report.ConfidenceScore)
	assert.Equal(t, ActionUsePrimary, report.RecommendedAction)
	assert.Empty(t, report.Differences)
}

func TestCompareWithinTolerance(t *testing.T) {
	checker := NewConsistencyChecker(0.05)
	a := basics(DailyBasic{Code: "600036", PE: 10.0})
	b := basics(DailyBasic{Code: "600036", PE: 10.4}) // 3.8% off

	report := checker.Compare(a, b, "tushare", "eastmoney")

	assert.Equal(t, 1.0, report.ConfidenceScore)
	assert.Empty(t, report.Differences)
}

func TestCompareConfidenceDecreasesWithDivergence(t *testing.T) {
	checker := NewConsistencyChecker(0.05)
	a := basics(DailyBasic{Code: "600036", TotalMV: 100, PE: 10, PB: 1, TurnoverRate: 2})

	slight := basics(DailyBasic{Code: "600036", TotalMV: 110, PE: 10, PB: 1, TurnoverRate: 2})
	severe := basics(DailyBasic{Code: "600036", TotalMV: 200, PE: 25, PB: 3, TurnoverRate: 8})

	slightReport := checker.Compare(a, slight, "tushare", "eastmoney")
	severeReport := checker.Compare(a, severe, "tushare", "eastmoney")

	assert.Less(t, slightReport.ConfidenceScore, 1.0)
	assert.Less(t, severeReport.ConfidenceScore, slightReport.ConfidenceScore)
	assert.GreaterOrEqual(t, severeReport.ConfidenceScore, 0.0)
}

func TestCompareSkipsUnpopulatedFields(t *testing.T) {
	checker := NewConsistencyChecker(0.05)
	// secondary has no PE at all; the field must not count against confidence
	a := basics(DailyBasic{Code: "600036", PE: 10, PB: 1.1})
	b := basics(DailyBasic{Code: "600036", PB: 1.1})

	report := checker.Compare(a, b, "tushare", "eastmoney")

	assert.Equal(t, 1.0, report.ConfidenceScore)
}

func TestCompareRecommendedActionThresholds(t *testing.T) {
	checker := NewConsistencyChecker(0.05)
	tests := []struct {
		name      string
		secondary float64 // PB value against primary PB=1.0
		action    string
	}{
		{"high confidence keeps primary", 1.0, ActionUsePrimary},
		{"moderate divergence merges", 1.5, ActionMerge}, // one field, relDiff 0.33 -> confidence 0.67
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := basics(DailyBasic{Code: "600036", PB: 1.0})
			b := basics(DailyBasic{Code: "600036", PB: tt.secondary})
			report := checker.Compare(a, b, "tushare", "eastmoney")
			assert.Equal(t, tt.action, report.RecommendedAction)
		})
	}
}

func TestCompareFlagsForReviewOnSevereDisagreement(t *testing.T) {
	checker := NewConsistencyChecker(0.05)
	// every field wildly off: penalty capped at 1 per field, confidence -> 0
	a := basics(DailyBasic{Code: "600036", TotalMV: 100, PE: 10, PB: 1, TurnoverRate: 2})
	b := basics(DailyBasic{Code: "600036", TotalMV: 100000, PE: 9000, PB: 500, TurnoverRate: 900})

	report := checker.Compare(a, b, "tushare", "eastmoney")

	assert.Less(t, report.ConfidenceScore, 0.3)
	assert.Equal(t, ActionFlagForReview, report.RecommendedAction)
	assert.Len(t, report.Differences, 4)
}

func TestResolveDataConflictsMerge(t *testing.T) {
	checker := NewConsistencyChecker(0.05)
	primary := basics(
		DailyBasic{Code: "600036", PE: 8.5, PB: 0}, // PB missing from primary
		DailyBasic{Code: "000001", PE: 5.2, PB: 0.9},
	)
	secondary := basics(
		DailyBasic{Code: "600036", PE: 8.6, PB: 1.1},
		DailyBasic{Code: "300750", PE: 22.0, PB: 4.5}, // only in secondary
	)

	report := &ConsistencyReport{RecommendedAction: ActionMerge}
	resolved, strategy := checker.ResolveDataConflicts(primary, secondary, report)

	assert.Equal(t, ActionMerge, strategy)
	require.Contains(t, resolved, "600036")
	assert.Equal(t, 8.5, resolved["600036"].PE, "primary value wins")
	assert.Equal(t, 1.1, resolved["600036"].PB, "gap filled from secondary")
	assert.Contains(t, resolved, "300750", "secondary-only code included")
	assert.Contains(t, resolved, "000001")
}

func TestResolveDataConflictsFlagKeepsPrimary(t *testing.T) {
	checker := NewConsistencyChecker(0.05)
	primary := basics(DailyBasic{Code: "600036", PE: 8.5})
	secondary := basics(DailyBasic{Code: "600036", PE: 99})

	report := &ConsistencyReport{RecommendedAction: ActionFlagForReview, PrimarySource: "tushare", SecondarySource: "eastmoney"}
	resolved, strategy := checker.ResolveDataConflicts(primary, secondary, report)

	assert.Equal(t, ActionFlagForReview, strategy)
	assert.Equal(t, 8.5, resolved["600036"].PE)
}

func TestRelDiff(t *testing.T) {
	assert.Equal(t, 0.0, relDiff(0, 0))
	assert.InDelta(t, 0.5, relDiff(10, 5), 1e-9)
	assert.InDelta(t, 0.5, relDiff(5, 10), 1e-9, "symmetric")
	assert.InDelta(t, 0.0, relDiff(3.14, 3.14), 1e-9)
}
