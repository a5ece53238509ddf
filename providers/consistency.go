package providers

import (
	"log"

	"github.com/shopspring/decimal"
)

// Resolution strategies recommended by the checker
const (
	ActionUsePrimary    = "use_primary"
	ActionUseSecondary  = "use_secondary"
	ActionMerge         = "merge"
	ActionFlagForReview = "flag_for_review"
)

// Confidence thresholds for choosing a resolution strategy
const (
	confUsePrimary   = 0.8
	confMerge        = 0.5
	confUseSecondary = 0.3
)

// FieldDiff records one field whose values disagree beyond tolerance.
type FieldDiff struct {
	Code      string  `json:"code"`
	Field     string  `json:"field"`
	Primary   float64 `json:"primary"`
	Secondary float64 `json:"secondary"`
	RelDiff   float64 `json:"rel_diff"`
}

// ConsistencyReport summarizes the agreement between two sources for the
// same logical query. Ephemeral: callers log it if they care.
type ConsistencyReport struct {
	FieldsCompared    []string    `json:"fields_compared"`
	Differences       []FieldDiff `json:"differences"`
	ConfidenceScore   float64     `json:"confidence_score"` // [0,1]
	RecommendedAction string      `json:"recommended_action"`
	PrimarySource     string      `json:"primary_source"`
	SecondarySource   string      `json:"secondary_source"`
}

// ConsistencyChecker compares two sources' outputs field by field. A field
// is inconsistent when its relative difference exceeds the tolerance; the
// confidence score decreases with both the fraction and the magnitude of
// the inconsistencies.
type ConsistencyChecker struct {
	tolerance float64
}

// NewConsistencyChecker creates a checker with the given relative tolerance
// (e.g. 0.05 for 5%).
func NewConsistencyChecker(tolerance float64) *ConsistencyChecker {
	if tolerance <= 0 {
		tolerance = 0.05
	}
	return &ConsistencyChecker{tolerance: tolerance}
}

var comparedFields = []string{"total_mv", "pe", "pb", "turnover_rate"}

func basicField(b DailyBasic, field string) float64 {
	switch field {
	case "total_mv":
		return b.TotalMV
	case "pe":
		return b.PE
	case "pb":
		return b.PB
	case "turnover_rate":
		return b.TurnoverRate
	}
	return 0
}

// relDiff computes |a-b| / max(|a|,|b|)
func relDiff(a, b float64) float64 {
	da := decimal.NewFromFloat(a).Abs()
	db := decimal.NewFromFloat(b).Abs()
	max := da
	if db.GreaterThan(max) {
		max = db
	}
	if max.IsZero() {
		return 0
	}
	diff := decimal.NewFromFloat(a).Sub(decimal.NewFromFloat(b)).Abs()
	f, _ := diff.Div(max).Float64()
	return f
}

// Compare builds a report for two daily-basic row sets keyed by code. Only
// fields that both sources actually populated (non-zero) are compared.
func (c *ConsistencyChecker) Compare(primary, secondary map[string]DailyBasic, primarySource, secondarySource string) *ConsistencyReport {
	report := &ConsistencyReport{
		FieldsCompared:    comparedFields,
		PrimarySource:     primarySource,
		SecondarySource:   secondarySource,
		RecommendedAction: ActionUsePrimary,
		ConfidenceScore:   1.0,
	}

	compared := 0
	penalty := 0.0
	for code, p := range primary {
		s, ok := secondary[code]
		if !ok {
			continue
		}
		for _, field := range comparedFields {
			pv, sv := basicField(p, field), basicField(s, field)
			if pv == 0 || sv == 0 {
				continue
			}
			compared++
			d := relDiff(pv, sv)
			if d > c.tolerance {
				if d > 1 {
					d = 1
				}
				penalty += d
				report.Differences = append(report.Differences, FieldDiff{
					Code:      code,
					Field:     field,
					Primary:   pv,
					Secondary: sv,
					RelDiff:   d,
				})
			}
		}
	}

	if compared > 0 {
		report.ConfidenceScore = 1.0 - penalty/float64(compared)
		if report.ConfidenceScore < 0 {
			report.ConfidenceScore = 0
		}
	}

	switch {
	case report.ConfidenceScore >= confUsePrimary:
		report.RecommendedAction = ActionUsePrimary
	case report.ConfidenceScore >= confMerge:
		report.RecommendedAction = ActionMerge
	case report.ConfidenceScore >= confUseSecondary:
		report.RecommendedAction = ActionUseSecondary
	default:
		report.RecommendedAction = ActionFlagForReview
	}
	return report
}

// ResolveDataConflicts applies the report's recommendation deterministically
// and returns the reconciled row set plus the strategy label actually used.
func (c *ConsistencyChecker) ResolveDataConflicts(primary, secondary map[string]DailyBasic, report *ConsistencyReport) (map[string]DailyBasic, string) {
	switch report.RecommendedAction {
	case ActionUsePrimary:
		return primary, ActionUsePrimary
	case ActionUseSecondary:
		return secondary, ActionUseSecondary
	case ActionMerge:
		return mergeBasics(primary, secondary), ActionMerge
	case ActionFlagForReview:
		// conservative: keep the preferred source, but make noise
		log.Printf("Low consistency confidence %.2f between %s and %s (%d differences), keeping %s",
			report.ConfidenceScore, report.PrimarySource, report.SecondarySource,
			len(report.Differences), report.PrimarySource)
		return primary, ActionFlagForReview
	}
	return primary, ActionUsePrimary
}

// mergeBasics keeps primary values, filling gaps (zero fields and missing
// codes) from the secondary source.
func mergeBasics(primary, secondary map[string]DailyBasic) map[string]DailyBasic {
	merged := make(map[string]DailyBasic, len(primary))
	for code, p := range primary {
		if s, ok := secondary[code]; ok {
			if p.TotalMV == 0 {
				p.TotalMV = s.TotalMV
			}
			if p.CircMV == 0 {
				p.CircMV = s.CircMV
			}
			if p.PE == 0 {
				p.PE = s.PE
			}
			if p.PETTM == 0 {
				p.PETTM = s.PETTM
			}
			if p.PB == 0 {
				p.PB = s.PB
			}
			if p.PBMRQ == 0 {
				p.PBMRQ = s.PBMRQ
			}
			if p.TurnoverRate == 0 {
				p.TurnoverRate = s.TurnoverRate
			}
			if p.VolumeRatio == 0 {
				p.VolumeRatio = s.VolumeRatio
			}
		}
		merged[code] = p
	}
	for code, s := range secondary {
		if _, ok := merged[code]; !ok {
			merged[code] = s
		}
	}
	return merged
}
