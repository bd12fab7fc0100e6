package bundle

// AgeGroup buckets patient age in days for guideline stratification.
type AgeGroup string

const (
	AgeGroup0To7    AgeGroup = "0-7"
	AgeGroup8To21   AgeGroup = "8-21"
	AgeGroup22To28  AgeGroup = "22-28"
	AgeGroup29To60  AgeGroup = "29-60"
	AgeGroupUnknown AgeGroup = "unknown"
)

// AgeGroupForDays maps an age in days to its guideline group. Ages outside
// the guideline range (and unknown ages) map to AgeGroupUnknown. Boundaries
// are inclusive on both ends.
func AgeGroupForDays(ageDays *int) AgeGroup {
	if ageDays == nil {
		return AgeGroupUnknown
	}
	switch d := *ageDays; {
	case d >= 0 && d <= 7:
		return AgeGroup0To7
	case d >= 8 && d <= 21:
		return AgeGroup8To21
	case d >= 22 && d <= 28:
		return AgeGroup22To28
	case d >= 29 && d <= 60:
		return AgeGroup29To60
	default:
		return AgeGroupUnknown
	}
}

// PatientContext holds the derived facts conditional gating branches on.
// It is rebuilt at the start of every evaluation cycle because the
// underlying evidence accrues over time.
type PatientContext struct {
	AgeDays                     *int     `json:"age_days,omitempty"`
	AgeGroup                    AgeGroup `json:"age_group"`
	InflammatoryMarkersAbnormal bool     `json:"inflammatory_markers_abnormal"`
	UAAbnormal                  bool     `json:"ua_abnormal"`
	LPPerformed                 bool     `json:"lp_performed"`
	DispositionKnown            bool     `json:"disposition_known"`
	DispositionHome             bool     `json:"disposition_home"`
}
