package model

// BenchmarkMetric is a percentile summary of one metric across peers.
// It is computed on demand and never persisted.
type BenchmarkMetric struct {
	MetricName         string   `json:"metric_name"`
	Percentile10       float64  `json:"percentile_10"`
	Percentile25       float64  `json:"percentile_25"`
	Percentile50       float64  `json:"percentile_50"`
	Percentile75       float64  `json:"percentile_75"`
	Percentile90       float64  `json:"percentile_90"`
	SampleSize         int      `json:"sample_size"`
	InstitutionValue   *float64 `json:"institution_value"`
	PercentilePosition *int     `json:"percentile_position"`
}

// PeerScore is one scored assessment in a benchmark population.
type PeerScore struct {
	AssessmentID string             `json:"assessment_id"`
	TenantID     string             `json:"tenant_id"`
	Country      string             `json:"country"`
	Overall      *float64           `json:"overall"`
	Themes       map[string]float64 `json:"themes"`
}

// PeerFilter selects a benchmark population.
type PeerFilter struct {
	AcademicYear        string
	Country             string
	ExcludeAssessmentID string
}
