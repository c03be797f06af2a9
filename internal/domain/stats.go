package domain

import (
	"math"
	"time"
)

// Stats holds raw per-job counters. The rate is always derived from them.
type Stats struct {
	JobID           string
	TotalExecutions int64
	SuccessCount    int64
	LastExecutionAt *time.Time
}

// SuccessRate returns the success percentage rounded to one decimal place.
func (s Stats) SuccessRate() float64 {
	if s.TotalExecutions == 0 {
		return 0
	}
	rate := float64(s.SuccessCount) / float64(s.TotalExecutions) * 100
	return math.Round(rate*10) / 10
}
