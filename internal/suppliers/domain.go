package suppliers

import (
	"errors"
	"time"
)

// Supplier master record with its observed lead-time statistics.
type Supplier struct {
	ID        int64
	Name      string
	Email     string
	Active    bool
	LeadTime  LeadTimeStats
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LeadTimeStats tracks a running mean of observed purchase order lead times
// in whole days. Each completed PO contributes one observation.
type LeadTimeStats struct {
	Count   int64
	AvgDays float64
}

// Observe folds one observation into the running mean.
func (s LeadTimeStats) Observe(days int) LeadTimeStats {
	next := s
	next.Count++
	next.AvgDays += (float64(days) - next.AvgDays) / float64(next.Count)
	return next
}

// ErrNotFound indicates record missing.
var ErrNotFound = errors.New("suppliers: not found")
