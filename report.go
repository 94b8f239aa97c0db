package trafficsim

//
// Scheduler dispatch report
//

import (
	"time"

	"github.com/montanaflynn/stats"
)

// DispatchReport summarizes what a [Simulation] has dispatched so far.
type DispatchReport struct {
	// ID is the simulation ID.
	ID string

	// Dispatched is the number of dispatched tasks.
	Dispatched int

	// Succeeded is the number of tasks that returned without errors.
	Succeeded int

	// Failed is the number of tasks that failed or panicked.
	Failed int

	// Pending is the number of tasks still in the queue.
	Pending int

	// MedianLag is the median dispatch lag in real-time mode.
	MedianLag time.Duration

	// P95Lag is the 95th percentile of the dispatch lag in real-time mode.
	P95Lag time.Duration

	// MaxLag is the maximum dispatch lag in real-time mode.
	MaxLag time.Duration
}

// dispatchStats accumulates dispatch statistics.
type dispatchStats struct {
	count     int
	failed    int
	lags      []float64
	succeeded int
}

// dispatched records a dispatched task and its lag behind the due time.
func (ds *dispatchStats) dispatched(lag time.Duration) {
	ds.count++
	if lag < 0 {
		lag = 0
	}
	ds.lags = append(ds.lags, lag.Seconds())
}

// Report returns a [DispatchReport] for this simulation. The lag is the
// difference between the wall clock when we dispatched a task and its
// start time, which is only meaningful in real-time mode.
func (s *Simulation) Report() *DispatchReport {
	s.mu.Lock()
	lags := append([]float64{}, s.stats.lags...) // copy
	report := &DispatchReport{
		ID:         s.id,
		Dispatched: s.stats.count,
		Succeeded:  s.stats.succeeded,
		Failed:     s.stats.failed,
		Pending:    0,
	}
	s.mu.Unlock()
	report.Pending = s.queue.Size()

	// stats functions fail with empty input, in which case we keep zero
	if median, err := stats.Median(lags); err == nil {
		report.MedianLag = secondsToDuration(median)
	}
	if p95, err := stats.Percentile(lags, 95); err == nil {
		report.P95Lag = secondsToDuration(p95)
	}
	if max, err := stats.Max(lags); err == nil {
		report.MaxLag = secondsToDuration(max)
	}
	return report
}
