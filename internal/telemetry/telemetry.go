// Package telemetry implements the latency/rate monitoring and daily
// statistics reporting the main ingestion loop drives every 256 s (spec.md
// §4.E "Telemetry", §5 "A port implementation ... may introduce a separate
// goroutine/task for the daily-stats timer, the latency report timer, and
// the progress-print timer, each communicating by channel to the main
// loop"). Every type here is a plain in-memory accumulator: the timers
// exposed by Scheduler only ever signal the main loop over a channel, they
// never touch the store themselves, so the "these tasks must never write
// to the store outside the main-loop transaction" rule is satisfied by
// construction rather than by convention.
package telemetry

import (
	"sync"
	"time"
)

// LatencyInterval is one 256 s window's latency summary (spec.md §4.E).
type LatencyInterval struct {
	Mean  time.Duration
	Peak  time.Duration
	Count int
}

// LatencyTracker accumulates end-to-end latency samples (the gap between a
// message's msg_queue_timestamp and its processing instant) and reports the
// mean/peak over each reporting interval.
type LatencyTracker struct {
	mu    sync.Mutex
	total time.Duration
	peak  time.Duration
	count int
}

// Observe records one message's end-to-end latency.
func (t *LatencyTracker) Observe(queued, now time.Time) {
	if queued.IsZero() {
		return
	}
	latency := now.Sub(queued)
	if latency < 0 {
		latency = 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total += latency
	t.count++
	if latency > t.peak {
		t.peak = latency
	}
}

// Flush returns the interval's summary and resets the accumulator.
func (t *LatencyTracker) Flush() LatencyInterval {
	t.mu.Lock()
	defer t.mu.Unlock()
	var mean time.Duration
	if t.count > 0 {
		mean = t.total / time.Duration(t.count)
	}
	interval := LatencyInterval{Mean: mean, Peak: t.peak, Count: t.count}
	t.total, t.peak, t.count = 0, 0, 0
	return interval
}

// AlarmState is the hysteresis latch spec.md §7 requires: "raise an email
// alert once; clear with a second alert when latency recovers". Check
// reports which transition (if any) fired on this sample.
type AlarmState struct {
	Threshold time.Duration
	raised    bool
}

// Check feeds one interval's mean latency through the latch. It returns
// raise=true the first time mean exceeds Threshold, clear=true the first
// time it drops back at or below Threshold after having raised, and
// neither otherwise.
func (a *AlarmState) Check(mean time.Duration) (raise, clear bool) {
	if a.Threshold <= 0 {
		return false, false
	}
	switch {
	case mean > a.Threshold && !a.raised:
		a.raised = true
		return true, false
	case mean <= a.Threshold && a.raised:
		a.raised = false
		return false, true
	default:
		return false, false
	}
}

// Category is a daily-statistics counter bucket. The names mirror the
// counters used across internal/cif, internal/vstp and internal/trust so a
// daily report reads the same vocabulary as the live logs.
type Category string

// DailyStats accumulates per-category counts across one calendar day and
// keeps a running grand total across resets (spec.md §4.E: "reset the
// per-day accumulators into a grand total").
type DailyStats struct {
	mu         sync.Mutex
	today      map[Category]int
	grandTotal map[Category]int
}

// NewDailyStats builds an empty accumulator.
func NewDailyStats() *DailyStats {
	return &DailyStats{
		today:      make(map[Category]int),
		grandTotal: make(map[Category]int),
	}
}

// Add increments one category's count for today.
func (d *DailyStats) Add(cat Category, delta int) {
	if delta == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.today[cat] += delta
}

// DailyReport is one day's snapshot, emitted once per day at the configured
// hour (default 04:02 local, spec.md §4.E).
type DailyReport struct {
	Day        time.Time
	Counts     map[Category]int
	GrandTotal map[Category]int
}

// Rotate snapshots today's counters into the report, folds them into the
// grand total, and clears today's accumulator for the next day. Always
// returns a report, even with zero activity (spec.md §7 "Daily report.
// Always emitted if enabled, even with zero activity").
func (d *DailyStats) Rotate(day time.Time) DailyReport {
	d.mu.Lock()
	defer d.mu.Unlock()
	snapshot := make(map[Category]int, len(d.today))
	for k, v := range d.today {
		snapshot[k] = v
		d.grandTotal[k] += v
	}
	grand := make(map[Category]int, len(d.grandTotal))
	for k, v := range d.grandTotal {
		grand[k] = v
	}
	d.today = make(map[Category]int)
	return DailyReport{Day: day, Counts: snapshot, GrandTotal: grand}
}

// Scheduler drives the three timer signals spec.md §5 describes, as plain
// tickers feeding channels the main select loop reads. It never writes
// anywhere itself.
type Scheduler struct {
	LatencyTick  <-chan time.Time // fires every 256s
	ProgressTick <-chan time.Time // fires every 256s (same cadence, distinct purpose)
	DailyTick    <-chan time.Time // fires once a day at the hour:minute given to NewScheduler, local

	stop chan struct{}
	wg   sync.WaitGroup
}

const ReportInterval = 256 * time.Second

// NewScheduler starts the latency/progress ticker and a daily-report timer
// aimed at the next occurrence of hour:minute local time, re-arming itself
// every 24h after firing.
func NewScheduler(hour, minute int, now func() time.Time) *Scheduler {
	if now == nil {
		now = time.Now
	}
	latency := time.NewTicker(ReportInterval)
	progress := time.NewTicker(ReportInterval)
	daily := make(chan time.Time, 1)

	s := &Scheduler{
		LatencyTick:  latency.C,
		ProgressTick: progress.C,
		DailyTick:    daily,
		stop:         make(chan struct{}),
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer latency.Stop()
		defer progress.Stop()
		for {
			wait := until(now(), hour, minute)
			timer := time.NewTimer(wait)
			select {
			case t := <-timer.C:
				select {
				case daily <- t:
				default:
				}
			case <-s.stop:
				timer.Stop()
				return
			}
		}
	}()
	return s
}

// Stop halts the background daily-report arming goroutine. The latency and
// progress tickers are stopped alongside it.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
}

// until computes the duration from now to the next hour:minute local
// occurrence, rolling over to tomorrow if that time has already passed
// today.
func until(now time.Time, hour, minute int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}
