package process

import (
	"slices"
	"time"
)

// MaxResponseSamples bounds the latency window kept per record.
const MaxResponseSamples = 20

// Metrics tracks sync progress of a record.
type Metrics struct {
	InitialSlotDeficit     *uint64    `json:"initial_slot_deficit"`
	SlotsAdvancedLastCheck uint64     `json:"slots_advanced_last_check"`
	TotalSlotsAdvanced     uint64     `json:"total_slots_advanced"`
	SyncStartTime          *time.Time `json:"sync_start_time"`
	SyncEndTime            *time.Time `json:"sync_end_time"`
	AvgSyncRate            float64    `json:"avg_sync_rate"` // slots per minute
	CheckCount             uint64     `json:"check_count"`
	APIResponseTimes       []float64  `json:"api_response_times"` // milliseconds, oldest first
}

func (m Metrics) clone() Metrics {
	c := m
	c.InitialSlotDeficit = clonePtr(m.InitialSlotDeficit)
	c.SyncStartTime = clonePtr(m.SyncStartTime)
	c.SyncEndTime = clonePtr(m.SyncEndTime)
	if m.APIResponseTimes != nil {
		c.APIResponseTimes = slices.Clone(m.APIResponseTimes)
	}
	return c
}

// AvgResponseTime returns the mean of the latency window in milliseconds.
func (m Metrics) AvgResponseTime() float64 {
	if len(m.APIResponseTimes) == 0 {
		return 0
	}
	var sum float64
	for _, v := range m.APIResponseTimes {
		sum += v
	}
	return sum / float64(len(m.APIResponseTimes))
}

// SlotCheck is the joined result of reading both slot values of a process.
type SlotCheck struct {
	Computed        uint64
	Current         uint64
	ComputedLatency time.Duration
	CurrentLatency  time.Duration
}

// IsSynced reports whether the computed slot caught up with the live head.
func (c SlotCheck) IsSynced() bool { return c.Computed == c.Current }

// Deficit returns how far the computed slot trails the live head.
func (c SlotCheck) Deficit() uint64 {
	if c.Current > c.Computed {
		return c.Current - c.Computed
	}
	return 0
}

// ApplySlotCheck folds a successful poll into the record.
// Advancement is the forward delta of the computed slot since the previous
// check; backwards moves count as zero so TotalSlotsAdvanced never decreases.
func (r *Record) ApplySlotCheck(c SlotCheck, now time.Time) {
	prev := r.ComputedSlot
	r.ComputedSlot = Ptr(c.Computed)
	r.CurrentSlot = Ptr(c.Current)
	r.LastChecked = Ptr(now)

	m := &r.Metrics
	m.CheckCount++
	m.APIResponseTimes = append(m.APIResponseTimes, millis(c.ComputedLatency), millis(c.CurrentLatency))
	if n := len(m.APIResponseTimes); n > MaxResponseSamples {
		m.APIResponseTimes = slices.Clone(m.APIResponseTimes[n-MaxResponseSamples:])
	}

	m.SlotsAdvancedLastCheck = 0
	if prev != nil && c.Computed > *prev {
		m.SlotsAdvancedLastCheck = c.Computed - *prev
		m.TotalSlotsAdvanced += m.SlotsAdvancedLastCheck
	}

	if m.InitialSlotDeficit == nil {
		m.InitialSlotDeficit = Ptr(c.Deficit())
		m.SyncStartTime = Ptr(now)
	}
	if m.SyncStartTime != nil {
		if rate, ok := syncRate(m.TotalSlotsAdvanced, *m.SyncStartTime, now); ok {
			m.AvgSyncRate = rate
		}
	}
}

// ApplyCronCheck folds a slot read triggered by the cron list into the record.
// The rate is measured from the cron creation time when it is known.
func (r *Record) ApplyCronCheck(c SlotCheck, cronCreated *time.Time, now time.Time) {
	prev := r.ComputedSlot
	r.ComputedSlot = Ptr(c.Computed)
	r.CurrentSlot = Ptr(c.Current)
	r.LastChecked = Ptr(now)
	r.CronCreatedAt = clonePtr(cronCreated)

	if prev != nil && c.Computed > *prev {
		r.Metrics.TotalSlotsAdvanced += c.Computed - *prev
	}
	if cronCreated != nil {
		if rate, ok := syncRate(r.Metrics.TotalSlotsAdvanced, *cronCreated, now); ok {
			r.Metrics.AvgSyncRate = rate
		}
	}
}

// ApplyCurrentSlot records a current-slot-only observation (queue prefetch).
func (r *Record) ApplyCurrentSlot(current uint64, now time.Time) {
	r.CurrentSlot = Ptr(current)
	r.LastChecked = Ptr(now)
}

// syncRate returns advanced slots per minute since start. It reports false
// when no time has elapsed or nothing advanced.
func syncRate(advanced uint64, start, now time.Time) (float64, bool) {
	minutes := now.Sub(start).Minutes()
	if minutes <= 0 || advanced == 0 {
		return 0, false
	}
	return float64(advanced) / minutes, true
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
