package association

import (
	"sort"
	"time"

	"github.com/pythonitalia/pycon-association/app/models"
)

// Interval is a coverage window.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether at falls inside the interval, bounds included.
func (i Interval) Contains(at time.Time) bool {
	return !at.Before(i.Start) && !at.After(i.End)
}

// PaidIntervals returns the coverage windows of the PAID payments only.
func PaidIntervals(payments []models.Payment) []Interval {
	out := make([]Interval, 0, len(payments))
	for i := range payments {
		p := &payments[i]
		if !p.IsPaid() {
			continue
		}
		out = append(out, Interval{Start: p.PeriodStart, End: p.PeriodEnd})
	}
	return out
}

// MergeIntervals collapses overlapping or touching intervals into a minimal,
// start-ordered disjoint set. The input slice is not modified.
func MergeIntervals(in []Interval) []Interval {
	if len(in) == 0 {
		return nil
	}
	sorted := make([]Interval, len(in))
	copy(sorted, in)
	sort.Slice(sorted, func(a, b int) bool {
		return sorted[a].Start.Before(sorted[b].Start)
	})

	merged := []Interval{sorted[0]}
	for _, next := range sorted[1:] {
		cur := &merged[len(merged)-1]
		if !next.Start.After(cur.End) {
			if next.End.After(cur.End) {
				cur.End = next.End
			}
			continue
		}
		merged = append(merged, next)
	}
	return merged
}

// IsCovered reports whether the PAID payments cover at. Canceled payments
// never contribute, whatever their window.
func IsCovered(payments []models.Payment, at time.Time) bool {
	for _, iv := range MergeIntervals(PaidIntervals(payments)) {
		if iv.Contains(at) {
			return true
		}
		if iv.Start.After(at) {
			break
		}
	}
	return false
}

// CoveredUntil returns the end of the merged interval covering at, if any.
func CoveredUntil(payments []models.Payment, at time.Time) (time.Time, bool) {
	for _, iv := range MergeIntervals(PaidIntervals(payments)) {
		if iv.Contains(at) {
			return iv.End, true
		}
	}
	return time.Time{}, false
}
