// Package daterange produces the date windows and output keys that partition
// ingested data. All windows are half-open [Start, End) in UTC; generators are
// pure and side-effect free.
package daterange

import (
	"time"
)

// Window is one half-open [Start, End) data window.
type Window struct {
	Start time.Time
	End   time.Time
}

// KeyFormat selects how a window renders into an output key fragment.
type KeyFormat int

const (
	// KeyDay renders 20060102 from the window start.
	KeyDay KeyFormat = iota
	// KeyRange renders 20060102-20060102, start through inclusive final day.
	KeyRange
	// KeyMonth renders 200601 from the window start.
	KeyMonth
)

// Key renders the deterministic key fragment for the window. Identical window
// parameters always produce the identical key, which is what makes re-runs
// idempotent.
func (w Window) Key(format KeyFormat) string {
	switch format {
	case KeyRange:
		return w.Start.Format("20060102") + "-" + w.End.AddDate(0, 0, -1).Format("20060102")
	case KeyMonth:
		return w.Start.Format("200601")
	default:
		return w.Start.Format("20060102")
	}
}

func midnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Days returns one window per day from `from` through `to` inclusive,
// ascending. Used by the incremental refresh drivers.
func Days(from, to time.Time) []Window {
	start := midnight(from)
	end := midnight(to)
	var windows []Window
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		windows = append(windows, Window{Start: day, End: day.AddDate(0, 0, 1)})
	}
	return windows
}

// RecentDays returns the incremental refresh window: one window per day from
// startDaysAgo through endDaysAgo before now, ascending.
func RecentDays(now time.Time, startDaysAgo, endDaysAgo int) []Window {
	return Days(now.AddDate(0, 0, -startDaysAgo), now.AddDate(0, 0, -endDaysAgo))
}

// BackfillDays returns daily windows walking backwards from yesterday down to
// the cutoff, newest first. Walking newest-to-oldest lets the caller stop as
// soon as the remote retention window ends.
func BackfillDays(now time.Time, cutoff time.Time) []Window {
	day := midnight(now).AddDate(0, 0, -1)
	limit := midnight(cutoff)
	var windows []Window
	for !day.Before(limit) {
		windows = append(windows, Window{Start: day, End: day.AddDate(0, 0, 1)})
		day = day.AddDate(0, 0, -1)
	}
	return windows
}

// latestCompleteWeek returns the most recent fully elapsed [Sunday, Sunday)
// window, shifted one further week back so the remote side has settled its
// aggregates.
func latestCompleteWeek(now time.Time) Window {
	today := midnight(now)
	sunday := today.AddDate(0, 0, -int(today.Weekday()))
	return Window{Start: sunday.AddDate(0, 0, -14), End: sunday.AddDate(0, 0, -7)}
}

// WeeksBack returns up to `count` weekly [Sunday, Sunday) windows, newest
// first, starting from the latest complete settled week.
func WeeksBack(now time.Time, count int) []Window {
	window := latestCompleteWeek(now)
	windows := make([]Window, 0, count)
	for i := 0; i < count; i++ {
		windows = append(windows, window)
		window = Window{Start: window.Start.AddDate(0, 0, -7), End: window.End.AddDate(0, 0, -7)}
	}
	return windows
}

// MonthsBack returns up to `count` calendar-month windows, newest first,
// starting from the most recent fully elapsed month.
func MonthsBack(now time.Time, count int) []Window {
	t := now.UTC()
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	windows := make([]Window, 0, count)
	for i := 0; i < count; i++ {
		start := first.AddDate(0, -1, 0)
		windows = append(windows, Window{Start: start, End: first})
		first = start
	}
	return windows
}

// Chunk partitions ids into fixed-size chunks, preserving input order. The
// final chunk holds the remainder.
func Chunk(ids []string, size int) [][]string {
	if size <= 0 || len(ids) == 0 {
		if len(ids) == 0 {
			return nil
		}
		return [][]string{ids}
	}
	chunks := make([][]string, 0, (len(ids)+size-1)/size)
	for i := 0; i < len(ids); i += size {
		j := i + size
		if j > len(ids) {
			j = len(ids)
		}
		chunks = append(chunks, ids[i:j])
	}
	return chunks
}
