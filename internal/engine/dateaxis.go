package engine

import (
	"sort"
	"time"
)

// DefaultDailyWindowDays is the size of the trailing window sampled daily;
// everything before it is sampled monthly.
const DefaultDailyWindowDays = 90

// ChartDates generates the chart axis between start and end at adaptive
// granularity: daily inside the trailing window, monthly (first of month)
// beyond it, plus every calendar-year boundary (Jan 1 and Dec 31) inside
// [start, end]. The result is sorted, deduplicated and clipped to the range;
// start and end themselves are always included.
func ChartDates(start, end time.Time, dailyWindowDays int) []time.Time {
	start = dayOf(start)
	end = dayOf(end)
	if end.Before(start) {
		return nil
	}
	if dailyWindowDays <= 0 {
		dailyWindowDays = DefaultDailyWindowDays
	}

	seen := make(map[time.Time]struct{})
	add := func(d time.Time) {
		if d.Before(start) || d.After(end) {
			return
		}
		seen[d] = struct{}{}
	}

	add(start)
	add(end)

	dailyFrom := end.AddDate(0, 0, -dailyWindowDays)
	if dailyFrom.Before(start) {
		dailyFrom = start
	}
	for d := dailyFrom; !d.After(end); d = d.AddDate(0, 0, 1) {
		add(d)
	}

	// Monthly samples before the daily window, first of each month.
	for d := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC); d.Before(dailyFrom); d = d.AddDate(0, 1, 0) {
		add(d)
	}

	// Year boundaries guarantee clean markers on charts spanning multiple
	// years, even under coarse monthly sampling.
	for year := start.Year(); year <= end.Year(); year++ {
		add(time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC))
		add(time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC))
	}

	out := make([]time.Time, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
