package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ParseGroupPeriod validates a grouping period string.
func ParseGroupPeriod(s string) (GroupPeriod, error) {
	switch GroupPeriod(s) {
	case GroupByMonth, GroupByYear:
		return GroupPeriod(s), nil
	case "":
		return GroupByMonth, nil
	}
	return "", fmt.Errorf("unknown group period %q", s)
}

// InvestmentsByGroup buckets investment changes into calendar months or
// years and returns the net change per bucket. The input is the cumulative
// series from a snapshot; consecutive differences recover the per-date
// deltas. A bucket with offsetting buys and sells nets to zero but still
// appears, and covered buckets with no activity are filled with explicit
// zero entries so chart consumers never interpolate over gaps.
func InvestmentsByGroup(items []InvestmentItem, period GroupPeriod) []GroupedInvestmentItem {
	if len(items) == 0 {
		return []GroupedInvestmentItem{}
	}

	buckets := make(map[string]decimal.Decimal)
	var prev decimal.Decimal
	for _, it := range items {
		delta := it.Investment.Sub(prev)
		prev = it.Investment
		key := groupKey(it.Date, period)
		buckets[key] = buckets[key].Add(delta)
	}

	first := items[0].Date
	last := items[len(items)-1].Date

	out := make([]GroupedInvestmentItem, 0, len(buckets))
	for _, key := range coveredGroups(first, last, period) {
		out = append(out, GroupedInvestmentItem{Group: key, Investment: buckets[key]})
	}
	return out
}

func groupKey(d time.Time, period GroupPeriod) string {
	if period == GroupByYear {
		return d.UTC().Format("2006")
	}
	return d.UTC().Format("2006-01")
}

// coveredGroups enumerates every calendar bucket from the first to the last
// activity date inclusive, in chronological order.
func coveredGroups(first, last time.Time, period GroupPeriod) []string {
	var keys []string
	seen := make(map[string]struct{})

	cur := time.Date(first.UTC().Year(), first.UTC().Month(), 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(last.UTC().Year(), last.UTC().Month(), 1, 0, 0, 0, 0, time.UTC)
	for !cur.After(end) {
		key := groupKey(cur, period)
		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
		cur = cur.AddDate(0, 1, 0)
	}
	return keys
}
