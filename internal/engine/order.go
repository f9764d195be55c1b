package engine

import "sort"

// moreUrgent orders timers most-urgent first: overtime before running, worst
// overrun first, then least remaining. Ties fall back to start time and key.
func moreUrgent(a, b View) bool {
	switch {
	case a.Overtime && b.Overtime:
		if a.OvertimeSeconds != b.OvertimeSeconds {
			return a.OvertimeSeconds > b.OvertimeSeconds
		}
	case a.Overtime != b.Overtime:
		return a.Overtime
	default:
		if a.RemainingSeconds != b.RemainingSeconds {
			return a.RemainingSeconds < b.RemainingSeconds
		}
	}
	if !a.StartedAt.Equal(b.StartedAt) {
		return a.StartedAt.Before(b.StartedAt)
	}
	return a.Key < b.Key
}

// SortViews orders views in place for the live status list.
func SortViews(views []View) {
	sort.SliceStable(views, func(i, j int) bool { return moreUrgent(views[i], views[j]) })
}
