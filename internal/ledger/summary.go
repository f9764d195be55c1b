package ledger

import (
	"fmt"

	"chekitimer/internal/engine"
)

// Summary aggregates a set of records.
type Summary struct {
	Count             int
	Completed         int
	Cancelled         int
	Groups            []string // first-seen order
	TotalUnits        int
	TotalDistribution int
	TotalSeconds      int
	// NetOvertime is the signed sum of overtime: positive means the session
	// ran long overall, negative means it finished early.
	NetOvertime int
}

func Summarize(recs []Record) Summary {
	var s Summary
	seen := map[string]bool{}
	for _, r := range recs {
		s.Count++
		switch r.Status {
		case engine.StatusCancelled:
			s.Cancelled++
		default:
			s.Completed++
		}
		if r.GroupKey != "" && !seen[r.GroupKey] {
			seen[r.GroupKey] = true
			s.Groups = append(s.Groups, r.GroupKey)
		}
		s.TotalUnits += r.TotalUnits
		s.TotalDistribution += r.Distribution
		s.TotalSeconds += r.TotalSeconds
		s.NetOvertime += r.OvertimeSeconds
	}
	return s
}

// OvertimeLabel renders NetOvertime for people, e.g. "1:05 over" or
// "0:30 early".
func (s Summary) OvertimeLabel() string {
	switch {
	case s.NetOvertime > 0:
		return engine.FormatClock(s.NetOvertime) + " over"
	case s.NetOvertime < 0:
		return engine.FormatClock(-s.NetOvertime) + " early"
	default:
		return "on time"
	}
}

func (s Summary) String() string {
	return fmt.Sprintf("%d sessions (%d completed, %d cancelled), %d groups, units %d, distribution %d, scheduled %s, net %s",
		s.Count, s.Completed, s.Cancelled, len(s.Groups), s.TotalUnits, s.TotalDistribution,
		engine.FormatClock(s.TotalSeconds), s.OvertimeLabel())
}
