package histogram

import (
	"time"

	"casefile/app/interfaces"
)

func emptyGaps() interfaces.GapResult {
	return interfaces.GapResult{Sessions: []interfaces.ActivitySession{}, Gaps: []interfaces.Gap{}}
}

// AnalyzeGaps walks ascending minute buckets and splits them into activity
// sessions wherever consecutive non-empty minutes are more than
// thresholdMinutes apart. Each split also yields a gap record. A session's
// duration runs from its first to its last bucket start.
func AnalyzeGaps(buckets []interfaces.MinuteBucket, thresholdMinutes int) interfaces.GapResult {
	res := emptyGaps()
	if thresholdMinutes <= 0 {
		thresholdMinutes = DefaultGapThresholdMinutes
	}

	var cur interfaces.ActivitySession
	var startT, lastT time.Time
	open := false
	closeSession := func() {
		cur.DurationMinutes = int64(lastT.Sub(startT) / time.Minute)
		res.Sessions = append(res.Sessions, cur)
	}
	for _, b := range buckets {
		if b.Count <= 0 {
			continue
		}
		t, ok := parseMinute(b.Minute)
		if !ok {
			continue
		}
		res.TotalEvents += b.Count
		if open {
			diff := int64(t.Sub(lastT) / time.Minute)
			if diff <= int64(thresholdMinutes) {
				cur.End = b.Minute
				cur.EventCount += b.Count
				lastT = t
				continue
			}
			closeSession()
			res.Gaps = append(res.Gaps, interfaces.Gap{Start: cur.End, End: b.Minute, DurationMinutes: diff})
		}
		cur = interfaces.ActivitySession{Start: b.Minute, End: b.Minute, EventCount: b.Count}
		startT, lastT, open = t, t, true
	}
	if open {
		closeSession()
	}
	return res
}
