package histogram

import (
	"sort"
	"time"

	"casefile/app/interfaces"
)

func emptyBursts() interfaces.BurstResult {
	return interfaces.BurstResult{Bursts: []interfaces.BurstPeriod{}, Windows: []interfaces.BurstWindow{}}
}

// DetectBursts re-aggregates ascending minute buckets into windows of
// windowMinutes, takes the median of the non-empty windows as the
// baseline and flags windows whose count exceeds baseline*multiplier.
// Empty windows never enter the baseline, so on a sparse timeline a few
// busy windows against many single-event ones are flagged readily.
// Adjacent flagged windows merge into one burst period. The sparkline in
// Windows covers every window between the first and last event.
func DetectBursts(buckets []interfaces.MinuteBucket, windowMinutes int, multiplier float64) interfaces.BurstResult {
	res := emptyBursts()
	if windowMinutes <= 0 {
		windowMinutes = DefaultWindowMinutes
	}
	if multiplier <= 0 {
		multiplier = DefaultMultiplier
	}

	type point struct {
		t     time.Time
		count int64
	}
	points := make([]point, 0, len(buckets))
	for _, b := range buckets {
		if t, ok := parseMinute(b.Minute); ok && b.Count > 0 {
			points = append(points, point{t, b.Count})
		}
	}
	if len(points) == 0 {
		return res
	}

	first, last := points[0].t, points[len(points)-1].t
	span := int(last.Sub(first)/time.Minute) + 1
	if span/windowMinutes >= MaxWindows {
		windowMinutes = span/MaxWindows + 1
	}
	width := time.Duration(windowMinutes) * time.Minute
	origin := first.Truncate(width)
	n := int(last.Sub(origin)/width) + 1

	counts := make([]int64, n)
	for _, p := range points {
		counts[int(p.t.Sub(origin)/width)] += p.count
	}

	nonEmpty := make([]int64, 0, n)
	for _, c := range counts {
		if c > 0 {
			nonEmpty = append(nonEmpty, c)
		}
	}
	res.Baseline = median(nonEmpty)
	limit := res.Baseline * multiplier

	res.Windows = make([]interfaces.BurstWindow, n)
	var cur *interfaces.BurstPeriod
	for i, c := range counts {
		start := origin.Add(time.Duration(i) * width)
		flagged := res.Baseline > 0 && float64(c) > limit
		res.Windows[i] = interfaces.BurstWindow{Start: formatMinute(start), Count: c, IsBurst: flagged}
		if !flagged {
			cur = nil
			continue
		}
		if cur == nil {
			res.Bursts = append(res.Bursts, interfaces.BurstPeriod{Start: formatMinute(start)})
			cur = &res.Bursts[len(res.Bursts)-1]
		}
		cur.End = formatMinute(start.Add(width))
		cur.Windows++
		cur.TotalEvents += c
		cur.PeakRate = max(cur.PeakRate, c)
		cur.DurationMinutes = int64(cur.Windows * windowMinutes)
		cur.BurstFactor = float64(cur.TotalEvents) / (float64(cur.Windows) * res.Baseline)
	}
	return res
}

func median(vals []int64) float64 {
	if len(vals) == 0 {
		return 0
	}
	s := append([]int64(nil), vals...)
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return float64(s[mid])
	}
	return float64(s[mid-1]+s[mid]) / 2
}
