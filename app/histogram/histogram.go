package histogram

import (
	"context"

	"casefile/app/interfaces"
	"casefile/app/query"
	"casefile/app/timestamps"
)

// Days groups matching rows by the calendar day of the timestamp column.
// Buckets whose prefix is not a YYYY-MM-DD date are dropped.
func Days(ctx context.Context, eng *query.Engine, req interfaces.HistogramRequest) (interfaces.HistogramResult, error) {
	res := interfaces.HistogramResult{Buckets: []interfaces.HistogramBucket{}}
	col, err := TimeColumn(eng.Store(), req.TimestampColumn)
	if err != nil {
		return res, err
	}
	err = groupPrefix(ctx, eng, req.QueryRequest, col, 10, func(p string, c int64) {
		if timestamps.IsDayPrefix(p) {
			res.Buckets = append(res.Buckets, interfaces.HistogramBucket{Day: p, Count: c})
		}
	})
	return res, err
}

// Gaps runs gap analysis over the matching rows.
func Gaps(ctx context.Context, eng *query.Engine, req interfaces.GapRequest) (interfaces.GapResult, error) {
	buckets, err := Minutes(ctx, eng, req.QueryRequest, req.TimestampColumn)
	if err != nil {
		return emptyGaps(), err
	}
	return AnalyzeGaps(buckets, req.ThresholdMinutes), nil
}

// Bursts runs burst detection over the matching rows.
func Bursts(ctx context.Context, eng *query.Engine, req interfaces.BurstRequest) (interfaces.BurstResult, error) {
	buckets, err := Minutes(ctx, eng, req.QueryRequest, req.TimestampColumn)
	if err != nil {
		return emptyBursts(), err
	}
	return DetectBursts(buckets, req.WindowMinutes, req.Multiplier), nil
}
