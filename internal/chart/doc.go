// Package chart builds fixed-length, time-bucketed series for presentation.
//
// A series has one Point per bucket. Buckets are interval wide and labelled
// "M/D h:mm am|pm" (see Label). Data keeps at most its limit of points and
// shifts out the oldest when a new bucket is appended. Combine merges several
// series by label, which is how per-output series become one aggregate chart.
//
// Usage:
//
//	d := chart.NewData(288, 5*time.Minute, time.Now())
//	p := chart.NewPoint(chart.BucketLabel(state.LogTime, d.Interval()))
//	p.Values["Fan"] = 40
//	d.Upsert(p)
package chart
