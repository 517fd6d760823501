package chart

import "time"

// Data is a fixed-length, time-bucketed series. It never holds more than
// limit points.
//
// Data is not safe for concurrent use; callers serialise access.
type Data struct {
	limit    int
	interval time.Duration
	series   Series
}

// NewData returns limit empty buckets ending at the bucket containing now.
func NewData(limit int, interval time.Duration, now time.Time) *Data {
	return &Data{
		limit:    limit,
		interval: interval,
		series:   EmptySeries(limit, interval, now),
	}
}

// Limit returns the maximum number of points.
func (d *Data) Limit() int { return d.limit }

// Interval returns the bucket width.
func (d *Data) Interval() time.Duration { return d.interval }

// Len returns the number of points.
func (d *Data) Len() int { return len(d.series) }

// Points returns a copy of the series.
func (d *Data) Points() Series { return d.series.Clone() }

// Last returns a copy of the newest point.
func (d *Data) Last() (Point, bool) {
	if len(d.series) == 0 {
		return Point{}, false
	}
	return d.series[len(d.series)-1].Clone(), true
}

// Add appends p, shifting out the oldest point when over limit.
func (d *Data) Add(p Point) {
	d.series = append(d.series, p.Clone())
	d.trim()
}

// Upsert appends p unless it carries the same label as the newest point,
// in which case the newest point's values are overwritten.
func (d *Data) Upsert(p Point) {
	if n := len(d.series); n > 0 && d.series[n-1].Name == p.Name {
		last := &d.series[n-1]
		if p.Units != "" {
			last.Units = p.Units
		}
		for k, v := range p.Values {
			last.Values[k] = v
		}
		return
	}
	d.Add(p)
}

// Set writes value for seriesName into the point labelled name.
// It reports false when no such point exists.
func (d *Data) Set(name, seriesName, units string, value float64) bool {
	for i := range d.series {
		if d.series[i].Name != name {
			continue
		}
		if d.series[i].Values == nil {
			d.series[i].Values = make(map[string]float64)
		}
		d.series[i].Values[seriesName] = value
		if units != "" {
			d.series[i].Units = units
		}
		return true
	}
	return false
}

func (d *Data) trim() {
	if over := len(d.series) - d.limit; over > 0 {
		d.series = append(Series(nil), d.series[over:]...)
	}
}
