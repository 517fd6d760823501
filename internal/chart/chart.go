package chart

import (
	"encoding/json"
	"fmt"
	"time"
)

// labelLayout renders bucket labels such as "3/14 1:05 pm".
const labelLayout = "1/2 3:04 pm"

// Point is one bucket of a chart series. Values maps series name to value.
type Point struct {
	Name   string
	Units  string
	Values map[string]float64
}

// NewPoint returns an empty point for the bucket label name.
func NewPoint(name string) Point {
	return Point{Name: name, Values: make(map[string]float64)}
}

// Clone returns a deep copy of p.
func (p Point) Clone() Point {
	c := Point{Name: p.Name, Units: p.Units, Values: make(map[string]float64, len(p.Values))}
	for k, v := range p.Values {
		c.Values[k] = v
	}
	return c
}

// MarshalJSON flattens the point into {"name": ..., "units": ..., "<series>": value}.
func (p Point) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(p.Values)+2)
	for k, v := range p.Values {
		m[k] = v
	}
	m["name"] = p.Name
	if p.Units != "" {
		m["units"] = p.Units
	}
	return json.Marshal(m)
}

// UnmarshalJSON reverses MarshalJSON. Non-numeric series values are rejected.
func (p *Point) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*p = NewPoint("")
	for k, v := range raw {
		switch k {
		case "name":
			if err := json.Unmarshal(v, &p.Name); err != nil {
				return fmt.Errorf("decoding point name: %w", err)
			}
		case "units":
			if err := json.Unmarshal(v, &p.Units); err != nil {
				return fmt.Errorf("decoding point units: %w", err)
			}
		default:
			var f float64
			if err := json.Unmarshal(v, &f); err != nil {
				return fmt.Errorf("decoding series %q: %w", k, err)
			}
			p.Values[k] = f
		}
	}
	return nil
}

// Series is an ordered list of points, oldest first.
type Series []Point

// Clone returns a deep copy of s.
func (s Series) Clone() Series {
	out := make(Series, len(s))
	for i, p := range s {
		out[i] = p.Clone()
	}
	return out
}

// SeriesInfo describes how a series is presented.
type SeriesInfo struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Label formats t as a bucket label in t's location.
func Label(t time.Time) string {
	return t.Format(labelLayout)
}

// BucketStart returns the start of the interval-wide bucket containing t.
func BucketStart(t time.Time, interval time.Duration) time.Time {
	if interval <= 0 {
		return t
	}
	return t.Truncate(interval)
}

// BucketLabel returns the label of the bucket containing t.
func BucketLabel(t time.Time, interval time.Duration) string {
	return Label(BucketStart(t, interval))
}

// EmptySeries returns limit points labelled with consecutive buckets ending
// at the bucket containing now.
func EmptySeries(limit int, interval time.Duration, now time.Time) Series {
	if limit < 1 {
		return Series{}
	}
	s := make(Series, limit)
	bucket := BucketStart(now, interval)
	for i := limit - 1; i >= 0; i-- {
		s[i] = NewPoint(Label(bucket))
		bucket = bucket.Add(-interval)
	}
	return s
}

// Combine merges series by bucket label. Points sharing a label are merged
// into one; later values for the same series name win. Labels keep the order
// in which they are first seen.
func Combine(series ...Series) Series {
	index := make(map[string]int)
	var out Series
	for _, s := range series {
		for _, p := range s {
			i, ok := index[p.Name]
			if !ok {
				index[p.Name] = len(out)
				out = append(out, NewPoint(p.Name))
				i = len(out) - 1
			}
			if p.Units != "" {
				out[i].Units = p.Units
			}
			for k, v := range p.Values {
				out[i].Values[k] = v
			}
		}
	}
	if out == nil {
		return Series{}
	}
	return out
}

// Span lengths in hours; zero selects the whole series.
var spanHours = []int{0, 6, 12, 24, 72}

// TimeSpans slices s into the trailing 6, 12, 24 and 72 hour windows.
// Key 0 holds the whole series.
func TimeSpans(s Series, interval time.Duration) map[int]Series {
	spans := make(map[int]Series, len(spanHours))
	for _, h := range spanHours {
		if h == 0 || interval <= 0 {
			spans[h] = s
			continue
		}
		n := int(time.Duration(h) * time.Hour / interval)
		if n >= len(s) {
			spans[h] = s
			continue
		}
		spans[h] = s[len(s)-n:]
	}
	return spans
}
