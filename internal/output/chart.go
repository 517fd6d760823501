package output

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Ipswich/sproot-sub000/internal/chart"
)

// chartUnits labels every output chart point.
const chartUnits = "%"

// resyncFactor times the bucket width in minutes is the number of
// consecutive missed updates after which a chart is rebuilt from the cache.
const resyncFactor = 3

// ChartAggregator keeps the bucketed chart series of one output. The series
// is keyed by the output name.
//
// ChartAggregator is not safe for concurrent use; Output serialises access.
type ChartAggregator struct {
	info     chart.SeriesInfo
	limit    int
	interval time.Duration
	data     *chart.Data
	misses   int
}

// NewChartAggregator returns limit empty buckets ending at now.
func NewChartAggregator(info chart.SeriesInfo, limit int, interval time.Duration, now time.Time) *ChartAggregator {
	return &ChartAggregator{
		info:     info,
		limit:    limit,
		interval: interval,
		data:     chart.NewData(limit, interval, now),
	}
}

// Load rebuilds the series ending at now from cached states. The last state
// in each bucket wins; states outside the window are dropped.
func (a *ChartAggregator) Load(states []State, now time.Time) {
	a.data = chart.NewData(a.limit, a.interval, now)
	for _, st := range states {
		a.data.Set(chart.BucketLabel(st.LogTime, a.interval), a.info.Name, chartUnits, float64(st.Value))
	}
	a.misses = 0
}

// Record feeds the newest cached state. A state in the bucket of the
// newest point refreshes that point; a state in the following bucket
// appends one. Any other bucket, or resyncFactor x interval consecutive
// updates without an append, rebuilds the series from history. Record
// reports whether the series changed.
func (a *ChartAggregator) Record(latest State, history func() []State, now time.Time) bool {
	label := chart.BucketLabel(latest.LogTime, a.interval)
	last, ok := a.data.Last()

	switch {
	case ok && last.Name == label:
		a.data.Upsert(a.point(label, latest.Value))
		a.misses++
		if a.misses >= a.resyncThreshold() {
			a.Load(history(), now)
		}
		return true
	case ok && last.Name == chart.BucketLabel(latest.LogTime.Add(-a.interval), a.interval):
		a.data.Add(a.point(label, latest.Value))
		a.misses = 0
		return true
	default:
		a.Load(history(), now)
		return true
	}
}

func (a *ChartAggregator) point(label string, value int) chart.Point {
	p := chart.NewPoint(label)
	p.Units = chartUnits
	p.Values[a.info.Name] = float64(value)
	return p
}

func (a *ChartAggregator) resyncThreshold() int {
	return max(1, resyncFactor*int(a.interval/time.Minute))
}

// Misses returns the number of consecutive missed updates.
func (a *ChartAggregator) Misses() int { return a.misses }

// Info returns the series presentation.
func (a *ChartAggregator) Info() chart.SeriesInfo { return a.info }

// SetInfo renames or recolours the series. A rename rebuilds the series
// from states under the new key.
func (a *ChartAggregator) SetInfo(info chart.SeriesInfo, states []State, now time.Time) {
	renamed := info.Name != a.info.Name
	a.info = info
	if renamed {
		a.Load(states, now)
	}
}

// Series returns a copy of the series.
func (a *ChartAggregator) Series() chart.Series { return a.data.Points() }

// Last returns the newest point.
func (a *ChartAggregator) Last() (chart.Point, bool) { return a.data.Last() }

// ─── Aggregate Chart ────────────────────────────────────────────────────────

// ChartView is chart data as served to consumers.
type ChartView struct {
	Data   chart.Series        `json:"data"`
	Series []chart.SeriesInfo  `json:"series"`
	Stats  map[int]chart.Stats `json:"stats,omitempty"`
}

// AggregateChart merges the series of every output into one chart.
// Safe for concurrent use.
type AggregateChart struct {
	mu       sync.RWMutex
	limit    int
	interval time.Duration
	data     *chart.Data
	info     []chart.SeriesInfo
}

// NewAggregateChart returns an empty chart ending at now.
func NewAggregateChart(limit int, interval time.Duration, now time.Time) *AggregateChart {
	return &AggregateChart{
		limit:    limit,
		interval: interval,
		data:     chart.NewData(limit, interval, now),
	}
}

// Rebuild replaces the chart with the combined series, keeping only buckets
// within the window ending at now.
func (c *AggregateChart) Rebuild(series []chart.Series, info []chart.SeriesInfo, now time.Time) {
	data := chart.NewData(c.limit, c.interval, now)
	for _, p := range chart.Combine(series...) {
		for name, v := range p.Values {
			data.Set(p.Name, name, p.Units, v)
		}
	}

	sorted := slices.Clone(info)
	slices.SortFunc(sorted, func(a, b chart.SeriesInfo) int { return strings.Compare(a.Name, b.Name) })

	c.mu.Lock()
	c.data = data
	c.info = sorted
	c.mu.Unlock()
}

// Update merges the newest point of each output, appending a bucket when
// the label is new.
func (c *AggregateChart) Update(points []chart.Point) {
	merged := chart.Combine(chart.Series(points))

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range merged {
		c.data.Upsert(p)
	}
}

// View returns the chart. latestOnly limits the data to the newest point
// and omits statistics.
func (c *AggregateChart) View(latestOnly bool) ChartView {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v := ChartView{Series: slices.Clone(c.info)}
	if v.Series == nil {
		v.Series = []chart.SeriesInfo{}
	}
	if latestOnly {
		v.Data = chart.Series{}
		if p, ok := c.data.Last(); ok {
			v.Data = chart.Series{p}
		}
		return v
	}
	v.Data = c.data.Points()
	v.Stats = chart.StatsForSpans(chart.TimeSpans(v.Data, c.interval))
	return v
}
