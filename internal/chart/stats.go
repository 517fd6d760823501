package chart

// Stats summarises a series per series name and across all series.
type Stats struct {
	Counts   map[string]int     `json:"counts"`
	Totals   map[string]float64 `json:"totals"`
	Minimums map[string]float64 `json:"minimums"`
	Maximums map[string]float64 `json:"maximums"`
	Averages map[string]float64 `json:"averages"`

	CumulativeCount   int      `json:"cumulativeCount"`
	CumulativeTotal   float64  `json:"cumulativeTotal"`
	CumulativeMin     *float64 `json:"cumulativeMin,omitempty"`
	CumulativeMax     *float64 `json:"cumulativeMax,omitempty"`
	CumulativeAverage *float64 `json:"cumulativeAverage,omitempty"`

	Units string `json:"units"`
}

// ComputeStats walks every value of every point in s.
func ComputeStats(s Series) Stats {
	st := Stats{
		Counts:   make(map[string]int),
		Totals:   make(map[string]float64),
		Minimums: make(map[string]float64),
		Maximums: make(map[string]float64),
		Averages: make(map[string]float64),
	}

	for _, p := range s {
		if p.Units != "" {
			st.Units = p.Units
		}
		for name, v := range p.Values {
			st.Counts[name]++
			st.Totals[name] += v
			st.CumulativeCount++
			st.CumulativeTotal += v

			if cur, ok := st.Minimums[name]; !ok || v < cur {
				st.Minimums[name] = v
			}
			if cur, ok := st.Maximums[name]; !ok || v > cur {
				st.Maximums[name] = v
			}
			if st.CumulativeMin == nil || v < *st.CumulativeMin {
				st.CumulativeMin = ptr(v)
			}
			if st.CumulativeMax == nil || v > *st.CumulativeMax {
				st.CumulativeMax = ptr(v)
			}
		}
	}

	for name, n := range st.Counts {
		st.Averages[name] = st.Totals[name] / float64(n)
	}
	if st.CumulativeCount > 0 {
		st.CumulativeAverage = ptr(st.CumulativeTotal / float64(st.CumulativeCount))
	}

	return st
}

// StatsForSpans computes Stats for every span returned by TimeSpans.
func StatsForSpans(spans map[int]Series) map[int]Stats {
	out := make(map[int]Stats, len(spans))
	for h, s := range spans {
		out[h] = ComputeStats(s)
	}
	return out
}

func ptr(v float64) *float64 { return &v }
