package chart

import (
	"encoding/json"
	"testing"
	"time"
)

func at(hour, minute int) time.Time {
	return time.Date(2026, time.March, 14, hour, minute, 0, 0, time.UTC)
}

func TestLabel(t *testing.T) {
	tests := []struct {
		in   time.Time
		want string
	}{
		{at(13, 5), "3/14 1:05 pm"},
		{at(0, 30), "3/14 12:30 am"},
		{at(12, 0), "3/14 12:00 pm"},
		{at(9, 45), "3/14 9:45 am"},
	}

	for _, tt := range tests {
		if got := Label(tt.in); got != tt.want {
			t.Errorf("Label(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBucketLabel(t *testing.T) {
	if got, want := BucketLabel(at(13, 7), 5*time.Minute), "3/14 1:05 pm"; got != want {
		t.Errorf("BucketLabel() = %q, want %q", got, want)
	}
	if got, want := BucketLabel(at(13, 9), 5*time.Minute), "3/14 1:05 pm"; got != want {
		t.Errorf("BucketLabel() = %q, want %q", got, want)
	}
}

func TestEmptySeries(t *testing.T) {
	s := EmptySeries(3, 5*time.Minute, at(13, 7))

	want := []string{"3/14 12:55 pm", "3/14 1:00 pm", "3/14 1:05 pm"}
	if len(s) != len(want) {
		t.Fatalf("len = %d, want %d", len(s), len(want))
	}
	for i, name := range want {
		if s[i].Name != name {
			t.Errorf("s[%d].Name = %q, want %q", i, s[i].Name, name)
		}
		if len(s[i].Values) != 0 {
			t.Errorf("s[%d].Values = %v, want empty", i, s[i].Values)
		}
	}

	if got := EmptySeries(0, time.Minute, at(1, 0)); len(got) != 0 {
		t.Errorf("EmptySeries(0) = %v, want empty", got)
	}
}

func TestData_UpsertSameBucketOverwrites(t *testing.T) {
	interval := 5 * time.Minute
	d := NewData(10, interval, at(13, 0))
	before := d.Len()

	// Two samples two minutes apart land in the same bucket.
	first := NewPoint(BucketLabel(at(13, 5), interval))
	first.Values["Fan"] = 20
	d.Upsert(first)

	second := NewPoint(BucketLabel(at(13, 7), interval))
	second.Values["Fan"] = 60
	d.Upsert(second)

	count := 0
	for _, p := range d.Points() {
		if p.Name == "3/14 1:05 pm" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("points for bucket = %d, want 1", count)
	}

	last, _ := d.Last()
	if last.Values["Fan"] != 60 {
		t.Errorf("last value = %v, want 60", last.Values["Fan"])
	}

	// One bucket appended, the oldest shifted out to stay within limit.
	if d.Len() != before {
		t.Errorf("Len() = %d, want %d", d.Len(), before)
	}
}

func TestData_NeverExceedsLimit(t *testing.T) {
	d := NewData(4, time.Minute, at(10, 0))
	for i := 1; i <= 20; i++ {
		p := NewPoint(Label(at(10, i)))
		p.Values["a"] = float64(i)
		d.Add(p)
		if d.Len() > d.Limit() {
			t.Fatalf("Len() = %d exceeds limit %d", d.Len(), d.Limit())
		}
	}

	first := d.Points()[0]
	if first.Values["a"] != 17 {
		t.Errorf("oldest value = %v, want 17", first.Values["a"])
	}
}

func TestData_Set(t *testing.T) {
	d := NewData(3, 5*time.Minute, at(13, 7))

	if !d.Set("3/14 1:00 pm", "Pump", "%", 100) {
		t.Fatal("Set() on existing label returned false")
	}
	if d.Set("1/1 1:00 am", "Pump", "%", 100) {
		t.Error("Set() on missing label returned true")
	}

	p := d.Points()[1]
	if p.Values["Pump"] != 100 || p.Units != "%" {
		t.Errorf("point = %+v, want Pump=100 units=%%", p)
	}
}

func TestCombine(t *testing.T) {
	a := Series{
		{Name: "1:00", Units: "%", Values: map[string]float64{"Fan": 10}},
		{Name: "1:05", Units: "%", Values: map[string]float64{"Fan": 20}},
	}
	b := Series{
		{Name: "1:05", Values: map[string]float64{"Light": 100}},
		{Name: "1:10", Values: map[string]float64{"Light": 0}},
	}

	got := Combine(a, b)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[1].Name != "1:05" || got[1].Values["Fan"] != 20 || got[1].Values["Light"] != 100 {
		t.Errorf("merged point = %+v", got[1])
	}
	if got[1].Units != "%" {
		t.Errorf("merged units = %q, want %%", got[1].Units)
	}
	if got[2].Name != "1:10" {
		t.Errorf("order = %v, want 1:00, 1:05, 1:10", got)
	}

	if empty := Combine(); len(empty) != 0 {
		t.Errorf("Combine() = %v, want empty", empty)
	}
}

func TestTimeSpans(t *testing.T) {
	s := EmptySeries(300, 5*time.Minute, at(23, 55))
	spans := TimeSpans(s, 5*time.Minute)

	want := map[int]int{0: 300, 6: 72, 12: 144, 24: 288, 72: 300}
	for h, n := range want {
		if got := len(spans[h]); got != n {
			t.Errorf("len(spans[%d]) = %d, want %d", h, got, n)
		}
	}

	if spans[6][71].Name != s[299].Name {
		t.Error("spans should end at the newest point")
	}
}

func TestPoint_JSONRoundTrip(t *testing.T) {
	p := Point{Name: "3/14 1:05 pm", Units: "%", Values: map[string]float64{"Fan": 40}}

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if flat["Fan"] != 40.0 || flat["name"] != "3/14 1:05 pm" {
		t.Errorf("flattened = %v", flat)
	}

	var back Point
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal() into Point error = %v", err)
	}
	if back.Values["Fan"] != 40 || back.Units != "%" || back.Name != p.Name {
		t.Errorf("round trip = %+v", back)
	}
}
