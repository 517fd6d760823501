package automation

import "time"

// Operator combines a rule's condition groups.
type Operator string

const (
	OperatorAnd Operator = "and"
	OperatorOr  Operator = "or"
)

// GroupType names the bucket a condition belongs to.
type GroupType string

const (
	GroupAllOf GroupType = "allOf" // every condition true
	GroupAnyOf GroupType = "anyOf" // at least one condition true
	GroupOneOf GroupType = "oneOf" // exactly one condition true
)

// Comparator compares a reading against a condition's threshold.
type Comparator string

const (
	ComparatorEqual          Comparator = "equal"
	ComparatorNotEqual       Comparator = "notEqual"
	ComparatorGreater        Comparator = "greater"
	ComparatorLess           Comparator = "less"
	ComparatorGreaterOrEqual Comparator = "greaterOrEqual"
	ComparatorLessOrEqual    Comparator = "lessOrEqual"
)

// Kind tags the variant a Condition holds.
type Kind string

const (
	KindSensor    Kind = "sensor"
	KindOutput    Kind = "output"
	KindTime      Kind = "time"
	KindWeekday   Kind = "weekday"
	KindMonth     Kind = "month"
	KindDateRange Kind = "date_range"
)

// Condition is one test inside a rule. Only the fields of its Kind are used.
type Condition struct {
	ID    int64     `json:"id"`
	Kind  Kind      `json:"kind"`
	Group GroupType `json:"groupType"`

	// Sensor and output conditions.
	SensorID    int64      `json:"sensorId,omitempty"`
	ReadingType string     `json:"readingType,omitempty"`
	OutputID    int64      `json:"outputId,omitempty"`
	Comparator  Comparator `json:"operator,omitempty"`
	Threshold   float64    `json:"comparisonValue,omitempty"`

	// Lookback requires the last N samples, all from the last N minutes,
	// to satisfy the comparator. Zero compares the latest sample only.
	Lookback int `json:"comparisonLookback,omitempty"`

	// Time conditions, "HH:MM". A nil StartTime with EndTime set means
	// "every EndTime minutes".
	StartTime *string `json:"startTime,omitempty"`
	EndTime   *string `json:"endTime,omitempty"`

	// Weekdays has bit i set for weekday i (Sunday = 0).
	Weekdays uint8 `json:"weekdays,omitempty"`

	// Months has bit i set for month i (January = 0).
	Months uint16 `json:"months,omitempty"`

	// Date ranges, inclusive, wrapping the year end when End precedes Start.
	StartMonth time.Month `json:"startMonth,omitempty"`
	StartDay   int        `json:"startDate,omitempty"`
	EndMonth   time.Month `json:"endMonth,omitempty"`
	EndDay     int        `json:"endDate,omitempty"`
}

// Rule is an automation targeting one output. When it evaluates true the
// output's automatic value becomes Value.
type Rule struct {
	ID         int64       `json:"id"`
	Name       string      `json:"name"`
	Value      int         `json:"value"`
	Operator   Operator    `json:"operator"`
	Enabled    bool        `json:"enabled"`
	LastRunAt  *time.Time  `json:"lastRunTime,omitempty"`
	Conditions []Condition `json:"conditions"`
}

// Reading is one timestamped sample from a sensor or an output's history.
type Reading struct {
	Value   float64
	LogTime time.Time
}

// SensorReadings provides cached sensor samples.
type SensorReadings interface {
	// CachedReadings returns up to the newest n samples, oldest first.
	CachedReadings(sensorID int64, readingType string, n int) []Reading
}

// OutputReadings provides cached output state history.
type OutputReadings interface {
	// CachedReadings returns up to the newest n states, oldest first.
	CachedReadings(outputID int64, n int) []Reading
}

// Env is the point-in-time input to an evaluation.
type Env struct {
	Now     time.Time
	Sensors SensorReadings
	Outputs OutputReadings
}

// Evaluation is the outcome of evaluating every rule for an output.
// Value is nil when no rule fired or fired rules disagree.
type Evaluation struct {
	Names []string `json:"names"`
	Value *int     `json:"value"`
}

// DeepCopy returns an independent copy of the rule.
func (r *Rule) DeepCopy() *Rule {
	if r == nil {
		return nil
	}
	cpy := *r
	if r.LastRunAt != nil {
		t := *r.LastRunAt
		cpy.LastRunAt = &t
	}
	if r.Conditions != nil {
		cpy.Conditions = make([]Condition, len(r.Conditions))
		for i, c := range r.Conditions {
			cpy.Conditions[i] = c
			cpy.Conditions[i].StartTime = cloneStringPtr(c.StartTime)
			cpy.Conditions[i].EndTime = cloneStringPtr(c.EndTime)
		}
	}
	return &cpy
}

func cloneStringPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
