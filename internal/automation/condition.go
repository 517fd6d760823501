package automation

import (
	"regexp"
	"strconv"
	"time"
)

var timePattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):([0-5][0-9])$`)

// Evaluate reports whether the condition holds for env. lastRun is the
// owning rule's last run time and is only consulted by "every N minutes"
// time conditions.
//
// Malformed conditions and missing readings evaluate to false.
func (c Condition) Evaluate(env Env, lastRun *time.Time) bool {
	switch c.Kind {
	case KindSensor:
		if env.Sensors == nil {
			return false
		}
		return c.evaluateSamples(env.Sensors.CachedReadings(c.SensorID, c.ReadingType, c.sampleCount()), env.Now)
	case KindOutput:
		if env.Outputs == nil {
			return false
		}
		return c.evaluateSamples(env.Outputs.CachedReadings(c.OutputID, c.sampleCount()), env.Now)
	case KindTime:
		return evaluateTime(env.Now, c.StartTime, c.EndTime, lastRun)
	case KindWeekday:
		return c.Weekdays&(1<<uint(env.Now.Weekday())) != 0
	case KindMonth:
		return c.Months&(1<<uint(env.Now.Month()-1)) != 0
	case KindDateRange:
		return evaluateDateRange(env.Now, c.StartMonth, c.StartDay, c.EndMonth, c.EndDay)
	default:
		return false
	}
}

func (c Condition) sampleCount() int {
	if c.Lookback > 0 {
		return c.Lookback
	}
	return 1
}

// evaluateSamples applies the comparator to samples (oldest first).
func (c Condition) evaluateSamples(samples []Reading, now time.Time) bool {
	if c.Lookback <= 0 {
		if len(samples) == 0 {
			return false
		}
		return compare(samples[len(samples)-1].Value, c.Comparator, c.Threshold)
	}

	if len(samples) > c.Lookback {
		samples = samples[len(samples)-c.Lookback:]
	}
	cutoff := now.Add(-time.Duration(c.Lookback) * time.Minute)

	recent := 0
	for _, s := range samples {
		if s.LogTime.Before(cutoff) {
			continue
		}
		recent++
		if !compare(s.Value, c.Comparator, c.Threshold) {
			return false
		}
	}
	return recent >= c.Lookback
}

func compare(reading float64, op Comparator, threshold float64) bool {
	switch op {
	case ComparatorEqual:
		return reading == threshold
	case ComparatorNotEqual:
		return reading != threshold
	case ComparatorGreater:
		return reading > threshold
	case ComparatorLess:
		return reading < threshold
	case ComparatorGreaterOrEqual:
		return reading >= threshold
	case ComparatorLessOrEqual:
		return reading <= threshold
	default:
		return false
	}
}

// evaluateTime implements the four time condition shapes:
//
//	nil,   nil   always
//	start, nil   exactly at start
//	start, end   start..end inclusive, wrapping midnight when end < start
//	nil,   end   every end minutes since the rule last ran
func evaluateTime(now time.Time, start, end *string, lastRun *time.Time) bool {
	switch {
	case start == nil && end == nil:
		return true

	case start != nil && end != nil:
		s, ok := minuteOfDay(*start)
		if !ok {
			return false
		}
		e, ok := minuteOfDay(*end)
		if !ok {
			return false
		}
		n := now.Hour()*60 + now.Minute()
		if e < s {
			return n >= s || n <= e
		}
		return n >= s && n <= e

	case start != nil:
		s, ok := minuteOfDay(*start)
		if !ok {
			return false
		}
		return now.Hour()*60+now.Minute() == s

	default:
		every, err := strconv.Atoi(*end)
		if err != nil || every < 1 {
			return false
		}
		if lastRun == nil {
			return true
		}
		return now.Sub(*lastRun) >= time.Duration(every)*time.Minute
	}
}

// minuteOfDay parses "HH:MM".
func minuteOfDay(hhmm string) (int, bool) {
	m := timePattern.FindStringSubmatch(hhmm)
	if m == nil {
		return 0, false
	}
	h, _ := strconv.Atoi(m[1])  //nolint:errcheck // Matched by pattern
	mm, _ := strconv.Atoi(m[2]) //nolint:errcheck // Matched by pattern
	return h*60 + mm, true
}

// evaluateDateRange compares month*100+day, inclusive at both ends.
func evaluateDateRange(now time.Time, startMonth time.Month, startDay int, endMonth time.Month, endDay int) bool {
	n := int(now.Month())*100 + now.Day()
	s := int(startMonth)*100 + startDay
	e := int(endMonth)*100 + endDay
	if e < s {
		return n >= s || n <= e
	}
	return n >= s && n <= e
}
