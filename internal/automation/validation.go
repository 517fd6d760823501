package automation

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Validation constants.
const (
	maxNameLength = 64
	minValue      = 0
	maxValue      = 100
	maxWeekdays   = 1<<7 - 1
	maxMonths     = 1<<12 - 1
)

// ValidateRule checks a rule and each of its conditions.
// Returns an error describing the first validation failure found.
func ValidateRule(r *Rule) error {
	if r == nil {
		return ErrInvalidRule
	}

	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidRule)
	}
	if len(r.Name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidRule, maxNameLength)
	}
	if r.Value < minValue || r.Value > maxValue {
		return fmt.Errorf("%w: value must be %d-%d", ErrInvalidRule, minValue, maxValue)
	}
	switch r.Operator {
	case OperatorAnd, OperatorOr:
	default:
		return fmt.Errorf("%w: operator %q", ErrInvalidRule, r.Operator)
	}

	for i, c := range r.Conditions {
		if err := ValidateCondition(c); err != nil {
			return fmt.Errorf("condition[%d]: %w", i, err)
		}
	}
	return nil
}

// ValidateCondition checks the fields used by the condition's Kind.
func ValidateCondition(c Condition) error {
	switch c.Group {
	case GroupAllOf, GroupAnyOf, GroupOneOf:
	default:
		return fmt.Errorf("%w: group type %q", ErrInvalidCondition, c.Group)
	}

	switch c.Kind {
	case KindSensor:
		if c.ReadingType == "" {
			return fmt.Errorf("%w: reading type is required", ErrInvalidCondition)
		}
		return validateComparison(c)

	case KindOutput:
		return validateComparison(c)

	case KindTime:
		if c.StartTime != nil {
			if _, ok := minuteOfDay(*c.StartTime); !ok {
				return fmt.Errorf("%w: start time %q is not HH:MM", ErrInvalidCondition, *c.StartTime)
			}
		}
		if c.EndTime == nil {
			return nil
		}
		if c.StartTime == nil {
			if n, err := strconv.Atoi(*c.EndTime); err != nil || n < 1 {
				return fmt.Errorf("%w: interval %q is not a positive number of minutes", ErrInvalidCondition, *c.EndTime)
			}
			return nil
		}
		if _, ok := minuteOfDay(*c.EndTime); !ok {
			return fmt.Errorf("%w: end time %q is not HH:MM", ErrInvalidCondition, *c.EndTime)
		}
		return nil

	case KindWeekday:
		if c.Weekdays == 0 || c.Weekdays > maxWeekdays {
			return fmt.Errorf("%w: weekdays must be 1-%d", ErrInvalidCondition, maxWeekdays)
		}
		return nil

	case KindMonth:
		if c.Months == 0 || c.Months > maxMonths {
			return fmt.Errorf("%w: months must be 1-%d", ErrInvalidCondition, maxMonths)
		}
		return nil

	case KindDateRange:
		if err := validateMonthDay(c.StartMonth, c.StartDay); err != nil {
			return fmt.Errorf("%w: start %v", ErrInvalidCondition, err)
		}
		if err := validateMonthDay(c.EndMonth, c.EndDay); err != nil {
			return fmt.Errorf("%w: end %v", ErrInvalidCondition, err)
		}
		return nil

	default:
		return fmt.Errorf("%w: kind %q", ErrInvalidCondition, c.Kind)
	}
}

func validateComparison(c Condition) error {
	switch c.Comparator {
	case ComparatorEqual, ComparatorNotEqual, ComparatorGreater,
		ComparatorLess, ComparatorGreaterOrEqual, ComparatorLessOrEqual:
	default:
		return fmt.Errorf("%w: comparator %q", ErrInvalidCondition, c.Comparator)
	}
	if c.Lookback < 0 {
		return fmt.Errorf("%w: lookback cannot be negative", ErrInvalidCondition)
	}
	return nil
}

// validateMonthDay accepts Feb 29 so leap-day ranges can be stored.
func validateMonthDay(m time.Month, day int) error {
	if m < time.January || m > time.December {
		return fmt.Errorf("month %d out of range", m)
	}
	// 2024 is a leap year.
	last := time.Date(2024, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day < 1 || day > last {
		return fmt.Errorf("day %d out of range for %s", day, m)
	}
	return nil
}
