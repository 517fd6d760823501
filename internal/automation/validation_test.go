package automation

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

func TestValidateRule(t *testing.T) {
	valid := func() *Rule {
		return &Rule{
			Name:     "Lights on",
			Value:    100,
			Operator: OperatorAnd,
			Enabled:  true,
			Conditions: []Condition{
				{Kind: KindTime, Group: GroupAllOf, StartTime: strPtr("06:00"), EndTime: strPtr("20:00")},
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(r *Rule)
		nilRule bool
		wantErr error
	}{
		{name: "valid rule", mutate: func(*Rule) {}},
		{name: "nil rule", nilRule: true, wantErr: ErrInvalidRule},
		{name: "empty name", mutate: func(r *Rule) { r.Name = "" }, wantErr: ErrInvalidRule},
		{name: "whitespace-only name", mutate: func(r *Rule) { r.Name = "   " }, wantErr: ErrInvalidRule},
		{name: "name too long", mutate: func(r *Rule) { r.Name = strings.Repeat("a", 65) }, wantErr: ErrInvalidRule},
		{name: "value below zero", mutate: func(r *Rule) { r.Value = -1 }, wantErr: ErrInvalidRule},
		{name: "value above 100", mutate: func(r *Rule) { r.Value = 101 }, wantErr: ErrInvalidRule},
		{name: "unknown operator", mutate: func(r *Rule) { r.Operator = "xor" }, wantErr: ErrInvalidRule},
		{
			name:    "invalid condition",
			mutate:  func(r *Rule) { r.Conditions[0].StartTime = strPtr("25:00") },
			wantErr: ErrInvalidCondition,
		},
		{name: "no conditions", mutate: func(r *Rule) { r.Conditions = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r *Rule
			if !tt.nilRule {
				r = valid()
				tt.mutate(r)
			}
			err := ValidateRule(r)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateRule() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateRule() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateCondition(t *testing.T) {
	tests := []struct {
		name    string
		cond    Condition
		wantErr bool
	}{
		{
			name: "sensor valid",
			cond: Condition{Kind: KindSensor, Group: GroupAllOf, ReadingType: "temperature", Comparator: ComparatorGreater, Threshold: 25},
		},
		{
			name:    "sensor missing reading type",
			cond:    Condition{Kind: KindSensor, Group: GroupAllOf, Comparator: ComparatorGreater},
			wantErr: true,
		},
		{
			name:    "sensor unknown comparator",
			cond:    Condition{Kind: KindSensor, Group: GroupAllOf, ReadingType: "humidity", Comparator: "about"},
			wantErr: true,
		},
		{
			name:    "output negative lookback",
			cond:    Condition{Kind: KindOutput, Group: GroupAnyOf, Comparator: ComparatorEqual, Lookback: -1},
			wantErr: true,
		},
		{
			name:    "unknown group",
			cond:    Condition{Kind: KindWeekday, Group: "someOf", Weekdays: 1},
			wantErr: true,
		},
		{name: "time always", cond: Condition{Kind: KindTime, Group: GroupAllOf}},
		{name: "time start only", cond: Condition{Kind: KindTime, Group: GroupAllOf, StartTime: strPtr("07:30")}},
		{name: "time every n", cond: Condition{Kind: KindTime, Group: GroupAllOf, EndTime: strPtr("15")}},
		{
			name:    "time every zero",
			cond:    Condition{Kind: KindTime, Group: GroupAllOf, EndTime: strPtr("0")},
			wantErr: true,
		},
		{
			name:    "time bad end",
			cond:    Condition{Kind: KindTime, Group: GroupAllOf, StartTime: strPtr("07:30"), EndTime: strPtr("7:30")},
			wantErr: true,
		},
		{name: "weekday all", cond: Condition{Kind: KindWeekday, Group: GroupOneOf, Weekdays: 127}},
		{name: "weekday none", cond: Condition{Kind: KindWeekday, Group: GroupOneOf}, wantErr: true},
		{name: "weekday overflow", cond: Condition{Kind: KindWeekday, Group: GroupOneOf, Weekdays: 128}, wantErr: true},
		{name: "month all", cond: Condition{Kind: KindMonth, Group: GroupAllOf, Months: 4095}},
		{name: "month overflow", cond: Condition{Kind: KindMonth, Group: GroupAllOf, Months: 4096}, wantErr: true},
		{
			name: "date range leap day",
			cond: Condition{Kind: KindDateRange, Group: GroupAllOf, StartMonth: time.February, StartDay: 29, EndMonth: time.March, EndDay: 1},
		},
		{
			name:    "date range bad day",
			cond:    Condition{Kind: KindDateRange, Group: GroupAllOf, StartMonth: time.April, StartDay: 31, EndMonth: time.May, EndDay: 1},
			wantErr: true,
		},
		{
			name:    "date range bad month",
			cond:    Condition{Kind: KindDateRange, Group: GroupAllOf, StartMonth: 13, StartDay: 1, EndMonth: time.May, EndDay: 1},
			wantErr: true,
		},
		{name: "unknown kind", cond: Condition{Kind: "moon", Group: GroupAllOf}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCondition(tt.cond)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCondition() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidCondition) {
				t.Errorf("ValidateCondition() error = %v, want ErrInvalidCondition", err)
			}
		})
	}
}
