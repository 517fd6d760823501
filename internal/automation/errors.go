package automation

import "errors"

// Domain errors for the automation package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, automation.ErrRuleNotFound) {
//	    // handle not found case
//	}
var (
	// ErrRuleNotFound is returned when an automation ID does not exist.
	ErrRuleNotFound = errors.New("automation: not found")

	// ErrInvalidRule is returned when rule validation fails.
	ErrInvalidRule = errors.New("automation: invalid rule")

	// ErrInvalidCondition is returned when condition validation fails.
	ErrInvalidCondition = errors.New("automation: invalid condition")
)
