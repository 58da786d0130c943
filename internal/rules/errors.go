package rules

import "errors"

// Repository errors.
var (
	ErrRuleNotFound     = errors.New("alert rule not found")
	ErrStoreUnavailable = errors.New("rule store unavailable")
)

// Validation errors.
var (
	ErrInvalidRule = errors.New("invalid alert rule")
)
