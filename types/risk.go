package types

import (
	"fmt"
	"strings"

	"github.com/c360/devicewatch/errors"
)

// RiskLevel is the closed, ordered set of failure-risk labels produced by the
// prediction pipeline: Low < Medium < High.
type RiskLevel string

// Risk level constants
const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// Levels returns all valid risk levels in ascending severity order.
func Levels() []RiskLevel {
	return []RiskLevel{RiskLow, RiskMedium, RiskHigh}
}

// Severity returns the ordinal severity of the level (Low=0, Medium=1, High=2).
// Unknown labels return -1 and sort below every valid level.
func (r RiskLevel) Severity() int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	default:
		return -1
	}
}

// Valid reports whether the label belongs to the closed set.
func (r RiskLevel) Valid() bool {
	return r.Severity() >= 0
}

// String implements fmt.Stringer
func (r RiskLevel) String() string {
	return string(r)
}

// ParseRiskLevel converts a string to a RiskLevel, case-insensitively.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return RiskLow, nil
	case "medium":
		return RiskMedium, nil
	case "high":
		return RiskHigh, nil
	default:
		return "", errors.WrapInvalid(
			fmt.Errorf("unknown risk level: %q", s),
			"types", "ParseRiskLevel", "validate label")
	}
}
