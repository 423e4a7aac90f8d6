package model

import "strings"

// Severity levels as stored on Vulnerability nodes.
const (
	SeverityCritical = "CRITICAL"
	SeverityHigh     = "HIGH"
	SeverityMedium   = "MEDIUM"
	SeverityLow      = "LOW"
	SeverityInfo     = "INFO"
	SeverityUnknown  = "UNKNOWN"
)

var severityScores = map[string]int{
	SeverityCritical: 10,
	SeverityHigh:     7,
	SeverityMedium:   4,
	SeverityLow:      1,
	SeverityInfo:     0,
	SeverityUnknown:  0,
}

// NormalizeSeverity upper-cases a scanner severity and maps anything unrecognised to UNKNOWN.
// "informational" and "moderate" are common scanner spellings and are folded in.
func NormalizeSeverity(s string) string {
	sev := strings.ToUpper(strings.TrimSpace(s))
	switch sev {
	case "INFORMATIONAL":
		return SeverityInfo
	case "MODERATE":
		return SeverityMedium
	}
	if _, ok := severityScores[sev]; ok {
		return sev
	}
	return SeverityUnknown
}

// SeverityScore returns the numeric priority used for ordering, higher is worse.
func SeverityScore(s string) int {
	return severityScores[NormalizeSeverity(s)]
}
