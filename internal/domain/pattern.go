package domain

import "time"

// Pattern is the aggregated signature of a recurring stuck or failure
// condition. PatternKey is unique.
type Pattern struct {
	PatternKey       string    `json:"pattern_key"`
	IssueType        string    `json:"issue_type"`
	Severity         Severity  `json:"severity"`
	OccurrenceCount  int       `json:"occurrence_count"`
	FirstSeen        time.Time `json:"first_seen"`
	LastSeen         time.Time `json:"last_seen"`
	AutoFixAvailable bool      `json:"auto_fix_available"`
	AutoFixStrategy  string    `json:"auto_fix_strategy,omitempty"`
}

// DetectionEvent is one observation folded into a Pattern.
type DetectionEvent struct {
	IssueType  string
	Severity   Severity
	JobID      string
	DetectedAt time.Time
}

// PromotionEligible reports whether repeated manual handling makes the
// pattern a candidate for an operator-approved automatic fix.
func (p Pattern) PromotionEligible(threshold int) bool {
	return !p.AutoFixAvailable && threshold > 0 && p.OccurrenceCount >= threshold
}
