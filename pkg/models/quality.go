package models

// Gate identifies one post-task quality check.
type Gate string

// Gate kinds, in fixed execution order.
const (
	GateTests     Gate = "tests"
	GateCoverage  Gate = "coverage"
	GateTypeCheck Gate = "type_check"
	GateLint      Gate = "lint"
	GateReview    Gate = "review"
)

// GateOrder is the fixed execution order of the quality gates.
var GateOrder = []Gate{GateTests, GateCoverage, GateTypeCheck, GateLint, GateReview}

// Severity ranks a quality finding.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// GateOutcome is the result of one gate run.
type GateOutcome string

const (
	GateOutcomePassed  GateOutcome = "passed"
	GateOutcomeFailed  GateOutcome = "failed"
	GateOutcomeSkipped GateOutcome = "skipped"
)

// QualityFinding is one issue reported by a gate against a task's artifacts.
type QualityFinding struct {
	ID             int64    `json:"id"`
	TaskID         int64    `json:"task_id"`
	Gate           Gate     `json:"gate"`
	Severity       Severity `json:"severity"`
	File           string   `json:"file,omitempty"`
	Line           int      `json:"line,omitempty"`
	Message        string   `json:"message"`
	Recommendation string   `json:"recommendation,omitempty"`
}
