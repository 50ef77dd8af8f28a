package event

import (
	"fmt"
	"strings"
	"time"
)

// Decision is the outcome assigned by the scoring backend.
type Decision string

const (
	Approve Decision = "APPROVE"
	Review  Decision = "REVIEW"
	Reject  Decision = "REJECT"
)

// Decisions lists the closed set in display order.
var Decisions = []Decision{Approve, Review, Reject}

// ParseDecision accepts any casing of the three decisions.
func ParseDecision(s string) (Decision, error) {
	switch d := Decision(strings.ToUpper(strings.TrimSpace(s))); d {
	case Approve, Review, Reject:
		return d, nil
	}
	return "", fmt.Errorf("unknown decision %q", s)
}

// Valid reports whether d is one of the closed set.
func (d Decision) Valid() bool {
	return d == Approve || d == Review || d == Reject
}

// DecisionEvent is one fraud-scoring outcome as held by the engine.
type DecisionEvent struct {
	ID          string                 `json:"id"`
	Score       float64                `json:"score"`
	Decision    Decision               `json:"decision"`
	LatencyMs   float64                `json:"latency_ms"`
	Explanation []string               `json:"explanation,omitempty"`
	Features    map[string]interface{} `json:"features,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"` // raw model diagnostics
	ReceivedAt  time.Time              `json:"received_at"`       // assigned on ingestion
	IsNew       bool                   `json:"is_new"`            // highlight window only
}

// ExplanationPair is one explanation token split on its first colon.
type ExplanationPair struct {
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

// ExplanationPairs splits "key:value" tokens. Tokens without a colon keep
// the whole token as Key.
func (e DecisionEvent) ExplanationPairs() []ExplanationPair {
	out := make([]ExplanationPair, 0, len(e.Explanation))
	for _, tok := range e.Explanation {
		k, v, _ := strings.Cut(tok, ":")
		out = append(out, ExplanationPair{Key: k, Value: v})
	}
	return out
}

// AggregateSnapshot is one polled sample of the cumulative counters.
type AggregateSnapshot struct {
	Total        int64     `json:"total"`
	Approved     int64     `json:"approved"`
	Rejected     int64     `json:"rejected"`
	AvgLatencyMs float64   `json:"avg_latency_ms"`
	CapturedAt   time.Time `json:"captured_at"`
}

// Review derives the count of events that were neither approved nor
// rejected.
func (s AggregateSnapshot) Review() int64 {
	if r := s.Total - s.Approved - s.Rejected; r > 0 {
		return r
	}
	return 0
}
