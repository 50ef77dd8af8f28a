// Package alert derives ephemeral, self-expiring notifications from
// ingested decision events.
package alert

import (
	"fmt"
	"strings"
	"time"

	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/event"
	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/rule"
)

// Severity of an alert.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityError Severity = "error"
)

// ParseSeverity accepts "info" or "error" in any case; empty means error.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case SeverityInfo:
		return SeverityInfo, nil
	case SeverityError, "":
		return SeverityError, nil
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

// Alert is one ephemeral notification.
type Alert struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Severity  Severity  `json:"severity"`
	CreatedAt time.Time `json:"created_at"`
	EventID   string    `json:"event_id"`
	Rule      string    `json:"rule"`
}

// Rule turns matching events into alerts.
type Rule struct {
	ID       string
	When     *rule.Predicate
	Title    string
	Severity Severity
}

// DefaultRules raises a "Fraud Alert" for every rejected transaction.
func DefaultRules() []Rule {
	return []Rule{{
		ID:       "fraud_reject",
		When:     rule.MustCompile(`decision == "REJECT"`),
		Title:    "🚨 Fraud Alert",
		Severity: SeverityError,
	}}
}

var outcome = map[event.Decision]string{
	event.Approve: "approved",
	event.Review:  "sent to review",
	event.Reject:  "rejected",
}

// body renders the notification text, e.g. "Txn t-1 rejected (score 0.913)".
func body(ev event.DecisionEvent) string {
	verb, ok := outcome[ev.Decision]
	if !ok {
		verb = strings.ToLower(string(ev.Decision))
	}
	return fmt.Sprintf("Txn %s %s (score %.3f)", ev.ID, verb, ev.Score)
}
