package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrMalformed marks a push message that cannot become a DecisionEvent.
var ErrMalformed = errors.New("malformed decision event")

// wireEvent is the JSON shape emitted by the scoring backend. Older
// producers use txn_id and carry explanation tokens under model_msgs.votes.
type wireEvent struct {
	ID          flexString             `json:"id"`
	TxnID       flexString             `json:"txn_id"`
	Score       flexFloat              `json:"score"`
	Decision    string                 `json:"decision"`
	LatencyMs   flexFloat              `json:"latency_ms"`
	Explanation []string               `json:"explanation"`
	Features    map[string]interface{} `json:"features"`
	ModelMsgs   map[string]interface{} `json:"model_msgs"`
}

// Decode parses and validates one push message. The returned event has no
// ReceivedAt; the event log assigns it.
func Decode(data []byte) (DecisionEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return DecisionEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	id := strings.TrimSpace(string(w.ID))
	if id == "" {
		id = strings.TrimSpace(string(w.TxnID))
	}
	if id == "" {
		return DecisionEvent{}, fmt.Errorf("%w: missing id", ErrMalformed)
	}
	if w.Decision == "" {
		return DecisionEvent{}, fmt.Errorf("%w: missing decision", ErrMalformed)
	}
	d, err := ParseDecision(w.Decision)
	if err != nil {
		return DecisionEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	score := float64(w.Score)
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return DecisionEvent{}, fmt.Errorf("%w: non-finite score", ErrMalformed)
	}
	latency := float64(w.LatencyMs)
	if latency < 0 || math.IsNaN(latency) || math.IsInf(latency, 0) {
		latency = 0
	}

	explanation := w.Explanation
	if explanation == nil {
		explanation = votes(w.ModelMsgs)
	}

	return DecisionEvent{
		ID:          id,
		Score:       score,
		Decision:    d,
		LatencyMs:   latency,
		Explanation: explanation,
		Features:    w.Features,
		Details:     w.ModelMsgs,
	}, nil
}

func votes(msgs map[string]interface{}) []string {
	raw, ok := msgs["votes"].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// flexFloat accepts a JSON number, a numeric string or null.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if strings.TrimSpace(s) == "" {
			*f = 0
			return nil
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return fmt.Errorf("not a number: %q", s)
		}
		*f = flexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// flexString accepts a JSON string or number.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*s = flexString(n.String())
	return nil
}
