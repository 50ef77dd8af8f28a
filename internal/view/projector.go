// Package view derives the filtered, searched and sorted projection of the
// event log shown in the live table.
package view

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/event"
)

// FilterAll disables decision filtering.
const FilterAll = "ALL"

// ErrInvalidFilter is returned for a filter that is neither ALL nor a
// decision.
var ErrInvalidFilter = errors.New("invalid filter")

// Filter is FilterAll or one of the decisions.
type Filter string

// ParseFilter accepts "ALL" or a decision, in any case. Empty means ALL.
func ParseFilter(s string) (Filter, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" || s == FilterAll {
		return FilterAll, nil
	}
	d, err := event.ParseDecision(s)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidFilter, err)
	}
	return Filter(d), nil
}

// Params are the active view parameters.
type Params struct {
	Query    string `json:"query"`
	Decision Filter `json:"decision"`
	SortDesc bool   `json:"sort_desc"`
}

// DefaultParams shows everything, highest score first.
func DefaultParams() Params {
	return Params{Decision: FilterAll, SortDesc: true}
}

// ScoreString is the text a query is matched against for the score column.
// It renders the number the way the dashboard displays it: the shortest
// round-tripping decimal, switching to exponent form below 1e-6 and from
// 1e21 on, e.g. 0.9 → "0.9", 1e-7 → "1e-7", 1e21 → "1e+21".
func ScoreString(score float64) string {
	switch {
	case score == 0:
		return "0"
	case math.IsNaN(score):
		return "NaN"
	case math.IsInf(score, 1):
		return "Infinity"
	case math.IsInf(score, -1):
		return "-Infinity"
	}
	if abs := math.Abs(score); abs >= 1e-6 && abs < 1e21 {
		return strconv.FormatFloat(score, 'f', -1, 64)
	}
	// FormatFloat pads the exponent to two digits ("1e-07").
	mant, exp, _ := strings.Cut(strconv.FormatFloat(score, 'e', -1, 64), "e")
	sign, digits := exp[:1], strings.TrimLeft(exp[1:], "0")
	return mant + "e" + sign + digits
}

// Project filters by decision, then by substring query against the id or
// score text (case-sensitive), then stable-sorts by score. events is not
// modified.
func Project(events []event.DecisionEvent, p Params) []event.DecisionEvent {
	out := make([]event.DecisionEvent, 0, len(events))
	for _, ev := range events {
		if p.Decision != "" && p.Decision != FilterAll && ev.Decision != event.Decision(p.Decision) {
			continue
		}
		if p.Query != "" && !strings.Contains(ev.ID, p.Query) && !strings.Contains(ScoreString(ev.Score), p.Query) {
			continue
		}
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if p.SortDesc {
			return out[i].Score > out[j].Score
		}
		return out[i].Score < out[j].Score
	})
	return out
}

// Source is the event log as seen by the projector.
type Source interface {
	Snapshot() []event.DecisionEvent
	Version() uint64
}

// Projector owns the view parameters and memoises the projection until
// either the source version or the parameters change.
type Projector struct {
	params  Params
	cached  []event.DecisionEvent
	version uint64
	valid   bool
}

// NewProjector starts with DefaultParams.
func NewProjector() *Projector {
	return &Projector{params: DefaultParams()}
}

// View returns the current projection of src. The returned slice is shared
// between calls until the next recomputation; callers must not modify it.
func (p *Projector) View(src Source) []event.DecisionEvent {
	if v := src.Version(); !p.valid || v != p.version {
		p.cached = Project(src.Snapshot(), p.params)
		p.version = v
		p.valid = true
	}
	return p.cached
}

// Params returns the active parameters.
func (p *Projector) Params() Params { return p.params }

// SetParams replaces all parameters. It reports whether anything changed.
func (p *Projector) SetParams(next Params) bool {
	if next.Decision == "" {
		next.Decision = FilterAll
	}
	if next == p.params {
		return false
	}
	p.params = next
	p.valid = false
	return true
}

func (p *Projector) SetQuery(q string) bool {
	next := p.params
	next.Query = q
	return p.SetParams(next)
}

func (p *Projector) SetFilter(f Filter) bool {
	next := p.params
	next.Decision = f
	return p.SetParams(next)
}

func (p *Projector) SetSortDesc(desc bool) bool {
	next := p.params
	next.SortDesc = desc
	return p.SetParams(next)
}

// ToggleSort flips the sort direction.
func (p *Projector) ToggleSort() {
	p.SetSortDesc(!p.params.SortDesc)
}
