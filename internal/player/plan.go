// internal/player/plan.go
package player

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/xkilldash9x/flowreplay/api/schemas"
)

// Step is one unit of execution. An input step may stand for a whole burst
// of same-target inputs.
type Step struct {
	// Index is the recording index reported as executed.
	Index  int
	Action schemas.Action
	// Consumed lists every recording index this step accounts for, ascending.
	Consumed []int
	// Later holds the values later typed into the same field within the
	// burst, for progressive lookahead.
	Later []string
	// ExpectURL is the navigation this click is expected to cause.
	ExpectURL string
}

// Drop explains why a recording index will not be executed.
type Drop struct {
	Index  int
	Reason string
}

// Plan is the executable form of a recording.
type Plan struct {
	Steps   []Step
	Dropped []Drop
}

// distanceEpsilon keeps the inclusive distance bound stable under float
// rounding.
const distanceEpsilon = 1e-6

const (
	dropDuplicateClick = "duplicate click"
	dropConsolidated   = "consolidated into a later input"
	dropStartOverride  = "initial navigation replaced by start url override"
)

// PlanOptions tunes plan construction.
type PlanOptions struct {
	DuplicateClick schemas.DuplicateClickOptions
	// NavigationCorrelation attributes a navigation to the preceding click
	// or keypress when no explicit causedBy is recorded.
	NavigationCorrelation time.Duration
	// SkipStartNavigation drops the first navigation to this URL.
	SkipStartNavigation string
}

// BuildPlan applies the duplicate-click filter and input consolidation.
// Every index of actions ends up either in exactly one Step.Consumed or in
// Dropped (when filtered), never both.
func BuildPlan(actions []schemas.Action, opts PlanOptions) (*Plan, error) {
	var toggle *regexp.Regexp
	if opts.DuplicateClick.SelectorPattern != "" {
		re, err := regexp.Compile(opts.DuplicateClick.SelectorPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid duplicate click selector pattern: %w", err)
		}
		toggle = re
	}

	plan := &Plan{}
	skipNav := opts.SkipStartNavigation

	for i := 0; i < len(actions); i++ {
		a := actions[i]

		switch a.Type {
		case schemas.ActionNavigation:
			if skipNav != "" && sameURL(a.URL, skipNav) {
				plan.Dropped = append(plan.Dropped, Drop{Index: i, Reason: dropStartOverride})
				skipNav = ""
				continue
			}

		case schemas.ActionClick:
			if i+1 < len(actions) && isDuplicateClick(a, actions[i+1], opts.DuplicateClick, toggle) {
				plan.Dropped = append(plan.Dropped, Drop{Index: i, Reason: dropDuplicateClick})
				continue
			}

		case schemas.ActionInput:
			if a.Selector != "" {
				last := i
				for j := i + 1; j < len(actions); j++ {
					if actions[j].Type != schemas.ActionInput || actions[j].Selector != a.Selector {
						break
					}
					plan.Dropped = append(plan.Dropped, Drop{Index: last, Reason: dropConsolidated})
					last = j
				}
				step := Step{Index: last, Action: actions[last], Consumed: indexRange(i, last)}
				step.Later = laterBurstValues(actions, last+1, a.Selector)
				plan.Steps = append(plan.Steps, step)
				i = last
				continue
			}
		}

		step := Step{Index: i, Action: a, Consumed: []int{i}}
		if a.Type == schemas.ActionClick {
			step.ExpectURL = expectedNavigation(actions, i, opts.NavigationCorrelation)
		}
		plan.Steps = append(plan.Steps, step)
	}
	return plan, nil
}

// ExecutableIndices lists the indices the plan will report as executed.
func (p *Plan) ExecutableIndices() []int {
	out := make([]int, 0, len(p.Steps))
	for _, s := range p.Steps {
		out = append(out, s.Index)
	}
	return out
}

// DroppedIndices lists the filtered indices in ascending order.
func (p *Plan) DroppedIndices() []int {
	out := make([]int, 0, len(p.Dropped))
	for _, d := range p.Dropped {
		out = append(out, d.Index)
	}
	return out
}

func isDuplicateClick(cur, next schemas.Action, opts schemas.DuplicateClickOptions, toggle *regexp.Regexp) bool {
	if next.Type != schemas.ActionClick || toggle == nil {
		return false
	}
	x1, y1, ok1 := cur.Point()
	x2, y2, ok2 := next.Point()
	if !ok1 || !ok2 {
		return false
	}
	if math.Hypot(x2-x1, y2-y1) > opts.MaxDistance+distanceEpsilon {
		return false
	}
	gap := next.Timestamp - cur.Timestamp
	if gap < 0 {
		gap = -gap
	}
	if time.Duration(gap)*time.Millisecond > opts.MaxInterval {
		return false
	}
	return toggle.MatchString(cur.Selector) || toggle.MatchString(next.Selector)
}

// laterBurstValues collects the values typed into sel within the contiguous
// run of input/keypress actions starting at from. Other fields never feed
// the lookahead.
func laterBurstValues(actions []schemas.Action, from int, sel string) []string {
	var out []string
	for j := from; j < len(actions); j++ {
		switch actions[j].Type {
		case schemas.ActionInput:
			if actions[j].Selector == sel {
				out = append(out, actions[j].Value)
			}
		case schemas.ActionKeypress:
		default:
			return out
		}
	}
	return out
}

// expectedNavigation finds the navigation caused by actions[i]: one that
// names i in causedBy, or the first navigation within the correlation window
// before any other click or keypress.
func expectedNavigation(actions []schemas.Action, i int, window time.Duration) string {
	for j := i + 1; j < len(actions); j++ {
		a := actions[j]
		if a.Type == schemas.ActionNavigation {
			if a.CausedBy != nil {
				if *a.CausedBy == i {
					return a.URL
				}
				return ""
			}
			if window > 0 && time.Duration(a.Timestamp-actions[i].Timestamp)*time.Millisecond <= window {
				return a.URL
			}
			return ""
		}
		if a.Type == schemas.ActionClick || a.Type == schemas.ActionKeypress {
			return ""
		}
	}
	return ""
}

func indexRange(from, to int) []int {
	out := make([]int, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

func sameURL(a, b string) bool {
	return strings.TrimRight(a, "/") == strings.TrimRight(b, "/")
}
