// internal/variables/resolver.go
package variables

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/flowreplay/api/schemas"
)

var placeholderPattern = regexp.MustCompile(`\[([A-Za-z0-9_.-]+)\]`)

// ResolutionAmbiguityError reports a placeholder or literal that could not be
// resolved unambiguously. It is a warning, never fatal.
type ResolutionAmbiguityError struct {
	Placeholder string
	Reason      string
}

func (e *ResolutionAmbiguityError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("unresolved placeholder %q left as literal", e.Placeholder)
	}
	return fmt.Sprintf("ambiguous value %q: %s", e.Placeholder, e.Reason)
}

// Source identifies which rule produced a resolved value.
type Source string

const (
	SourceDummy       Source = "dummy"
	SourceLookahead   Source = "lookahead"
	SourcePlaceholder Source = "placeholder"
	SourceLiteral     Source = "literal"
)

// Resolution is the outcome of resolving one recorded value.
type Resolution struct {
	Value    string
	Source   Source
	Key      string
	Warnings []error
}

// Resolver maps recorded values to the real values of one run.
// It is immutable after construction and safe for concurrent use.
type Resolver struct {
	vars         schemas.VariableMap
	literalToKey map[string]string
	duplicates   map[string][]string
	logger       *zap.Logger
}

// NewResolver builds a resolver from the run's variables and the dummy
// literals typed at capture time.
func NewResolver(vars schemas.VariableMap, dummies schemas.DummyValueMap, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resolver{
		vars:         vars,
		literalToKey: make(map[string]string, len(dummies)),
		duplicates:   make(map[string][]string),
		logger:       logger.Named("variables"),
	}

	keys := make([]string, 0, len(dummies))
	for k := range dummies {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		literal := dummies[k]
		if literal == "" {
			continue
		}
		if first, ok := r.literalToKey[literal]; ok {
			r.duplicates[literal] = append(r.duplicates[literal], first, k)
			continue
		}
		r.literalToKey[literal] = k
	}
	return r
}

// Resolve applies, in order: exact dummy literal, progressive lookahead over
// later values of the same input burst, bracket placeholders, and literal
// pass-through. later may be nil.
func (r *Resolver) Resolve(value string, later []string) Resolution {
	var warnings []error

	if key, ok := r.literalKey(value, &warnings); ok {
		return Resolution{Value: r.vars[key], Source: SourceDummy, Key: key, Warnings: warnings}
	}

	if value != "" {
		for _, next := range later {
			if !strings.HasPrefix(next, value) || next == value {
				continue
			}
			if key, ok := r.literalKey(next, &warnings); ok {
				r.logger.Debug("Resolved partial value by lookahead.", zap.String("key", key))
				return Resolution{Value: r.vars[key], Source: SourceLookahead, Key: key, Warnings: warnings}
			}
		}
	}

	if placeholderPattern.MatchString(value) {
		resolved := placeholderPattern.ReplaceAllStringFunc(value, func(m string) string {
			name := m[1 : len(m)-1]
			if v, ok := r.vars[name]; ok {
				return v
			}
			warnings = append(warnings, &ResolutionAmbiguityError{Placeholder: m})
			return m
		})
		for _, w := range warnings {
			r.logger.Warn("Placeholder could not be resolved.", zap.Error(w))
		}
		return Resolution{Value: resolved, Source: SourcePlaceholder, Warnings: warnings}
	}

	return Resolution{Value: value, Source: SourceLiteral, Warnings: warnings}
}

// literalKey finds the dummy key for literal, provided the run supplies a
// value for it.
func (r *Resolver) literalKey(literal string, warnings *[]error) (string, bool) {
	key, ok := r.literalToKey[literal]
	if !ok {
		return "", false
	}
	if _, has := r.vars[key]; !has {
		return "", false
	}
	if dupes, ambiguous := r.duplicates[literal]; ambiguous {
		*warnings = append(*warnings, &ResolutionAmbiguityError{
			Placeholder: literal,
			Reason:      fmt.Sprintf("shared by keys %v; using %q", dupes, key),
		})
	}
	return key, true
}
