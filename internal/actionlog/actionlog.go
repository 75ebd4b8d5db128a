// internal/actionlog/actionlog.go
package actionlog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/flowreplay/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RecordingLoadError is returned when a recording file is missing, malformed
// or violates the action log invariants. It is always fatal for a run.
type RecordingLoadError struct {
	Path string
	Err  error
}

func (e *RecordingLoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("failed to load recording: %v", e.Err)
	}
	return fmt.Sprintf("failed to load recording %s: %v", e.Path, e.Err)
}

func (e *RecordingLoadError) Unwrap() error { return e.Err }

// Report summarizes a loaded recording.
type Report struct {
	Total    int
	ByType   map[schemas.ActionType]int
	Dropped  int
	Warnings []string
}

// Load reads and validates a recording file.
func Load(path string, logger *zap.Logger) (*schemas.Recording, *Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, &RecordingLoadError{Path: path, Err: err}
	}
	rec, report, err := Decode(data, logger)
	if err != nil {
		var loadErr *RecordingLoadError
		if errors.As(err, &loadErr) {
			loadErr.Path = path
		}
		return nil, nil, err
	}
	return rec, report, nil
}

// Decode parses a recording from its JSON form. Actions with an unknown type
// are dropped with a warning so newer recordings stay playable.
func Decode(data []byte, logger *zap.Logger) (*schemas.Recording, *Report, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var rec schemas.Recording
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, nil, &RecordingLoadError{Err: fmt.Errorf("malformed JSON: %w", err)}
	}

	report := &Report{ByType: make(map[schemas.ActionType]int)}
	kept := make([]schemas.Action, 0, len(rec.Actions))
	for i, a := range rec.Actions {
		if !schemas.KnownActionTypes[a.Type] {
			logger.Warn("Skipping action with unknown type.", zap.Int("index", i), zap.String("type", string(a.Type)))
			report.Dropped++
			report.Warnings = append(report.Warnings, fmt.Sprintf("action %d: unknown type %q skipped", i, a.Type))
			continue
		}
		kept = append(kept, a)
		report.ByType[a.Type]++
	}
	rec.Actions = kept
	report.Total = len(kept)

	if rec.Version == "" {
		report.Warnings = append(report.Warnings, "recording has no version; assuming "+schemas.RecordingVersion)
		rec.Version = schemas.RecordingVersion
	}

	if err := Validate(&rec); err != nil {
		return nil, nil, &RecordingLoadError{Err: err}
	}
	return &rec, report, nil
}

// Validate checks the ordering and locator invariants of a recording.
func Validate(rec *schemas.Recording) error {
	if rec == nil {
		return errors.New("recording is nil")
	}
	if strings.TrimSpace(rec.StartURL) == "" {
		return errors.New("recording has no startUrl")
	}
	for i, a := range rec.Actions {
		if i > 0 && a.Timestamp < rec.Actions[i-1].Timestamp {
			return fmt.Errorf("action %d: timestamp %d precedes action %d (%d)", i, a.Timestamp, i-1, rec.Actions[i-1].Timestamp)
		}
		switch a.Type {
		case schemas.ActionClick, schemas.ActionInput:
			if !a.HasPoint() && a.Selector == "" {
				return fmt.Errorf("action %d: %s has neither coordinates nor selector", i, a.Type)
			}
		case schemas.ActionNavigation:
			if a.URL == "" {
				return fmt.Errorf("action %d: navigation has no url", i)
			}
		}
	}
	return nil
}

// Save writes the recording atomically: a temp file in the target directory
// is renamed over path once fully written.
func Save(path string, rec *schemas.Recording) error {
	if rec.Version == "" {
		rec.Version = schemas.RecordingVersion
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode recording: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create recording directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".recording-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp recording file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write recording: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close recording: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to persist recording: %w", err)
	}
	return nil
}

// Types returns the action types of the report in a stable order.
func (r *Report) Types() []schemas.ActionType {
	types := make([]schemas.ActionType, 0, len(r.ByType))
	for t := range r.ByType {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
