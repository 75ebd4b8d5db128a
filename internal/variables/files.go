// internal/variables/files.go
package variables

import (
	stdjson "encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// mapJSON keeps numbers as written so card and phone numbers survive intact.
var mapJSON = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
	UseNumber:              true,
}.Froze()

// LoadMap reads a flat JSON object of key to value. Numbers and booleans are
// accepted and converted to their textual form, since form fields are strings.
func LoadMap(path string) (map[string]string, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand path %q: %w", path, err)
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to read variable file: %w", err)
	}
	return ParseMap(data)
}

// ParseMap decodes a flat JSON object.
func ParseMap(data []byte) (map[string]string, error) {
	var raw map[string]interface{}
	if err := mapJSON.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("variable file is not a flat JSON object: %w", err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			out[k] = val
		case stdjson.Number:
			out[k] = val.String()
		case bool:
			out[k] = strconv.FormatBool(val)
		case nil:
			out[k] = ""
		default:
			return nil, fmt.Errorf("variable %q must be a scalar, got %T", k, v)
		}
	}
	return out, nil
}

// ParseAssignments turns "key=value" pairs into a map. Later pairs win.
func ParseAssignments(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid variable assignment %q, expected key=value", p)
		}
		out[strings.TrimSpace(k)] = v
	}
	return out, nil
}

// Merge layers maps left to right into a new map.
func Merge(maps ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// WriteRunFile persists the variables of one run to a uniquely named file in
// dir (the system temp dir when empty). Concurrent runs never share a file.
// The returned cleanup removes it.
func WriteRunFile(dir, runID string, vars map[string]string) (string, func(), error) {
	if dir != "" {
		expanded, err := homedir.Expand(dir)
		if err != nil {
			return "", nil, fmt.Errorf("failed to expand temp dir: %w", err)
		}
		if err := os.MkdirAll(expanded, 0o700); err != nil {
			return "", nil, fmt.Errorf("failed to create temp dir: %w", err)
		}
		dir = expanded
	}

	f, err := os.CreateTemp(dir, "flowreplay-vars-"+runID+"-*.json")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create run variable file: %w", err)
	}
	name := f.Name()
	cleanup := func() { _ = os.Remove(name) }

	data, err := json.Marshal(vars)
	if err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("failed to encode run variables: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("failed to write run variables: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to close run variable file: %w", err)
	}
	return name, cleanup, nil
}
