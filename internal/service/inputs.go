// File: internal/service/inputs.go
package service

import (
	"fmt"

	"github.com/xkilldash9x/flowreplay/api/schemas"
	"github.com/xkilldash9x/flowreplay/internal/config"
	"github.com/xkilldash9x/flowreplay/internal/engine"
	"github.com/xkilldash9x/flowreplay/internal/variables"
)

// InputSources names where a run's substitution data comes from.
type InputSources struct {
	VarsFile    string
	DummiesFile string
	// Assignments are key=value pairs that override VarsFile.
	Assignments []string
}

// LoadInputs reads the variable and dummy maps. The dummy file falls back to
// storage.dummy_values_file.
func LoadInputs(storage config.StorageConfig, src InputSources) (engine.Inputs, error) {
	var in engine.Inputs

	fileVars := map[string]string{}
	if src.VarsFile != "" {
		m, err := variables.LoadMap(src.VarsFile)
		if err != nil {
			return in, fmt.Errorf("failed to load variables: %w", err)
		}
		fileVars = m
	}
	assigned, err := variables.ParseAssignments(src.Assignments)
	if err != nil {
		return in, err
	}
	in.Vars = schemas.VariableMap(variables.Merge(fileVars, assigned))

	dummies := src.DummiesFile
	if dummies == "" {
		dummies = storage.DummyValuesFile
	}
	if dummies != "" {
		m, err := variables.LoadMap(dummies)
		if err != nil {
			return in, fmt.Errorf("failed to load dummy values: %w", err)
		}
		in.Dummies = schemas.DummyValueMap(m)
	}
	return in, nil
}
