package schemas

import "time"

// -- Playback Schemas --

// VariableMap maps a logical field name to the real value used during replay.
type VariableMap map[string]string

// DummyValueMap maps a logical field name to the literal typed at capture time.
type DummyValueMap map[string]string

// StrategyMode is the player's bias for locating click and input targets.
type StrategyMode string

const (
	ModeBlindFirst   StrategyMode = "blind-first"
	ModeElementFirst StrategyMode = "element-first"
)

// DelayMode selects how the player waits after an action.
type DelayMode string

const (
	DelayFixed DelayMode = "fixed"
	DelayIdle  DelayMode = "idle"
	DelayNone  DelayMode = "none"
)

// DelayPolicy is the wait policy applied after one action type.
type DelayPolicy struct {
	Mode DelayMode `json:"mode" mapstructure:"mode" yaml:"mode"`
	// Duration is used by DelayFixed.
	Duration time.Duration `json:"duration" mapstructure:"duration" yaml:"duration"`
	// Quiet and Max are used by DelayIdle.
	Quiet time.Duration `json:"quiet" mapstructure:"quiet" yaml:"quiet"`
	Max   time.Duration `json:"max" mapstructure:"max" yaml:"max"`
}

// DuplicateClickOptions tunes the duplicate-click filter.
type DuplicateClickOptions struct {
	MaxDistance     float64       `json:"maxDistance"`
	MaxInterval     time.Duration `json:"maxInterval"`
	SelectorPattern string        `json:"selectorPattern"`
}

// ChangeTimeouts bounds how long each click tactic waits for an effect.
type ChangeTimeouts struct {
	Blind      time.Duration `json:"blind"`
	Selector   time.Duration `json:"selector"`
	Frame      time.Duration `json:"frame"`
	Offset     time.Duration `json:"offset"`
	Meaningful time.Duration `json:"meaningful"`
	Poll       time.Duration `json:"poll"`
}

// PlaybackOptions is the configuration of a single playback run.
type PlaybackOptions struct {
	Headless          bool
	Delays            map[ActionType]DelayPolicy
	RetryCount        int
	IgnoreErrors      bool
	SelectorTimeout   time.Duration
	StrategyThreshold int
	StrategyWindow    int
	// StartURLOverride makes the run a clone: the effective start URL is
	// replaced and the recorded initial navigation is skipped.
	StartURLOverride string
	ScreenshotDir    string
	DuplicateClick   DuplicateClickOptions
	ChangeTimeouts   ChangeTimeouts
	// MeaningfulTextPattern matches control text that requires a
	// price/shipping/URL change rather than any DOM mutation.
	MeaningfulTextPattern string
	// NavigationCorrelation is the window inside which a navigation is
	// attributed to the click before it.
	NavigationCorrelation time.Duration
}

// PlaybackResult summarizes a finished (completed or aborted) run.
type PlaybackResult struct {
	RunID           string        `json:"runId"`
	Success         bool          `json:"success"`
	Aborted         bool          `json:"aborted"`
	TotalActions    int           `json:"totalActions"`
	ExecutedIndices []int         `json:"executedIndices"`
	SkippedIndices  []int         `json:"skippedIndices,omitempty"`
	FilteredIndices []int         `json:"filteredIndices,omitempty"`
	FailedIndex     int           `json:"failedIndex"`
	Reason          string        `json:"reason,omitempty"`
	StartURL        string        `json:"startUrl"`
	LastURL         string        `json:"lastUrl,omitempty"`
	Mode            StrategyMode  `json:"mode"`
	Screenshots     []string      `json:"screenshots,omitempty"`
	Warnings        []string      `json:"warnings,omitempty"`
	Duration        time.Duration `json:"duration"`
}
