// File: internal/config/config.go
package config

import (
	"fmt"
	"regexp"
	"time"

	"github.com/spf13/viper"

	"github.com/xkilldash9x/flowreplay/api/schemas"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Playback() PlaybackConfig
	Delays() map[string]schemas.DelayPolicy
	Recorder() RecorderConfig
	Storage() StorageConfig
	Batch() BatchConfig

	// Browser Setters
	SetBrowserHeadless(bool)

	// Playback Setters
	SetPlaybackRetryCount(int)
	SetPlaybackIgnoreErrors(bool)

	// Batch Setters
	SetBatchConcurrency(int)
	SetBatchRate(float64)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig                   `mapstructure:"logger" yaml:"logger"`
	BrowserCfg  BrowserConfig                  `mapstructure:"browser" yaml:"browser"`
	PlaybackCfg PlaybackConfig                 `mapstructure:"playback" yaml:"playback"`
	DelaysCfg   map[string]schemas.DelayPolicy `mapstructure:"delays" yaml:"delays"`
	RecorderCfg RecorderConfig                 `mapstructure:"recorder" yaml:"recorder"`
	StorageCfg  StorageConfig                  `mapstructure:"storage" yaml:"storage"`
	BatchCfg    BatchConfig                    `mapstructure:"batch" yaml:"batch"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig                   { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig                 { return c.BrowserCfg }
func (c *Config) Playback() PlaybackConfig               { return c.PlaybackCfg }
func (c *Config) Delays() map[string]schemas.DelayPolicy { return c.DelaysCfg }
func (c *Config) Recorder() RecorderConfig               { return c.RecorderCfg }
func (c *Config) Storage() StorageConfig                 { return c.StorageCfg }
func (c *Config) Batch() BatchConfig                     { return c.BatchCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool)      { c.BrowserCfg.Headless = b }
func (c *Config) SetPlaybackRetryCount(n int)    { c.PlaybackCfg.RetryCount = n }
func (c *Config) SetPlaybackIgnoreErrors(b bool) { c.PlaybackCfg.IgnoreErrors = b }
func (c *Config) SetBatchConcurrency(n int)      { c.BatchCfg.Concurrency = n }
func (c *Config) SetBatchRate(r float64)         { c.BatchCfg.RatePerSecond = r }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the Chrome instances driven over CDP.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	LaunchTimeout     time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	Debug             bool          `mapstructure:"debug" yaml:"debug"`
}

// PlaybackConfig holds the defaults for every playback run.
type PlaybackConfig struct {
	RetryCount            int                  `mapstructure:"retry_count" yaml:"retry_count"`
	IgnoreErrors          bool                 `mapstructure:"ignore_errors" yaml:"ignore_errors"`
	SelectorTimeout       time.Duration        `mapstructure:"selector_timeout" yaml:"selector_timeout"`
	StrategyThreshold     int                  `mapstructure:"strategy_threshold" yaml:"strategy_threshold"`
	StrategyWindow        int                  `mapstructure:"strategy_window" yaml:"strategy_window"`
	ScreenshotDir         string               `mapstructure:"screenshot_dir" yaml:"screenshot_dir"`
	MeaningfulTextPattern string               `mapstructure:"meaningful_text_pattern" yaml:"meaningful_text_pattern"`
	NavigationCorrelation time.Duration        `mapstructure:"navigation_correlation" yaml:"navigation_correlation"`
	DuplicateClick        DuplicateClickConfig `mapstructure:"duplicate_click" yaml:"duplicate_click"`
	Change                ChangeConfig         `mapstructure:"change" yaml:"change"`
}

// DuplicateClickConfig tunes the duplicate-click filter. The thresholds are
// empirical, so they are exposed rather than hardcoded.
type DuplicateClickConfig struct {
	MaxDistance     float64       `mapstructure:"max_distance" yaml:"max_distance"`
	MaxInterval     time.Duration `mapstructure:"max_interval" yaml:"max_interval"`
	SelectorPattern string        `mapstructure:"selector_pattern" yaml:"selector_pattern"`
}

// ChangeConfig bounds the change detector per click tactic.
type ChangeConfig struct {
	Blind      time.Duration `mapstructure:"blind" yaml:"blind"`
	Selector   time.Duration `mapstructure:"selector" yaml:"selector"`
	Frame      time.Duration `mapstructure:"frame" yaml:"frame"`
	Offset     time.Duration `mapstructure:"offset" yaml:"offset"`
	Meaningful time.Duration `mapstructure:"meaningful" yaml:"meaningful"`
	Poll       time.Duration `mapstructure:"poll" yaml:"poll"`
}

// RecorderConfig tunes event normalization during capture.
type RecorderConfig struct {
	ClickSuppressWindow   time.Duration `mapstructure:"click_suppress_window" yaml:"click_suppress_window"`
	ScrollDebounce        time.Duration `mapstructure:"scroll_debounce" yaml:"scroll_debounce"`
	ResizeDebounce        time.Duration `mapstructure:"resize_debounce" yaml:"resize_debounce"`
	NavigationCorrelation time.Duration `mapstructure:"navigation_correlation" yaml:"navigation_correlation"`
}

// StorageConfig defines where recordings and run artifacts live.
type StorageConfig struct {
	RecordingsDir   string `mapstructure:"recordings_dir" yaml:"recordings_dir"`
	TempDir         string `mapstructure:"temp_dir" yaml:"temp_dir"`
	DummyValuesFile string `mapstructure:"dummy_values_file" yaml:"dummy_values_file"`
}

// BatchConfig limits concurrent clone runs.
type BatchConfig struct {
	Concurrency   int     `mapstructure:"concurrency" yaml:"concurrency"`
	RatePerSecond float64 `mapstructure:"rate_per_second" yaml:"rate_per_second"`
	Burst         int     `mapstructure:"burst" yaml:"burst"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "flowreplay")
	v.SetDefault("logger.log_file", "flowreplay.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.launch_timeout", "30s")
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.debug", false)

	// -- Playback --
	v.SetDefault("playback.retry_count", 1)
	v.SetDefault("playback.ignore_errors", false)
	v.SetDefault("playback.selector_timeout", "10s")
	v.SetDefault("playback.strategy_threshold", 10)
	v.SetDefault("playback.strategy_window", 15)
	v.SetDefault("playback.screenshot_dir", "~/.flowreplay/screenshots")
	v.SetDefault("playback.meaningful_text_pattern", `(?i)calculat|checkout|check out|continue|proceed|estimate|update (cart|total)`)
	v.SetDefault("playback.navigation_correlation", "2s")
	v.SetDefault("playback.duplicate_click.max_distance", 5.0)
	v.SetDefault("playback.duplicate_click.max_interval", "500ms")
	v.SetDefault("playback.duplicate_click.selector_pattern", `(?i)checkbox|radio|toggle|switch`)
	v.SetDefault("playback.change.blind", "1500ms")
	v.SetDefault("playback.change.selector", "1s")
	v.SetDefault("playback.change.frame", "1s")
	v.SetDefault("playback.change.offset", "300ms")
	v.SetDefault("playback.change.meaningful", "2s")
	v.SetDefault("playback.change.poll", "100ms")

	// -- Delays (per action type) --
	v.SetDefault("delays.click.mode", "idle")
	v.SetDefault("delays.click.quiet", "500ms")
	v.SetDefault("delays.click.max", "3s")
	v.SetDefault("delays.input.mode", "fixed")
	v.SetDefault("delays.input.duration", "100ms")
	v.SetDefault("delays.keypress.mode", "idle")
	v.SetDefault("delays.keypress.quiet", "300ms")
	v.SetDefault("delays.keypress.max", "2s")
	v.SetDefault("delays.scroll.mode", "fixed")
	v.SetDefault("delays.scroll.duration", "150ms")
	v.SetDefault("delays.navigation.mode", "idle")
	v.SetDefault("delays.navigation.quiet", "800ms")
	v.SetDefault("delays.navigation.max", "10s")
	v.SetDefault("delays.window_size.mode", "none")
	v.SetDefault("delays.window_resize.mode", "none")

	// -- Recorder --
	v.SetDefault("recorder.click_suppress_window", "50ms")
	v.SetDefault("recorder.scroll_debounce", "250ms")
	v.SetDefault("recorder.resize_debounce", "500ms")
	v.SetDefault("recorder.navigation_correlation", "2s")

	// -- Storage --
	v.SetDefault("storage.recordings_dir", "~/.flowreplay/recordings")
	v.SetDefault("storage.temp_dir", "")
	v.SetDefault("storage.dummy_values_file", "")

	// -- Batch --
	v.SetDefault("batch.concurrency", 2)
	v.SetDefault("batch.rate_per_second", 0.5)
	v.SetDefault("batch.burst", 1)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.PlaybackCfg.Validate(); err != nil {
		return fmt.Errorf("playback configuration invalid: %w", err)
	}
	for name, policy := range c.DelaysCfg {
		if !schemas.KnownActionTypes[schemas.ActionType(name)] {
			return fmt.Errorf("delays.%s does not name an action type", name)
		}
		switch policy.Mode {
		case schemas.DelayFixed, schemas.DelayIdle, schemas.DelayNone, "":
		default:
			return fmt.Errorf("delays.%s.mode must be one of fixed, idle, none", name)
		}
	}
	if c.BatchCfg.Concurrency <= 0 {
		return fmt.Errorf("batch.concurrency must be a positive integer")
	}
	if c.BatchCfg.RatePerSecond < 0 {
		return fmt.Errorf("batch.rate_per_second cannot be negative")
	}
	return nil
}

// Validate checks the playback settings.
func (p *PlaybackConfig) Validate() error {
	if p.RetryCount < 0 {
		return fmt.Errorf("retry_count cannot be negative")
	}
	if p.StrategyThreshold <= 0 {
		return fmt.Errorf("strategy_threshold must be a positive integer")
	}
	if p.StrategyWindow < p.StrategyThreshold {
		return fmt.Errorf("strategy_window must be at least strategy_threshold")
	}
	if p.SelectorTimeout <= 0 {
		return fmt.Errorf("selector_timeout must be a positive duration")
	}
	if _, err := regexp.Compile(p.MeaningfulTextPattern); err != nil {
		return fmt.Errorf("meaningful_text_pattern is not a valid expression: %w", err)
	}
	if _, err := regexp.Compile(p.DuplicateClick.SelectorPattern); err != nil {
		return fmt.Errorf("duplicate_click.selector_pattern is not a valid expression: %w", err)
	}
	return nil
}

// PlaybackOptions builds the per-run options from the configured defaults.
func (c *Config) PlaybackOptions() schemas.PlaybackOptions {
	p := c.PlaybackCfg
	delays := make(map[schemas.ActionType]schemas.DelayPolicy, len(c.DelaysCfg))
	for name, policy := range c.DelaysCfg {
		delays[schemas.ActionType(name)] = policy
	}
	return schemas.PlaybackOptions{
		Headless:          c.BrowserCfg.Headless,
		Delays:            delays,
		RetryCount:        p.RetryCount,
		IgnoreErrors:      p.IgnoreErrors,
		SelectorTimeout:   p.SelectorTimeout,
		StrategyThreshold: p.StrategyThreshold,
		StrategyWindow:    p.StrategyWindow,
		ScreenshotDir:     p.ScreenshotDir,
		DuplicateClick: schemas.DuplicateClickOptions{
			MaxDistance:     p.DuplicateClick.MaxDistance,
			MaxInterval:     p.DuplicateClick.MaxInterval,
			SelectorPattern: p.DuplicateClick.SelectorPattern,
		},
		ChangeTimeouts: schemas.ChangeTimeouts{
			Blind:      p.Change.Blind,
			Selector:   p.Change.Selector,
			Frame:      p.Change.Frame,
			Offset:     p.Change.Offset,
			Meaningful: p.Change.Meaningful,
			Poll:       p.Change.Poll,
		},
		MeaningfulTextPattern: p.MeaningfulTextPattern,
		NavigationCorrelation: p.NavigationCorrelation,
	}
}
