// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/flowreplay/api/schemas"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, "flowreplay", cfg.Logger().ServiceName)
	assert.True(t, cfg.Browser().Headless)
	assert.Equal(t, 1, cfg.Playback().RetryCount)
	assert.Equal(t, 10*time.Second, cfg.Playback().SelectorTimeout)
	assert.Equal(t, 10, cfg.Playback().StrategyThreshold)
	assert.Equal(t, 15, cfg.Playback().StrategyWindow)
	assert.Equal(t, 500*time.Millisecond, cfg.Playback().DuplicateClick.MaxInterval)
	assert.Equal(t, 50*time.Millisecond, cfg.Recorder().ClickSuppressWindow)
	assert.Equal(t, 2, cfg.Batch().Concurrency)

	click, ok := cfg.Delays()["click"]
	require.True(t, ok, "click delay policy should have a default")
	assert.Equal(t, schemas.DelayIdle, click.Mode)
	assert.Equal(t, 3*time.Second, click.Max)

	input := cfg.Delays()["input"]
	assert.Equal(t, schemas.DelayFixed, input.Mode)
	assert.Equal(t, 100*time.Millisecond, input.Duration)

	assert.NoError(t, cfg.Validate(), "defaults must validate")
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Playback Validation", func(t *testing.T) {
		valid := NewDefaultConfig().Playback()
		assert.NoError(t, valid.Validate())

		negativeRetries := valid
		negativeRetries.RetryCount = -1
		err := negativeRetries.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "retry_count cannot be negative")

		zeroThreshold := valid
		zeroThreshold.StrategyThreshold = 0
		err = zeroThreshold.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "strategy_threshold must be a positive integer")

		smallWindow := valid
		smallWindow.StrategyWindow = valid.StrategyThreshold - 1
		err = smallWindow.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "strategy_window must be at least strategy_threshold")

		badPattern := valid
		badPattern.MeaningfulTextPattern = "(unclosed"
		err = badPattern.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "meaningful_text_pattern")
	})

	t.Run("Delay Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.DelaysCfg["hover"] = schemas.DelayPolicy{Mode: schemas.DelayNone}
		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "delays.hover does not name an action type")

		cfg = NewDefaultConfig()
		cfg.DelaysCfg["click"] = schemas.DelayPolicy{Mode: "forever"}
		err = cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "delays.click.mode must be one of")
	})

	t.Run("Batch Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.BatchCfg.Concurrency = 0
		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "batch.concurrency must be a positive integer")
	})
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
playback:
  retry_count: 3
  ignore_errors: true
delays:
  click:
    mode: fixed
    duration: 250ms
browser:
  headless: false
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, 3, cfg.Playback().RetryCount)
		assert.True(t, cfg.Playback().IgnoreErrors)
		assert.False(t, cfg.Browser().Headless)
		assert.Equal(t, schemas.DelayFixed, cfg.Delays()["click"].Mode)
		assert.Equal(t, 250*time.Millisecond, cfg.Delays()["click"].Duration)
		// Defaults for untouched sections survive.
		assert.Equal(t, "info", cfg.Logger().Level)
		assert.Equal(t, schemas.DelayFixed, cfg.Delays()["input"].Mode)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("playback.strategy_threshold", 0)

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
	})
}

func TestPlaybackOptions(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.SetPlaybackRetryCount(4)
	cfg.SetPlaybackIgnoreErrors(true)
	cfg.SetBrowserHeadless(false)

	opts := cfg.PlaybackOptions()
	assert.Equal(t, 4, opts.RetryCount)
	assert.True(t, opts.IgnoreErrors)
	assert.False(t, opts.Headless)
	assert.Equal(t, 5.0, opts.DuplicateClick.MaxDistance)
	assert.Equal(t, 2*time.Second, opts.ChangeTimeouts.Meaningful)
	assert.Equal(t, schemas.DelayIdle, opts.Delays[schemas.ActionNavigation].Mode)
	assert.Empty(t, opts.StartURLOverride)
}
