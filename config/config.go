// Package config loads and validates the recognized session configuration
// options through Viper, following the same defaults-then-read-then-
// validate shape as the reference client configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/viper"
)

// Config holds the recognized options from spec §6.
type Config struct {
	TargetSampleRate  int
	BlockSize         int
	StartupThreshold  int
	CrossfadeLen      int
	JitterTolerance   int
	LevelPeriod       time.Duration
	FlushInterval     time.Duration
	SpeakerGap        time.Duration
	FinalizeTimeout   time.Duration
	MicGain           float64
	SystemGain        float64
	LimiterThreshold  float64
	LimiterRatio      float64
	LogLevel          string
	LogFile           string
}

func setDefaults() {
	viper.SetDefault("target_sample_rate", 48000)
	viper.SetDefault("block_size", 8192)
	viper.SetDefault("startup_threshold", 9600)
	viper.SetDefault("crossfade_len", 64)
	viper.SetDefault("jitter_tolerance", 128)
	viper.SetDefault("level_period_ms", 67)
	viper.SetDefault("flush_interval_s", 10)
	viper.SetDefault("speaker_gap_ms", 1500)
	viper.SetDefault("finalize_timeout_s", 30)
	viper.SetDefault("mic_gain", 1.0)
	viper.SetDefault("system_gain", 1.0)
	viper.SetDefault("limiter_threshold", 0.5)
	viper.SetDefault("limiter_ratio", 8.0)
	viper.SetDefault("loglevel", "info")
	viper.SetDefault("logfile", "")
}

// Load reads configFilePath (if non-empty) over Viper defaults and returns
// the resolved, validated Config. A missing config file is not an error —
// defaults apply. Environment variables matching a key (upper-cased) also
// override defaults, mirroring the reference client's AutomaticEnv use.
func Load(configFilePath string) (Config, error) {
	viper.Reset()
	setDefaults()
	viper.AutomaticEnv()

	if configFilePath != "" {
		viper.SetConfigFile(configFilePath)
		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	cfg := Config{
		TargetSampleRate: viper.GetInt("target_sample_rate"),
		BlockSize:        viper.GetInt("block_size"),
		StartupThreshold: viper.GetInt("startup_threshold"),
		CrossfadeLen:     viper.GetInt("crossfade_len"),
		JitterTolerance:  viper.GetInt("jitter_tolerance"),
		LevelPeriod:      time.Duration(viper.GetInt("level_period_ms")) * time.Millisecond,
		FlushInterval:    time.Duration(viper.GetInt("flush_interval_s")) * time.Second,
		SpeakerGap:       time.Duration(viper.GetInt("speaker_gap_ms")) * time.Millisecond,
		FinalizeTimeout:  time.Duration(viper.GetInt("finalize_timeout_s")) * time.Second,
		MicGain:          viper.GetFloat64("mic_gain"),
		SystemGain:       viper.GetFloat64("system_gain"),
		LimiterThreshold: viper.GetFloat64("limiter_threshold"),
		LimiterRatio:     viper.GetFloat64("limiter_ratio"),
		LogLevel:         viper.GetString("loglevel"),
		LogFile:          viper.GetString("logfile"),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the configuration with every default applied and no
// config file or environment overrides — useful for tests.
func Default() Config {
	cfg, err := Load("")
	if err != nil {
		panic(err)
	}
	return cfg
}

func (c Config) validate() error {
	if c.TargetSampleRate <= 0 {
		return fmt.Errorf("target_sample_rate must be positive, got %d", c.TargetSampleRate)
	}
	if c.BlockSize <= 0 {
		return fmt.Errorf("block_size must be positive, got %d", c.BlockSize)
	}
	if c.CrossfadeLen < 0 {
		return fmt.Errorf("crossfade_len must be non-negative, got %d", c.CrossfadeLen)
	}
	if c.LimiterRatio <= 0 {
		return fmt.Errorf("limiter_ratio must be positive, got %f", c.LimiterRatio)
	}
	return nil
}
