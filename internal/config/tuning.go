// Package config loads the JSON tuning file controlling action detection
// and clip extraction.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Defaults applied by the Get* accessors when a key is absent from the
// JSON file. These mirror the behaviour of the reference apparatus setup:
// one second of padding either side of an action, a fifteen-second halt
// before a frozen clock ends a recording, and a sixty-second frame buffer
// at thirty frames per second.
const (
	DefaultPreRollSeconds       = 1.0
	DefaultPostRollSeconds      = 1.0
	DefaultActionTimeoutSeconds = 15.0
	DefaultMinClipFrames        = 10
	DefaultBufferSeconds        = 60.0
	DefaultFramesPerSecond      = 30
)

// TuningConfig represents the tuning parameters for the recorder. All
// fields are pointers so that keys omitted from the JSON file fall back
// to defaults via the Get* accessors; partial configs are safe.
type TuningConfig struct {
	// Clip window padding either side of the detected action.
	PreRollSeconds  *float64 `json:"pre_roll_seconds,omitempty"`
	PostRollSeconds *float64 `json:"post_roll_seconds,omitempty"`

	// How long a recording may sit on a frozen clock before the detector
	// ends it without a hit.
	ActionTimeoutSeconds *float64 `json:"action_timeout_seconds,omitempty"`

	// Minimum number of buffered frames a window must yield before a clip
	// is written.
	MinClipFrames *int `json:"min_clip_frames,omitempty"`

	// Frame buffer sizing: retention window and nominal capture rate.
	// Capacity is their product.
	BufferSeconds   *float64 `json:"buffer_seconds,omitempty"`
	FramesPerSecond *int     `json:"frames_per_second,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }

// DefaultTuningConfig returns a TuningConfig with all fields unset so the
// Get* accessors return the defaults. Used for flag-less runs.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into an empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := DefaultTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.PreRollSeconds != nil && *c.PreRollSeconds <= 0 {
		return fmt.Errorf("pre_roll_seconds must be positive, got %f", *c.PreRollSeconds)
	}

	if c.PostRollSeconds != nil && *c.PostRollSeconds <= 0 {
		return fmt.Errorf("post_roll_seconds must be positive, got %f", *c.PostRollSeconds)
	}

	if c.ActionTimeoutSeconds != nil && *c.ActionTimeoutSeconds <= 0 {
		return fmt.Errorf("action_timeout_seconds must be positive, got %f", *c.ActionTimeoutSeconds)
	}

	if c.MinClipFrames != nil && *c.MinClipFrames < 1 {
		return fmt.Errorf("min_clip_frames must be at least 1, got %d", *c.MinClipFrames)
	}

	if c.BufferSeconds != nil && *c.BufferSeconds <= 0 {
		return fmt.Errorf("buffer_seconds must be positive, got %f", *c.BufferSeconds)
	}

	if c.FramesPerSecond != nil {
		if *c.FramesPerSecond < 1 {
			return fmt.Errorf("frames_per_second must be at least 1, got %d", *c.FramesPerSecond)
		}
		if *c.FramesPerSecond > 240 {
			return fmt.Errorf("frames_per_second must be at most 240, got %d", *c.FramesPerSecond)
		}
	}

	return nil
}

// GetPreRoll returns the pre_roll_seconds value as a duration, or the default.
func (c *TuningConfig) GetPreRoll() time.Duration {
	if c.PreRollSeconds == nil {
		return secondsToDuration(DefaultPreRollSeconds)
	}
	return secondsToDuration(*c.PreRollSeconds)
}

// GetPostRoll returns the post_roll_seconds value as a duration, or the default.
func (c *TuningConfig) GetPostRoll() time.Duration {
	if c.PostRollSeconds == nil {
		return secondsToDuration(DefaultPostRollSeconds)
	}
	return secondsToDuration(*c.PostRollSeconds)
}

// GetActionTimeout returns the action_timeout_seconds value as a duration, or the default.
func (c *TuningConfig) GetActionTimeout() time.Duration {
	if c.ActionTimeoutSeconds == nil {
		return secondsToDuration(DefaultActionTimeoutSeconds)
	}
	return secondsToDuration(*c.ActionTimeoutSeconds)
}

// GetMinClipFrames returns the min_clip_frames value or the default.
func (c *TuningConfig) GetMinClipFrames() int {
	if c.MinClipFrames == nil {
		return DefaultMinClipFrames
	}
	return *c.MinClipFrames
}

// GetBufferSeconds returns the buffer_seconds value or the default.
func (c *TuningConfig) GetBufferSeconds() float64 {
	if c.BufferSeconds == nil {
		return DefaultBufferSeconds
	}
	return *c.BufferSeconds
}

// GetFramesPerSecond returns the frames_per_second value or the default.
func (c *TuningConfig) GetFramesPerSecond() int {
	if c.FramesPerSecond == nil {
		return DefaultFramesPerSecond
	}
	return *c.FramesPerSecond
}

// BufferCapacity returns the frame buffer capacity implied by the
// retention window and capture rate: buffer_seconds x frames_per_second.
func (c *TuningConfig) BufferCapacity() int {
	return int(c.GetBufferSeconds() * float64(c.GetFramesPerSecond()))
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
