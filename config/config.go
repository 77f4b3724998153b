// Package config loads the engine configuration from TOML, layered over
// production defaults.
package config

import (
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

// Config is the full engine configuration.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Tracker  TrackerConfig  `toml:"tracker"`
	Frames   FramesConfig   `toml:"frames"`
	Risk     RiskConfig     `toml:"risk"`
	Clips    ClipsConfig    `toml:"clips"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type TrackerConfig struct {
	// MinHits is the consecutive-match count required to confirm a track.
	MinHits int `toml:"min_hits"`
	// MaxAge is the unmatched-frame count after which a track is lost.
	MaxAge int `toml:"max_age"`
	// IoUGate is the minimum IoU for a detection/track association.
	IoUGate float64 `toml:"iou_gate"`
	// Matcher selects the assignment algorithm: "greedy" or "hungarian".
	Matcher string `toml:"matcher"`
	// FPS is the expected frame rate, used for the Kalman time step.
	FPS float64 `toml:"fps"`
}

type FramesConfig struct {
	RetentionSeconds int   `toml:"retention_seconds"`
	MaxFrames        int   `toml:"max_frames"`
	MaxBytes         int64 `toml:"max_bytes"`
}

type RiskConfig struct {
	AlertThreshold     float64 `toml:"alert_threshold"`
	DiscountThreshold  float64 `toml:"discount_threshold"`
	HighValueThreshold float64 `toml:"high_value_threshold"`
	RepeatWindowHours  int     `toml:"repeat_window_hours"`
	ReorderSeconds     int     `toml:"reorder_seconds"`
	WindowBeforeSecs   int     `toml:"window_before_secs"`
	WindowAfterSecs    int     `toml:"window_after_secs"`
	DefaultSource      string  `toml:"default_source"`
}

type ClipsConfig struct {
	Workers      int    `toml:"workers"`
	OutputDir    string `toml:"output_dir"`
	GraceSeconds int    `toml:"grace_seconds"`
	EmitPartial  bool   `toml:"emit_partial"`
}

// Default returns the production configuration.
func Default() Config {
	return Config{
		Database: DatabaseConfig{Path: "vigil.db"},
		Tracker: TrackerConfig{
			MinHits: 3,
			MaxAge:  30,
			IoUGate: 0.3,
			Matcher: "greedy",
			FPS:     30,
		},
		Frames: FramesConfig{
			RetentionSeconds: 120,
			MaxFrames:        8192,
		},
		Risk: RiskConfig{
			AlertThreshold:     0.4,
			DiscountThreshold:  30,
			HighValueThreshold: 1000,
			RepeatWindowHours:  24,
			ReorderSeconds:     5,
			WindowBeforeSecs:   30,
			WindowAfterSecs:    30,
			DefaultSource:      "cam0",
		},
		Clips: ClipsConfig{
			Workers:      2,
			OutputDir:    "./video_clips",
			GraceSeconds: 10,
		},
	}
}

// Load reads a TOML file over the defaults. A missing path returns the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, errors.Wrap(err, "can't read config")
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(err, "can't parse config")
	}
	return cfg, cfg.Validate()
}

// Validate rejects values the engine cannot run with.
func (c Config) Validate() error {
	if c.Tracker.MinHits < 1 {
		return errors.New("tracker.min_hits must be >= 1")
	}
	if c.Tracker.MaxAge < 1 {
		return errors.New("tracker.max_age must be >= 1")
	}
	if c.Tracker.IoUGate <= 0 || c.Tracker.IoUGate >= 1 {
		return errors.New("tracker.iou_gate must be in (0, 1)")
	}
	if c.Tracker.Matcher != "greedy" && c.Tracker.Matcher != "hungarian" {
		return errors.Errorf("tracker.matcher %q must be greedy or hungarian", c.Tracker.Matcher)
	}
	if c.Tracker.FPS <= 0 {
		return errors.New("tracker.fps must be positive")
	}
	if c.Frames.RetentionSeconds <= 0 {
		return errors.New("frames.retention_seconds must be positive")
	}
	if c.Risk.AlertThreshold < 0 || c.Risk.AlertThreshold > 1 {
		return errors.New("risk.alert_threshold must be in [0, 1]")
	}
	if c.Risk.WindowBeforeSecs < 0 || c.Risk.WindowAfterSecs < 0 {
		return errors.New("risk clip windows must be non-negative")
	}
	if c.Clips.Workers < 1 {
		return errors.New("clips.workers must be >= 1")
	}
	return nil
}

// Retention returns the frame retention as a duration.
func (c FramesConfig) Retention() time.Duration {
	return time.Duration(c.RetentionSeconds) * time.Second
}
