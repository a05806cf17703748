// Package config holds the runtime tuning parameters of the tracking and
// planning cores. The schema uses pointer-typed optional fields so the same
// JSON document can serve both startup configuration and partial runtime
// updates; Get* accessors fall back to the built-in defaults.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// DefaultConfigPath is the canonical tuning defaults file, relative to the
// repository root.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig is the root tuning document.
type TuningConfig struct {
	// Tracker params
	SystemDelay          *string  `json:"system_delay,omitempty"` // duration string like "30ms"
	MinFrameCount        *int     `json:"min_frame_count,omitempty"`
	RobotTimeout         *string  `json:"robot_timeout,omitempty"`
	RobotTimeoutLast     *string  `json:"robot_timeout_last,omitempty"`
	BallTimeout          *string  `json:"ball_timeout,omitempty"`
	BallTimeoutLast      *string  `json:"ball_timeout_last,omitempty"`
	RobotAssociationDist *float64 `json:"robot_association_dist,omitempty"`
	CollisionReasoning   *bool    `json:"collision_reasoning,omitempty"`

	// Filter noise params
	ProcessNoisePos  *float64 `json:"process_noise_pos,omitempty"`
	ProcessNoiseVel  *float64 `json:"process_noise_vel,omitempty"`
	MeasurementNoise *float64 `json:"measurement_noise,omitempty"`

	// Planner params
	RobotRadius        *float64 `json:"robot_radius,omitempty"`
	MaxRobotSpeed      *float64 `json:"max_robot_speed,omitempty"`
	PrecomputationPath *string  `json:"precomputation_path,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields unset.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. Fields omitted
// from the file retain their defaults, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, errors.Errorf("config file must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parse config JSON")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// Validate checks value ranges and duration syntax.
func (c *TuningConfig) Validate() error {
	for name, d := range map[string]*string{
		"system_delay":       c.SystemDelay,
		"robot_timeout":      c.RobotTimeout,
		"robot_timeout_last": c.RobotTimeoutLast,
		"ball_timeout":       c.BallTimeout,
		"ball_timeout_last":  c.BallTimeoutLast,
	} {
		if d != nil && *d != "" {
			if _, err := time.ParseDuration(*d); err != nil {
				return errors.Wrapf(err, "invalid %s %q", name, *d)
			}
		}
	}
	if c.RobotRadius != nil && (*c.RobotRadius <= 0 || *c.RobotRadius > 0.5) {
		return errors.Errorf("robot_radius out of range: %f", *c.RobotRadius)
	}
	if c.MaxRobotSpeed != nil && *c.MaxRobotSpeed <= 0 {
		return errors.Errorf("max_robot_speed must be positive: %f", *c.MaxRobotSpeed)
	}
	return nil
}

func (c *TuningConfig) duration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetSystemDelay is the assumed delay between field and process clock.
func (c *TuningConfig) GetSystemDelay() time.Duration {
	return c.duration(c.SystemDelay, 30*time.Millisecond)
}

// GetMinFrameCount is the number of frames a filter needs before its object
// appears in snapshots.
func (c *TuningConfig) GetMinFrameCount() int {
	if c.MinFrameCount == nil {
		return 5
	}
	return *c.MinFrameCount
}

// GetRobotTimeout is the invalidation timeout for robot filters with peers.
func (c *TuningConfig) GetRobotTimeout() time.Duration {
	return c.duration(c.RobotTimeout, 200*time.Millisecond)
}

// GetRobotTimeoutLast is the invalidation timeout for the last surviving
// robot filter of an id.
func (c *TuningConfig) GetRobotTimeoutLast() time.Duration {
	return c.duration(c.RobotTimeoutLast, time.Second)
}

// GetBallTimeout is the invalidation timeout for ball filters with peers.
func (c *TuningConfig) GetBallTimeout() time.Duration {
	return c.duration(c.BallTimeout, 100*time.Millisecond)
}

// GetBallTimeoutLast is the invalidation timeout for the last ball filter.
func (c *TuningConfig) GetBallTimeoutLast() time.Duration {
	return c.duration(c.BallTimeoutLast, time.Second)
}

// GetRobotAssociationDist is the association gate between a detection and a
// predicted robot position.
func (c *TuningConfig) GetRobotAssociationDist() float64 {
	if c.RobotAssociationDist == nil {
		return 0.5
	}
	return *c.RobotAssociationDist
}

// GetCollisionReasoning reports whether ball/robot collision and dribbling
// projection is active.
func (c *TuningConfig) GetCollisionReasoning() bool {
	if c.CollisionReasoning == nil {
		return true
	}
	return *c.CollisionReasoning
}

// GetProcessNoisePos is the position process noise of the Kalman filters.
func (c *TuningConfig) GetProcessNoisePos() float64 {
	if c.ProcessNoisePos == nil {
		return 0.0001
	}
	return *c.ProcessNoisePos
}

// GetProcessNoiseVel is the velocity process noise of the Kalman filters.
func (c *TuningConfig) GetProcessNoiseVel() float64 {
	if c.ProcessNoiseVel == nil {
		return 0.1
	}
	return *c.ProcessNoiseVel
}

// GetMeasurementNoise is the measurement noise of the Kalman filters.
func (c *TuningConfig) GetMeasurementNoise() float64 {
	if c.MeasurementNoise == nil {
		return 0.000025
	}
	return *c.MeasurementNoise
}

// GetRobotRadius is the robot hull radius in metres.
func (c *TuningConfig) GetRobotRadius() float64 {
	if c.RobotRadius == nil {
		return 0.09
	}
	return *c.RobotRadius
}

// GetMaxRobotSpeed is the speed above which robot state is flagged
// estimate-only.
func (c *TuningConfig) GetMaxRobotSpeed() float64 {
	if c.MaxRobotSpeed == nil {
		return 4.0
	}
	return *c.MaxRobotSpeed
}

// GetPrecomputationPath is the optional sampler precomputation database.
func (c *TuningConfig) GetPrecomputationPath() string {
	if c.PrecomputationPath == nil {
		return ""
	}
	return *c.PrecomputationPath
}
