package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultConfigPath is the path to the canonical estimator defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/estimator.defaults.json"

// FilterKind selects the estimator variant a pose estimator runs.
type FilterKind string

const (
	FilterKF  FilterKind = "kf"
	FilterEKF FilterKind = "ekf"
	FilterUKF FilterKind = "ukf"
)

// ParseFilterKinds parses a comma separated list such as "kf,ukf". An empty
// list yields a single empty kind, meaning the drivetrain default.
func ParseFilterKinds(list string) ([]FilterKind, error) {
	if strings.TrimSpace(list) == "" {
		return []FilterKind{""}, nil
	}
	var out []FilterKind
	for _, part := range strings.Split(list, ",") {
		k := FilterKind(strings.ToLower(strings.TrimSpace(part)))
		switch k {
		case FilterKF, FilterEKF, FilterUKF:
			out = append(out, k)
		default:
			return nil, fmt.Errorf("unknown filter %q: must be one of kf, ekf, ukf", part)
		}
	}
	return out, nil
}

// EstimatorConfig represents the tuning of a drivetrain pose estimator.
// Standard deviations are continuous-time values; the filters discretize
// them against the actual loop period.
type EstimatorConfig struct {
	// Loop params
	NominalDt        *string `json:"nominal_dt,omitempty"` // duration string like "20ms"
	SnapshotCapacity *int    `json:"snapshot_capacity,omitempty"`
	Filter           *string `json:"filter,omitempty"` // "kf", "ekf", "ukf" or empty for the drivetrain default

	// Process noise
	StateStdX     *float64 `json:"state_std_x,omitempty"`
	StateStdY     *float64 `json:"state_std_y,omitempty"`
	StateStdTheta *float64 `json:"state_std_theta,omitempty"`
	StateStdWheel *float64 `json:"state_std_wheel,omitempty"`

	// Local (gyro + encoder) measurement noise
	LocalStdTheta *float64 `json:"local_std_theta,omitempty"`
	LocalStdWheel *float64 `json:"local_std_wheel,omitempty"`

	// Vision measurement noise
	VisionStdX     *float64 `json:"vision_std_x,omitempty"`
	VisionStdY     *float64 `json:"vision_std_y,omitempty"`
	VisionStdTheta *float64 `json:"vision_std_theta,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyEstimatorConfig returns an EstimatorConfig with all fields set to nil.
// Use LoadEstimatorConfig to load actual values from the defaults file.
func EmptyEstimatorConfig() *EstimatorConfig {
	return &EstimatorConfig{}
}

// DefaultEstimatorConfig returns a config with every field set to the value
// its Get* accessor falls back to.
func DefaultEstimatorConfig() *EstimatorConfig {
	empty := EmptyEstimatorConfig()
	return &EstimatorConfig{
		NominalDt:        ptrString(empty.GetNominalDt().String()),
		SnapshotCapacity: ptrInt(empty.GetSnapshotCapacity()),
		Filter:           ptrString(string(empty.GetFilter())),
		StateStdX:        ptrFloat64(empty.GetStateStdX()),
		StateStdY:        ptrFloat64(empty.GetStateStdY()),
		StateStdTheta:    ptrFloat64(empty.GetStateStdTheta()),
		StateStdWheel:    ptrFloat64(empty.GetStateStdWheel()),
		LocalStdTheta:    ptrFloat64(empty.GetLocalStdTheta()),
		LocalStdWheel:    ptrFloat64(empty.GetLocalStdWheel()),
		VisionStdX:       ptrFloat64(empty.GetVisionStdX()),
		VisionStdY:       ptrFloat64(empty.GetVisionStdY()),
		VisionStdTheta:   ptrFloat64(empty.GetVisionStdTheta()),
	}
}

// LoadEstimatorConfig loads an EstimatorConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadEstimatorConfig(path string) (*EstimatorConfig, error) {
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

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyEstimatorConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical estimator defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *EstimatorConfig {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadEstimatorConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *EstimatorConfig) Validate() error {
	if c.NominalDt != nil && *c.NominalDt != "" {
		d, err := time.ParseDuration(*c.NominalDt)
		if err != nil {
			return fmt.Errorf("invalid nominal_dt '%s': %w", *c.NominalDt, err)
		}
		if d <= 0 {
			return fmt.Errorf("nominal_dt must be positive, got %s", d)
		}
	}

	if c.SnapshotCapacity != nil && *c.SnapshotCapacity <= 0 {
		return fmt.Errorf("snapshot_capacity must be positive, got %d", *c.SnapshotCapacity)
	}

	if c.Filter != nil {
		switch FilterKind(*c.Filter) {
		case "", FilterKF, FilterEKF, FilterUKF:
		default:
			return fmt.Errorf("filter must be one of kf, ekf, ukf, got %q", *c.Filter)
		}
	}

	// Zero noise makes the innovation covariance singular.
	stdDevs := []struct {
		name string
		v    *float64
	}{
		{"state_std_x", c.StateStdX},
		{"state_std_y", c.StateStdY},
		{"state_std_theta", c.StateStdTheta},
		{"state_std_wheel", c.StateStdWheel},
		{"local_std_theta", c.LocalStdTheta},
		{"local_std_wheel", c.LocalStdWheel},
		{"vision_std_x", c.VisionStdX},
		{"vision_std_y", c.VisionStdY},
		{"vision_std_theta", c.VisionStdTheta},
	}
	for _, s := range stdDevs {
		if s.v != nil && *s.v <= 0 {
			return fmt.Errorf("%s must be positive, got %f", s.name, *s.v)
		}
	}

	return nil
}

// GetNominalDt parses and returns the NominalDt as a time.Duration.
func (c *EstimatorConfig) GetNominalDt() time.Duration {
	if c.NominalDt == nil || *c.NominalDt == "" {
		return 20 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.NominalDt)
	if err != nil || d <= 0 {
		return 20 * time.Millisecond // default on parse error
	}
	return d
}

// GetSnapshotCapacity returns the snapshot_capacity value or the default.
func (c *EstimatorConfig) GetSnapshotCapacity() int {
	if c.SnapshotCapacity == nil {
		return 300
	}
	return *c.SnapshotCapacity
}

// GetFilter returns the configured filter kind, or "" when the drivetrain
// default should be used.
func (c *EstimatorConfig) GetFilter() FilterKind {
	if c.Filter == nil {
		return ""
	}
	return FilterKind(*c.Filter)
}

// GetStateStdX returns the state_std_x value or the default.
func (c *EstimatorConfig) GetStateStdX() float64 {
	if c.StateStdX == nil {
		return 0.05
	}
	return *c.StateStdX
}

// GetStateStdY returns the state_std_y value or the default.
func (c *EstimatorConfig) GetStateStdY() float64 {
	if c.StateStdY == nil {
		return 0.05
	}
	return *c.StateStdY
}

// GetStateStdTheta returns the state_std_theta value or the default.
func (c *EstimatorConfig) GetStateStdTheta() float64 {
	if c.StateStdTheta == nil {
		return 0.087 // ~5 degrees
	}
	return *c.StateStdTheta
}

// GetStateStdWheel returns the state_std_wheel value or the default.
func (c *EstimatorConfig) GetStateStdWheel() float64 {
	if c.StateStdWheel == nil {
		return 0.05
	}
	return *c.StateStdWheel
}

// GetLocalStdTheta returns the local_std_theta value or the default.
func (c *EstimatorConfig) GetLocalStdTheta() float64 {
	if c.LocalStdTheta == nil {
		return 0.0175 // ~1 degree
	}
	return *c.LocalStdTheta
}

// GetLocalStdWheel returns the local_std_wheel value or the default.
func (c *EstimatorConfig) GetLocalStdWheel() float64 {
	if c.LocalStdWheel == nil {
		return 0.01
	}
	return *c.LocalStdWheel
}

// GetVisionStdX returns the vision_std_x value or the default.
func (c *EstimatorConfig) GetVisionStdX() float64 {
	if c.VisionStdX == nil {
		return 0.1
	}
	return *c.VisionStdX
}

// GetVisionStdY returns the vision_std_y value or the default.
func (c *EstimatorConfig) GetVisionStdY() float64 {
	if c.VisionStdY == nil {
		return 0.1
	}
	return *c.VisionStdY
}

// GetVisionStdTheta returns the vision_std_theta value or the default.
func (c *EstimatorConfig) GetVisionStdTheta() float64 {
	if c.VisionStdTheta == nil {
		return 0.1
	}
	return *c.VisionStdTheta
}
