package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/compass.report/internal/mag"
	"github.com/banshee-data/compass.report/internal/units"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for tuning parameters.
// The schema matches the /api/config endpoint so the same JSON can be
// used for both startup configuration and runtime inspection.
type TuningConfig struct {
	// Coverage mesh params
	MeshDivisions     *int     `json:"mesh_divisions,omitempty"`
	CoverageTargetPct *float64 `json:"coverage_target_pct,omitempty"`

	// Fit params
	FitStrategy       *string `json:"fit_strategy,omitempty"`
	FitMaxIterations  *int    `json:"fit_max_iterations,omitempty"`
	RefitEverySamples *int    `json:"refit_every_samples,omitempty"`

	// Board params
	BaudRate           *int    `json:"baud_rate,omitempty"`
	CalibrationRetries *int    `json:"calibration_retries,omitempty"`
	CalibrationWait    *string `json:"calibration_wait,omitempty"` // duration string like "100ms"

	// Display params
	FieldUnits *string `json:"field_units,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
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

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	// Validate MeshDivisions if set
	if c.MeshDivisions != nil {
		if *c.MeshDivisions < 1 {
			return fmt.Errorf("mesh_divisions must be at least 1, got %d", *c.MeshDivisions)
		}
	}

	// Validate CoverageTargetPct if set
	if c.CoverageTargetPct != nil {
		if *c.CoverageTargetPct < 0 || *c.CoverageTargetPct > 100 {
			return fmt.Errorf("coverage_target_pct must be between 0 and 100, got %f", *c.CoverageTargetPct)
		}
	}

	// Validate FitStrategy if set
	if c.FitStrategy != nil {
		if _, err := mag.ParseStrategy(*c.FitStrategy); err != nil {
			return fmt.Errorf("invalid fit_strategy: %w", err)
		}
	}

	// Validate FitMaxIterations if set
	if c.FitMaxIterations != nil {
		if *c.FitMaxIterations < 1 {
			return fmt.Errorf("fit_max_iterations must be at least 1, got %d", *c.FitMaxIterations)
		}
	}

	// Validate RefitEverySamples if set
	if c.RefitEverySamples != nil {
		if *c.RefitEverySamples < 1 {
			return fmt.Errorf("refit_every_samples must be at least 1, got %d", *c.RefitEverySamples)
		}
	}

	// Validate CalibrationWait can be parsed if set
	if c.CalibrationWait != nil && *c.CalibrationWait != "" {
		if _, err := time.ParseDuration(*c.CalibrationWait); err != nil {
			return fmt.Errorf("invalid calibration_wait '%s': %w", *c.CalibrationWait, err)
		}
	}

	// Validate FieldUnits if set
	if c.FieldUnits != nil {
		if !units.IsValid(*c.FieldUnits) {
			return fmt.Errorf("invalid field_units %q (valid: %s)", *c.FieldUnits, units.GetValidUnitsString())
		}
	}

	return nil
}

// GetMeshDivisions returns the mesh_divisions value or the default.
func (c *TuningConfig) GetMeshDivisions() int {
	if c.MeshDivisions == nil {
		return mag.DefaultTrackerDivisions
	}
	return *c.MeshDivisions
}

// GetCoverageTargetPct returns the coverage_target_pct value or the default.
func (c *TuningConfig) GetCoverageTargetPct() float64 {
	if c.CoverageTargetPct == nil {
		return 80.0
	}
	return *c.CoverageTargetPct
}

// GetFitStrategy returns the fit_strategy value or the default.
func (c *TuningConfig) GetFitStrategy() mag.Strategy {
	if c.FitStrategy == nil {
		return mag.StrategySphere
	}
	s, err := mag.ParseStrategy(*c.FitStrategy)
	if err != nil {
		return mag.StrategySphere // default on parse error
	}
	return s
}

// GetFitMaxIterations returns the fit_max_iterations value or the default.
func (c *TuningConfig) GetFitMaxIterations() int {
	if c.FitMaxIterations == nil {
		return mag.DefaultFitIterations
	}
	return *c.FitMaxIterations
}

// GetRefitEverySamples returns the refit_every_samples value or the default.
func (c *TuningConfig) GetRefitEverySamples() int {
	if c.RefitEverySamples == nil {
		return 25
	}
	return *c.RefitEverySamples
}

// GetBaudRate returns the baud_rate value or the default.
func (c *TuningConfig) GetBaudRate() int {
	if c.BaudRate == nil {
		return 57600
	}
	return *c.BaudRate
}

// GetCalibrationRetries returns the calibration_retries value or the default.
func (c *TuningConfig) GetCalibrationRetries() int {
	if c.CalibrationRetries == nil {
		return 5
	}
	return *c.CalibrationRetries
}

// GetCalibrationWait parses and returns the CalibrationWait as a time.Duration.
func (c *TuningConfig) GetCalibrationWait() time.Duration {
	if c.CalibrationWait == nil || *c.CalibrationWait == "" {
		return 100 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.CalibrationWait)
	if err != nil {
		return 100 * time.Millisecond // default on parse error
	}
	return d
}

// GetFieldUnits returns the field_units value or the default.
func (c *TuningConfig) GetFieldUnits() string {
	if c.FieldUnits == nil {
		return units.Microtesla
	}
	return *c.FieldUnits
}
