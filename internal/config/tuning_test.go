package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/compass.report/internal/mag"
)

func TestEmptyTuningConfigDefaults(t *testing.T) {
	cfg := EmptyTuningConfig()

	// Every getter falls back to its documented default on a nil field.
	if cfg.GetMeshDivisions() != 10 {
		t.Errorf("GetMeshDivisions() = %d, want 10", cfg.GetMeshDivisions())
	}
	if cfg.GetCoverageTargetPct() != 80.0 {
		t.Errorf("GetCoverageTargetPct() = %f, want 80.0", cfg.GetCoverageTargetPct())
	}
	if cfg.GetFitStrategy() != mag.StrategySphere {
		t.Errorf("GetFitStrategy() = %s, want sphere", cfg.GetFitStrategy())
	}
	if cfg.GetFitMaxIterations() != mag.DefaultFitIterations {
		t.Errorf("GetFitMaxIterations() = %d, want %d", cfg.GetFitMaxIterations(), mag.DefaultFitIterations)
	}
	if cfg.GetRefitEverySamples() != 25 {
		t.Errorf("GetRefitEverySamples() = %d, want 25", cfg.GetRefitEverySamples())
	}
	if cfg.GetBaudRate() != 57600 {
		t.Errorf("GetBaudRate() = %d, want 57600", cfg.GetBaudRate())
	}
	if cfg.GetCalibrationRetries() != 5 {
		t.Errorf("GetCalibrationRetries() = %d, want 5", cfg.GetCalibrationRetries())
	}
	if cfg.GetCalibrationWait() != 100*time.Millisecond {
		t.Errorf("GetCalibrationWait() = %v, want 100ms", cfg.GetCalibrationWait())
	}
	if cfg.GetFieldUnits() != "ut" {
		t.Errorf("GetFieldUnits() = %s, want ut", cfg.GetFieldUnits())
	}
}

func TestLoadTuningConfig(t *testing.T) {
	// Create temporary directory
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.json")

	// Write test config with flat schema
	testJSON := `{
  "mesh_divisions": 16,
  "coverage_target_pct": 90.0,
  "fit_strategy": "ellipsoid-rotated",
  "fit_max_iterations": 500,
  "refit_every_samples": 50,
  "baud_rate": 115200,
  "calibration_retries": 3,
  "calibration_wait": "250ms",
  "field_units": "mg"
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	// Load the config
	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Verify values
	if cfg.MeshDivisions == nil || *cfg.MeshDivisions != 16 {
		t.Errorf("Expected MeshDivisions 16, got %v", cfg.MeshDivisions)
	}
	if cfg.CoverageTargetPct == nil || *cfg.CoverageTargetPct != 90.0 {
		t.Errorf("Expected CoverageTargetPct 90.0, got %v", cfg.CoverageTargetPct)
	}
	if cfg.GetFitStrategy() != mag.StrategyEllipsoidRotated {
		t.Errorf("Expected strategy ellipsoid-rotated, got %s", cfg.GetFitStrategy())
	}
	if cfg.FitMaxIterations == nil || *cfg.FitMaxIterations != 500 {
		t.Errorf("Expected FitMaxIterations 500, got %v", cfg.FitMaxIterations)
	}
	if cfg.RefitEverySamples == nil || *cfg.RefitEverySamples != 50 {
		t.Errorf("Expected RefitEverySamples 50, got %v", cfg.RefitEverySamples)
	}
	if cfg.BaudRate == nil || *cfg.BaudRate != 115200 {
		t.Errorf("Expected BaudRate 115200, got %v", cfg.BaudRate)
	}
	if cfg.GetCalibrationWait() != 250*time.Millisecond {
		t.Errorf("Expected CalibrationWait 250ms, got %v", cfg.GetCalibrationWait())
	}
	if cfg.GetFieldUnits() != "mg" {
		t.Errorf("Expected FieldUnits mg, got %s", cfg.GetFieldUnits())
	}
}

func TestLoadTuningConfig_Partial(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "partial.json")

	// Only override one field; everything else falls back to defaults.
	if err := os.WriteFile(configPath, []byte(`{"mesh_divisions": 20}`), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.GetMeshDivisions() != 20 {
		t.Errorf("GetMeshDivisions() = %d, want 20", cfg.GetMeshDivisions())
	}
	if cfg.GetFitStrategy() != mag.StrategySphere {
		t.Errorf("GetFitStrategy() = %s, want sphere default", cfg.GetFitStrategy())
	}
	if cfg.GetBaudRate() != 57600 {
		t.Errorf("GetBaudRate() = %d, want 57600 default", cfg.GetBaudRate())
	}
}

func TestLoadTuningConfigMissing(t *testing.T) {
	_, err := LoadTuningConfig("/nonexistent/path/to/config.json")
	if err == nil {
		t.Error("Expected error when loading missing file, got nil")
	}
}

func TestLoadTuningConfigInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid_config.json")

	// Write invalid JSON
	invalidJSON := `{
  "mesh_divisions": "invalid"
`
	if err := os.WriteFile(configPath, []byte(invalidJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	_, err := LoadTuningConfig(configPath)
	if err == nil {
		t.Error("Expected error when loading invalid JSON, got nil")
	}
}

func TestLoadTuningConfigWrongExtension(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	if err := os.WriteFile(configPath, []byte(`{}`), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	_, err := LoadTuningConfig(configPath)
	if err == nil {
		t.Error("Expected error for non-.json extension, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *TuningConfig
		wantErr bool
	}{
		{
			name:    "empty config is valid",
			cfg:     &TuningConfig{},
			wantErr: false,
		},
		{
			name: "full valid config",
			cfg: &TuningConfig{
				MeshDivisions:     ptrInt(12),
				CoverageTargetPct: ptrFloat64(85),
				FitStrategy:       ptrString("ellipsoid"),
				FitMaxIterations:  ptrInt(200),
				RefitEverySamples: ptrInt(10),
				CalibrationWait:   ptrString("50ms"),
				FieldUnits:        ptrString("gauss"),
			},
			wantErr: false,
		},
		{
			name: "mesh divisions below 1",
			cfg: &TuningConfig{
				MeshDivisions: ptrInt(0),
			},
			wantErr: true,
		},
		{
			name: "coverage target above 100",
			cfg: &TuningConfig{
				CoverageTargetPct: ptrFloat64(120),
			},
			wantErr: true,
		},
		{
			name: "coverage target negative",
			cfg: &TuningConfig{
				CoverageTargetPct: ptrFloat64(-5),
			},
			wantErr: true,
		},
		{
			name: "unknown fit strategy",
			cfg: &TuningConfig{
				FitStrategy: ptrString("cube"),
			},
			wantErr: true,
		},
		{
			name: "zero fit iterations",
			cfg: &TuningConfig{
				FitMaxIterations: ptrInt(0),
			},
			wantErr: true,
		},
		{
			name: "zero refit interval",
			cfg: &TuningConfig{
				RefitEverySamples: ptrInt(0),
			},
			wantErr: true,
		},
		{
			name: "invalid calibration wait",
			cfg: &TuningConfig{
				CalibrationWait: ptrString("invalid"),
			},
			wantErr: true,
		},
		{
			name: "invalid field units",
			cfg: &TuningConfig{
				FieldUnits: ptrString("tesla"),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetCalibrationWait(t *testing.T) {
	tests := []struct {
		name string
		cfg  *TuningConfig
		want time.Duration
	}{
		{
			name: "250 milliseconds",
			cfg: &TuningConfig{
				CalibrationWait: ptrString("250ms"),
			},
			want: 250 * time.Millisecond,
		},
		{
			name: "1 second",
			cfg: &TuningConfig{
				CalibrationWait: ptrString("1s"),
			},
			want: 1 * time.Second,
		},
		{
			name: "nil pointer returns default",
			cfg:  &TuningConfig{},
			want: 100 * time.Millisecond,
		},
		{
			name: "empty string returns default",
			cfg: &TuningConfig{
				CalibrationWait: ptrString(""),
			},
			want: 100 * time.Millisecond,
		},
		{
			name: "invalid duration returns default",
			cfg: &TuningConfig{
				CalibrationWait: ptrString("invalid"),
			},
			want: 100 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cfg.GetCalibrationWait()
			if got != tt.want {
				t.Errorf("GetCalibrationWait() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetFitStrategy_InvalidFallsBack(t *testing.T) {
	cfg := &TuningConfig{FitStrategy: ptrString("not-a-strategy")}
	if cfg.GetFitStrategy() != mag.StrategySphere {
		t.Errorf("GetFitStrategy() = %s, want sphere fallback", cfg.GetFitStrategy())
	}
}
