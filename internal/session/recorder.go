// Package session drives one calibration recording run: it consumes raw
// sample lines from the sense board, persists readings with their spherical
// projections, tracks orientation coverage, and refreshes the hard-iron
// estimate with a quick sphere fit on a sample-count cadence. The full
// strategy fit runs on demand and when the run stops.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/compass.report/internal/board"
	"github.com/banshee-data/compass.report/internal/config"
	"github.com/banshee-data/compass.report/internal/db"
	"github.com/banshee-data/compass.report/internal/mag"
	"github.com/banshee-data/compass.report/internal/monitoring"
	"github.com/banshee-data/compass.report/internal/timeutil"
)

var (
	// ErrSessionActive is returned by Start when a run is already recording.
	ErrSessionActive = fmt.Errorf("a recording session is already active")
	// ErrNoActiveSession is returned by operations that need a running
	// session when there is none.
	ErrNoActiveSession = fmt.Errorf("no recording session is active")
)

// Run is the live state of one recording session. All mutable fields are
// guarded by mu; the fit itself runs on an immutable snapshot outside the
// lock.
type Run struct {
	ID        string
	Strategy  mag.Strategy
	StartedAt time.Time

	mu          sync.Mutex
	samples     []mag.Sample
	tracker     *mag.Tracker
	latest      *mag.Calibration
	outsideMesh int
	sinceFit    int
}

// Status is a point-in-time snapshot of a run, shaped for the API.
type Status struct {
	ID             string   `json:"id"`
	Strategy       string   `json:"strategy"`
	Divisions      int      `json:"divisions"`
	StartedAt      int64    `json:"started_at"`
	SampleCount    int      `json:"sample_count"`
	OutsideMesh    int      `json:"outside_mesh"`
	CoveragePct    float64  `json:"coverage_pct"`
	CoverageMet    bool     `json:"coverage_met"`
	LatestRMSE     *float64 `json:"latest_rmse,omitempty"`
	FitCount       int      `json:"fit_count"`
	SamplesToRefit int      `json:"samples_to_refit"`
}

// Recorder owns the lifecycle of recording runs and the handoff between the
// board's line stream and the database.
type Recorder struct {
	db    *db.DB
	cfg   *config.TuningConfig
	clock timeutil.Clock

	mu       sync.Mutex
	current  *Run
	lastFit  *mag.Calibration
	fitCount int
}

// NewRecorder wires a recorder to its store and tuning. A nil clock gets the
// real one.
func NewRecorder(database *db.DB, cfg *config.TuningConfig, clock timeutil.Clock) *Recorder {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if cfg == nil {
		cfg = config.EmptyTuningConfig()
	}
	return &Recorder{db: database, cfg: cfg, clock: clock}
}

// Start begins a new recording run. An empty strategy or non-positive
// divisions fall back to the tuning config. Only one run records at a time.
func (r *Recorder) Start(strategy mag.Strategy, divisions int) (*Status, error) {
	if strategy == "" {
		strategy = r.cfg.GetFitStrategy()
	} else if _, err := mag.ParseStrategy(string(strategy)); err != nil {
		return nil, err
	}
	if divisions <= 0 {
		divisions = r.cfg.GetMeshDivisions()
	}

	tracker, err := mag.NewTracker(divisions)
	if err != nil {
		return nil, fmt.Errorf("failed to build coverage tracker: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		return nil, ErrSessionActive
	}

	run := &Run{
		ID:        uuid.New().String(),
		Strategy:  strategy,
		StartedAt: r.clock.Now(),
		tracker:   tracker,
	}

	if err := r.db.CreateSession(&db.Session{
		ID:        run.ID,
		Strategy:  string(strategy),
		Divisions: divisions,
		StartedAt: run.StartedAt.Unix(),
	}); err != nil {
		return nil, err
	}

	r.current = run
	monitoring.Logf("session %s started (strategy=%s divisions=%d)", run.ID, strategy, divisions)
	return r.statusLocked(run), nil
}

// Stop ends the current run. A final fit is attempted when samples arrived
// since the last one; fit failure does not block the stop.
func (r *Recorder) Stop() (*Status, error) {
	r.mu.Lock()
	run := r.current
	r.mu.Unlock()
	if run == nil {
		return nil, ErrNoActiveSession
	}

	run.mu.Lock()
	needsFit := run.sinceFit > 0 && len(run.samples) >= mag.MinSamples(run.Strategy)
	run.mu.Unlock()
	if needsFit {
		if _, err := r.fitRun(run); err != nil {
			monitoring.Logf("session %s: final fit skipped: %v", run.ID, err)
		}
	}

	if err := r.db.StopSession(run.ID, r.clock.Now().Unix()); err != nil {
		return nil, err
	}

	r.mu.Lock()
	status := r.statusLocked(run)
	r.current = nil
	r.mu.Unlock()

	monitoring.Logf("session %s stopped (%d samples, %.1f%% coverage)",
		run.ID, status.SampleCount, status.CoveragePct)
	return status, nil
}

// Status reports the current run, or ErrNoActiveSession when idle.
func (r *Recorder) Status() (*Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return nil, ErrNoActiveSession
	}
	return r.statusLocked(r.current), nil
}

// statusLocked snapshots a run. Callers hold r.mu.
func (r *Recorder) statusLocked(run *Run) *Status {
	run.mu.Lock()
	defer run.mu.Unlock()

	pct := run.tracker.Percentage()
	st := &Status{
		ID:             run.ID,
		Strategy:       string(run.Strategy),
		Divisions:      run.tracker.Divisions(),
		StartedAt:      run.StartedAt.Unix(),
		SampleCount:    len(run.samples),
		OutsideMesh:    run.outsideMesh,
		CoveragePct:    pct,
		CoverageMet:    pct >= r.cfg.GetCoverageTargetPct(),
		FitCount:       r.fitCount,
		SamplesToRefit: r.cfg.GetRefitEverySamples() - run.sinceFit,
	}
	if run.latest != nil {
		rmse := run.latest.RMSE
		st.LatestRMSE = &rmse
	}
	return st
}

// HandleLine consumes one line from the board stream. Non-sample lines and
// samples arriving while no session is recording are ignored.
func (r *Recorder) HandleLine(line string) error {
	if board.ClassifyLine(line) != board.LineTypeSample {
		return nil
	}
	sample, err := board.ParseSampleLine(line)
	if err != nil {
		return err
	}

	r.mu.Lock()
	run := r.current
	r.mu.Unlock()
	if run == nil {
		return nil
	}
	return r.record(run, sample)
}

// Record adds one reading to the current run, or returns ErrNoActiveSession.
func (r *Recorder) Record(sample mag.Sample) error {
	r.mu.Lock()
	run := r.current
	r.mu.Unlock()
	if run == nil {
		return ErrNoActiveSession
	}
	return r.record(run, sample)
}

func (r *Recorder) record(run *Run, sample mag.Sample) error {
	run.mu.Lock()
	// Coverage is judged on the centred reading: subtract the latest
	// hard-iron estimate before projecting, so the mesh fills relative to
	// where the field sphere actually sits.
	corrected := sample
	if run.latest != nil {
		corrected.X -= run.latest.HardIron[0]
		corrected.Y -= run.latest.HardIron[1]
		corrected.Z -= run.latest.HardIron[2]
	}
	radius, polar, azimuth := mag.ToSpherical(corrected.X, corrected.Y, corrected.Z)
	if radius == 0 {
		// A zero vector carries no orientation; drop it rather than
		// poison the fit.
		run.outsideMesh++
		run.mu.Unlock()
		return nil
	}

	run.samples = append(run.samples, sample)
	run.sinceFit++
	if err := run.tracker.UpdateSinglePoint(polar, azimuth); err != nil {
		run.outsideMesh++
		monitoring.Logf("session %s: %v", run.ID, err)
	}
	shouldFit := run.sinceFit >= r.cfg.GetRefitEverySamples() &&
		len(run.samples) >= mag.MinSamples(mag.StrategySphere)
	run.mu.Unlock()

	if err := r.db.RecordSample(&db.SampleRecord{
		SessionID:  run.ID,
		X:          sample.X,
		Y:          sample.Y,
		Z:          sample.Z,
		Radius:     radius,
		Polar:      polar,
		Azimuth:    azimuth,
		RecordedAt: r.clock.Now().Unix(),
	}); err != nil {
		return err
	}

	if shouldFit {
		// The cadence fit is a cheap sphere fit: it only needs to keep the
		// hard-iron estimate current. The run's own strategy is saved for
		// on-demand and final fits.
		if _, err := r.fitSnapshot(run, mag.StrategySphere); err != nil {
			// Early sample sets are often degenerate; keep recording and
			// try again at the next refit point.
			monitoring.Logf("session %s: refit failed: %v", run.ID, err)
		}
	}
	return nil
}

// FitNow fits the current run's samples on demand. An empty strategy uses
// the run's own. The result is persisted like a scheduled refit.
func (r *Recorder) FitNow(strategy mag.Strategy) (*mag.Calibration, error) {
	r.mu.Lock()
	run := r.current
	r.mu.Unlock()
	if run == nil {
		return nil, ErrNoActiveSession
	}
	if strategy != "" {
		if _, err := mag.ParseStrategy(string(strategy)); err != nil {
			return nil, err
		}
		return r.fitSnapshot(run, strategy)
	}
	return r.fitRun(run)
}

// fitRun fits with the run's configured strategy.
func (r *Recorder) fitRun(run *Run) (*mag.Calibration, error) {
	return r.fitSnapshot(run, run.Strategy)
}

// fitSnapshot copies the sample set under the lock, fits outside it, then
// stores the result.
func (r *Recorder) fitSnapshot(run *Run, strategy mag.Strategy) (*mag.Calibration, error) {
	run.mu.Lock()
	snapshot := make([]mag.Sample, len(run.samples))
	copy(snapshot, run.samples)
	run.sinceFit = 0
	coverage := run.tracker.Percentage()
	run.mu.Unlock()

	calib, err := mag.FitWithOptions(strategy, snapshot, mag.FitOptions{
		MaxIterations: r.cfg.GetFitMaxIterations(),
	})
	if err != nil {
		return nil, err
	}

	run.mu.Lock()
	run.latest = calib
	run.mu.Unlock()

	r.mu.Lock()
	r.lastFit = calib
	r.fitCount++
	r.mu.Unlock()

	if err := r.db.RecordCalibration(&db.CalibrationRecord{
		SessionID:   run.ID,
		Strategy:    string(strategy),
		RMSE:        calib.RMSE,
		SampleCount: int64(len(snapshot)),
		CoveragePct: coverage,
		Calibration: *calib,
		CreatedAt:   r.clock.Now().Unix(),
	}); err != nil {
		monitoring.Logf("session %s: failed to persist calibration: %v", run.ID, err)
	}

	monitoring.Logf("session %s: fit %s over %d samples, rmse=%.6f",
		run.ID, strategy, len(snapshot), calib.RMSE)
	return calib, nil
}

// LatestCalibration returns the most recent successful fit across runs, or
// nil when none has happened yet.
func (r *Recorder) LatestCalibration() *mag.Calibration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastFit
}

// Coverage returns the current run's mesh cells and sampled flags for
// rendering.
func (r *Recorder) Coverage() ([]mag.Cell, []bool, error) {
	r.mu.Lock()
	run := r.current
	r.mu.Unlock()
	if run == nil {
		return nil, nil, ErrNoActiveSession
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	cells, sampled := run.tracker.Segments()
	return cells, sampled, nil
}

// Samples returns a copy of the current run's raw readings.
func (r *Recorder) Samples() ([]mag.Sample, error) {
	r.mu.Lock()
	run := r.current
	r.mu.Unlock()
	if run == nil {
		return nil, ErrNoActiveSession
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	out := make([]mag.Sample, len(run.samples))
	copy(out, run.samples)
	return out, nil
}
