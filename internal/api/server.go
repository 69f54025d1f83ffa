package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/compass.report/internal/board"
	"github.com/banshee-data/compass.report/internal/config"
	"github.com/banshee-data/compass.report/internal/db"
	"github.com/banshee-data/compass.report/internal/mag"
	"github.com/banshee-data/compass.report/internal/session"
	"github.com/banshee-data/compass.report/internal/units"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// convertSampleRecord applies unit conversion to the field components of a
// sample row. The database stores readings in microtesla; angles pass
// through untouched.
func convertSampleRecord(rec db.SampleRecord, targetUnits string) db.SampleRecord {
	rec.X = units.ConvertField(rec.X, targetUnits)
	rec.Y = units.ConvertField(rec.Y, targetUnits)
	rec.Z = units.ConvertField(rec.Z, targetUnits)
	rec.Radius = units.ConvertField(rec.Radius, targetUnits)
	return rec
}

type Server struct {
	m        board.BoardMuxInterface
	db       *db.DB
	recorder *session.Recorder
	cfg      *config.TuningConfig
	units    string
}

func NewServer(m board.BoardMuxInterface, database *db.DB, recorder *session.Recorder, cfg *config.TuningConfig) *Server {
	if cfg == nil {
		cfg = config.EmptyTuningConfig()
	}
	return &Server{
		m:        m,
		db:       database,
		recorder: recorder,
		cfg:      cfg,
		units:    cfg.GetFieldUnits(),
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400 && statusCode < 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/samples", s.listSamples)
	mux.HandleFunc("/api/session", s.showSession)
	mux.HandleFunc("/api/session/start", s.startSession)
	mux.HandleFunc("/api/session/stop", s.stopSession)
	mux.HandleFunc("/api/coverage", s.showCoverage)
	mux.HandleFunc("/api/fit", s.runFit)
	mux.HandleFunc("/api/calibrations", s.listCalibrations)
	mux.HandleFunc("/api/calibration/board", s.fetchBoardCalibration)
	mux.HandleFunc("/api/calibration/push", s.pushCalibration)
	mux.HandleFunc("/api/command", s.sendCommandHandler)
	mux.HandleFunc("/api/config", s.showConfig)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// resolveUnits picks the target field units for a request: the ?units= query
// parameter when present, otherwise the configured default.
func (s *Server) resolveUnits(r *http.Request) (string, error) {
	u := r.URL.Query().Get("units")
	if u == "" {
		return s.units, nil
	}
	if !units.IsValid(u) {
		return "", fmt.Errorf("invalid 'units' parameter %q (valid: %s)", u, units.GetValidUnitsString())
	}
	return u, nil
}

// parseLimit reads an optional positive ?limit= query parameter.
func parseLimit(r *http.Request) (int, error) {
	l := r.URL.Query().Get("limit")
	if l == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(l)
	if err != nil || parsed < 1 {
		return 0, fmt.Errorf("invalid 'limit' parameter %q", l)
	}
	return parsed, nil
}

func (s *Server) listSamples(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	targetUnits, err := s.resolveUnits(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	var records []db.SampleRecord
	if sessionID := r.URL.Query().Get("session"); sessionID != "" {
		records, err = s.db.SamplesForSession(sessionID, limit)
	} else {
		if limit == 0 {
			limit = 100
		}
		records, err = s.db.LatestSamples(limit)
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve samples: %v", err))
		return
	}

	for i := range records {
		records[i] = convertSampleRecord(records[i], targetUnits)
	}
	if records == nil {
		records = []db.SampleRecord{}
	}

	if err := json.NewEncoder(w).Encode(records); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write samples")
		return
	}
}

func (s *Server) showSession(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	status, err := s.recorder.Status()
	if errors.Is(err, session.ErrNoActiveSession) {
		s.writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write session status")
		return
	}
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	strategy := r.FormValue("strategy")
	if strategy != "" {
		if _, err := mag.ParseStrategy(strategy); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	divisions := 0
	if d := r.FormValue("divisions"); d != "" {
		parsed, err := strconv.Atoi(d)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'divisions' parameter")
			return
		}
		divisions = parsed
	}

	status, err := s.recorder.Start(mag.Strategy(strategy), divisions)
	if errors.Is(err, session.ErrSessionActive) {
		s.writeJSONError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to start session: %v", err))
		return
	}

	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write session status")
		return
	}
}

func (s *Server) stopSession(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	status, err := s.recorder.Stop()
	if errors.Is(err, session.ErrNoActiveSession) {
		s.writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to stop session: %v", err))
		return
	}

	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write session status")
		return
	}
}

type coverageResponse struct {
	Cells      []mag.Cell `json:"cells"`
	Sampled    []bool     `json:"sampled"`
	Percentage float64    `json:"percentage"`
}

func (s *Server) showCoverage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	cells, sampled, err := s.recorder.Coverage()
	if errors.Is(err, session.ErrNoActiveSession) {
		s.writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := coverageResponse{Cells: cells, Sampled: sampled}
	if len(sampled) > 0 {
		count := 0
		for _, ok := range sampled {
			if ok {
				count++
			}
		}
		resp.Percentage = 100 * float64(count) / float64(len(sampled))
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write coverage")
		return
	}
}

func (s *Server) runFit(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	strategy := r.FormValue("strategy")
	if strategy != "" {
		if _, err := mag.ParseStrategy(strategy); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	calib, err := s.recorder.FitNow(mag.Strategy(strategy))
	switch {
	case errors.Is(err, session.ErrNoActiveSession):
		s.writeJSONError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, mag.ErrTooFewSamples):
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Fit failed: %v", err))
		return
	}

	if err := json.NewEncoder(w).Encode(calib); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write calibration")
		return
	}
}

func (s *Server) listCalibrations(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	var records []db.CalibrationRecord
	if sessionID := r.URL.Query().Get("session"); sessionID != "" {
		records, err = s.db.CalibrationsForSession(sessionID, limit)
	} else {
		records, err = s.db.ListCalibrations(limit)
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve calibrations: %v", err))
		return
	}
	if records == nil {
		records = []db.CalibrationRecord{}
	}

	if err := json.NewEncoder(w).Encode(records); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write calibrations")
		return
	}
}

func (s *Server) fetchBoardCalibration(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	values, err := board.FetchCalibration(
		r.Context(), s.m, board.CmdMagGetCalib,
		s.cfg.GetCalibrationRetries(), s.cfg.GetCalibrationWait(),
	)
	// The fetch silences the output stream; put the board back into raw
	// streaming mode whether or not it answered.
	if restoreErr := s.m.SendCommand(board.EncodeCommand(board.CmdPrintMagRaw)); restoreErr != nil {
		log.Printf("failed to restore raw output mode: %v", restoreErr)
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to fetch board calibration: %v", err))
		return
	}

	if err := json.NewEncoder(w).Encode(values); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write board calibration")
		return
	}
}

func (s *Server) pushCalibration(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var values board.CalibrationValues
	err := json.NewDecoder(r.Body).Decode(&values)
	if errors.Is(err, io.EOF) {
		// No body: push the most recent fit. The board stores an offset and
		// a per-axis gain, so the rotation of a rotated-strategy fit does
		// not survive the trip.
		latest := s.recorder.LatestCalibration()
		if latest == nil {
			s.writeJSONError(w, http.StatusNotFound, "no calibration available to push")
			return
		}
		values = board.CalibrationValues{Offset: latest.HardIron}
		for i, axis := range latest.SemiAxes {
			values.Gain[i] = 1 / axis
		}
	} else if err != nil {
		s.writeJSONError(w, http.StatusBadRequest,
			fmt.Sprintf("Invalid calibration payload: %v", err))
		return
	}

	if err := board.PushCalibration(s.m, board.CmdMagSetCalib, values); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to push calibration: %v", err))
		return
	}
	if err := s.m.SendCommand(board.EncodeCommand(board.CmdPrintMagRaw)); err != nil {
		log.Printf("failed to restore raw output mode: %v", err)
	}

	if err := json.NewEncoder(w).Encode(values); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write calibration")
		return
	}
}

func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	command := r.FormValue("command")
	if command == "" {
		http.Error(w, "Missing command", http.StatusBadRequest)
		return
	}

	// Accept a named command or a raw control code ("0x11", "17").
	code, err := board.LookupCommand(command)
	if err != nil {
		parsed, parseErr := strconv.ParseUint(command, 0, 8)
		if parseErr != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		code = byte(parsed)
	}

	if err := s.m.SendCommand(board.EncodeCommand(code)); err != nil {
		http.Error(w, "Failed to send command", http.StatusInternalServerError)
		return
	}
	io.WriteString(w, "Command sent successfully")
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	config := map[string]interface{}{
		"units":               s.units,
		"fit_strategy":        string(s.cfg.GetFitStrategy()),
		"fit_max_iterations":  s.cfg.GetFitMaxIterations(),
		"mesh_divisions":      s.cfg.GetMeshDivisions(),
		"refit_every_samples": s.cfg.GetRefitEverySamples(),
		"coverage_target_pct": s.cfg.GetCoverageTargetPct(),
	}

	if err := json.NewEncoder(w).Encode(config); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write config")
		return
	}
}
