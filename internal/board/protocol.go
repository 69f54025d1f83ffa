package board

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/banshee-data/compass.report/internal/mag"
)

// Command bytes understood by the sense board firmware. Print commands select
// which stream the board writes to the serial port; set/get commands store and
// recall per-sensor calibration values in the board's key-value store.
const (
	CmdHandshake byte = 0x05
	CmdDone      byte = 0x06

	CmdPrintNothing   byte = 0x10
	CmdPrintMagRaw    byte = 0x11
	CmdPrintMagCalib  byte = 0x12
	CmdPrintAccRaw    byte = 0x13
	CmdPrintAccCalib  byte = 0x14
	CmdPrintGyroRaw   byte = 0x15
	CmdPrintGyroCalib byte = 0x16
	CmdPrintAHRS      byte = 0x20

	CmdMagSetCalib  byte = 0x30
	CmdMagGetCalib  byte = 0x31
	CmdAccSetCalib  byte = 0x40
	CmdAccGetCalib  byte = 0x41
	CmdGyroSetCalib byte = 0x50
	CmdGyroGetCalib byte = 0x51

	CmdResetFactoryDefaults byte = 0x60
	CmdResetKVStore         byte = 0x70
)

// Frames are [command, size, payload...] with size counting the whole frame.
// Simple frames carry no payload; calibration frames carry six little-endian
// float32 values (offset x, y, z then gain x, y, z).
const (
	simpleFrameSize      = 2
	calibrationFrameSize = 2 + 6*4
)

// commandSeparator joins multiple frames in a single write so the firmware
// applies them in order.
const commandSeparator = ';'

var (
	ErrBadFrame  = fmt.Errorf("malformed calibration frame")
	ErrBadSample = fmt.Errorf("line is not a magnetometer sample")
)

// EncodeCommand builds a simple two-byte command frame.
func EncodeCommand(code byte) []byte {
	return []byte{code, simpleFrameSize}
}

// EncodeCommands builds a batch of simple command frames, each followed by the
// separator byte, matching the format the firmware's command parser splits on.
func EncodeCommands(codes ...byte) []byte {
	buf := make([]byte, 0, len(codes)*(simpleFrameSize+1))
	for _, code := range codes {
		buf = append(buf, code, simpleFrameSize, commandSeparator)
	}
	return buf
}

// EncodeCalibration builds a calibration frame carrying offset and gain values
// for the sensor addressed by code.
func EncodeCalibration(code byte, offset, gain [3]float64) []byte {
	buf := make([]byte, 2, calibrationFrameSize)
	buf[0] = code
	buf[1] = calibrationFrameSize
	for _, v := range []float64{offset[0], offset[1], offset[2], gain[0], gain[1], gain[2]} {
		var word [4]byte
		binary.LittleEndian.PutUint32(word[:], math.Float32bits(float32(v)))
		buf = append(buf, word[:]...)
	}
	return buf
}

// DecodeCalibration parses a calibration frame into its command byte, offset,
// and gain values.
func DecodeCalibration(frame []byte) (code byte, offset, gain [3]float64, err error) {
	if len(frame) != calibrationFrameSize {
		return 0, offset, gain, fmt.Errorf("%w: got %d bytes, want %d", ErrBadFrame, len(frame), calibrationFrameSize)
	}
	if int(frame[1]) != calibrationFrameSize {
		return 0, offset, gain, fmt.Errorf("%w: declared size %d, want %d", ErrBadFrame, frame[1], calibrationFrameSize)
	}

	values := make([]float64, 6)
	for i := range values {
		bits := binary.LittleEndian.Uint32(frame[2+4*i:])
		values[i] = float64(math.Float32frombits(bits))
	}

	offset = [3]float64{values[0], values[1], values[2]}
	gain = [3]float64{values[3], values[4], values[5]}
	return frame[0], offset, gain, nil
}

// ExtractCalibrationFrame scans a serial line for a calibration frame. Lines
// from the board may carry several separator-joined segments; the first
// segment with a plausible frame shape wins.
func ExtractCalibrationFrame(line string) ([]byte, bool) {
	for _, segment := range strings.Split(line, string(commandSeparator)) {
		if len(segment) == calibrationFrameSize && segment[1] == calibrationFrameSize {
			return []byte(segment), true
		}
	}
	return nil, false
}

// ParseSampleLine parses a raw magnetometer line in "x,y,z" form. The board
// occasionally emits stray control bytes around mode switches, so those are
// stripped before parsing.
func ParseSampleLine(line string) (mag.Sample, error) {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, line)

	fields := strings.Split(cleaned, ",")
	if len(fields) != 3 {
		return mag.Sample{}, fmt.Errorf("%w: got %d fields", ErrBadSample, len(fields))
	}

	values := make([]float64, 3)
	for i, field := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return mag.Sample{}, fmt.Errorf("%w: %v", ErrBadSample, err)
		}
		values[i] = v
	}

	return mag.Sample{X: values[0], Y: values[1], Z: values[2]}, nil
}

// Line type tokens returned by ClassifyLine.
const (
	LineTypeSample      = "sample"
	LineTypeCalibration = "calibration"
	LineTypeUnknown     = "unknown"
)

// ClassifyLine inspects a serial line and returns a simple event type token.
// The classification is intentionally conservative: anything that is neither a
// calibration frame nor a parseable sample is unknown.
func ClassifyLine(line string) string {
	if _, ok := ExtractCalibrationFrame(line); ok {
		return LineTypeCalibration
	}
	if _, err := ParseSampleLine(line); err == nil {
		return LineTypeSample
	}
	return LineTypeUnknown
}

// commandsByName maps the names accepted by the admin send-command form to
// firmware command bytes. Set-calibration codes are deliberately absent: they
// need a payload and are pushed through the API instead.
var commandsByName = map[string]byte{
	"handshake":     CmdHandshake,
	"done":          CmdDone,
	"print-nothing": CmdPrintNothing,
	"mag-raw":       CmdPrintMagRaw,
	"mag-calib":     CmdPrintMagCalib,
	"acc-raw":       CmdPrintAccRaw,
	"acc-calib":     CmdPrintAccCalib,
	"gyro-raw":      CmdPrintGyroRaw,
	"gyro-calib":    CmdPrintGyroCalib,
	"ahrs":          CmdPrintAHRS,
	"mag-get":       CmdMagGetCalib,
	"acc-get":       CmdAccGetCalib,
	"gyro-get":      CmdGyroGetCalib,
	"factory-reset": CmdResetFactoryDefaults,
	"kv-reset":      CmdResetKVStore,
}

// LookupCommand resolves a command name from the admin form to its byte code.
func LookupCommand(name string) (byte, error) {
	code, ok := commandsByName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown command %q", name)
	}
	return code, nil
}

// CommandNames returns the accepted command names in sorted order.
func CommandNames() []string {
	names := make([]string, 0, len(commandsByName))
	for name := range commandsByName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
