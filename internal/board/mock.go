package board

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/banshee-data/compass.report/internal/mag"
)

// Synthetic ellipsoid the mock board's magnetometer sweeps over. The offset
// and uneven axes make sphere and ellipsoid fits land on visibly different
// answers, which is useful when demoing the calibration flow.
const (
	mockOffsetX = 20.0
	mockOffsetY = 15.0
	mockOffsetZ = -12.0
	mockAxisA   = 40.0
	mockAxisB   = 35.0
	mockAxisC   = 50.0

	mockMeshN      = 20
	mockNoiseScale = 1.0
)

// MockBoardPort implements SerialPorter by simulating the sense board
// firmware: it streams raw magnetometer lines swept over a synthetic
// ellipsoid, honours the print-mode commands, and answers calibration get
// frames from an in-memory key-value store.
type MockBoardPort struct {
	mu       sync.Mutex
	readCond *sync.Cond

	readBuf    bytes.Buffer
	closed     bool
	outputMode byte

	// calib holds stored calibration values keyed by the sensor's get code.
	calib map[byte]CalibrationValues

	samples []mag.Sample
	next    int
}

// NewMockBoardPort creates a mock port sweeping the synthetic ellipsoid. The
// board starts silent; a handshake and print command select the stream, same
// as the real firmware.
func NewMockBoardPort() *MockBoardPort {
	rng := rand.New(rand.NewSource(1))
	samples, err := mag.EllipsoidPoints(mockOffsetX, mockOffsetY, mockOffsetZ, mockAxisA, mockAxisB, mockAxisC, mockMeshN, mockNoiseScale, rng)
	if err != nil {
		panic("failed to generate mock board samples: " + err.Error())
	}

	p := &MockBoardPort{
		outputMode: CmdPrintNothing,
		calib: map[byte]CalibrationValues{
			CmdMagGetCalib:  DefaultCalibrationValues(),
			CmdAccGetCalib:  DefaultCalibrationValues(),
			CmdGyroGetCalib: DefaultCalibrationValues(),
		},
		samples: samples,
	}
	p.readCond = sync.NewCond(&p.mu)
	return p
}

// Read blocks until streamed or queued data is available, mirroring a real
// serial port with no timeout configured.
func (p *MockBoardPort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for !p.closed && p.readBuf.Len() == 0 {
		p.readCond.Wait()
	}
	if p.closed {
		return 0, errors.New("serial port closed")
	}
	return p.readBuf.Read(buf)
}

// Write interprets command frames the way the firmware does. A single
// calibration frame stores values; anything else is split on the separator
// and handled as a batch of simple frames.
func (p *MockBoardPort) Write(frame []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, errors.New("serial port closed")
	}

	if len(frame) == calibrationFrameSize && frame[1] == calibrationFrameSize {
		p.handleCalibrationSet(frame)
		return len(frame), nil
	}

	for _, segment := range bytes.Split(frame, []byte{commandSeparator}) {
		if len(segment) != simpleFrameSize {
			continue
		}
		p.handleSimpleCommand(segment[0])
	}
	return len(frame), nil
}

func (p *MockBoardPort) handleCalibrationSet(frame []byte) {
	code, offset, gain, err := DecodeCalibration(frame)
	if err != nil {
		return
	}
	// Set codes store under the matching get code.
	if get, ok := map[byte]byte{
		CmdMagSetCalib:  CmdMagGetCalib,
		CmdAccSetCalib:  CmdAccGetCalib,
		CmdGyroSetCalib: CmdGyroGetCalib,
	}[code]; ok {
		p.calib[get] = CalibrationValues{Offset: offset, Gain: gain}
	}
}

func (p *MockBoardPort) handleSimpleCommand(code byte) {
	switch code {
	case CmdHandshake, CmdDone:
		// Greeting requires no response.

	case CmdPrintNothing, CmdPrintMagRaw, CmdPrintMagCalib, CmdPrintAccRaw,
		CmdPrintAccCalib, CmdPrintGyroRaw, CmdPrintGyroCalib, CmdPrintAHRS:
		p.outputMode = code

	case CmdMagGetCalib, CmdAccGetCalib, CmdGyroGetCalib:
		values, ok := p.calib[code]
		if !ok {
			values = DefaultCalibrationValues()
		}
		p.readBuf.Write(EncodeCalibration(code, values.Offset, values.Gain))
		p.readBuf.WriteByte('\n')
		p.readCond.Signal()

	case CmdResetFactoryDefaults, CmdResetKVStore:
		for get := range p.calib {
			p.calib[get] = DefaultCalibrationValues()
		}
	}
}

// Close marks the port as closed and wakes any blocked readers.
func (p *MockBoardPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	p.readCond.Broadcast()
	return nil
}

// emitSample queues the next swept magnetometer line if the raw stream is
// selected. Reports false once the port is closed.
func (p *MockBoardPort) emitSample() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}
	if p.outputMode != CmdPrintMagRaw || len(p.samples) == 0 {
		return true
	}

	s := p.samples[p.next]
	p.next = (p.next + 1) % len(p.samples)
	fmt.Fprintf(&p.readBuf, "%.2f,%.2f,%.2f\n", s.X, s.Y, s.Z)
	p.readCond.Signal()
	return true
}

// NewMockBoardMux creates a BoardMux backed by a simulated sense board that
// emits one magnetometer line per interval once initialized.
func NewMockBoardMux(interval time.Duration) *BoardMux[*MockBoardPort] {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	port := NewMockBoardPort()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			if !port.emitSample() {
				return
			}
		}
	}()

	return NewBoardMux(port)
}

// TestableSerialPort implements SerialPorter with configurable behaviour for testing.
// It provides fine-grained control over reads, writes, errors, and latency.
type TestableSerialPort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// ReadLatency adds a delay to each Read call
	ReadLatency time.Duration

	// WriteLatency adds a delay to each Write call
	WriteLatency time.Duration

	// ReadError is returned by the next Read call if set
	ReadError error

	// WriteError is returned by the next Write call if set
	WriteError error

	// CloseError is returned by Close if set
	CloseError error

	// Closed indicates whether Close was called
	Closed bool

	// ReadCalls records the number of Read calls
	ReadCalls int

	// WriteCalls records the number of Write calls
	WriteCalls int

	// ReadTimeout is the current read timeout
	ReadTimeout time.Duration

	// BlockReads causes Read to block until data is added or Close is called
	BlockReads bool

	// WriteLimit truncates the next Write to the given byte count when
	// positive, simulating a short write
	WriteLimit int

	// readCond is used to signal blocked readers
	readCond *sync.Cond
}

// NewTestableSerialPort creates a new TestableSerialPort for testing.
func NewTestableSerialPort() *TestableSerialPort {
	tsp := &TestableSerialPort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
	}
	tsp.readCond = sync.NewCond(&tsp.mu)
	return tsp
}

// Read reads from the read buffer, optionally simulating latency and errors.
func (t *TestableSerialPort) Read(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadCalls++

	if t.Closed {
		return 0, errors.New("serial port closed")
	}

	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}

	if t.ReadLatency > 0 {
		t.mu.Unlock()
		time.Sleep(t.ReadLatency)
		t.mu.Lock()
	}

	// If blocking reads are enabled and buffer is empty, wait for data
	if t.BlockReads && t.ReadBuffer.Len() == 0 {
		for !t.Closed && t.ReadBuffer.Len() == 0 {
			t.readCond.Wait()
		}
		if t.Closed {
			return 0, errors.New("serial port closed")
		}
	}

	return t.ReadBuffer.Read(p)
}

// Write writes to the write buffer, optionally simulating latency and errors.
func (t *TestableSerialPort) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.WriteCalls++

	if t.Closed {
		return 0, errors.New("serial port closed")
	}

	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}

	if t.WriteLatency > 0 {
		t.mu.Unlock()
		time.Sleep(t.WriteLatency)
		t.mu.Lock()
	}

	if t.WriteLimit > 0 && len(p) > t.WriteLimit {
		limit := t.WriteLimit
		t.WriteLimit = 0
		return t.WriteBuffer.Write(p[:limit])
	}

	return t.WriteBuffer.Write(p)
}

// Close marks the port as closed.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	t.readCond.Broadcast() // Wake up any blocked readers

	return t.CloseError
}

// SetReadTimeout implements TimeoutSerialPorter.
func (t *TestableSerialPort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadTimeout = timeout
	return nil
}

// AddReadData adds data to be returned by subsequent Read calls.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Write(data)
	t.readCond.Signal() // Wake up a blocked reader
}

// GetWrittenData returns all data written to the port.
func (t *TestableSerialPort) GetWrittenData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.WriteBuffer.Bytes()
}

// Reset clears all buffers and resets state.
func (t *TestableSerialPort) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Reset()
	t.WriteBuffer.Reset()
	t.ReadCalls = 0
	t.WriteCalls = 0
	t.Closed = false
	t.ReadError = nil
	t.WriteError = nil
	t.CloseError = nil
	t.ReadLatency = 0
	t.WriteLatency = 0
	t.WriteLimit = 0
}

// MockSerialPortFactory implements SerialPortFactory for testing.
type MockSerialPortFactory struct {
	mu sync.Mutex

	// Port is the port to return from Open
	Port SerialPorter

	// Error is returned by Open if set
	Error error

	// OpenCalls records all Open calls
	OpenCalls []MockOpenCall
}

// MockOpenCall records details of an Open call.
type MockOpenCall struct {
	Path string
	Mode *SerialPortMode
}

// NewMockSerialPortFactory creates a new MockSerialPortFactory.
func NewMockSerialPortFactory(port SerialPorter) *MockSerialPortFactory {
	return &MockSerialPortFactory{Port: port}
}

// Open returns the configured port or error.
func (f *MockSerialPortFactory) Open(path string, mode *SerialPortMode) (SerialPorter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.OpenCalls = append(f.OpenCalls, MockOpenCall{
		Path: path,
		Mode: mode,
	})

	if f.Error != nil {
		return nil, f.Error
	}

	return f.Port, nil
}

// LastCall returns the most recent Open call, or nil if none.
func (f *MockSerialPortFactory) LastCall() *MockOpenCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.OpenCalls) == 0 {
		return nil
	}
	return &f.OpenCalls[len(f.OpenCalls)-1]
}

// Reset clears all recorded calls.
func (f *MockSerialPortFactory) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.OpenCalls = nil
	f.Error = nil
}
