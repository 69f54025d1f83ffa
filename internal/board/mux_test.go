package board

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

// TestNewBoardMux tests creation of a new BoardMux
func TestNewBoardMux(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewBoardMux(port)

	if mux == nil {
		t.Fatal("NewBoardMux returned nil")
	}
	if mux.port != port {
		t.Error("BoardMux port not set correctly")
	}
	if mux.subscribers == nil {
		t.Error("BoardMux subscribers map not initialized")
	}
}

// TestBoardMux_Subscribe tests subscribing to the board mux
func TestBoardMux_Subscribe(t *testing.T) {
	mux := NewBoardMux(NewTestableSerialPort())

	id1, ch1 := mux.Subscribe()
	id2, ch2 := mux.Subscribe()

	if id1 == "" || id2 == "" {
		t.Error("subscription returned empty ID")
	}
	if id1 == id2 {
		t.Error("subscription IDs should be unique")
	}
	if ch1 == nil || ch2 == nil {
		t.Error("subscription returned nil channel")
	}

	mux.subscriberMu.Lock()
	if len(mux.subscribers) != 2 {
		t.Errorf("expected 2 subscribers, got %d", len(mux.subscribers))
	}
	mux.subscriberMu.Unlock()
}

// TestBoardMux_Unsubscribe tests unsubscribing from the board mux
func TestBoardMux_Unsubscribe(t *testing.T) {
	mux := NewBoardMux(NewTestableSerialPort())

	id, ch := mux.Subscribe()

	done := make(chan bool)
	go func() {
		_, ok := <-ch
		if ok {
			t.Error("expected channel to be closed")
		}
		done <- true
	}()

	mux.Unsubscribe(id)

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("timeout waiting for channel closure")
	}

	mux.subscriberMu.Lock()
	if len(mux.subscribers) != 0 {
		t.Errorf("expected 0 subscribers, got %d", len(mux.subscribers))
	}
	mux.subscriberMu.Unlock()
}

// TestBoardMux_Unsubscribe_NonExistent tests unsubscribing with invalid ID
func TestBoardMux_Unsubscribe_NonExistent(t *testing.T) {
	mux := NewBoardMux(NewTestableSerialPort())

	// Should not panic
	mux.Unsubscribe("non-existent-id")
}

// TestBoardMux_SendCommand_WritesRawFrame verifies frames reach the port
// byte-for-byte with no terminator appended, since calibration payloads are
// binary.
func TestBoardMux_SendCommand_WritesRawFrame(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewBoardMux(port)

	frame := EncodeCalibration(CmdMagSetCalib, [3]float64{20, 15, -12}, [3]float64{1, 1, 1})
	if err := mux.SendCommand(frame); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}

	if got := port.GetWrittenData(); !bytes.Equal(got, frame) {
		t.Errorf("written data = %v, want %v", got, frame)
	}
}

// TestBoardMux_SendCommand_WriteError tests error handling in SendCommand
func TestBoardMux_SendCommand_WriteError(t *testing.T) {
	port := NewTestableSerialPort()
	port.WriteError = errors.New("write failed")
	mux := NewBoardMux(port)

	if err := mux.SendCommand(EncodeCommand(CmdHandshake)); err == nil {
		t.Error("expected error when write fails")
	}
}

// TestBoardMux_SendCommand_ShortWrite tests that truncated writes surface
// ErrWriteFailed
func TestBoardMux_SendCommand_ShortWrite(t *testing.T) {
	port := NewTestableSerialPort()
	port.WriteLimit = 1
	mux := NewBoardMux(port)

	err := mux.SendCommand(EncodeCommand(CmdHandshake))
	if !errors.Is(err, ErrWriteFailed) {
		t.Errorf("SendCommand() error = %v, want ErrWriteFailed", err)
	}
}

// TestBoardMux_Initialize verifies the handshake and stream selection frames
func TestBoardMux_Initialize(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewBoardMux(port)

	if err := mux.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	want := append(EncodeCommand(CmdHandshake), EncodeCommand(CmdPrintMagRaw)...)
	if got := port.GetWrittenData(); !bytes.Equal(got, want) {
		t.Errorf("written data = %v, want %v", got, want)
	}
}

// TestBoardMux_Initialize_WriteError tests Initialize with write failure
func TestBoardMux_Initialize_WriteError(t *testing.T) {
	port := NewTestableSerialPort()
	port.WriteError = errors.New("write failed")
	mux := NewBoardMux(port)

	if err := mux.Initialize(); err == nil {
		t.Error("expected error when write fails during initialization")
	}
}

// TestBoardMux_Monitor_FanOut tests that lines reach every subscriber.
// Delivery is best-effort for subscribers that are not ready, so the test
// keeps pumping lines until both have seen one.
func TestBoardMux_Monitor_FanOut(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true
	mux := NewBoardMux(port)
	defer port.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitorDone := make(chan error, 1)
	go func() {
		monitorDone <- mux.Monitor(ctx)
	}()

	_, ch1 := mux.Subscribe()
	_, ch2 := mux.Subscribe()

	got1, got2 := false, false
	deadline := time.After(2 * time.Second)
	for !got1 || !got2 {
		port.AddReadData([]byte("12.5,-3.25,40\n"))
		select {
		case line := <-ch1:
			if line != "12.5,-3.25,40" {
				t.Errorf("subscriber 1 got %q, want %q", line, "12.5,-3.25,40")
			}
			got1 = true
		case line := <-ch2:
			if line != "12.5,-3.25,40" {
				t.Errorf("subscriber 2 got %q, want %q", line, "12.5,-3.25,40")
			}
			got2 = true
		case <-time.After(10 * time.Millisecond):
			// Line was dropped before we were receiving; pump another.
		case <-deadline:
			t.Fatalf("timeout waiting for fan-out: got1=%v got2=%v", got1, got2)
		}
	}

	cancel()
	select {
	case err := <-monitorDone:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Monitor() returned %v, want context.Canceled", err)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("timeout waiting for Monitor to exit")
	}
}

// TestBoardMux_Monitor_SlowSubscriberSkipped tests that a subscriber that
// never reads does not stall delivery to the others
func TestBoardMux_Monitor_SlowSubscriberSkipped(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true
	mux := NewBoardMux(port)
	defer port.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go mux.Monitor(ctx)

	// First subscriber never reads from its channel.
	mux.Subscribe()
	_, active := mux.Subscribe()

	deadline := time.After(2 * time.Second)
	for {
		port.AddReadData([]byte("1.0,2.0,3.0\n"))
		select {
		case <-active:
			return
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatal("timeout: active subscriber starved by slow subscriber")
		}
	}
}

// TestBoardMux_Monitor_PortError tests that read errors stop the monitor
func TestBoardMux_Monitor_PortError(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true
	mux := NewBoardMux(port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitorDone := make(chan error, 1)
	go func() {
		monitorDone <- mux.Monitor(ctx)
	}()

	// Closing the port surfaces an error from the blocked read.
	port.Close()

	select {
	case err := <-monitorDone:
		if err == nil {
			t.Error("Monitor() returned nil, want port error")
		}
	case <-time.After(1 * time.Second):
		t.Fatal("timeout waiting for Monitor to exit")
	}
}

// TestBoardMux_Close tests closing the board mux
func TestBoardMux_Close(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewBoardMux(port)

	_, ch1 := mux.Subscribe()
	_, ch2 := mux.Subscribe()

	if err := mux.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	for i, ch := range []chan string{ch1, ch2} {
		select {
		case _, ok := <-ch:
			if ok {
				t.Errorf("subscriber %d channel still open after Close", i)
			}
		case <-time.After(1 * time.Second):
			t.Fatalf("timeout waiting for subscriber %d channel closure", i)
		}
	}

	if !port.Closed {
		t.Error("port not closed after Close")
	}
}
