// Board provides an abstraction over the sense board's serial link with the
// ability for multiple clients to subscribe to lines from the board and send
// command frames to a single serial port device.
package board

import (
	"bufio"
	"bytes"
	"context"
	crand "crypto/rand"
	"embed"
	"encoding/hex"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"sync"

	"tailscale.com/tsweb"
)

var ErrWriteFailed = fmt.Errorf("failed to write to serial port")

//go:embed templates/*
var adminTemplateFS embed.FS

var sendCommandTemplate = template.Must(template.ParseFS(adminTemplateFS, "templates/send-command.html.tmpl"))

// BoardMux is a generic serial port multiplexer that allows multiple clients
// to subscribe to lines from a single sense board.
type BoardMux[T SerialPorter] struct {
	port         T
	subscribers  map[string]chan string
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	closing      bool
	closingMu    sync.Mutex
}

// BoardMuxInterface defines the interface for the BoardMux type.
type BoardMuxInterface interface {
	// Subscribe creates a new channel for receiving line events from the
	// board. The channel ID is used to identify the unique channel when
	// unsubscribing.
	Subscribe() (string, chan string)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// SendCommand writes the provided frame to the serial port.
	SendCommand([]byte) error
	// Monitor reads lines from the serial port and sends them to the
	// appropriate channels.
	Monitor(context.Context) error
	// Close closes all subscribed channels and closes the serial port.
	Close() error

	Initialize() error

	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/. These routes are accessible only over
	// localhost/via Tailscale and are not publicly accessible.
	AttachAdminRoutes(*http.ServeMux)
}

// NewBoardMux creates a BoardMux instance backed by the given serial port.
func NewBoardMux[T SerialPorter](port T) *BoardMux[T] {
	return &BoardMux[T]{
		port:         port,
		subscribers:  make(map[string]chan string),
		subscriberMu: sync.Mutex{},
		commandMu:    sync.Mutex{},
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (b *BoardMux[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string)
	b.subscriberMu.Lock()
	defer b.subscriberMu.Unlock()
	b.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the board mux.
func (b *BoardMux[T]) Unsubscribe(id string) {
	b.subscriberMu.Lock()
	defer b.subscriberMu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
}

// Initialize greets the board and selects the raw magnetometer stream so that
// the monitor loop sees parseable sample lines.
func (b *BoardMux[T]) Initialize() error {
	if err := b.SendCommand(EncodeCommand(CmdHandshake)); err != nil {
		return fmt.Errorf("failed to handshake with board: %w", err)
	}

	if err := b.SendCommand(EncodeCommand(CmdPrintMagRaw)); err != nil {
		return fmt.Errorf("failed to select raw magnetometer output: %w", err)
	}

	return nil
}

// SendCommand writes a command frame to the serial port. Frames are written
// as-is: calibration payloads are binary, so no terminator is appended.
func (b *BoardMux[T]) SendCommand(frame []byte) error {
	b.commandMu.Lock()
	defer b.commandMu.Unlock()
	n, err := b.port.Write(frame)
	if err != nil {
		return err
	}
	if n != len(frame) {
		return ErrWriteFailed
	}
	return nil
}

// Monitor monitors the serial port for lines and sends them to subscribers.
//
// Calibration response frames that happen to contain a 0x0A byte split across
// two lines and are dropped by the classifier; callers retry the request.
func (b *BoardMux[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(b.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// start a goroutine to read from the serial port & send any lines that are scanned to linesChan.
	// and any errors to the scanErrChan
	//
	// the blocking scan.Scan will not interfere with our outer loop awaiting
	// lines & context cancellation.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		// check if the context is done
		// and exit the loop if so
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			return err

		case line, ok := <-lineChan:
			// if the channel is closed, we're done reading from the serial port
			if !ok {
				if err := scan.Err(); err != nil {
					return err
				}
				return nil
			}
			// Check if we're closing
			b.closingMu.Lock()
			if b.closing {
				b.closingMu.Unlock()
				return nil
			}
			b.closingMu.Unlock()

			// otherwise take a read lock on the subscriber map
			b.subscriberMu.Lock()
			for _, ch := range b.subscribers {
				select {
				case ch <- line:
				default:
					// if the channel is full/blocking skip so as not to block the outer loop
				}
			}
			b.subscriberMu.Unlock()
		}
	}
}

func (b *BoardMux[T]) Close() error {
	b.closingMu.Lock()
	b.closing = true
	b.closingMu.Unlock()

	b.subscriberMu.Lock()
	defer b.subscriberMu.Unlock()
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
	return b.port.Close()
}

func (b *BoardMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	// Basic command / live tail monitor interface using the below two API endpoints.
	debug.HandleFunc("send-command", "send a command to the sense board", func(w http.ResponseWriter, r *http.Request) {
		buf := bytes.NewBuffer(nil)
		data := struct{ Commands []string }{Commands: CommandNames()}
		if err := sendCommandTemplate.Execute(buf, data); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
			return
		}
		io.Copy(w, buf)
	})

	// API endpoint to write a named command to the serial port
	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		name := strings.TrimSpace(r.FormValue("command"))
		if name == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		code, err := LookupCommand(name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := b.SendCommand(EncodeCommand(code)); err != nil {
			http.Error(w, "Failed to write command", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, fmt.Sprintf("Wrote command %q (0x%02x) to serial port", name, code))
	})
	// API endpoint to issue Server-Side Events (SSE) in response to lines coming from the serial port.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := b.Subscribe()
		defer b.Unsubscribe(id)

		// Send initial ping to establish connection
		w.Write([]byte(": ping\n\n"))
		w.(http.Flusher).Flush()

		for {
			select {
			case payload, ok := <-c:
				if !ok {
					// Channel closed, exit gracefully
					return
				}
				_, err := w.Write([]byte(fmt.Sprintf("data: %s\n\n", payload)))
				if err != nil {
					return
				}
				w.(http.Flusher).Flush()
			case <-r.Context().Done():
				return
			}
		}
	})

	debug.HandleSilentFunc("tail.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		// serve tail.js from adminTemplateFS
		f, err := adminTemplateFS.Open("templates/tail.js")
		if err != nil {
			http.Error(w, "Failed to open tail.js", http.StatusInternalServerError)
			return
		}
		defer f.Close()
		io.Copy(w, f)
	})
}
