package board

import (
	"context"
	"net/http"
	"sync"
)

// DisabledBoardMux is a no-op BoardMux implementation used when the sense
// board is absent (for --disable-board). It allows the server and admin routes
// to run without a real device. Subscribers are tracked so their channels can
// be deterministically closed on Unsubscribe() or Close(), allowing readers to
// unblock predictably during shutdown.
type DisabledBoardMux struct {
	mu          sync.Mutex
	subscribers map[string]chan string
	closing     bool
}

func NewDisabledBoardMux() *DisabledBoardMux {
	return &DisabledBoardMux{
		subscribers: make(map[string]chan string),
	}
}

func (d *DisabledBoardMux) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string)

	d.mu.Lock()
	if d.closing {
		// If already closing, return a closed channel so callers don't block.
		close(ch)
		d.mu.Unlock()
		return id, ch
	}
	d.subscribers[id] = ch
	d.mu.Unlock()
	return id, ch
}

func (d *DisabledBoardMux) Unsubscribe(id string) {
	d.mu.Lock()
	if ch, ok := d.subscribers[id]; ok {
		close(ch)
		delete(d.subscribers, id)
	}
	d.mu.Unlock()
}

func (d *DisabledBoardMux) SendCommand([]byte) error { return nil }

func (d *DisabledBoardMux) Monitor(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }

func (d *DisabledBoardMux) Close() error {
	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		return nil
	}
	d.closing = true
	// Close all subscriber channels
	for id, ch := range d.subscribers {
		close(ch)
		delete(d.subscribers, id)
	}
	d.mu.Unlock()
	return nil
}

func (d *DisabledBoardMux) Initialize() error { return nil }

func (d *DisabledBoardMux) AttachAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/debug/board-disabled", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("board disabled"))
	})
}
