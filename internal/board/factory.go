package board

import (
	"go.bug.st/serial"
)

// NewRealBoardMux creates a BoardMux instance backed by a real serial port at
// the given path using the provided serial options.
func NewRealBoardMux(path string, opts PortOptions) (*BoardMux[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}

	return NewBoardMux[serial.Port](port), nil
}
