package board

import (
	"context"
	"fmt"
	"time"
)

var ErrNoCalibrationResponse = fmt.Errorf("no calibration response from board")

// CalibrationValues holds the six numbers the firmware stores per sensor: a
// hard-iron offset and a per-axis gain.
type CalibrationValues struct {
	Offset [3]float64 `json:"offset"`
	Gain   [3]float64 `json:"gain"`
}

// DefaultCalibrationValues returns the values an uncalibrated board reports.
func DefaultCalibrationValues() CalibrationValues {
	return CalibrationValues{Gain: [3]float64{1, 1, 1}}
}

// FetchCalibration asks the board for the stored values behind the given get
// code. The output stream is silenced first so the response is not interleaved
// with raw samples; each attempt re-sends the request and waits up to the
// given duration for a well-formed frame, skipping any unrelated lines still
// in flight. On exhaustion the uncalibrated defaults are returned alongside
// ErrNoCalibrationResponse.
//
// The caller is responsible for restoring the output mode afterwards.
func FetchCalibration(ctx context.Context, mux BoardMuxInterface, code byte, retries int, wait time.Duration) (CalibrationValues, error) {
	id, ch := mux.Subscribe()
	defer mux.Unsubscribe(id)

	if retries < 1 {
		retries = 1
	}

	request := EncodeCommands(CmdPrintNothing, code)
	for attempt := 0; attempt < retries; attempt++ {
		if err := mux.SendCommand(request); err != nil {
			return DefaultCalibrationValues(), err
		}

		values, found, err := awaitCalibrationFrame(ctx, ch, wait)
		if err != nil {
			return DefaultCalibrationValues(), err
		}
		if found {
			return values, nil
		}
	}

	return DefaultCalibrationValues(), ErrNoCalibrationResponse
}

// awaitCalibrationFrame drains lines from the subscription until one decodes
// as a calibration frame or the wait expires.
func awaitCalibrationFrame(ctx context.Context, ch chan string, wait time.Duration) (CalibrationValues, bool, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return DefaultCalibrationValues(), false, ctx.Err()

		case <-timer.C:
			return DefaultCalibrationValues(), false, nil

		case line, ok := <-ch:
			if !ok {
				return DefaultCalibrationValues(), false, ErrNoCalibrationResponse
			}
			frame, found := ExtractCalibrationFrame(line)
			if !found {
				continue
			}
			_, offset, gain, err := DecodeCalibration(frame)
			if err != nil {
				continue
			}
			return CalibrationValues{Offset: offset, Gain: gain}, true, nil
		}
	}
}

// PushCalibration writes offset and gain values to the sensor addressed by the
// given set code. The firmware persists them in its key-value store.
func PushCalibration(mux BoardMuxInterface, code byte, values CalibrationValues) error {
	return mux.SendCommand(EncodeCalibration(code, values.Offset, values.Gain))
}
