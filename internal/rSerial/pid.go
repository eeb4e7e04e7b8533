package rserial

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"sleepywoodpecker/carmonitor/internal/telemetry"
)

type pid struct {
	code   string
	size   int
	decode func(data []byte) float64
}

func percent(data []byte) float64 {
	return float64(data[0]) * 100 / 255
}

var pids = map[telemetry.Signal]pid{
	telemetry.SignalEngineLoad: {code: "04", size: 1, decode: percent},
	telemetry.SignalRPM: {code: "0C", size: 2, decode: func(data []byte) float64 {
		return float64(int(data[0])<<8|int(data[1])) / 4
	}},
	telemetry.SignalSpeed: {code: "0D", size: 1, decode: func(data []byte) float64 {
		return float64(data[0])
	}},
	telemetry.SignalThrottle: {code: "11", size: 1, decode: percent},
}

// adapter replies that carry no value
var errorReplies = []string{
	"NODATA", "?", "UNABLETOCONNECT", "STOPPED", "CANERROR",
	"BUSERROR", "BUSBUSY", "BUSINIT:...ERROR", "DATAERROR", "FBERROR",
}

var ErrNoData = errors.New("no data")

// parseResponse extracts size data bytes from a mode 01 reply for pid.
// Replies from several ECUs arrive one per line; the first match wins.
func parseResponse(pid string, size int, resp []byte) ([]byte, error) {
	header := []byte("41" + pid)
	var unexpected []byte

	lines := bytes.FieldsFunc(resp, func(c rune) bool { return c == '\r' || c == '\n' })
	for _, line := range lines {
		line = bytes.ToUpper(bytes.ReplaceAll(line, []byte(" "), nil))
		if len(line) == 0 || bytes.HasPrefix(line, []byte("SEARCHING")) {
			continue
		}
		for _, reply := range errorReplies {
			if bytes.Equal(line, []byte(reply)) {
				return nil, fmt.Errorf("%w: %s", ErrNoData, reply)
			}
		}
		if !bytes.HasPrefix(line, header) {
			unexpected = line
			continue
		}

		payload := line[len(header):]
		if len(payload) < 2*size {
			return nil, &OutOfSyncError{ByteSequence: append([]byte{}, line...)}
		}
		data := make([]byte, size)
		if _, err := hex.Decode(data, payload[:2*size]); err != nil {
			return nil, fmt.Errorf("decoding %q: %w", line, err)
		}
		return data, nil
	}

	if unexpected != nil {
		return nil, &OutOfSyncError{ByteSequence: append([]byte{}, unexpected...)}
	}
	return nil, ErrNoData
}
