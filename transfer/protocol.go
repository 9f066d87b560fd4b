// Package transfer contains the protocol vocabulary shared by the stream and
// datagram file transfer protocols.
package transfer

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Wire markers.
const (
	// ErrorPrefix starts every error message sent by a server.
	ErrorPrefix = "ERRO"

	// FileNotFoundMessage is sent instead of the file when the source is absent.
	FileNotFoundMessage = "ERRO: ARQUIVO NAO ENCONTRADO"

	// StartMessage is the datagram which triggers a datagram transfer.
	StartMessage = "START"

	// EOFMarker is the datagram body which terminates a datagram transfer.
	EOFMarker = "<EOF>"
)

// Transport names, used in logs and metric labels.
const (
	Stream   = "stream"
	Datagram = "datagram"
)

// IsError reports whether a message received from the server is an error report.
func IsError(msg []byte) bool {
	return bytes.HasPrefix(msg, []byte(ErrorPrefix))
}

// IsEOF reports whether a datagram is the end-of-file sentinel.
func IsEOF(msg []byte) bool {
	return string(msg) == EOFMarker
}

// FormatDuration encodes a duration report as decimal seconds.
func FormatDuration(d time.Duration) []byte {
	if d < 0 {
		d = 0
	}
	return strconv.AppendFloat(nil, d.Seconds(), 'f', -1, 64)
}

// Reports at or above maxDurationSeconds overflow time.Duration.
var maxDurationSeconds = float64(math.MaxInt64) / float64(time.Second)

// ParseDuration decodes a duration report.
func ParseDuration(b []byte) (time.Duration, error) {
	text := strings.TrimSpace(string(b))
	secs, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(secs) || secs < 0 || secs >= maxDurationSeconds {
		return 0, fmt.Errorf("%w: %q", ErrMalformedDuration, text)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
