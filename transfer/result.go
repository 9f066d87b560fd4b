package transfer

import (
	"fmt"
	"time"
)

// Result describes a completed client-side transfer.
type Result struct {
	Transport string
	Dest      string
	Size      int64 // size announced by the server (stream only, -1 otherwise)
	Received  int64 // payload bytes written to Dest
	Chunks    int   // payload datagrams received (datagram only)
	Duration  time.Duration
	Digest    [32]byte
}

// Seconds returns the duration reported by the server in seconds.
func (r *Result) Seconds() float64 {
	return r.Duration.Seconds()
}

func (r *Result) String() string {
	return fmt.Sprintf("%s transfer: %d bytes -> %s, server duration %.4fs, blake2b %x",
		r.Transport, r.Received, r.Dest, r.Seconds(), r.Digest[:8])
}
