package streamxfer

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/fjl/xferbench/transfer"
)

// HeaderSize is the length of the size header which precedes the payload.
const HeaderSize = 16

// EncodeHeader renders size as a left-justified, space-padded decimal header.
func EncodeHeader(size int64) ([HeaderSize]byte, error) {
	var hdr [HeaderSize]byte
	if size < 0 {
		return hdr, fmt.Errorf("%w: negative size %d", transfer.ErrMalformedHeader, size)
	}
	digits := strconv.AppendInt(nil, size, 10)
	if len(digits) > HeaderSize {
		return hdr, fmt.Errorf("%w: %d", transfer.ErrHeaderOverflow, size)
	}
	n := copy(hdr[:], digits)
	for i := n; i < HeaderSize; i++ {
		hdr[i] = ' '
	}
	return hdr, nil
}

// DecodeHeader parses a size header. The input may be shorter than HeaderSize
// when the server closed the connection early.
func DecodeHeader(b []byte) (int64, error) {
	text := bytes.TrimSpace(b)
	switch {
	case len(text) == 0:
		return 0, transfer.ErrNoHeader
	case transfer.IsError(text):
		return 0, &transfer.ServerError{Text: string(text)}
	}
	size, err := strconv.ParseInt(string(text), 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("%w: %q", transfer.ErrMalformedHeader, text)
	}
	return size, nil
}
