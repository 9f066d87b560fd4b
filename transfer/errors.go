package transfer

import (
	"errors"
	"strings"
)

var (
	ErrConnectionRefused = errors.New("connection refused by server")
	ErrNoHeader          = errors.New("no size header received")
	ErrMalformedHeader   = errors.New("malformed size header")
	ErrHeaderOverflow    = errors.New("file size does not fit size header")
	ErrMalformedDuration = errors.New("malformed duration report")
	ErrTruncated         = errors.New("connection closed before end of file")
)

// ServerError is an error message sent by the server.
type ServerError struct {
	Text string
}

func (e *ServerError) Error() string { return "server error: " + e.Text }

// NotFound reports whether the server could not find the requested file.
func (e *ServerError) NotFound() bool {
	return strings.HasPrefix(e.Text, FileNotFoundMessage)
}

// IsNotFound reports whether err is a file-not-found report from the server.
func IsNotFound(err error) bool {
	var e *ServerError
	return errors.As(err, &e) && e.NotFound()
}
