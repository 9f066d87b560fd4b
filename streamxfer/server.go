// Package streamxfer implements file transfer over a reliable stream transport.
//
// The server writes a 16-byte size header, then the raw file content, then the
// measured send duration as decimal seconds, and closes the connection. If the
// file does not exist, the whole response is transfer.FileNotFoundMessage.
package streamxfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/ethereum/go-ethereum/log"
	"github.com/fjl/xferbench/transfer"
	"github.com/google/uuid"
)

// DefaultChunkSize is the buffer size used for reading and writing payload.
const DefaultChunkSize = 4096

var errServerClosed = errors.New("server closed")

// Config is the server configuration.
type Config struct {
	Source    transfer.Source
	ChunkSize int               // payload buffer size, defaults to DefaultChunkSize
	Clock     mclock.Clock      // clock for send duration, defaults to system clock
	Metrics   *transfer.Metrics // optional
	Log       log.Logger        // defaults to the root logger
}

func (cfg Config) withDefaults() Config {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Clock == nil {
		cfg.Clock = mclock.System{}
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	return cfg
}

// Server serves the configured file on a stream listener. Connections are
// handled one at a time, in the order they are accepted.
type Server struct {
	cfg Config
	log log.Logger

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

func NewServer(cfg Config) *Server {
	cfg = cfg.withDefaults()
	return &Server{cfg: cfg, log: cfg.Log.New("transport", transfer.Stream)}
}

// Listen binds the TCP listener.
func (s *Server) Listen(ctx context.Context, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errServerClosed
	}
	if s.listener != nil {
		return fmt.Errorf("already listening on %v", s.listener.Addr())
	}
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = l
	s.log.Info("Stream server listening", "addr", l.Addr(), "file", s.cfg.Source)
	return nil
}

// Addr returns the listener address, or nil if the server is not listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve runs the accept loop. It returns nil after Close.
func (s *Server) Serve() error {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return errors.New("server not listening, call Listen first")
	}

	for {
		conn, err := l.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("Accept failed", "err", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		s.handleConn(conn)
	}
}

// Close stops the accept loop. A transfer in progress is finished first.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	clog := s.log.New("xfer", uuid.NewString()[:8], "remote", conn.RemoteAddr())
	clog.Debug("Connection accepted")

	sent, d, err := s.serveFile(conn, clog)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.cfg.Metrics.Served(transfer.Stream, transfer.OutcomeNotFound, 0, 0)
	case err != nil:
		clog.Error("Stream transfer failed", "sent", sent, "err", err)
		s.cfg.Metrics.Served(transfer.Stream, transfer.OutcomeError, sent, 0)
	default:
		clog.Info("Stream transfer complete", "bytes", sent, "duration", d)
		s.cfg.Metrics.Served(transfer.Stream, transfer.OutcomeOK, sent, d)
	}
}

// serveFile writes one complete response to w and returns the number of
// payload bytes sent and the measured send duration.
func (s *Server) serveFile(w io.Writer, clog log.Logger) (sent int64, d time.Duration, err error) {
	f, size, err := s.cfg.Source.Open()
	if errors.Is(err, fs.ErrNotExist) {
		clog.Warn("File not found", "file", s.cfg.Source)
		if _, werr := io.WriteString(w, transfer.FileNotFoundMessage); werr != nil {
			clog.Debug("Could not send error message", "err", werr)
		}
		return 0, 0, err
	} else if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	hdr, err := EncodeHeader(size)
	if err != nil {
		return 0, 0, err
	}
	if _, err := w.Write(hdr[:]); err != nil {
		return 0, 0, fmt.Errorf("header send error: %w", err)
	}
	clog.Debug("Sending file", "file", s.cfg.Source, "size", size)

	buf := make([]byte, s.cfg.ChunkSize)
	start := s.cfg.Clock.Now()
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return sent, 0, fmt.Errorf("send error: %w", err)
			}
			sent += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return sent, 0, fmt.Errorf("read error: %w", rerr)
		}
	}
	d = s.cfg.Clock.Now().Sub(start)

	if sent != size {
		clog.Warn("File size changed during transfer", "announced", size, "sent", sent)
	}
	if _, err := w.Write(transfer.FormatDuration(d)); err != nil {
		return sent, d, fmt.Errorf("duration send error: %w", err)
	}
	return sent, d, nil
}
