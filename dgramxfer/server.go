// Package dgramxfer implements file transfer over an unreliable datagram transport.
//
// A client requests the file by sending a START datagram. The server answers with
// the file content split into datagrams of at most MaxChunkSize bytes, followed by an
// <EOF> datagram and a datagram containing the measured send duration in seconds.
// If the file does not exist, the server sends a single error datagram instead.
//
// Datagrams carry no sequence numbers and are never acknowledged or retransmitted.
// Lost or reordered datagrams corrupt the received file. A payload chunk whose
// content happens to equal the sentinel or begin with the error prefix is
// misinterpreted by the client.
package dgramxfer

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/ethereum/go-ethereum/log"
	"github.com/fjl/xferbench/transfer"
	"github.com/google/uuid"
)

// MaxChunkSize is the maximum payload carried by a single datagram.
const MaxChunkSize = 1400

var errServerClosed = errors.New("server closed")

// Config is the server configuration.
type Config struct {
	Source  transfer.Source
	Clock   mclock.Clock      // clock for send duration, defaults to system clock
	Metrics *transfer.Metrics // optional
	Log     log.Logger        // defaults to the root logger
}

func (cfg Config) withDefaults() Config {
	if cfg.Clock == nil {
		cfg.Clock = mclock.System{}
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	return cfg
}

// packetWriter is the sending side of net.PacketConn.
type packetWriter interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
}

// Server answers transfer requests on a UDP socket.
// Requests are processed one at a time.
type Server struct {
	cfg Config
	log log.Logger

	mu     sync.Mutex
	conn   net.PacketConn
	closed bool
}

func NewServer(cfg Config) *Server {
	cfg = cfg.withDefaults()
	return &Server{cfg: cfg, log: cfg.Log.New("transport", transfer.Datagram)}
}

// Listen binds the UDP socket.
func (s *Server) Listen(addr string) error {
	if s.isClosed() {
		return errServerClosed
	}
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if err := s.useConn(conn); err != nil {
		conn.Close()
		return err
	}
	return nil
}

// useConn sets the socket served by Serve.
func (s *Server) useConn(conn net.PacketConn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errServerClosed
	}
	if s.conn != nil {
		return fmt.Errorf("already listening on %v", s.conn.LocalAddr())
	}
	s.conn = conn
	s.log.Info("Datagram server listening", "addr", conn.LocalAddr(), "file", s.cfg.Source)
	return nil
}

// Addr returns the socket address, or nil if the server is not listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Close stops the receive loop and closes the socket.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Serve runs the receive loop. It returns nil after Close.
func (s *Server) Serve() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errors.New("server not listening, call Listen first")
	}

	buf := make([]byte, MaxChunkSize)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			switch {
			case s.isClosed() || errors.Is(err, net.ErrClosed):
				return nil
			case errors.Is(err, syscall.ECONNRESET):
				// Reported on some platforms when a previous requester went away.
				s.log.Debug("Connection reset while waiting for request", "err", err)
			default:
				// Nothing can be done about other errors here. Sleep a bit
				// to avoid a busy loop.
				s.log.Warn("Read error", "err", err)
				time.Sleep(100 * time.Millisecond)
			}
			continue
		}
		if string(buf[:n]) != transfer.StartMessage {
			s.log.Trace("Ignoring datagram", "from", addr, "size", n)
			continue
		}
		s.handleRequest(conn, addr)
	}
}

func (s *Server) handleRequest(w packetWriter, from net.Addr) {
	clog := s.log.New("xfer", uuid.NewString()[:8], "remote", from)
	clog.Debug("Transfer requested")

	sent, chunks, d, err := s.sendFile(w, from, clog)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.cfg.Metrics.Served(transfer.Datagram, transfer.OutcomeNotFound, 0, 0)
	case err != nil:
		clog.Error("Datagram transfer failed", "sent", sent, "chunks", chunks, "err", err)
		s.cfg.Metrics.Served(transfer.Datagram, transfer.OutcomeError, sent, 0)
	default:
		clog.Info("Datagram transfer complete", "bytes", sent, "chunks", chunks, "duration", d)
		s.cfg.Metrics.Served(transfer.Datagram, transfer.OutcomeOK, sent, d)
	}
}

// sendFile sends the source file to addr. The measured duration covers all
// payload datagrams and the EOF sentinel.
func (s *Server) sendFile(w packetWriter, to net.Addr, clog log.Logger) (sent int64, chunks int, d time.Duration, err error) {
	f, size, err := s.cfg.Source.Open()
	if errors.Is(err, fs.ErrNotExist) {
		clog.Warn("File not found", "file", s.cfg.Source)
		if _, werr := w.WriteTo([]byte(transfer.FileNotFoundMessage), to); werr != nil {
			clog.Debug("Could not send error message", "err", werr)
		}
		return 0, 0, 0, err
	} else if err != nil {
		return 0, 0, 0, err
	}
	defer f.Close()
	clog.Debug("Sending file", "file", s.cfg.Source, "size", size)

	buf := make([]byte, MaxChunkSize)
	start := s.cfg.Clock.Now()
	for {
		n, rerr := io.ReadFull(f, buf)
		if n > 0 {
			if _, err := w.WriteTo(buf[:n], to); err != nil {
				return sent, chunks, 0, fmt.Errorf("send error: %w", err)
			}
			sent += int64(n)
			chunks++
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return sent, chunks, 0, fmt.Errorf("read error: %w", rerr)
		}
	}
	if _, err := w.WriteTo([]byte(transfer.EOFMarker), to); err != nil {
		return sent, chunks, 0, fmt.Errorf("sentinel send error: %w", err)
	}
	d = s.cfg.Clock.Now().Sub(start)

	if _, err := w.WriteTo(transfer.FormatDuration(d), to); err != nil {
		return sent, chunks, d, fmt.Errorf("duration send error: %w", err)
	}
	return sent, chunks, d, nil
}
