package dgramxfer

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/fjl/xferbench/transfer"
)

const (
	recvBufferSize  = MaxChunkSize + 50
	maxDurationSize = 1024
	socketReadBuf   = 4 << 20
)

// ClientConfig is the client configuration.
type ClientConfig struct {
	Addr string // server address
	Dest string // destination file

	// ReadTimeout bounds each receive. Zero means wait forever, which leaves the
	// client hanging if the sentinel or duration datagram is lost.
	ReadTimeout time.Duration

	Log log.Logger
}

func (cfg ClientConfig) withDefaults() ClientConfig {
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	return cfg
}

// Client downloads the file served by a datagram server.
type Client struct {
	cfg ClientConfig
	log log.Logger
}

func NewClient(cfg ClientConfig) *Client {
	cfg = cfg.withDefaults()
	return &Client{cfg: cfg, log: cfg.Log.New("transport", transfer.Datagram)}
}

// Fetch requests the file and writes the received chunks into the destination.
// Any existing destination file is removed first.
func (c *Client) Fetch(ctx context.Context) (*transfer.Result, error) {
	if err := transfer.RemoveDest(c.cfg.Dest); err != nil {
		return nil, fmt.Errorf("can't remove old destination: %w", err)
	}
	raddr, err := net.ResolveUDPAddr("udp", c.cfg.Addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if err := conn.SetReadBuffer(socketReadBuf); err != nil {
		c.log.Debug("Could not resize socket buffer", "err", err)
	}

	// Unblock reads when the context is canceled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	res, err := c.receive(conn, raddr)
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return res, err
}

func (c *Client) receive(conn net.PacketConn, server net.Addr) (*transfer.Result, error) {
	c.log.Debug("Requesting file", "addr", server)
	if _, err := conn.WriteTo([]byte(transfer.StartMessage), server); err != nil {
		return nil, fmt.Errorf("request send error: %w", err)
	}

	dest, err := transfer.CreateDest(c.cfg.Dest)
	if err != nil {
		return nil, err
	}
	defer dest.Close()

	res := &transfer.Result{Transport: transfer.Datagram, Dest: c.cfg.Dest, Size: -1}
	buf := make([]byte, recvBufferSize)
	for {
		n, err := c.read(conn, buf)
		if err != nil {
			return nil, fmt.Errorf("receive error after %d chunks: %w", res.Chunks, err)
		}
		msg := buf[:n]
		if transfer.IsError(msg) {
			return nil, &transfer.ServerError{Text: string(msg)}
		}
		if transfer.IsEOF(msg) {
			break
		}
		if _, err := dest.Write(msg); err != nil {
			return nil, err
		}
		res.Chunks++
	}
	res.Received, res.Digest = dest.Written(), dest.Digest()

	n, err := c.read(conn, buf[:maxDurationSize])
	if err != nil {
		return nil, fmt.Errorf("duration receive error: %w", err)
	}
	if res.Duration, err = transfer.ParseDuration(buf[:n]); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) read(conn net.PacketConn, buf []byte) (int, error) {
	if c.cfg.ReadTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	}
	n, _, err := conn.ReadFrom(buf)
	return n, err
}
