package streamxfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/fjl/xferbench/transfer"
)

// Limits on trailing text read from the server.
const (
	maxDurationSize    = 1024
	maxErrorReportSize = 1024
)

// ClientConfig is the client configuration.
type ClientConfig struct {
	Addr      string // server address
	Dest      string // destination file
	ChunkSize int    // defaults to DefaultChunkSize
	Log       log.Logger
}

func (cfg ClientConfig) withDefaults() ClientConfig {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	return cfg
}

// Client downloads the file served by a stream server.
type Client struct {
	cfg ClientConfig
	log log.Logger
}

func NewClient(cfg ClientConfig) *Client {
	cfg = cfg.withDefaults()
	return &Client{cfg: cfg, log: cfg.Log.New("transport", transfer.Stream)}
}

// Fetch downloads the file into the destination. Any existing destination
// file is removed first.
//
// If the connection closes before the announced size was received, the partial
// file is kept and Fetch returns a result along with an error matching
// transfer.ErrTruncated.
func (c *Client) Fetch(ctx context.Context) (*transfer.Result, error) {
	if err := transfer.RemoveDest(c.cfg.Dest); err != nil {
		return nil, fmt.Errorf("can't remove old destination: %w", err)
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Addr)
	if errors.Is(err, syscall.ECONNREFUSED) {
		return nil, fmt.Errorf("%w: %s", transfer.ErrConnectionRefused, c.cfg.Addr)
	} else if err != nil {
		return nil, err
	}
	defer conn.Close()
	c.log.Debug("Connected", "addr", c.cfg.Addr)

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

	res, err := c.receive(conn)
	if err != nil && ctx.Err() != nil {
		return res, ctx.Err()
	}
	return res, err
}

// receive reads one response from r.
func (c *Client) receive(r io.Reader) (*transfer.Result, error) {
	var hdr [HeaderSize]byte
	n, err := io.ReadFull(r, hdr[:])
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("header read error: %w", err)
	}
	if transfer.IsError(bytes.TrimSpace(hdr[:n])) {
		rest, _ := io.ReadAll(io.LimitReader(r, maxErrorReportSize))
		text := bytes.TrimSpace(append(hdr[:n:n], rest...))
		return nil, &transfer.ServerError{Text: string(text)}
	}
	size, err := DecodeHeader(hdr[:n])
	if err != nil {
		return nil, err
	}
	c.log.Debug("Receiving file", "size", size, "dest", c.cfg.Dest)

	dest, err := transfer.CreateDest(c.cfg.Dest)
	if err != nil {
		return nil, err
	}
	defer dest.Close()

	res := &transfer.Result{Transport: transfer.Stream, Dest: c.cfg.Dest, Size: size}
	buf := make([]byte, c.cfg.ChunkSize)
	for remaining := size; remaining > 0; {
		want := int64(len(buf))
		if remaining < want {
			want = remaining
		}
		n, rerr := r.Read(buf[:want])
		if n > 0 {
			if _, err := dest.Write(buf[:n]); err != nil {
				return nil, err
			}
			remaining -= int64(n)
		}
		if rerr == io.EOF && remaining > 0 {
			res.Received, res.Digest = dest.Written(), dest.Digest()
			return res, fmt.Errorf("%w: received %d of %d bytes", transfer.ErrTruncated, dest.Written(), size)
		}
		if rerr != nil && rerr != io.EOF {
			return nil, fmt.Errorf("payload read error: %w", rerr)
		}
	}
	res.Received, res.Digest = dest.Written(), dest.Digest()

	text, err := io.ReadAll(io.LimitReader(r, maxDurationSize))
	if err != nil {
		return nil, fmt.Errorf("duration read error: %w", err)
	}
	if res.Duration, err = transfer.ParseDuration(text); err != nil {
		return nil, err
	}
	return res, nil
}
