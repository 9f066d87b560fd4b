// Package host runs the stream and datagram transfer servers side by side.
package host

import (
	"context"
	"errors"
	"sync"

	ethlog "github.com/ethereum/go-ethereum/log"
	"github.com/fjl/xferbench/config"
	"github.com/fjl/xferbench/dgramxfer"
	"github.com/fjl/xferbench/streamxfer"
	"github.com/fjl/xferbench/transfer"
)

// Config is the configuration of Host.
type Config struct {
	StreamAddr   string
	DatagramAddr string
	Source       transfer.Source
	ChunkSize    int
	Metrics      *transfer.Metrics
	Log          ethlog.Logger
}

// ConfigForTesting listens on random loopback ports.
var ConfigForTesting = Config{
	StreamAddr:   "127.0.0.1:0",
	DatagramAddr: "127.0.0.1:0",
}

// FromConfig creates a host configuration from the server settings in cfg.
func FromConfig(cfg config.Config) Config {
	return Config{
		StreamAddr:   cfg.StreamAddr(),
		DatagramAddr: cfg.DatagramAddr(),
		Source:       transfer.FileSource(cfg.SourceFile),
		ChunkSize:    cfg.ChunkSize,
	}
}

// Host owns both transfer servers. Each server runs its loop in its own
// goroutine, and the two share nothing but the read-only source file.
type Host struct {
	Stream   *streamxfer.Server
	Datagram *dgramxfer.Server

	wg sync.WaitGroup
}

// Listen binds both servers and starts serving.
func Listen(ctx context.Context, cfg Config) (*Host, error) {
	if cfg.Log == nil {
		cfg.Log = ethlog.Root()
	}
	h := &Host{
		Stream: streamxfer.NewServer(streamxfer.Config{
			Source:    cfg.Source,
			ChunkSize: cfg.ChunkSize,
			Metrics:   cfg.Metrics,
			Log:       cfg.Log,
		}),
		Datagram: dgramxfer.NewServer(dgramxfer.Config{
			Source:  cfg.Source,
			Metrics: cfg.Metrics,
			Log:     cfg.Log,
		}),
	}
	if err := h.Stream.Listen(ctx, cfg.StreamAddr); err != nil {
		return nil, err
	}
	if err := h.Datagram.Listen(cfg.DatagramAddr); err != nil {
		h.Stream.Close()
		return nil, err
	}

	h.wg.Add(2)
	go h.run(h.Stream.Serve, transfer.Stream, cfg.Log)
	go h.run(h.Datagram.Serve, transfer.Datagram, cfg.Log)
	return h, nil
}

func (h *Host) run(serve func() error, transport string, log ethlog.Logger) {
	defer h.wg.Done()
	if err := serve(); err != nil {
		log.Error("Server loop failed", "transport", transport, "err", err)
	}
}

// Close stops both servers and waits for their loops to exit.
func (h *Host) Close() error {
	err := errors.Join(h.Stream.Close(), h.Datagram.Close())
	h.wg.Wait()
	return err
}
