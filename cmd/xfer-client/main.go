// Command xfer-client downloads the file served by xfer-server over TCP or UDP
// and prints the transmission time measured by the server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	ethlog "github.com/ethereum/go-ethereum/log"
	"github.com/fjl/xferbench/config"
	"github.com/fjl/xferbench/dgramxfer"
	"github.com/fjl/xferbench/streamxfer"
)

func main() {
	var (
		configFlag    = flag.String("config", "", "YAML configuration file")
		verbosityFlag = flag.String("verbosity", "", "log level: trace, debug, info, warn, error")
	)
	flag.Parse()

	cfg := config.Default()
	if *configFlag != "" {
		var err error
		if cfg, err = config.Load(*configFlag); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	if *verbosityFlag != "" {
		cfg.Verbosity = *verbosityFlag
	}
	lvl, err := ethlog.LvlFromString(cfg.Verbosity)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid verbosity %q\n", cfg.Verbosity)
		os.Exit(1)
	}
	h := ethlog.LvlFilterHandler(lvl, ethlog.StreamHandler(os.Stderr, ethlog.TerminalFormat(true)))
	ethlog.Root().SetHandler(h)

	stream := streamxfer.NewClient(streamxfer.ClientConfig{
		Addr:      cfg.StreamAddr(),
		Dest:      cfg.StreamDest,
		ChunkSize: cfg.ChunkSize,
	})
	datagram := dgramxfer.NewClient(dgramxfer.ClientConfig{
		Addr:        cfg.DatagramAddr(),
		Dest:        cfg.DatagramDest,
		ReadTimeout: cfg.ReadTimeout.Duration,
	})
	newMenu(os.Stdin, os.Stdout, stream, datagram).run(context.Background())
}
