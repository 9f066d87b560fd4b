// Command xfer-server serves one file over TCP and UDP and reports the measured
// send duration to each client.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ethlog "github.com/ethereum/go-ethereum/log"
	"github.com/fjl/xferbench/config"
	"github.com/fjl/xferbench/host"
	"github.com/fjl/xferbench/transfer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	var (
		configFlag    = flag.String("config", "", "YAML configuration file")
		fileFlag      = flag.String("file", "", "file to serve (overrides config)")
		metricsFlag   = flag.String("metrics", "", "metrics listen address (overrides config)")
		verbosityFlag = flag.String("verbosity", "", "log level: trace, debug, info, warn, error")
	)
	flag.Parse()

	cfg := config.Default()
	if *configFlag != "" {
		var err error
		if cfg, err = config.Load(*configFlag); err != nil {
			fatalf("%v", err)
		}
	}
	if *fileFlag != "" {
		cfg.SourceFile = *fileFlag
	}
	if *metricsFlag != "" {
		cfg.MetricsAddr = *metricsFlag
	}
	if *verbosityFlag != "" {
		cfg.Verbosity = *verbosityFlag
	}
	setupLogging(cfg.Verbosity)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hostcfg := host.FromConfig(cfg)
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		hostcfg.Metrics = transfer.NewMetrics(reg)
		go serveMetrics(cfg.MetricsAddr, reg)
	}
	if _, err := os.Stat(cfg.SourceFile); err != nil {
		ethlog.Warn("Source file is not accessible, clients will receive an error", "file", cfg.SourceFile, "err", err)
	}

	h, err := host.Listen(ctx, hostcfg)
	if err != nil {
		fatalf("can't listen: %v", err)
	}
	fmt.Println("TCP and UDP servers started, press Ctrl+C to exit.")

	<-ctx.Done()
	ethlog.Info("Shutting down")
	if err := h.Close(); err != nil {
		ethlog.Error("Shutdown error", "err", err)
	}
}

func setupLogging(verbosity string) {
	lvl, err := ethlog.LvlFromString(verbosity)
	if err != nil {
		fatalf("invalid verbosity %q", verbosity)
	}
	h := ethlog.LvlFilterHandler(lvl, ethlog.StreamHandler(os.Stderr, ethlog.TerminalFormat(true)))
	ethlog.Root().SetHandler(h)
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	ethlog.Info("Serving metrics", "addr", addr)
	err := http.ListenAndServe(addr, mux)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		ethlog.Error("Metrics server failed", "err", err)
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "xfer-server: "+format+"\n", args...)
	os.Exit(1)
}
