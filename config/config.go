// Package config holds the configuration shared by the transfer server and client.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the configuration of both transfer roles.
type Config struct {
	Host         string `yaml:"host"`
	StreamPort   int    `yaml:"stream_port"`
	DatagramPort int    `yaml:"datagram_port"`

	// Server side.
	SourceFile  string `yaml:"source_file"`
	ChunkSize   int    `yaml:"chunk_size"`   // stream payload buffer size
	MetricsAddr string `yaml:"metrics_addr"` // empty disables the metrics endpoint

	// Client side.
	StreamDest   string   `yaml:"stream_dest"`
	DatagramDest string   `yaml:"datagram_dest"`
	ReadTimeout  Duration `yaml:"read_timeout"` // datagram receive timeout, zero waits forever

	Verbosity string `yaml:"verbosity"`
}

// Defaults.
const (
	DefaultHost         = "127.0.0.1"
	DefaultStreamPort   = 9998
	DefaultDatagramPort = 9999
	DefaultSourceFile   = "file_example_MP4_1920_18MG.mp4"
	DefaultStreamDest   = "recebido_tcp.mp4"
	DefaultDatagramDest = "recebido_udp.mp4"
	DefaultChunkSize    = 4096
	DefaultVerbosity    = "info"
)

// Default returns the default configuration.
func Default() Config {
	return Config{}.WithDefaults()
}

// WithDefaults fills in unset fields.
func (cfg Config) WithDefaults() Config {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.StreamPort == 0 {
		cfg.StreamPort = DefaultStreamPort
	}
	if cfg.DatagramPort == 0 {
		cfg.DatagramPort = DefaultDatagramPort
	}
	if cfg.SourceFile == "" {
		cfg.SourceFile = DefaultSourceFile
	}
	if cfg.StreamDest == "" {
		cfg.StreamDest = DefaultStreamDest
	}
	if cfg.DatagramDest == "" {
		cfg.DatagramDest = DefaultDatagramDest
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Verbosity == "" {
		cfg.Verbosity = DefaultVerbosity
	}
	return cfg
}

// Validate checks the configuration for errors.
func (cfg Config) Validate() error {
	for _, p := range []struct {
		name string
		port int
	}{{"stream_port", cfg.StreamPort}, {"datagram_port", cfg.DatagramPort}} {
		if p.port < 0 || p.port > 65535 {
			return fmt.Errorf("invalid %s %d", p.name, p.port)
		}
	}
	if cfg.ReadTimeout.Duration < 0 {
		return fmt.Errorf("invalid read_timeout %v", cfg.ReadTimeout)
	}
	return nil
}

// StreamAddr is the stream server endpoint.
func (cfg Config) StreamAddr() string {
	return net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.StreamPort))
}

// DatagramAddr is the datagram server endpoint.
func (cfg Config) DatagramAddr() string {
	return net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.DatagramPort))
}

// Duration is a time.Duration written as a string in YAML, e.g. "1.5s".
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dd, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = dd
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Load reads a YAML configuration file. Unset fields take default values.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}
