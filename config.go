// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxystream

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	perrors "github.com/hambosto/proxy-stream/pkg/errors"
)

// EnvPrefix is the prefix of every environment variable read by NewConfig.
const EnvPrefix = "PROXY_STREAM_"

// Config is the resolved process configuration.
type Config struct {
	ListenHost string `env:"LISTEN_HOST" envDefault:""`
	ListenPort uint16 `env:"LISTEN_PORT" envDefault:"8888"`
	TargetHost string `env:"TARGET_HOST" envDefault:"127.0.0.1"`
	TargetPort uint16 `env:"TARGET_PORT" envDefault:"110"`

	// BufferSize is the size of the per-direction relay buffer.
	BufferSize int `env:"BUFFER_SIZE" envDefault:"32768"`

	// DialTimeout bounds connecting to the target. Zero leaves it to the OS.
	DialTimeout time.Duration `env:"DIAL_TIMEOUT" envDefault:"0s"`

	// HalfCloseTimeout is the idle limit for a session after one direction
	// has reached EOF. Zero waits indefinitely.
	HalfCloseTimeout time.Duration `env:"HALF_CLOSE_TIMEOUT" envDefault:"60s"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"5s"`

	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	// MetricsPort serves /metrics and health endpoints. Zero disables it.
	MetricsPort uint16 `env:"METRICS_PORT" envDefault:"0"`
}

// NewConfig parses the configuration from the environment.
func NewConfig(opts env.Options) (Config, error) {
	c := Config{}
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return Config{}, err
	}

	return c, nil
}

// Validate checks that the configuration can drive the proxy.
func (c Config) Validate() error {
	if c.ListenPort == 0 {
		return fmt.Errorf("%w: listen port must be in 1-65535", perrors.ErrInvalidConfig)
	}
	if c.TargetPort == 0 {
		return fmt.Errorf("%w: target port must be in 1-65535", perrors.ErrInvalidConfig)
	}
	if c.TargetHost == "" {
		return fmt.Errorf("%w: target host is empty", perrors.ErrInvalidConfig)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("%w: buffer size must be positive", perrors.ErrInvalidConfig)
	}
	if c.DialTimeout < 0 || c.HalfCloseTimeout < 0 || c.ShutdownTimeout < 0 {
		return fmt.Errorf("%w: timeouts must not be negative", perrors.ErrInvalidConfig)
	}

	return nil
}

// ListenAddress returns the host:port the proxy binds.
func (c Config) ListenAddress() string {
	return net.JoinHostPort(c.ListenHost, strconv.Itoa(int(c.ListenPort)))
}

// TargetAddress returns the host:port every session connects to.
func (c Config) TargetAddress() string {
	return net.JoinHostPort(c.TargetHost, strconv.Itoa(int(c.TargetPort)))
}
