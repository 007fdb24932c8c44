// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ycbt

import (
	"time"

	"go.uber.org/zap"
)

// UnsolicitedHandler receives frames that no in-flight request claimed:
// real-time data, device initiated events and, with strict correlation,
// responses for a different command type.
type UnsolicitedHandler func(f *Frame, o Outcome)

// FrameObserver sees every decoded frame before routing, along with any
// checksum error. Used for logging and capture.
type FrameObserver func(f *Frame, err error)

// Config holds the client configuration
type Config struct {
	// Logger receives engine logs (default no-op)
	Logger *zap.Logger

	// Timeout is how long the in-flight request waits for a response
	Timeout time.Duration

	// SettleDelay is the pause between a completion and the next write
	SettleDelay time.Duration

	// MaxRetries is the number of re-sends after the first timeout
	MaxRetries int

	// StrictChecksum drops frames whose trailer does not match
	StrictChecksum bool

	// StrictCorrelation only resolves the in-flight request with a frame
	// of the same command type
	StrictCorrelation bool

	// Bootstrap supplies the first request after notifications are enabled
	Bootstrap BootstrapFunc

	// FireAndForget lists command types that complete on write success
	FireAndForget map[CommandType]bool

	// Unsolicited receives frames not matched to a request (optional)
	Unsolicited UnsolicitedHandler

	// Observer sees every decoded frame (optional)
	Observer FrameObserver
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		Logger:        zap.NewNop(),
		Timeout:       DefaultTimeout,
		SettleDelay:   DefaultSettleDelay,
		MaxRetries:    DefaultMaxRetries,
		FireAndForget: map[CommandType]bool{},
	}
}

// Option is a functional option for configuring the Client.
type Option func(*Config)

// WithLogger sets the logger for engine events.
//
// Example:
//
//	client := ycbt.New(transport, ycbt.WithLogger(logger.Named("ycbt")))
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// WithTimeout sets the per-attempt response timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.Timeout = timeout
		}
	}
}

// WithSettleDelay sets the delay between a completion and the next write.
// Zero advances immediately.
func WithSettleDelay(delay time.Duration) Option {
	return func(c *Config) {
		if delay >= 0 {
			c.SettleDelay = delay
		}
	}
}

// WithMaxRetries sets the number of re-sends before a request fails.
//
// Example:
//
//	client := ycbt.New(transport, ycbt.WithMaxRetries(1))
func WithMaxRetries(retries int) Option {
	return func(c *Config) {
		if retries >= 0 {
			c.MaxRetries = retries
		}
	}
}

// WithStrictChecksum drops frames that fail checksum validation instead of
// delivering them.
func WithStrictChecksum(strict bool) Option {
	return func(c *Config) {
		c.StrictChecksum = strict
	}
}

// WithStrictCorrelation requires a response to carry the in-flight
// request's command type. Other frames go to the unsolicited handler.
func WithStrictCorrelation(strict bool) Option {
	return func(c *Config) {
		c.StrictCorrelation = strict
	}
}

// WithBootstrap registers the hook run when notifications become ready.
//
// Example:
//
//	client := ycbt.New(transport, ycbt.WithBootstrap(ycbt.TimeSyncBootstrap(time.Now)))
func WithBootstrap(fn BootstrapFunc) Option {
	return func(c *Config) {
		c.Bootstrap = fn
	}
}

// WithFireAndForget marks command types whose requests complete as soon as
// the write succeeds.
func WithFireAndForget(types ...CommandType) Option {
	return func(c *Config) {
		for _, ct := range types {
			c.FireAndForget[ct] = true
		}
	}
}

// WithUnsolicitedHandler sets the handler for unclaimed frames.
func WithUnsolicitedHandler(h UnsolicitedHandler) Option {
	return func(c *Config) {
		c.Unsolicited = h
	}
}

// WithFrameObserver sets a hook that sees every decoded frame.
func WithFrameObserver(fn FrameObserver) Option {
	return func(c *Config) {
		c.Observer = fn
	}
}
