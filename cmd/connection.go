// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"

	"github.com/Thermoquad/annulus/internal/config"
	"github.com/Thermoquad/annulus/internal/metrics"
	"github.com/Thermoquad/annulus/pkg/capture"
	"github.com/Thermoquad/annulus/pkg/transport"
	"github.com/Thermoquad/annulus/pkg/ycbt"
)

// connectTimeout bounds scan, connect and GATT discovery
const connectTimeout = 30 * time.Second

// OpenLink creates the link selected by the link config
func OpenLink(lc config.LinkConfig, log *zap.Logger) (transport.Link, error) {
	switch {
	case lc.Loopback:
		return transport.NewLoopback(lc.MTU, transport.SimulatedRing(transport.ChunkSize(lc.MTU))), nil

	case lc.URL != "":
		password := ""
		if lc.Username != "" {
			var err error
			password, err = transport.GetPassword()
			if err != nil {
				return nil, err
			}
		}
		return transport.NewWebSocketBridge(transport.WebSocketOptions{
			URL:           lc.URL,
			Username:      lc.Username,
			Password:      password,
			SkipSSLVerify: lc.NoSSLVerify,
			MTU:           lc.MTU,
			Logger:        log,
		})

	case lc.Port != "":
		return transport.OpenSerialBridge(lc.Port, lc.Baud, lc.MTU, log)

	case lc.BLE != "":
		return transport.NewBLE(bluetooth.DefaultAdapter, lc.BLE, lc.MTU, log), nil
	}

	return nil, fmt.Errorf("one of --ble, --port, --url or --loopback must be specified")
}

// openLink is swapped out by tests
var openLink = OpenLink

// session is a connected client and its link
type session struct {
	client *ycbt.Client
	link   transport.Link
	frames *metrics.FrameMetrics

	captureFile *os.File
	metricsSrv  *http.Server
}

type sessionOptions struct {
	capturePath string
	observer    ycbt.FrameObserver
	unsolicited ycbt.UnsolicitedHandler
	listener    ycbt.StateListener
	wait        bool
}

// openSession builds a client over the configured link and starts it. With
// opts.wait it blocks until the ring is fully operational.
func openSession(ctx context.Context, opts sessionOptions) (*session, error) {
	link, err := openLink(cfg.Link, logger)
	if err != nil {
		return nil, err
	}

	s := &session{link: link}

	if opts.capturePath != "" {
		f, err := os.Create(opts.capturePath)
		if err != nil {
			link.Close()
			return nil, fmt.Errorf("failed to create capture file: %w", err)
		}
		s.captureFile = f
		s.link = capture.NewRecorder(link, capture.NewWriter(f), logger)
	}

	reg := metrics.NewRegistry()
	if cfg.Metrics.Addr != "" {
		s.frames = metrics.NewFrameMetrics(reg)
	}

	clientOpts := []ycbt.Option{
		ycbt.WithLogger(logger.Named("ycbt")),
		ycbt.WithTimeout(cfg.Protocol.Timeout),
		ycbt.WithSettleDelay(cfg.Protocol.SettleDelay),
		ycbt.WithMaxRetries(cfg.Protocol.MaxRetries),
		ycbt.WithStrictChecksum(cfg.Protocol.StrictChecksum),
		ycbt.WithStrictCorrelation(cfg.Protocol.StrictCorrelation),
		ycbt.WithFrameObserver(s.observe(opts.observer)),
	}
	if cfg.Protocol.SyncTimeOnConnect {
		clientOpts = append(clientOpts, ycbt.WithBootstrap(ycbt.TimeSyncBootstrap(time.Now)))
	}
	if opts.unsolicited != nil {
		clientOpts = append(clientOpts, ycbt.WithUnsolicitedHandler(opts.unsolicited))
	}
	s.client = ycbt.New(s.link, clientOpts...)
	if opts.listener != nil {
		s.client.OnConnectionStateChange(opts.listener)
	}

	if cfg.Metrics.Addr != "" {
		reg.MustRegister(metrics.NewCollector(s.client))
		s.serveMetrics(reg)
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := s.link.Start(ctx, s.client); err != nil {
		s.Close()
		return nil, err
	}

	if opts.wait {
		if err := s.client.WaitOperational(connectCtx); err != nil {
			s.Close()
			return nil, fmt.Errorf("ring not ready: %w", err)
		}
	}
	return s, nil
}

// observe chains frame metrics in front of the caller's observer
func (s *session) observe(next ycbt.FrameObserver) ycbt.FrameObserver {
	return func(f *ycbt.Frame, err error) {
		if s.frames != nil {
			s.frames.Observe(f, err)
		}
		if next != nil {
			next(f, err)
		}
	}
}

// serveMetrics exposes reg on the configured address
func (s *session) serveMetrics(reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, metrics.Handler(reg))
	s.metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("serving metrics", zap.String("addr", cfg.Metrics.Addr), zap.String("path", cfg.Metrics.Path))
		if err := s.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
}

func (s *session) Close() {
	if s.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = s.metricsSrv.Shutdown(ctx)
		cancel()
	}
	if err := s.link.Close(); err != nil {
		logger.Warn("link close failed", zap.Error(err))
	}
	if s.captureFile != nil {
		s.captureFile.Close()
	}
}

// signalContext is cancelled on Ctrl+C or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// printState prints each connection state change
func printState(prev, next ycbt.ConnectionState) {
	fmt.Printf("[%s] %s -> %s\n", time.Now().Format("15:04:05.000"), ycbt.FormatState(prev), ycbt.FormatState(next))
}
