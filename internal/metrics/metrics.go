// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics exposes engine statistics to Prometheus.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Thermoquad/annulus/pkg/ycbt"
)

const namespace = "annulus"

// NewRegistry creates a registry with the Go and process collectors
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns the Prometheus HTTP handler for reg
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Source is what the collector reads. *ycbt.Client satisfies it.
type Source interface {
	Statistics() ycbt.Snapshot
	QueueLen() int
	CurrentState() ycbt.ConnectionState
}

type counterDesc struct {
	desc  *prometheus.Desc
	value func(ycbt.Snapshot) uint64
}

// Collector reads a Source on every scrape
type Collector struct {
	src      Source
	counters []counterDesc
	queue    *prometheus.Desc
	state    *prometheus.Desc
}

func counter(name, help string, value func(ycbt.Snapshot) uint64) counterDesc {
	return counterDesc{
		desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil),
		value: value,
	}
}

// NewCollector creates a collector over src
func NewCollector(src Source) *Collector {
	return &Collector{
		src: src,
		counters: []counterDesc{
			counter("frames_total", "Frames decoded from notifications.", func(s ycbt.Snapshot) uint64 { return s.TotalFrames }),
			counter("frames_valid_total", "Frames with a matching checksum.", func(s ycbt.Snapshot) uint64 { return s.ValidFrames }),
			counter("checksum_errors_total", "Frames with a checksum mismatch.", func(s ycbt.Snapshot) uint64 { return s.ChecksumErrors }),
			counter("decode_errors_total", "Chunks that could not be decoded.", func(s ycbt.Snapshot) uint64 { return s.DecodeErrors }),
			counter("reassembly_errors_total", "Fragmented frames abandoned by the reassembler.", func(s ycbt.Snapshot) uint64 { return s.ReassemblyErrors }),
			counter("error_frames_total", "Device error frames received.", func(s ycbt.Snapshot) uint64 { return s.ErrorFrames }),
			counter("uncorrelated_frames_total", "Frames not matched to an in-flight request.", func(s ycbt.Snapshot) uint64 { return s.UncorrelatedFrames }),
			counter("bytes_in_total", "Notification bytes received.", func(s ycbt.Snapshot) uint64 { return s.BytesIn }),
			counter("writes_total", "Frames written, retries included.", func(s ycbt.Snapshot) uint64 { return s.Writes }),
			counter("write_failures_total", "Writes rejected by the transport.", func(s ycbt.Snapshot) uint64 { return s.WriteFailures }),
			counter("timeouts_total", "Response timeouts.", func(s ycbt.Snapshot) uint64 { return s.Timeouts }),
			counter("retries_total", "Request re-sends.", func(s ycbt.Snapshot) uint64 { return s.Retries }),
			counter("exhausted_total", "Requests failed after the last retry.", func(s ycbt.Snapshot) uint64 { return s.Exhausted }),
			counter("cancelled_total", "Requests cancelled by a queue reset.", func(s ycbt.Snapshot) uint64 { return s.Cancelled }),
			counter("bytes_out_total", "Frame bytes written.", func(s ycbt.Snapshot) uint64 { return s.BytesOut }),
		},
		queue: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "queue_depth"),
			"Requests queued, in-flight included.", nil, nil),
		state: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "connection_state"),
			"Current connection state code.", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, cd := range c.counters {
		ch <- cd.desc
	}
	ch <- c.queue
	ch <- c.state
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.src.Statistics()
	for _, cd := range c.counters {
		ch <- prometheus.MustNewConstMetric(cd.desc, prometheus.CounterValue, float64(cd.value(snap)))
	}
	ch <- prometheus.MustNewConstMetric(c.queue, prometheus.GaugeValue, float64(c.src.QueueLen()))
	ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, float64(c.src.CurrentState()))
}

// FrameMetrics counts decoded frames by command type and checksum result
type FrameMetrics struct {
	Frames *prometheus.CounterVec // labels: command_type, result=ok|checksum
	Errors *prometheus.CounterVec // labels: kind
}

// NewFrameMetrics registers and returns frame metrics
func NewFrameMetrics(reg prometheus.Registerer) *FrameMetrics {
	m := &FrameMetrics{
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_by_type_total",
			Help:      "Decoded frames by command type.",
		}, []string{"command_type", "result"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_errors_total",
			Help:      "Device error frames by kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.Frames, m.Errors)
	return m
}

// Observe is a ycbt.FrameObserver
func (m *FrameMetrics) Observe(f *ycbt.Frame, err error) {
	if f == nil {
		return
	}
	result := "ok"
	var ce *ycbt.ChecksumError
	if errors.As(err, &ce) {
		result = "checksum"
	}
	m.Frames.WithLabelValues(ycbt.FormatCommandType(f.CommandType()), result).Inc()

	if f.IsErrorFrame() {
		m.Errors.WithLabelValues(ycbt.ClassifyErrorCode(f.Payload()[0]).String()).Inc()
	}
}
