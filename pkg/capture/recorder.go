// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package capture

import (
	"context"

	"go.uber.org/zap"

	"github.com/Thermoquad/annulus/pkg/transport"
	"github.com/Thermoquad/annulus/pkg/ycbt"
)

// Recorder wraps a link and writes every chunk, write and state change to
// a capture Writer
type Recorder struct {
	link transport.Link
	out  *Writer
	log  *zap.Logger
}

// NewRecorder wraps link
func NewRecorder(link transport.Link, out *Writer, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{link: link, out: out, log: log.Named("capture")}
}

func (r *Recorder) Describe() string { return r.link.Describe() + " (recording)" }

func (r *Recorder) MaxChunkSize() int { return r.link.MaxChunkSize() }

func (r *Recorder) Start(ctx context.Context, h transport.Handler) error {
	return r.link.Start(ctx, &recordingHandler{next: h, r: r})
}

func (r *Recorder) Write(p []byte) error {
	r.record(TX, p)
	return r.link.Write(p)
}

func (r *Recorder) Close() error { return r.link.Close() }

func (r *Recorder) record(dir Direction, data []byte) {
	if err := r.out.Write(dir, data); err != nil {
		r.log.Warn("capture write failed", zap.Stringer("direction", dir), zap.Error(err))
	}
}

type recordingHandler struct {
	next transport.Handler
	r    *Recorder
}

func (h *recordingHandler) HandleNotification(chunk []byte) {
	h.r.record(RX, chunk)
	h.next.HandleNotification(chunk)
}

func (h *recordingHandler) HandleStateChange(s ycbt.ConnectionState) {
	h.r.record(State, []byte{byte(s)})
	h.next.HandleStateChange(s)
}
