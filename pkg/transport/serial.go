// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/smallnest/ringbuffer"
	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/Thermoquad/annulus/pkg/ycbt"
)

// serialBufferSize is the receive ring buffer between the port reader and
// the frame decoder
const serialBufferSize = 4096

// SerialBridge talks to a BLE bridge MCU over a UART
type SerialBridge struct {
	port io.ReadWriteCloser
	name string
	mtu  int
	log  *zap.Logger

	rbuf *ringbuffer.RingBuffer

	wmu     sync.Mutex
	mu      sync.Mutex
	handler Handler
	done    chan struct{}
	closed  bool
}

// OpenSerialBridge opens a serial port to a bridge
func OpenSerialBridge(portName string, baudRate, mtu int, log *zap.Logger) (*SerialBridge, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	return NewSerialBridge(port, fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate), mtu, log), nil
}

// NewSerialBridge wraps an already open byte stream
func NewSerialBridge(port io.ReadWriteCloser, name string, mtu int, log *zap.Logger) *SerialBridge {
	if log == nil {
		log = zap.NewNop()
	}
	return &SerialBridge{
		port: port,
		name: name,
		mtu:  mtu,
		log:  log.Named("serial"),
		rbuf: ringbuffer.New(serialBufferSize),
		done: make(chan struct{}),
	}
}

func (s *SerialBridge) Describe() string { return s.name }

func (s *SerialBridge) MaxChunkSize() int { return ChunkSize(s.mtu) }

// Start begins reading and asks the bridge to connect to the ring. The
// bridge reports each lifecycle state as a STATE frame.
func (s *SerialBridge) Start(ctx context.Context, h Handler) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.handler = h
	s.mu.Unlock()

	go s.readLoop()
	go s.decodeLoop()

	if err := s.send(BridgeConnect, nil); err != nil {
		return fmt.Errorf("bridge connect: %w", err)
	}

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
	return nil
}

// Write sends one write-characteristic payload through the bridge
func (s *SerialBridge) Write(p []byte) error {
	s.mu.Lock()
	started, closed := s.handler != nil, s.closed
	s.mu.Unlock()

	switch {
	case closed:
		return ErrClosed
	case !started:
		return ErrNotStarted
	}
	return s.send(BridgeWrite, p)
}

func (s *SerialBridge) send(kind BridgeKind, data []byte) error {
	frame, err := EncodeBridgeFrame(kind, data)
	if err != nil {
		return err
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	for written := 0; written < len(frame); {
		n, err := s.port.Write(frame[written:])
		if err != nil {
			return err
		}
		written += n
	}
	return nil
}

// readLoop copies port bytes into the ring buffer
func (s *SerialBridge) readLoop() {
	buf := make([]byte, 256)
	for {
		n, err := s.port.Read(buf)
		if n > 0 {
			s.writeToBuffer(buf[:n])
		}
		if err != nil {
			if !s.isClosed() {
				s.log.Warn("serial read failed", zap.Error(err))
				s.lost()
			}
			return
		}
	}
}

func (s *SerialBridge) writeToBuffer(value []byte) {
	for len(value) > 0 {
		n, err := s.rbuf.Write(value)
		value = value[n:]
		if err == nil {
			continue
		}
		if errors.Is(err, ringbuffer.ErrIsFull) || errors.Is(err, ringbuffer.ErrTooManyDataToWrite) {
			select {
			case <-s.done:
				return
			case <-time.After(time.Millisecond):
			}
			continue
		}
		s.log.Warn("receive buffer write failed", zap.Error(err))
		return
	}
}

// decodeLoop drains the ring buffer through the bridge decoder
func (s *SerialBridge) decodeLoop() {
	decoder := NewBridgeDecoder()
	for {
		b, err := s.rbuf.ReadByte()
		if err != nil {
			select {
			case <-s.done:
				return
			case <-time.After(time.Millisecond):
			}
			continue
		}

		frame, err := decoder.DecodeByte(b)
		if err != nil {
			s.log.Warn("bridge frame dropped", zap.Error(err))
			continue
		}
		if frame != nil {
			s.deliver(frame)
		}
	}
}

func (s *SerialBridge) deliver(f *BridgeFrame) {
	h := s.currentHandler()
	if h == nil {
		return
	}

	switch f.Kind {
	case BridgeNotify:
		h.HandleNotification(f.Data)
	case BridgeState:
		if len(f.Data) != 1 {
			s.log.Warn("malformed state frame", zap.Int("len", len(f.Data)))
			return
		}
		state := ycbt.ConnectionState(f.Data[0])
		if state < ycbt.StateTimedOut || state > ycbt.StateFullyOperational {
			s.log.Warn("unknown bridge state", zap.Uint8("state", f.Data[0]))
			return
		}
		h.HandleStateChange(state)
	default:
		s.log.Debug("ignoring bridge frame", zap.Stringer("kind", f.Kind))
	}
}

func (s *SerialBridge) currentHandler() Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler
}

func (s *SerialBridge) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// lost reports a dead port
func (s *SerialBridge) lost() {
	if h := s.currentHandler(); h != nil {
		h.HandleStateChange(ycbt.StateDisconnected)
	}
}

func (s *SerialBridge) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	h := s.handler
	close(s.done)
	s.mu.Unlock()

	if h != nil {
		h.HandleStateChange(ycbt.StateDisconnecting)
	}
	err := s.port.Close()
	if h != nil {
		h.HandleStateChange(ycbt.StateDisconnected)
	}
	return err
}
