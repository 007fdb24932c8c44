// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"

	"github.com/Thermoquad/annulus/pkg/ycbt"
)

var (
	serviceUUID = mustParseUUID(ycbt.ServiceUUID)
	charUUID    = mustParseUUID(ycbt.WriteUUID)
)

func mustParseUUID(s string) bluetooth.UUID {
	uuid, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return uuid
}

var (
	ErrServiceNotFound        = errors.New("service not found")
	ErrCharacteristicNotFound = errors.New("characteristic not found")
)

// Discovered is one advertising device seen by Scan
type Discovered struct {
	Address string
	Name    string
	RSSI    int16
	Result  bluetooth.ScanResult
}

// Scan reports each advertising device once until ctx is done. Devices
// whose local name does not start with namePrefix are skipped.
func Scan(ctx context.Context, adapter *bluetooth.Adapter, namePrefix string) (<-chan Discovered, <-chan error) {
	const bufferSize = 10

	raw := make(chan bluetooth.ScanResult, bufferSize)
	results := make(chan Discovered, bufferSize)
	errs := make(chan error, 2)
	scanErr := make(chan error, 1)

	go func() {
		if err := adapter.Scan(func(_ *bluetooth.Adapter, r bluetooth.ScanResult) {
			select {
			case raw <- r:
			default:
			}
		}); err != nil {
			scanErr <- fmt.Errorf("unable to initiate BLE scan: %w", err)
		}
	}()

	go func() {
		defer close(results)
		defer close(errs)

		seen := make(map[string]bool)
		for {
			select {
			case <-ctx.Done():
				if err := adapter.StopScan(); err != nil {
					errs <- err
				}
				return
			case err := <-scanErr:
				errs <- err
				return
			case r := <-raw:
				addr := r.Address.String()
				if seen[addr] || !strings.HasPrefix(r.LocalName(), namePrefix) {
					continue
				}
				seen[addr] = true
				select {
				case results <- Discovered{Address: addr, Name: r.LocalName(), RSSI: r.RSSI, Result: r}:
				case <-ctx.Done():
				}
			}
		}
	}()

	return results, errs
}

// BLE connects to a ring directly over the host's Bluetooth adapter
type BLE struct {
	adapter *bluetooth.Adapter
	address string
	mtu     int
	log     *zap.Logger

	mu      sync.Mutex
	device  *bluetooth.Device
	char    bluetooth.DeviceCharacteristic
	handler Handler
	ready   bool
	closed  bool
}

// NewBLE prepares a link to the ring at address (as printed by Scan)
func NewBLE(adapter *bluetooth.Adapter, address string, mtu int, log *zap.Logger) *BLE {
	if log == nil {
		log = zap.NewNop()
	}
	return &BLE{
		adapter: adapter,
		address: strings.ToUpper(address),
		mtu:     mtu,
		log:     log.Named("ble"),
	}
}

func (b *BLE) Describe() string { return "BLE: " + b.address }

func (b *BLE) MaxChunkSize() int { return ChunkSize(b.mtu) }

// Start scans for the ring, connects and subscribes to notifications,
// reporting each lifecycle step to h
func (b *BLE) Start(ctx context.Context, h Handler) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.handler = h
	b.mu.Unlock()

	h.HandleStateChange(ycbt.StateConnecting)

	if err := b.adapter.Enable(); err != nil {
		h.HandleStateChange(ycbt.StateNotOpen)
		return fmt.Errorf("enable adapter: %w", err)
	}

	b.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected || !strings.EqualFold(device.Address.String(), b.address) {
			return
		}
		b.log.Warn("ring disconnected", zap.String("address", b.address))
		b.mu.Lock()
		b.ready = false
		closed := b.closed
		b.mu.Unlock()
		if !closed {
			h.HandleStateChange(ycbt.StateDisconnected)
		}
	})

	result, err := b.find(ctx)
	if err != nil {
		if ctx.Err() != nil {
			h.HandleStateChange(ycbt.StateTimedOut)
		} else {
			h.HandleStateChange(ycbt.StateNotOpen)
		}
		return err
	}

	device, err := b.adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		h.HandleStateChange(ycbt.StateNotOpen)
		return fmt.Errorf("could not connect: %w", err)
	}
	b.mu.Lock()
	b.device = &device
	b.mu.Unlock()
	h.HandleStateChange(ycbt.StateConnected)

	if err := b.setup(device, h); err != nil {
		_ = device.Disconnect()
		h.HandleStateChange(ycbt.StateDisconnected)
		return err
	}

	go func() {
		<-ctx.Done()
		b.Close()
	}()
	return nil
}

// find scans until the configured address advertises
func (b *BLE) find(ctx context.Context) (bluetooth.ScanResult, error) {
	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	b.log.Info("scanning", zap.String("address", b.address))
	results, errs := Scan(scanCtx, b.adapter, "")
	for {
		select {
		case d, ok := <-results:
			if !ok {
				return bluetooth.ScanResult{}, ctx.Err()
			}
			if strings.EqualFold(d.Address, b.address) {
				b.log.Info("found", zap.String("name", d.Name), zap.Int16("rssi", d.RSSI))
				return d.Result, nil
			}
		case err, ok := <-errs:
			if ok && err != nil {
				return bluetooth.ScanResult{}, err
			}
		case <-ctx.Done():
			return bluetooth.ScanResult{}, ctx.Err()
		}
	}
}

func (b *BLE) setup(device bluetooth.Device, h Handler) error {
	svcs, err := device.DiscoverServices([]bluetooth.UUID{serviceUUID})
	if err != nil {
		return fmt.Errorf("could not discover service: %w", err)
	}
	if len(svcs) == 0 {
		return ErrServiceNotFound
	}
	h.HandleStateChange(ycbt.StateServicesDiscovered)

	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{charUUID})
	if err != nil {
		return fmt.Errorf("could not discover characteristics: %w", err)
	}
	if len(chars) == 0 {
		return ErrCharacteristicNotFound
	}
	char := chars[0]
	h.HandleStateChange(ycbt.StateCharacteristicsDiscovered)

	if err := char.EnableNotifications(func(value []byte) {
		chunk := make([]byte, len(value))
		copy(chunk, value)
		h.HandleNotification(chunk)
	}); err != nil {
		return fmt.Errorf("could not enable notifications: %w", err)
	}

	b.mu.Lock()
	b.char = char
	b.ready = true
	b.mu.Unlock()

	h.HandleStateChange(ycbt.StateNotificationsReady)
	h.HandleStateChange(ycbt.StateFullyOperational)
	return nil
}

// Write sends p with write-without-response
func (b *BLE) Write(p []byte) error {
	b.mu.Lock()
	char, ready, closed := b.char, b.ready, b.closed
	b.mu.Unlock()

	switch {
	case closed:
		return ErrClosed
	case !ready:
		return ErrNotStarted
	}

	_, err := char.WriteWithoutResponse(p)
	return err
}

func (b *BLE) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.ready = false
	device, h := b.device, b.handler
	b.mu.Unlock()

	if device == nil {
		return nil
	}

	h.HandleStateChange(ycbt.StateDisconnecting)
	err := device.Disconnect()
	h.HandleStateChange(ycbt.StateDisconnected)
	return err
}
