package transport

import (
	"context"
	"sync"
	"time"
)

// MutexWrapper wraps a BusClient in a mutual-exclusion lock (a sync.Mutex)
// so concurrent callers serialize automatically. Waiters are not
// guaranteed to acquire the lock in arrival order. RTU is half-duplex with
// framing that depends on inter-character timing; two overlapping reads
// corrupt the frame. TCP can interleave sub-transactions in principle, but
// the client here assumes exclusive use, so one lock per Bus Client is
// correct for both transports.
//
// Close bypasses the lock: shutdown must not deadlock on a hung read.
type MutexWrapper struct {
	inner BusClient
	mu    sync.Mutex
}

// NewMutexWrapper wraps inner with a sync.Mutex; acquisition order among
// waiters is not FIFO.
func NewMutexWrapper(inner BusClient) *MutexWrapper {
	return &MutexWrapper{inner: inner}
}

func (w *MutexWrapper) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inner.Connect(ctx)
}

func (w *MutexWrapper) SetSlave(id byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inner.SetSlave(id)
}

func (w *MutexWrapper) SetTimeout(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inner.SetTimeout(d)
}

func (w *MutexWrapper) ReadHoldingRegisters(ctx context.Context, addr, count uint16) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inner.ReadHoldingRegisters(ctx, addr, count)
}

func (w *MutexWrapper) ReadInputRegisters(ctx context.Context, addr, count uint16) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inner.ReadInputRegisters(ctx, addr, count)
}

func (w *MutexWrapper) ReadCoils(ctx context.Context, addr, count uint16) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inner.ReadCoils(ctx, addr, count)
}

func (w *MutexWrapper) ReadDiscreteInputs(ctx context.Context, addr, count uint16) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inner.ReadDiscreteInputs(ctx, addr, count)
}

func (w *MutexWrapper) WriteSingleRegister(ctx context.Context, addr uint16, value uint16) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inner.WriteSingleRegister(ctx, addr, value)
}

func (w *MutexWrapper) WriteSingleCoil(ctx context.Context, addr uint16, value bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inner.WriteSingleCoil(ctx, addr, value)
}

func (w *MutexWrapper) WriteMultipleRegisters(ctx context.Context, addr uint16, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inner.WriteMultipleRegisters(ctx, addr, data)
}

func (w *MutexWrapper) WriteMultipleCoils(ctx context.Context, addr uint16, count uint16, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inner.WriteMultipleCoils(ctx, addr, count, data)
}

// ReadDeviceIdentification delegates to the inner client's FC43 support, if
// any, under the same lock used by every other operation.
func (w *MutexWrapper) ReadDeviceIdentification(ctx context.Context, objectID byte) (map[byte]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	idc, ok := w.inner.(IdentifiableClient)
	if !ok {
		return nil, errUnsupportedFC43
	}
	return idc.ReadDeviceIdentification(ctx, objectID)
}

// SupportsFC43 reports whether the wrapped client exposes FC43.
func (w *MutexWrapper) SupportsFC43() bool {
	_, ok := w.inner.(IdentifiableClient)
	return ok
}

// Close bypasses the lock: a stuck request must never block shutdown.
func (w *MutexWrapper) Close() error {
	return w.inner.Close()
}
