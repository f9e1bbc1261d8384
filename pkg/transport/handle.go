package transport

import (
	"context"
	"time"
)

// SlaveHandle is a logical view bound to a specific slave address and
// timeout over a shared, mutex-wrapped Bus Client. It owns no resources of
// its own — the Bus Client owns the I/O handle, the handle only borrows it.
// Every operation assigns the slave id and timeout to the underlying client
// before delegating, under the client's lock, which is what makes sharing
// one physical bus across many logical devices safe.
type SlaveHandle struct {
	bus     *MutexWrapper
	slaveID byte
	timeout time.Duration
}

// NewSlaveHandle binds bus to slaveID/timeout. Multiple handles may share
// the same bus; each operation re-asserts its own slave id before issuing
// the request.
func NewSlaveHandle(bus *MutexWrapper, slaveID byte, timeout time.Duration) *SlaveHandle {
	return &SlaveHandle{bus: bus, slaveID: slaveID, timeout: timeout}
}

func (h *SlaveHandle) SlaveID() byte { return h.slaveID }

func (h *SlaveHandle) SetTimeout(d time.Duration) { h.timeout = d }

func (h *SlaveHandle) prepare() {
	h.bus.SetSlave(h.slaveID)
	h.bus.SetTimeout(h.timeout)
}

func (h *SlaveHandle) ReadHoldingRegisters(ctx context.Context, addr, count uint16) ([]byte, error) {
	h.prepare()
	return h.bus.ReadHoldingRegisters(ctx, addr, count)
}

func (h *SlaveHandle) ReadInputRegisters(ctx context.Context, addr, count uint16) ([]byte, error) {
	h.prepare()
	return h.bus.ReadInputRegisters(ctx, addr, count)
}

func (h *SlaveHandle) ReadCoils(ctx context.Context, addr, count uint16) ([]byte, error) {
	h.prepare()
	return h.bus.ReadCoils(ctx, addr, count)
}

func (h *SlaveHandle) ReadDiscreteInputs(ctx context.Context, addr, count uint16) ([]byte, error) {
	h.prepare()
	return h.bus.ReadDiscreteInputs(ctx, addr, count)
}

func (h *SlaveHandle) WriteSingleRegister(ctx context.Context, addr uint16, value uint16) error {
	h.prepare()
	return h.bus.WriteSingleRegister(ctx, addr, value)
}

func (h *SlaveHandle) WriteSingleCoil(ctx context.Context, addr uint16, value bool) error {
	h.prepare()
	return h.bus.WriteSingleCoil(ctx, addr, value)
}

func (h *SlaveHandle) WriteMultipleRegisters(ctx context.Context, addr uint16, data []byte) error {
	h.prepare()
	return h.bus.WriteMultipleRegisters(ctx, addr, data)
}

func (h *SlaveHandle) WriteMultipleCoils(ctx context.Context, addr uint16, count uint16, data []byte) error {
	h.prepare()
	return h.bus.WriteMultipleCoils(ctx, addr, count, data)
}

// ReadDeviceIdentification issues FC43 if the underlying client supports it.
func (h *SlaveHandle) ReadDeviceIdentification(ctx context.Context, objectID byte) (map[byte]string, error) {
	h.prepare()
	return h.bus.ReadDeviceIdentification(ctx, objectID)
}

// SupportsFC43 reports whether the underlying Bus Client exposes FC43.
func (h *SlaveHandle) SupportsFC43() bool {
	return h.bus.SupportsFC43()
}

// Close closes the underlying Bus Client. Slave Handles do not own the
// client's lifetime in general (the Transport Manager does); this exists
// for callers that open a client directly, outside the manager, such as
// the Discovery Scanner's per-group connections.
func (h *SlaveHandle) Close() error {
	return h.bus.Close()
}
