package discovery

import (
	"context"
	"time"

	"github.com/edgeflow/modbus-toolkit/pkg/codec"
	"github.com/edgeflow/modbus-toolkit/pkg/transport"
)

// step describes how a fake client should answer one cascade step.
type step struct {
	ok       bool
	excCode  byte // valid when !ok && exception
	exception bool
	err      error // valid when !ok && !exception
}

func ok() step                        { return step{ok: true} }
func exc(code byte) step              { return step{exception: true, excCode: code} }
func fail(err error) step             { return step{err: err} }

// fakeIdentClient drives the Device Identifier cascade deterministically:
// fc43, fc04@1, fc04@0, fc03@0 each get their own scripted step. supportsFC43
// controls whether it implements transport.IdentifiableClient at all.
type fakeIdentClient struct {
	supportsFC43 bool
	fc43         step
	fc04At1      step
	fc04At0      step
	fc03At0      step

	fc43Fields map[byte]string
	opDelay    time.Duration
}

func (f *fakeIdentClient) Connect(ctx context.Context) error { return nil }
func (f *fakeIdentClient) SetSlave(id byte)                  {}
func (f *fakeIdentClient) SetTimeout(d time.Duration)        {}
func (f *fakeIdentClient) Close() error                      { return nil }

func (f *fakeIdentClient) delay() {
	if f.opDelay > 0 {
		time.Sleep(f.opDelay)
	}
}

func (f *fakeIdentClient) ReadHoldingRegisters(ctx context.Context, addr, count uint16) ([]byte, error) {
	f.delay()
	return stepResult(f.fc03At0, codec.FuncReadHoldingRegisters)
}

func (f *fakeIdentClient) ReadInputRegisters(ctx context.Context, addr, count uint16) ([]byte, error) {
	f.delay()
	if addr == 1 {
		return stepResult(f.fc04At1, codec.FuncReadInputRegisters)
	}
	return stepResult(f.fc04At0, codec.FuncReadInputRegisters)
}

func (f *fakeIdentClient) ReadCoils(ctx context.Context, addr, count uint16) ([]byte, error) {
	return nil, nil
}
func (f *fakeIdentClient) ReadDiscreteInputs(ctx context.Context, addr, count uint16) ([]byte, error) {
	return nil, nil
}
func (f *fakeIdentClient) WriteSingleRegister(ctx context.Context, addr, value uint16) error {
	return nil
}
func (f *fakeIdentClient) WriteSingleCoil(ctx context.Context, addr uint16, value bool) error {
	return nil
}
func (f *fakeIdentClient) WriteMultipleRegisters(ctx context.Context, addr uint16, data []byte) error {
	return nil
}
func (f *fakeIdentClient) WriteMultipleCoils(ctx context.Context, addr, count uint16, data []byte) error {
	return nil
}

func (f *fakeIdentClient) ReadDeviceIdentification(ctx context.Context, objectID byte) (map[byte]string, error) {
	f.delay()
	if !f.fc43.ok {
		if f.fc43.exception {
			return nil, &transport.ExceptionError{FunctionCode: 0x2B, Code: f.fc43.excCode}
		}
		return nil, f.fc43.err
	}
	return f.fc43Fields, nil
}

func stepResult(s step, fc byte) ([]byte, error) {
	if s.ok {
		return []byte{0, 0}, nil
	}
	if s.exception {
		return nil, &codec.ExceptionResponse{FunctionCode: fc, Code: s.excCode}
	}
	return nil, s.err
}

// identClientFor builds a SlaveHandle driven by client, bypassing the
// Transport Manager entirely (discovery owns its own bus opens).
func identClientFor(client transport.BusClient, timeout time.Duration) *transport.SlaveHandle {
	wrapped := transport.NewMutexWrapper(client)
	return transport.NewSlaveHandle(wrapped, 1, timeout)
}

func busClientFor(f *fakeIdentClient) transport.BusClient {
	if f.supportsFC43 {
		return f
	}
	return &noFC43Client{f}
}

// noFC43Client adapts fakeIdentClient to a BusClient that does not
// implement transport.IdentifiableClient, by simply not embedding the
// identification method in its method set.
type noFC43Client struct {
	inner *fakeIdentClient
}

func (c *noFC43Client) Connect(ctx context.Context) error { return c.inner.Connect(ctx) }
func (c *noFC43Client) SetSlave(id byte)                  { c.inner.SetSlave(id) }
func (c *noFC43Client) SetTimeout(d time.Duration)        { c.inner.SetTimeout(d) }
func (c *noFC43Client) Close() error                      { return c.inner.Close() }
func (c *noFC43Client) ReadHoldingRegisters(ctx context.Context, addr, count uint16) ([]byte, error) {
	return c.inner.ReadHoldingRegisters(ctx, addr, count)
}
func (c *noFC43Client) ReadInputRegisters(ctx context.Context, addr, count uint16) ([]byte, error) {
	return c.inner.ReadInputRegisters(ctx, addr, count)
}
func (c *noFC43Client) ReadCoils(ctx context.Context, addr, count uint16) ([]byte, error) {
	return c.inner.ReadCoils(ctx, addr, count)
}
func (c *noFC43Client) ReadDiscreteInputs(ctx context.Context, addr, count uint16) ([]byte, error) {
	return c.inner.ReadDiscreteInputs(ctx, addr, count)
}
func (c *noFC43Client) WriteSingleRegister(ctx context.Context, addr, value uint16) error {
	return c.inner.WriteSingleRegister(ctx, addr, value)
}
func (c *noFC43Client) WriteSingleCoil(ctx context.Context, addr uint16, value bool) error {
	return c.inner.WriteSingleCoil(ctx, addr, value)
}
func (c *noFC43Client) WriteMultipleRegisters(ctx context.Context, addr uint16, data []byte) error {
	return c.inner.WriteMultipleRegisters(ctx, addr, data)
}
func (c *noFC43Client) WriteMultipleCoils(ctx context.Context, addr, count uint16, data []byte) error {
	return c.inner.WriteMultipleCoils(ctx, addr, count, data)
}
