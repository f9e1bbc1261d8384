package transport

import (
	"context"
	"time"
)

// BusClient owns one physical connection (serial line or TCP socket) to a
// Modbus bus and exposes the eight raw Modbus operations plus lifecycle
// management. Implementations guarantee at most one outstanding request at
// a time; callers that need concurrent access must go through a
// MutexWrapper (see wrapper.go).
type BusClient interface {
	Connect(ctx context.Context) error
	SetSlave(id byte)
	SetTimeout(d time.Duration)

	ReadHoldingRegisters(ctx context.Context, addr, count uint16) ([]byte, error)
	ReadInputRegisters(ctx context.Context, addr, count uint16) ([]byte, error)
	ReadCoils(ctx context.Context, addr, count uint16) ([]byte, error)
	ReadDiscreteInputs(ctx context.Context, addr, count uint16) ([]byte, error)
	WriteSingleRegister(ctx context.Context, addr uint16, value uint16) error
	WriteSingleCoil(ctx context.Context, addr uint16, value bool) error
	WriteMultipleRegisters(ctx context.Context, addr uint16, data []byte) error
	WriteMultipleCoils(ctx context.Context, addr uint16, count uint16, data []byte) error

	Close() error
}

// IdentifiableClient is implemented by Bus Clients that can also issue
// FC43 (Read Device Identification). Not every transport needs to support
// it; the Device Identifier checks for this interface before using it.
type IdentifiableClient interface {
	ReadDeviceIdentification(ctx context.Context, objectID byte) (map[byte]string, error)
}

// RetryLogger is invoked once per failed attempt inside a Bus Client's
// internal retry loop. Implementations must be reentrant-safe or be no-ops;
// it may be called from whichever goroutine issued the operation.
type RetryLogger func(attempt int, err error)
