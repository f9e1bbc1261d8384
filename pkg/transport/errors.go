package transport

import (
	"errors"
	"fmt"
)

// errUnsupportedFC43 is returned by MutexWrapper.ReadDeviceIdentification
// when the wrapped client does not implement IdentifiableClient.
var errUnsupportedFC43 = errors.New("transport: client does not support FC43")

// ConnectError wraps a failure to open the underlying connection (serial
// port unavailable, TCP host unreachable). The Discovery Scanner treats
// this as "skip the whole parameter group, continue".
type ConnectError struct {
	BusKey  Key
	Wrapped error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("transport: connect %s: %v", e.BusKey, e.Wrapped)
}

func (e *ConnectError) Unwrap() error { return e.Wrapped }

// TimeoutError indicates no response arrived before the configured
// per-request timeout elapsed.
type TimeoutError struct {
	BusKey  Key
	SlaveID byte
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("transport: timeout waiting for slave %d on %s", e.SlaveID, e.BusKey)
}

// CRCError indicates an RTU frame failed its CRC16 check.
type CRCError struct {
	BusKey  Key
	SlaveID byte
}

func (e *CRCError) Error() string {
	return fmt.Sprintf("transport: CRC error from slave %d on %s", e.SlaveID, e.BusKey)
}

// ExceptionError surfaces a Modbus exception response (fc|0x80 + exception
// byte) as a typed transport-level error, distinct from a transport failure:
// the device is present and answered, it rejected the request.
type ExceptionError struct {
	FunctionCode byte
	Code         byte
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("transport: modbus exception fc=0x%02x code=%d", e.FunctionCode, e.Code)
}
