// Package codec implements the Modbus Application Protocol Data Unit
// encoding and decoding used by the rest of the toolkit. Every function
// here is pure: no I/O, no allocation beyond the returned buffer.
package codec

import (
	"encoding/binary"
	"fmt"
)

// Function codes used by the core.
const (
	FuncReadCoils            byte = 0x01
	FuncReadDiscreteInputs   byte = 0x02
	FuncReadHoldingRegisters byte = 0x03
	FuncReadInputRegisters   byte = 0x04
	FuncWriteSingleCoil      byte = 0x05
	FuncWriteSingleRegister  byte = 0x06
	FuncWriteMultipleRegs    byte = 0x10

	exceptionBit byte = 0x80

	coilOn  uint16 = 0xFF00
	coilOff uint16 = 0x0000
)

// Error is the typed error returned by every codec function. It carries the
// constraint that was violated and the value that violated it, so callers
// can format a precise message without re-deriving context.
type Error struct {
	Op      string // which codec function failed
	Reason  string // human-readable constraint that was violated
	Wrapped error  // optional underlying cause
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("codec: %s: %s: %v", e.Op, e.Reason, e.Wrapped)
	}
	return fmt.Sprintf("codec: %s: %s", e.Op, e.Reason)
}

func (e *Error) Unwrap() error { return e.Wrapped }

func newErr(op, reason string) error {
	return &Error{Op: op, Reason: reason}
}

// ExceptionResponse is returned by the response parsers when the device
// replied with the Modbus exception bit set. It is not an I/O failure: the
// device is present on the bus and simply rejected the function/address.
type ExceptionResponse struct {
	FunctionCode byte
	Code         byte
}

func (e *ExceptionResponse) Error() string {
	return fmt.Sprintf("modbus exception: fc=0x%02x code=%d", e.FunctionCode, e.Code)
}

// BuildReadRequest builds a six-byte read PDU for FC01/02/03/04.
func BuildReadRequest(unitID, fc byte, addr, count uint16) ([]byte, error) {
	switch fc {
	case FuncReadCoils, FuncReadDiscreteInputs, FuncReadHoldingRegisters, FuncReadInputRegisters:
	default:
		return nil, newErr("BuildReadRequest", fmt.Sprintf("unsupported function code 0x%02x", fc))
	}
	req := make([]byte, 6)
	req[0] = unitID
	req[1] = fc
	binary.BigEndian.PutUint16(req[2:4], addr)
	binary.BigEndian.PutUint16(req[4:6], count)
	return req, nil
}

// BuildWriteRegisterRequest builds FC06 (single register) or FC10 (multiple
// registers) write PDUs.
func BuildWriteRegisterRequest(unitID, fc byte, addr uint16, values []uint16) ([]byte, error) {
	switch fc {
	case FuncWriteSingleRegister:
		if len(values) < 1 {
			return nil, newErr("BuildWriteRegisterRequest", "at least one value required for FC06")
		}
		req := make([]byte, 6)
		req[0] = unitID
		req[1] = fc
		binary.BigEndian.PutUint16(req[2:4], addr)
		binary.BigEndian.PutUint16(req[4:6], values[0])
		return req, nil
	case FuncWriteMultipleRegs:
		n := len(values)
		if n == 0 {
			return nil, newErr("BuildWriteRegisterRequest", "at least one value required for FC10")
		}
		byteCount := n * 2
		req := make([]byte, 7+byteCount)
		req[0] = unitID
		req[1] = fc
		binary.BigEndian.PutUint16(req[2:4], addr)
		binary.BigEndian.PutUint16(req[4:6], uint16(n))
		req[6] = byte(byteCount)
		for i, v := range values {
			binary.BigEndian.PutUint16(req[7+i*2:9+i*2], v)
		}
		return req, nil
	default:
		return nil, newErr("BuildWriteRegisterRequest", fmt.Sprintf("unsupported function code 0x%02x", fc))
	}
}

// BuildCoilRequest builds FC01/02 (read) or FC05 (single write) coil PDUs.
// For FC05, value encodes the coil state as a boolean-to-0xFF00/0x0000 pair.
func BuildCoilRequest(unitID, fc byte, addr uint16, count uint16, value bool) ([]byte, error) {
	switch fc {
	case FuncReadCoils, FuncReadDiscreteInputs:
		return BuildReadRequest(unitID, fc, addr, count)
	case FuncWriteSingleCoil:
		req := make([]byte, 6)
		req[0] = unitID
		req[1] = fc
		binary.BigEndian.PutUint16(req[2:4], addr)
		v := coilOff
		if value {
			v = coilOn
		}
		binary.BigEndian.PutUint16(req[4:6], v)
		return req, nil
	default:
		return nil, newErr("BuildCoilRequest", fmt.Sprintf("unsupported function code 0x%02x", fc))
	}
}

// BuildWriteMultipleCoilsRequest builds an FC15 write-multiple-coils PDU.
func BuildWriteMultipleCoilsRequest(unitID byte, addr uint16, count uint16, data []byte) []byte {
	req := make([]byte, 7+len(data))
	req[0] = unitID
	req[1] = 0x0F
	binary.BigEndian.PutUint16(req[2:4], addr)
	binary.BigEndian.PutUint16(req[4:6], count)
	req[6] = byte(len(data))
	copy(req[7:], data)
	return req
}

// ParseRegisterReadResponse validates and decodes an FC03/04 response,
// returning the raw big-endian register words.
func ParseRegisterReadResponse(resp []byte, expectedUnitID, expectedFC byte) ([]uint16, error) {
	raw, err := parseReadResponseBytes(resp, expectedUnitID, expectedFC, true)
	if err != nil {
		return nil, err
	}
	regs := make([]uint16, len(raw)/2)
	for i := range regs {
		regs[i] = binary.BigEndian.Uint16(raw[i*2 : i*2+2])
	}
	return regs, nil
}

// ParseCoilReadResponse validates and decodes an FC01/02 response, returning
// only the first bit of the data byte (the value for a single-coil query).
func ParseCoilReadResponse(resp []byte, expectedUnitID, expectedFC byte) (bool, error) {
	raw, err := parseReadResponseBytes(resp, expectedUnitID, expectedFC, false)
	if err != nil {
		return false, err
	}
	if len(raw) < 1 {
		return false, newErr("ParseCoilReadResponse", "empty data payload")
	}
	return raw[0]&0x01 != 0, nil
}

func parseReadResponseBytes(resp []byte, expectedUnitID, expectedFC byte, requireEvenByteCount bool) ([]byte, error) {
	const op = "parseReadResponseBytes"
	if len(resp) < 3 {
		return nil, newErr(op, fmt.Sprintf("response too short: %d bytes, need at least 3", len(resp)))
	}
	if resp[0] != expectedUnitID {
		return nil, newErr(op, fmt.Sprintf("unit id mismatch: got %d, expected %d", resp[0], expectedUnitID))
	}
	fc := resp[1]
	if fc&exceptionBit != 0 {
		if len(resp) < 3 {
			return nil, newErr(op, "truncated exception frame")
		}
		return nil, &ExceptionResponse{FunctionCode: fc &^ exceptionBit, Code: resp[2]}
	}
	if fc != expectedFC {
		return nil, newErr(op, fmt.Sprintf("function code mismatch: got 0x%02x, expected 0x%02x", fc, expectedFC))
	}
	byteCount := int(resp[2])
	if requireEvenByteCount && byteCount%2 != 0 {
		return nil, newErr(op, fmt.Sprintf("odd byte count %d for register response", byteCount))
	}
	if byteCount > 250 {
		return nil, newErr(op, fmt.Sprintf("byte count %d exceeds maximum 250", byteCount))
	}
	if byteCount+3 != len(resp) {
		return nil, newErr(op, fmt.Sprintf("declared byte count %d + 3 != buffer length %d", byteCount, len(resp)))
	}
	return resp[3:], nil
}
