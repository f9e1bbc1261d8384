package transport

import (
	"context"
	"fmt"
	"time"

	"go.bug.st/serial"

	"github.com/edgeflow/modbus-toolkit/pkg/codec"
)

// RTUConfig configures an RTU Bus Client.
type RTUConfig struct {
	Port     string
	Serial   SerialParams
	Timeout  time.Duration
	// MaxRetries bounds the internal per-operation retry loop for transient
	// RTU faults (timeout, CRC). Discovery sets this to 1 so cascade
	// latency stays predictable; general callers default to 3.
	MaxRetries int
	Logger     RetryLogger

	// interCharDelay is the wait after writing a request before the first
	// read attempt, modeling RTU's inter-frame timing requirement. Exposed
	// for tests; production callers use the zero value (defaultInterCharDelay).
	interCharDelay time.Duration
}

const defaultInterCharDelay = 20 * time.Millisecond

// rtuClient implements BusClient over a go.bug.st/serial port.
type rtuClient struct {
	cfg     RTUConfig
	port    serial.Port
	slaveID byte
	timeout time.Duration
}

// NewRTUClient constructs an unconnected RTU Bus Client. Connect must
// succeed before any operation is issued.
func NewRTUClient(cfg RTUConfig) BusClient {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.interCharDelay <= 0 {
		cfg.interCharDelay = defaultInterCharDelay
	}
	return &rtuClient{cfg: cfg, timeout: cfg.Timeout}
}

func (c *rtuClient) Connect(ctx context.Context) error {
	mode := &serial.Mode{BaudRate: c.cfg.Serial.BaudRate, DataBits: c.cfg.Serial.DataBits}
	switch c.cfg.Serial.StopBits {
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		mode.StopBits = serial.OneStopBit
	}
	switch c.cfg.Serial.Parity {
	case ParityEven:
		mode.Parity = serial.EvenParity
	case ParityOdd:
		mode.Parity = serial.OddParity
	default:
		mode.Parity = serial.NoParity
	}

	port, err := serial.Open(c.cfg.Port, mode)
	if err != nil {
		return &ConnectError{BusKey: NewRTUKey(c.cfg.Port, c.cfg.Serial), Wrapped: err}
	}
	if c.timeout > 0 {
		port.SetReadTimeout(c.timeout)
	}
	c.port = port
	return nil
}

func (c *rtuClient) SetSlave(id byte) { c.slaveID = id }

func (c *rtuClient) SetTimeout(d time.Duration) {
	c.timeout = d
	if c.port != nil {
		c.port.SetReadTimeout(d)
	}
}

func (c *rtuClient) Close() error {
	if c.port == nil {
		return nil
	}
	p := c.port
	c.port = nil
	return p.Close()
}

func (c *rtuClient) ReadHoldingRegisters(ctx context.Context, addr, count uint16) ([]byte, error) {
	return c.readRegisters(ctx, codec.FuncReadHoldingRegisters, addr, count)
}

func (c *rtuClient) ReadInputRegisters(ctx context.Context, addr, count uint16) ([]byte, error) {
	return c.readRegisters(ctx, codec.FuncReadInputRegisters, addr, count)
}

func (c *rtuClient) readRegisters(ctx context.Context, fc byte, addr, count uint16) ([]byte, error) {
	req, err := codec.BuildReadRequest(c.slaveID, fc, addr, count)
	if err != nil {
		return nil, err
	}
	resp, err := c.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	regs, err := codec.ParseRegisterReadResponse(resp, c.slaveID, fc)
	if err != nil {
		return nil, classifyCodecErr(err)
	}
	out := make([]byte, len(regs)*2)
	for i, r := range regs {
		out[i*2] = byte(r >> 8)
		out[i*2+1] = byte(r)
	}
	return out, nil
}

func (c *rtuClient) ReadCoils(ctx context.Context, addr, count uint16) ([]byte, error) {
	return c.readBits(ctx, codec.FuncReadCoils, addr, count)
}

func (c *rtuClient) ReadDiscreteInputs(ctx context.Context, addr, count uint16) ([]byte, error) {
	return c.readBits(ctx, codec.FuncReadDiscreteInputs, addr, count)
}

func (c *rtuClient) readBits(ctx context.Context, fc byte, addr, count uint16) ([]byte, error) {
	req, err := codec.BuildReadRequest(c.slaveID, fc, addr, count)
	if err != nil {
		return nil, err
	}
	resp, err := c.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp) < 3 {
		return nil, fmt.Errorf("transport: short bit-read response: %d bytes", len(resp))
	}
	byteCount := int(resp[2])
	if byteCount+3 != len(resp) {
		return nil, fmt.Errorf("transport: declared byte count %d does not match response length %d", byteCount, len(resp))
	}
	return resp[3:], nil
}

func (c *rtuClient) WriteSingleRegister(ctx context.Context, addr uint16, value uint16) error {
	req, err := codec.BuildWriteRegisterRequest(c.slaveID, codec.FuncWriteSingleRegister, addr, []uint16{value})
	if err != nil {
		return err
	}
	_, err = c.roundTrip(ctx, req)
	return err
}

func (c *rtuClient) WriteSingleCoil(ctx context.Context, addr uint16, value bool) error {
	req, err := codec.BuildCoilRequest(c.slaveID, codec.FuncWriteSingleCoil, addr, 0, value)
	if err != nil {
		return err
	}
	_, err = c.roundTrip(ctx, req)
	return err
}

func (c *rtuClient) WriteMultipleRegisters(ctx context.Context, addr uint16, data []byte) error {
	values := make([]uint16, len(data)/2)
	for i := range values {
		values[i] = uint16(data[i*2])<<8 | uint16(data[i*2+1])
	}
	req, err := codec.BuildWriteRegisterRequest(c.slaveID, codec.FuncWriteMultipleRegs, addr, values)
	if err != nil {
		return err
	}
	_, err = c.roundTrip(ctx, req)
	return err
}

func (c *rtuClient) WriteMultipleCoils(ctx context.Context, addr uint16, count uint16, data []byte) error {
	req := codec.BuildWriteMultipleCoilsRequest(c.slaveID, addr, count, data)
	_, err := c.roundTrip(ctx, req)
	return err
}

// roundTrip sends one framed request and waits for the reply, retrying on
// transient faults for at most cfg.MaxRetries attempts in all. The final failure after
// exhausting retries propagates unwrapped to the caller.
func (c *rtuClient) roundTrip(ctx context.Context, req []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		resp, err := c.sendOnce(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if c.cfg.Logger != nil {
			c.cfg.Logger(attempt, err)
		}
		var exc *codec.ExceptionResponse
		if isExceptionResponse(err, &exc) {
			// Exception responses are not transient: the device answered.
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *rtuClient) sendOnce(req []byte) ([]byte, error) {
	full := withCRC(req)

	if err := c.port.ResetInputBuffer(); err != nil {
		return nil, err
	}
	if _, err := c.port.Write(full); err != nil {
		return nil, fmt.Errorf("transport: write failed: %w", err)
	}

	time.Sleep(c.cfg.interCharDelay)

	expected, knownLen := expectedResponseLength(req)

	buf := make([]byte, 256)
	total := 0
	for {
		n, err := c.port.Read(buf[total:])
		if err != nil {
			break
		}
		if n == 0 {
			break
		}
		total += n

		// An exception reply is always 5 bytes (addr, fc|0x80, code, crc_lo,
		// crc_hi) regardless of what the success frame would have been.
		if total >= 2 && buf[1]&0x80 != 0 {
			if total >= 5 {
				break
			}
			continue
		}
		// A success frame of known length (reads, writes) is complete the
		// moment it's fully buffered; anything else (FC43's variable-length
		// body) keeps reading until the port stops delivering bytes.
		if knownLen && total >= expected {
			break
		}
	}

	if total < 3 {
		return nil, &TimeoutError{BusKey: NewRTUKey(c.cfg.Port, c.cfg.Serial), SlaveID: c.slaveID}
	}
	frame := buf[:total]

	if !verifyCRC(frame) {
		return nil, &CRCError{BusKey: NewRTUKey(c.cfg.Port, c.cfg.Serial), SlaveID: c.slaveID}
	}

	return frame[:len(frame)-2], nil
}

// expectedResponseLength derives the exact reply length (PDU + 2-byte CRC)
// a well-formed response to req must have, when the function code makes
// that predictable from the request alone. FC43 (Read Device
// Identification) has a variable-length body driven by what the device
// reports, so it is not covered here; sendOnce falls back to reading until
// the port goes quiet for that case.
func expectedResponseLength(req []byte) (length int, ok bool) {
	if len(req) < 2 {
		return 0, false
	}
	fc := req[1]
	switch fc {
	case codec.FuncReadCoils, codec.FuncReadDiscreteInputs:
		if len(req) < 6 {
			return 0, false
		}
		count := int(req[4])<<8 | int(req[5])
		byteCount := (count + 7) / 8
		return 3 + byteCount + 2, true
	case codec.FuncReadHoldingRegisters, codec.FuncReadInputRegisters:
		if len(req) < 6 {
			return 0, false
		}
		count := int(req[4])<<8 | int(req[5])
		return 3 + count*2 + 2, true
	case codec.FuncWriteSingleCoil, codec.FuncWriteSingleRegister, codec.FuncWriteMultipleRegs, 0x0F:
		// Single writes and multiple-write confirmations all echo a fixed
		// eight-byte frame: unit, fc, addr hi/lo, count-or-value hi/lo, CRC.
		return 8, true
	default:
		return 0, false
	}
}

func isExceptionResponse(err error, target **codec.ExceptionResponse) bool {
	if exc, ok := err.(*codec.ExceptionResponse); ok {
		*target = exc
		return true
	}
	if e, ok := err.(*codec.Error); ok && e.Wrapped != nil {
		return isExceptionResponse(e.Wrapped, target)
	}
	return false
}

func classifyCodecErr(err error) error {
	// Exception responses propagate as-is so the Device Identifier can
	// classify them as "present but unsupported function"; any other codec
	// violation propagates unwrapped as well (it is never a transport
	// fault).
	return err
}

// withCRC appends the Modbus RTU CRC16 to a PDU.
func withCRC(data []byte) []byte {
	crc := crc16(data)
	return append(append([]byte{}, data...), byte(crc&0xFF), byte(crc>>8))
}

func verifyCRC(frame []byte) bool {
	if len(frame) < 3 {
		return false
	}
	body := frame[:len(frame)-2]
	want := uint16(frame[len(frame)-2]) | uint16(frame[len(frame)-1])<<8
	return crc16(body) == want
}

// crc16 computes the standard Modbus CRC16 (poly 0xA001, init 0xFFFF).
func crc16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}
