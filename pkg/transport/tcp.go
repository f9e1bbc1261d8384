package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/edgeflow/modbus-toolkit/pkg/codec"
)

// TCPConfig configures a TCP Bus Client. Framing follows the MBAP header
// (transaction id, protocol id, length, unit id) ahead of the same PDU the
// RTU client builds; there is no CRC on the wire.
type TCPConfig struct {
	Host       string
	Port       int
	Timeout    time.Duration
	DialTimeout time.Duration
}

type tcpClient struct {
	cfg     TCPConfig
	conn    net.Conn
	slaveID byte
	timeout time.Duration
	txID    uint32
}

// NewTCPClient constructs an unconnected TCP Bus Client.
func NewTCPClient(cfg TCPConfig) BusClient {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	return &tcpClient{cfg: cfg, timeout: cfg.Timeout}
}

func (c *tcpClient) Connect(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	d := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &ConnectError{BusKey: NewTCPKey(c.cfg.Host, c.cfg.Port), Wrapped: err}
	}
	c.conn = conn
	return nil
}

func (c *tcpClient) SetSlave(id byte) { c.slaveID = id }

func (c *tcpClient) SetTimeout(d time.Duration) { c.timeout = d }

func (c *tcpClient) Close() error {
	if c.conn == nil {
		return nil
	}
	conn := c.conn
	c.conn = nil
	return conn.Close()
}

func (c *tcpClient) ReadHoldingRegisters(ctx context.Context, addr, count uint16) ([]byte, error) {
	return c.readRegisters(ctx, codec.FuncReadHoldingRegisters, addr, count)
}

func (c *tcpClient) ReadInputRegisters(ctx context.Context, addr, count uint16) ([]byte, error) {
	return c.readRegisters(ctx, codec.FuncReadInputRegisters, addr, count)
}

func (c *tcpClient) readRegisters(ctx context.Context, fc byte, addr, count uint16) ([]byte, error) {
	req, err := codec.BuildReadRequest(c.slaveID, fc, addr, count)
	if err != nil {
		return nil, err
	}
	resp, err := c.roundTrip(req)
	if err != nil {
		return nil, err
	}
	regs, err := codec.ParseRegisterReadResponse(resp, c.slaveID, fc)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(regs)*2)
	for i, r := range regs {
		out[i*2] = byte(r >> 8)
		out[i*2+1] = byte(r)
	}
	return out, nil
}

func (c *tcpClient) ReadCoils(ctx context.Context, addr, count uint16) ([]byte, error) {
	return c.readBits(ctx, codec.FuncReadCoils, addr, count)
}

func (c *tcpClient) ReadDiscreteInputs(ctx context.Context, addr, count uint16) ([]byte, error) {
	return c.readBits(ctx, codec.FuncReadDiscreteInputs, addr, count)
}

func (c *tcpClient) readBits(ctx context.Context, fc byte, addr, count uint16) ([]byte, error) {
	req, err := codec.BuildReadRequest(c.slaveID, fc, addr, count)
	if err != nil {
		return nil, err
	}
	resp, err := c.roundTrip(req)
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

func (c *tcpClient) WriteSingleRegister(ctx context.Context, addr uint16, value uint16) error {
	req, err := codec.BuildWriteRegisterRequest(c.slaveID, codec.FuncWriteSingleRegister, addr, []uint16{value})
	if err != nil {
		return err
	}
	_, err = c.roundTrip(req)
	return err
}

func (c *tcpClient) WriteSingleCoil(ctx context.Context, addr uint16, value bool) error {
	req, err := codec.BuildCoilRequest(c.slaveID, codec.FuncWriteSingleCoil, addr, 0, value)
	if err != nil {
		return err
	}
	_, err = c.roundTrip(req)
	return err
}

func (c *tcpClient) WriteMultipleRegisters(ctx context.Context, addr uint16, data []byte) error {
	values := make([]uint16, len(data)/2)
	for i := range values {
		values[i] = uint16(data[i*2])<<8 | uint16(data[i*2+1])
	}
	req, err := codec.BuildWriteRegisterRequest(c.slaveID, codec.FuncWriteMultipleRegs, addr, values)
	if err != nil {
		return err
	}
	_, err = c.roundTrip(req)
	return err
}

func (c *tcpClient) WriteMultipleCoils(ctx context.Context, addr uint16, count uint16, data []byte) error {
	req := codec.BuildWriteMultipleCoilsRequest(c.slaveID, addr, count, data)
	_, err := c.roundTrip(req)
	return err
}

// roundTrip wraps the PDU in an MBAP header, writes it, and reads back a
// framed response. TCP has no CRC and no half-duplex constraint, but the
// client still permits only one outstanding request (enforced by the Mutex
// Wrapper above it).
func (c *tcpClient) roundTrip(pdu []byte) ([]byte, error) {
	txID := uint16(atomic.AddUint32(&c.txID, 1))

	header := make([]byte, 7)
	binary.BigEndian.PutUint16(header[0:2], txID)
	binary.BigEndian.PutUint16(header[2:4], 0) // protocol id, always 0 for Modbus
	binary.BigEndian.PutUint16(header[4:6], uint16(len(pdu)))
	header[6] = c.slaveID

	frame := append(header, pdu[1:]...) // drop the PDU's own leading unit id; MBAP carries it

	if c.timeout > 0 {
		_ = c.conn.SetDeadline(time.Now().Add(c.timeout))
	}
	if _, err := c.conn.Write(frame); err != nil {
		return nil, fmt.Errorf("transport: write failed: %w", err)
	}

	respHeader := make([]byte, 7)
	if _, err := readFull(c.conn, respHeader); err != nil {
		return nil, &TimeoutError{BusKey: NewTCPKey(c.cfg.Host, c.cfg.Port), SlaveID: c.slaveID}
	}
	length := binary.BigEndian.Uint16(respHeader[4:6])
	if length == 0 {
		return nil, fmt.Errorf("transport: zero-length MBAP response")
	}
	body := make([]byte, length-1)
	if len(body) > 0 {
		if _, err := readFull(c.conn, body); err != nil {
			return nil, &TimeoutError{BusKey: NewTCPKey(c.cfg.Host, c.cfg.Port), SlaveID: c.slaveID}
		}
	}

	// Reconstitute a PDU-shaped buffer (unit id + function code + payload)
	// so callers can reuse the same codec parsers as the RTU client.
	return append([]byte{respHeader[6]}, body...), nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
