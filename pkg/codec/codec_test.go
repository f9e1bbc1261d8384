package codec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildReadRequest(t *testing.T) {
	req, err := BuildReadRequest(0x11, FuncReadHoldingRegisters, 0x0000, 0x0001)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x11, 0x03, 0x00, 0x00, 0x00, 0x01}, req)
}

func TestBuildReadRequest_RejectsUnsupportedFC(t *testing.T) {
	_, err := BuildReadRequest(1, 0x99, 0, 1)
	assert.Error(t, err)
}

func TestBuildWriteRegisterRequest_Single(t *testing.T) {
	req, err := BuildWriteRegisterRequest(1, FuncWriteSingleRegister, 0x0010, []uint16{0x00C8})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x06, 0x00, 0x10, 0x00, 0xC8}, req)
}

func TestBuildWriteRegisterRequest_Multiple(t *testing.T) {
	req, err := BuildWriteRegisterRequest(1, FuncWriteMultipleRegs, 0x0000, []uint16{0x0001, 0x0002})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x10, 0x00, 0x00, 0x00, 0x02, 0x04, 0x00, 0x01, 0x00, 0x02}, req)
}

func TestBuildCoilRequest_SingleWrite(t *testing.T) {
	onReq, err := BuildCoilRequest(1, FuncWriteSingleCoil, 5, 0, true)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x05, 0x00, 0x05, 0xFF, 0x00}, onReq)

	offReq, err := BuildCoilRequest(1, FuncWriteSingleCoil, 5, 0, false)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x05, 0x00, 0x05, 0x00, 0x00}, offReq)
}

func TestParseRegisterReadResponse(t *testing.T) {
	resp := []byte{0x11, 0x03, 0x04, 0x00, 0x7B, 0x01, 0xC8}
	regs, err := ParseRegisterReadResponse(resp, 0x11, FuncReadHoldingRegisters)
	require.NoError(t, err)
	assert.Equal(t, []uint16{123, 456}, regs)
}

func TestParseRegisterReadResponse_ExceptionFrame(t *testing.T) {
	// fc 0x83 (0x03 | 0x80) with exception code 2.
	resp := []byte{0x11, 0x83, 0x02}
	_, err := ParseRegisterReadResponse(resp, 0x11, FuncReadHoldingRegisters)
	require.Error(t, err)

	var exc *ExceptionResponse
	require.True(t, errors.As(err, &exc))
	assert.Equal(t, byte(0x03), exc.FunctionCode)
	assert.Equal(t, byte(2), exc.Code)
}

func TestParseRegisterReadResponse_RejectsUnitIDMismatch(t *testing.T) {
	resp := []byte{0x02, 0x03, 0x02, 0x00, 0x01}
	_, err := ParseRegisterReadResponse(resp, 0x01, FuncReadHoldingRegisters)
	assert.Error(t, err)
}

func TestParseRegisterReadResponse_RejectsOddByteCount(t *testing.T) {
	resp := []byte{0x01, 0x03, 0x03, 0x00, 0x01, 0x02}
	_, err := ParseRegisterReadResponse(resp, 0x01, FuncReadHoldingRegisters)
	assert.Error(t, err)
}

func TestParseRegisterReadResponse_RejectsBadLength(t *testing.T) {
	resp := []byte{0x01, 0x03, 0x04, 0x00, 0x01}
	_, err := ParseRegisterReadResponse(resp, 0x01, FuncReadHoldingRegisters)
	assert.Error(t, err)
}

func TestParseCoilReadResponse(t *testing.T) {
	resp := []byte{0x01, 0x01, 0x01, 0x01}
	on, err := ParseCoilReadResponse(resp, 0x01, FuncReadCoils)
	require.NoError(t, err)
	assert.True(t, on)
}

func TestScaledUint16RoundTrip(t *testing.T) {
	for _, scale := range []float64{1, 10, 100, 1000} {
		for _, v := range []float64{0, 1, 24.5, 6553} {
			buf, err := WriteScaledUint16BE(v, scale)
			require.NoError(t, err)
			got, err := ReadScaledUint16BE(buf, 0, scale)
			require.NoError(t, err)
			want := float64(int64(v*scale)) / scale
			assert.InDelta(t, want, got, 1e-9)
		}
	}
}

func TestScaledInt16RoundTrip(t *testing.T) {
	for _, scale := range []float64{1, 10, 100, 1000} {
		for _, v := range []float64{-100, -0.5, 0, 17.25, 3000} {
			buf, err := WriteScaledInt16BE(v, scale)
			require.NoError(t, err)
			got, err := ReadScaledInt16BE(buf, 0, scale)
			require.NoError(t, err)
			want := float64(int64(v*scale)) / scale
			assert.InDelta(t, want, got, 1e-9)
		}
	}
}

func TestReadScaledUint16BE_Example(t *testing.T) {
	got, err := ReadScaledUint16BE([]byte{0x00, 0xF5}, 0, 10)
	require.NoError(t, err)
	assert.InDelta(t, 24.5, got, 1e-9)
}

func TestWriteScaledInt16BE_Example(t *testing.T) {
	buf, err := WriteScaledInt16BE(-5.0, 10)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xCE}, buf)
}

func TestWriteScaledUint16BE_Overflow(t *testing.T) {
	_, err := WriteScaledUint16BE(6553.6, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[0, 65535]")
}

func TestWriteScaledInt16BE_OverflowHigh(t *testing.T) {
	_, err := WriteScaledInt16BE(3276.8, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[-32768, 32767]")
}

func TestWriteScaledInt16BE_OverflowLow(t *testing.T) {
	_, err := WriteScaledInt16BE(-3276.9, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[-32768, 32767]")
}

func TestWriteScaledInt16BE_TruncatesTowardZero(t *testing.T) {
	pos, err := WriteScaledInt16BE(10.9, 10)
	require.NoError(t, err)
	assert.Equal(t, int16(109), int16(pos[0])<<8|int16(pos[1]))

	neg, err := WriteScaledInt16BE(-10.9, 10)
	require.NoError(t, err)
	v := int16(uint16(neg[0])<<8 | uint16(neg[1]))
	assert.Equal(t, int16(-109), v)
}

func TestWrite_RejectsNonFinite(t *testing.T) {
	_, err := WriteScaledUint16BE(posInf(), 10)
	assert.Error(t, err)
	_, err = WriteScaledUint16BE(negInf(), 10)
	assert.Error(t, err)
	_, err = WriteScaledUint16BE(nan(), 10)
	assert.Error(t, err)
}

func TestRead_RejectsNonFiniteScale(t *testing.T) {
	_, err := ReadScaledUint16BE([]byte{0, 1}, 0, posInf())
	assert.Error(t, err)
	_, err = ReadScaledUint16BE([]byte{0, 1}, 0, nan())
	assert.Error(t, err)
}

func TestRead_RejectsNonPositiveScale(t *testing.T) {
	_, err := ReadScaledUint16BE([]byte{0, 1}, 0, 0)
	assert.Error(t, err)
	_, err = ReadScaledUint16BE([]byte{0, 1}, 0, -1)
	assert.Error(t, err)
}

func posInf() float64 { return 1.0 / zero() }
func negInf() float64 { return -1.0 / zero() }
func nan() float64     { return zero() / zero() }
func zero() float64    { return 0 }
