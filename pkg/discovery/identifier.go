package discovery

import (
	"context"
	"errors"
	"time"

	"github.com/edgeflow/modbus-toolkit/pkg/codec"
	"github.com/edgeflow/modbus-toolkit/pkg/transport"
)

// AbsentReason classifies why a probed address produced no device.
type AbsentReason string

const (
	ReasonTimeout AbsentReason = "timeout"
	ReasonCRC     AbsentReason = "crc_error"
	ReasonConnect AbsentReason = "connect_error"
	ReasonOther   AbsentReason = "other"
)

// Identification is the sum-type result of probing one slave address:
// exactly one of Present or (!Present) applies.
type Identification struct {
	Present       bool
	ResponseTime  time.Duration
	SupportsFC43  bool
	SupportsFC03  bool
	Vendor        string
	ProductCode   string
	Model         string
	Revision      string
	ExceptionCode byte
	HasException  bool

	AbsentReason AbsentReason
}

const (
	objVendorName   byte = 0x00
	objProductCode  byte = 0x01
	objRevision     byte = 0x02
	fc04RegisterOne uint16 = 1
	fc04RegisterZero uint16 = 0
	fc03RegisterZero uint16 = 0
)

// classify ranks an error into an AbsentReason using the precedence
// ConnectError > Timeout > CRC > Other. Exception responses are never
// passed here — callers must special-case them before classifying.
func classify(err error) AbsentReason {
	var connectErr *transport.ConnectError
	var timeoutErr *transport.TimeoutError
	var crcErr *transport.CRCError
	switch {
	case errors.As(err, &connectErr):
		return ReasonConnect
	case errors.As(err, &timeoutErr):
		return ReasonTimeout
	case errors.As(err, &crcErr):
		return ReasonCRC
	default:
		return ReasonOther
	}
}

func worse(a, b AbsentReason) AbsentReason {
	rank := map[AbsentReason]int{ReasonConnect: 3, ReasonTimeout: 2, ReasonCRC: 1, ReasonOther: 0}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// Identify runs the four-level cascade against handle, which must already
// carry the timeout to apply for the whole cascade. The client timeout is
// set once by the caller before Identify runs; Identify itself only issues
// requests.
func Identify(ctx context.Context, handle *transport.SlaveHandle) Identification {
	start := time.Now()
	result, worstReason := identifyCascade(ctx, handle)
	result.ResponseTime = time.Since(start)
	if !result.Present {
		result.AbsentReason = worstReason
	}
	return result
}

func identifyCascade(ctx context.Context, handle *transport.SlaveHandle) (Identification, AbsentReason) {
	worstReason := AbsentReason("")
	result := Identification{}

	// Step 1: FC43, object VendorName.
	if handle.SupportsFC43() {
		fields, err := handle.ReadDeviceIdentification(ctx, objVendorName)
		if err == nil {
			result.Present = true
			result.SupportsFC43 = true
			result.Vendor = fields[objVendorName]
			result.ProductCode = fields[objProductCode]
			result.Revision = fields[objRevision]
			return result, ""
		}
		var fc43Exception *transport.ExceptionError
		if errors.As(err, &fc43Exception) {
			// present but rejected FC43; characterize further via FC04/FC03.
			result.Present = true
			result.SupportsFC43 = false
			result.HasException = true
			result.ExceptionCode = fc43Exception.Code
		} else {
			worstReason = worse(worstReason, classify(err))
			// timeout/CRC/other: fall through to step 2.
		}
	}

	// Step 2: FC04 @ register 1.
	_, err := handle.ReadInputRegisters(ctx, uint16(fc04RegisterOne), 1)
	if err == nil {
		result.Present = true
		return result, ""
	}
	var exception *codec.ExceptionResponse
	if errors.As(err, &exception) {
		// some devices expose input registers starting at 0; try step 3.
	} else {
		reason := classify(err)
		worstReason = worse(worstReason, reason)
		return result, worstReason
	}

	// Step 3: FC04 @ register 0.
	_, err = handle.ReadInputRegisters(ctx, uint16(fc04RegisterZero), 1)
	if err == nil {
		result.Present = true
		return result, ""
	}
	if errors.As(err, &exception) {
		// exception here is not yet terminal; FC03 is the cascade's last,
		// most informative step, so fall through and let it characterize
		// the device instead.
	} else {
		reason := classify(err)
		worstReason = worse(worstReason, reason)
		return result, worstReason
	}

	// Step 4: FC03 @ register 0.
	_, err = handle.ReadHoldingRegisters(ctx, uint16(fc03RegisterZero), 1)
	if err == nil {
		result.Present = true
		result.SupportsFC03 = true
		return result, ""
	}
	if errors.As(err, &exception) {
		result.Present = true
		result.SupportsFC03 = false
		result.HasException = true
		result.ExceptionCode = exception.Code
		return result, ""
	}
	reason := classify(err)
	worstReason = worse(worstReason, reason)

	return result, worstReason
}
