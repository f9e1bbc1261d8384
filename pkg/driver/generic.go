package driver

import (
	"context"
	"fmt"

	"github.com/edgeflow/modbus-toolkit/pkg/codec"
)

// GenericDriver reads and writes data points directly against the register
// map in its catalog. It exists so the registry always has at least one
// working Factory and so cmd/modbus-scan can demonstrate a read/write round
// trip without a plugin; it makes no device-specific assumptions.
type GenericDriver struct {
	transport  Transport
	dataPoints map[string]DataPoint
	catalog    []DataPoint
}

// NewGenericFactory returns a Factory producing GenericDrivers over the
// given data point catalog. device.Config is accepted for interface
// symmetry with Factory but unused: the catalog is fixed at registration.
func NewGenericFactory(points []DataPoint) Factory {
	return func(t Transport, device Device) (Driver, error) {
		byID := make(map[string]DataPoint, len(points))
		for _, p := range points {
			byID[p.ID] = p
		}
		return &GenericDriver{transport: t, dataPoints: byID, catalog: points}, nil
	}
}

func (d *GenericDriver) Initialize(ctx context.Context) error { return nil }
func (d *GenericDriver) Destroy(ctx context.Context) error    { return nil }

func (d *GenericDriver) DataPoints() []DataPoint { return d.catalog }

func (d *GenericDriver) DefaultConfig() map[string]interface{} {
	return map[string]interface{}{}
}

func (d *GenericDriver) SupportedConfig() map[string]interface{} {
	return map[string]interface{}{}
}

func (d *GenericDriver) ReadDataPoint(ctx context.Context, id string) (interface{}, error) {
	p, ok := d.dataPoints[id]
	if !ok {
		return nil, fmt.Errorf("driver: unknown data point %q", id)
	}
	if p.Access == AccessWrite {
		return nil, fmt.Errorf("driver: data point %q is write-only", id)
	}

	switch p.Register {
	case RegisterCoil:
		raw, err := d.transport.ReadCoils(ctx, p.Address, 1)
		if err != nil {
			return nil, err
		}
		return decodeBit(raw), nil
	case RegisterDiscrete:
		raw, err := d.transport.ReadDiscreteInputs(ctx, p.Address, 1)
		if err != nil {
			return nil, err
		}
		return decodeBit(raw), nil
	case RegisterInput:
		raw, err := d.transport.ReadInputRegisters(ctx, p.Address, registerWidth(p.Type))
		if err != nil {
			return nil, err
		}
		return decodeScaled(p, raw)
	default:
		raw, err := d.transport.ReadHoldingRegisters(ctx, p.Address, registerWidth(p.Type))
		if err != nil {
			return nil, err
		}
		return decodeScaled(p, raw)
	}
}

func (d *GenericDriver) WriteDataPoint(ctx context.Context, id string, value interface{}) error {
	p, ok := d.dataPoints[id]
	if !ok {
		return fmt.Errorf("driver: unknown data point %q", id)
	}
	if p.Access == AccessRead {
		return fmt.Errorf("driver: data point %q is read-only", id)
	}

	if p.Register == RegisterCoil {
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("driver: data point %q expects a bool, got %T", id, value)
		}
		return d.transport.WriteSingleCoil(ctx, p.Address, b)
	}

	f, err := toFloat64(value)
	if err != nil {
		return fmt.Errorf("driver: data point %q: %w", id, err)
	}

	switch p.Type {
	case TypeUint32:
		return fmt.Errorf("driver: data point %q: 32-bit write requires WriteMultipleRegisters encoding, not yet supported for a single-value write", id)
	case TypeInt16:
		buf, err := codec.WriteScaledInt16BE(f, scaleOrOne(p.Scale))
		if err != nil {
			return err
		}
		return d.transport.WriteSingleRegister(ctx, p.Address, uint16(buf[0])<<8|uint16(buf[1]))
	default:
		buf, err := codec.WriteScaledUint16BE(f, scaleOrOne(p.Scale))
		if err != nil {
			return err
		}
		return d.transport.WriteSingleRegister(ctx, p.Address, uint16(buf[0])<<8|uint16(buf[1]))
	}
}

func (d *GenericDriver) ReadDataPoints(ctx context.Context, ids []string) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(ids))
	for _, id := range ids {
		v, err := d.ReadDataPoint(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("driver: reading %q: %w", id, err)
		}
		out[id] = v
	}
	return out, nil
}

func registerWidth(t DataType) uint16 {
	if t == TypeUint32 {
		return 2
	}
	return 1
}

func scaleOrOne(scale float64) float64 {
	if scale <= 0 {
		return 1
	}
	return scale
}

func decodeBit(raw []byte) bool {
	return len(raw) > 0 && raw[0]&0x01 != 0
}

func decodeScaled(p DataPoint, raw []byte) (float64, error) {
	scale := scaleOrOne(p.Scale)
	switch p.Type {
	case TypeInt16:
		return codec.ReadScaledInt16BE(raw, 0, scale)
	case TypeUint32:
		return codec.ReadScaledUint32BE(raw, 0, scale)
	default:
		return codec.ReadScaledUint16BE(raw, 0, scale)
	}
}

func toFloat64(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint16:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("unsupported value type %T", value)
	}
}
