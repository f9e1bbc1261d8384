// Package driver defines the capability interface that device-specific
// drivers implement on top of a transport, plus a small in-process registry
// so higher layers can look a driver up by name without knowing its
// concrete type. It does not know about any specific device's register
// map — that is supplied by whatever registers a Factory.
package driver

import (
	"context"
	"fmt"
	"sync"
)

// RegisterKind names which Modbus table a data point lives in.
type RegisterKind string

const (
	RegisterHolding  RegisterKind = "holding"
	RegisterInput    RegisterKind = "input"
	RegisterCoil     RegisterKind = "coil"
	RegisterDiscrete RegisterKind = "discrete"
)

// DataType names how a data point's raw register bytes are interpreted.
type DataType string

const (
	TypeUint16 DataType = "uint16"
	TypeInt16  DataType = "int16"
	TypeUint32 DataType = "uint32"
	TypeBool   DataType = "bool"
)

// Access restricts which operations a data point permits.
type Access string

const (
	AccessRead      Access = "read"
	AccessWrite     Access = "write"
	AccessReadWrite Access = "readwrite"
)

// DataPoint describes one addressable value a driver exposes.
type DataPoint struct {
	ID       string
	Name     string
	Register RegisterKind
	Address  uint16
	Type     DataType
	Scale    float64
	Access   Access
}

// Transport is the subset of Bus Client operations a driver needs. A
// *transport.SlaveHandle satisfies it directly; drivers never import
// pkg/transport's pooling machinery, only this narrow capability.
type Transport interface {
	ReadHoldingRegisters(ctx context.Context, addr, count uint16) ([]byte, error)
	ReadInputRegisters(ctx context.Context, addr, count uint16) ([]byte, error)
	ReadCoils(ctx context.Context, addr, count uint16) ([]byte, error)
	ReadDiscreteInputs(ctx context.Context, addr, count uint16) ([]byte, error)
	WriteSingleRegister(ctx context.Context, addr, value uint16) error
	WriteSingleCoil(ctx context.Context, addr uint16, value bool) error
	WriteMultipleRegisters(ctx context.Context, addr uint16, data []byte) error
	WriteMultipleCoils(ctx context.Context, addr, count uint16, data []byte) error
}

// Driver reads and writes a device's data points over a Transport. Device
// schemas (which data points exist, at which addresses) are plugin-supplied;
// this package only contracts the shape.
type Driver interface {
	// Initialize runs once before the first read/write, e.g. to prime
	// cached state. Drivers with nothing to prime may no-op.
	Initialize(ctx context.Context) error

	// Destroy releases any driver-held resources. It never closes the
	// Transport; the Transport Manager owns that lifecycle.
	Destroy(ctx context.Context) error

	ReadDataPoint(ctx context.Context, id string) (interface{}, error)
	WriteDataPoint(ctx context.Context, id string, value interface{}) error
	ReadDataPoints(ctx context.Context, ids []string) (map[string]interface{}, error)

	DataPoints() []DataPoint
	DefaultConfig() map[string]interface{}
	SupportedConfig() map[string]interface{}
}

// Device identifies which slave on which transport a driver instance talks
// to, plus whatever device-specific configuration a Factory needs.
type Device struct {
	SlaveID byte
	Config  map[string]interface{}
}

// Factory builds a Driver bound to one transport/device pair.
type Factory func(transport Transport, device Device) (Driver, error)

// Registry is a thread-safe, name-keyed collection of driver Factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds factory under name, replacing any prior registration.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create looks up name and invokes its Factory with transport/device.
func (r *Registry) Create(name string, transport Transport, device Device) (Driver, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("driver: no factory registered for %q", name)
	}
	return factory(transport, device)
}

// Names returns the registered driver names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}
