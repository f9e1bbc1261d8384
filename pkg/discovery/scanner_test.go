package discovery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeflow/modbus-toolkit/pkg/codec"
	"github.com/edgeflow/modbus-toolkit/pkg/transport"
)

// fakeScanBus is a BusClient whose FC04 steps always answer with an
// exception (so every probe falls through to FC03@0), which succeeds only
// for slave addresses in present and times out otherwise. It has no FC43 support, matching the common case exercised
// by the scanner-level tests.
type fakeScanBus struct {
	mu      sync.Mutex
	slaveID byte
	present map[byte]bool
	delay   time.Duration
}

func (b *fakeScanBus) Connect(ctx context.Context) error { return nil }
func (b *fakeScanBus) SetSlave(id byte) {
	b.mu.Lock()
	b.slaveID = id
	b.mu.Unlock()
}
func (b *fakeScanBus) SetTimeout(d time.Duration) {}
func (b *fakeScanBus) Close() error                { return nil }

// ReadInputRegisters always reports "function not supported" so FC04's two
// cascade steps fall through to FC03, which is where present/absent is
// actually decided for this fake.
func (b *fakeScanBus) ReadInputRegisters(ctx context.Context, addr, count uint16) ([]byte, error) {
	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	return nil, &codec.ExceptionResponse{FunctionCode: 0x04, Code: 1}
}

func (b *fakeScanBus) ReadHoldingRegisters(ctx context.Context, addr, count uint16) ([]byte, error) {
	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	if b.present[b.currentSlave()] {
		return []byte{0, 0}, nil
	}
	return nil, &transport.TimeoutError{SlaveID: b.currentSlave()}
}

func (b *fakeScanBus) currentSlave() byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.slaveID
}

func (b *fakeScanBus) ReadCoils(ctx context.Context, addr, count uint16) ([]byte, error) { return nil, nil }
func (b *fakeScanBus) ReadDiscreteInputs(ctx context.Context, addr, count uint16) ([]byte, error) {
	return nil, nil
}
func (b *fakeScanBus) WriteSingleRegister(ctx context.Context, addr, value uint16) error { return nil }
func (b *fakeScanBus) WriteSingleCoil(ctx context.Context, addr uint16, value bool) error { return nil }
func (b *fakeScanBus) WriteMultipleRegisters(ctx context.Context, addr uint16, data []byte) error {
	return nil
}
func (b *fakeScanBus) WriteMultipleCoils(ctx context.Context, addr, count uint16, data []byte) error {
	return nil
}

func newTestScanner(connectFail func(serial transport.SerialParams) bool, present map[byte]bool, delay time.Duration) *Scanner {
	s := NewScanner(nil)
	s.openBusClient = func(ctx context.Context, port string, serial transport.SerialParams, timeout time.Duration) (*transport.MutexWrapper, error) {
		if connectFail != nil && connectFail(serial) {
			return nil, &transport.ConnectError{Wrapped: assert.AnError}
		}
		return transport.NewMutexWrapper(&fakeScanBus{present: present, delay: delay}), nil
	}
	return s
}

func TestScanner_MaxDevicesStopsAfterN(t *testing.T) {
	present := map[byte]bool{1: true, 2: true, 3: true, 4: true, 5: true}
	s := newTestScanner(nil, present, 0)

	cfg := Config{Strategy: StrategyQuick, Supported: &SupportedConfig{Addresses: &AddressRange{Min: 1, Max: 5}}}
	probeCount := 0
	devices := s.Scan(context.Background(), cfg, ScanOptions{
		MaxDevices: 2,
		OnProgress: func(current, total, found int) {
			probeCount = current
		},
	})

	assert.Len(t, devices, 2)
	assert.Equal(t, 2, probeCount)
}

func TestScanner_GroupBoundaryStop(t *testing.T) {
	present := map[byte]bool{1: true, 2: true, 3: true, 4: true, 5: true}
	opened := 0
	s := NewScanner(nil)
	s.openBusClient = func(ctx context.Context, port string, serial transport.SerialParams, timeout time.Duration) (*transport.MutexWrapper, error) {
		opened++
		return transport.NewMutexWrapper(&fakeScanBus{present: present}), nil
	}

	cfg := Config{
		Strategy: StrategyQuick,
		Supported: &SupportedConfig{
			BaudRates: []int{9600, 19200},
			Parities:  []transport.Parity{transport.ParityNone},
			DataBits:  []int{8},
			StopBits:  []int{1},
			Addresses: &AddressRange{Min: 1, Max: 5},
		},
	}
	devices := s.Scan(context.Background(), cfg, ScanOptions{MaxDevices: 3})

	assert.Len(t, devices, 3)
	assert.Equal(t, 1, opened, "must never open the second baud group once max_devices is reached")
}

func TestScanner_ConnectFailureSkipsGroup(t *testing.T) {
	present := map[byte]bool{}
	connectFail := func(serial transport.SerialParams) bool { return serial.BaudRate == 9600 }
	s := newTestScanner(connectFail, present, 0)

	cfg := Config{
		Strategy: StrategyQuick,
		Supported: &SupportedConfig{
			BaudRates: []int{9600, 19200},
			Parities:  []transport.Parity{transport.ParityNone},
			DataBits:  []int{8},
			StopBits:  []int{1},
			Addresses: &AddressRange{Min: 1, Max: 2},
		},
	}

	var progressSnapshots [][3]int
	devices := s.Scan(context.Background(), cfg, ScanOptions{
		OnProgress: func(current, total, found int) {
			progressSnapshots = append(progressSnapshots, [3]int{current, total, found})
		},
	})

	assert.Empty(t, devices)
	require.NotEmpty(t, progressSnapshots)
	assert.Equal(t, [3]int{2, 4, 0}, progressSnapshots[0], "skipped group must advance progress by its full size in one event")
	assert.Equal(t, [3]int{4, 4, 0}, progressSnapshots[len(progressSnapshots)-1])
}

func TestScanner_DelayAccounting_NotFoundPair(t *testing.T) {
	present := map[byte]bool{}
	s := newTestScanner(nil, present, 0)

	cfg := Config{
		Strategy: StrategyQuick,
		Supported: &SupportedConfig{
			BaudRates: []int{9600},
			Parities:  []transport.Parity{transport.ParityNone},
			DataBits:  []int{8},
			StopBits:  []int{1},
			Addresses: &AddressRange{Min: 1, Max: 2},
		},
	}

	start := time.Now()
	s.Scan(context.Background(), cfg, ScanOptions{Timeout: 10 * time.Millisecond, DelayMS: 50})
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 80*time.Millisecond)
}

func TestScanner_DelayAccounting_NoPostHitDelayWhenStopping(t *testing.T) {
	present := map[byte]bool{1: true}
	s := newTestScanner(nil, present, 0)

	cfg := Config{
		Strategy: StrategyQuick,
		Supported: &SupportedConfig{
			BaudRates: []int{9600},
			Parities:  []transport.Parity{transport.ParityNone},
			DataBits:  []int{8},
			StopBits:  []int{1},
			Addresses: &AddressRange{Min: 1, Max: 2},
		},
	}

	start := time.Now()
	devices := s.Scan(context.Background(), cfg, ScanOptions{Timeout: 1000 * time.Millisecond, DelayMS: 50, MaxDevices: 1})
	elapsed := time.Since(start)

	require.Len(t, devices, 1)
	assert.Less(t, elapsed, 50*time.Millisecond)
}

func TestScanner_QuickScanSingleDeviceScenario(t *testing.T) {
	present := map[byte]bool{52: true}
	s := NewScanner(nil)
	s.openBusClient = func(ctx context.Context, port string, serial transport.SerialParams, timeout time.Duration) (*transport.MutexWrapper, error) {
		if serial.BaudRate != 9600 || serial.Parity != transport.ParityNone {
			return nil, &transport.ConnectError{Wrapped: assert.AnError}
		}
		return transport.NewMutexWrapper(&fakeScanBus{present: present}), nil
	}

	cfg := Config{
		Strategy: StrategyQuick,
		Supported: &SupportedConfig{
			BaudRates: []int{9600},
			Parities:  []transport.Parity{transport.ParityNone},
			DataBits:  []int{8},
			StopBits:  []int{1},
		},
	}

	var found []Device
	probes := 0
	devices := s.Scan(context.Background(), cfg, ScanOptions{
		MaxDevices: 1,
		OnDeviceFound: func(d Device) {
			found = append(found, d)
		},
		OnProgress: func(current, total, devicesFound int) { probes = current },
	})

	require.Len(t, devices, 1)
	require.Len(t, found, 1)
	assert.Equal(t, byte(52), devices[0].Combination.Slave)
	assert.Equal(t, 9600, devices[0].Combination.Serial.BaudRate)
	assert.LessOrEqual(t, probes, 52)
}
