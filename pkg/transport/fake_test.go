package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// fakeClient is a BusClient test double that records call intervals and
// can simulate connect failures or per-operation latency, without touching
// real hardware.
type fakeClient struct {
	name       string
	connectErr error
	opDelay    time.Duration
	closeCount int32

	mu          sync.Mutex
	slaveID     byte
	setSlaveLog []byte
	intervals   []interval
}

type interval struct {
	start, end time.Time
	slaveID    byte
}

func newFakeClient(name string) *fakeClient { return &fakeClient{name: name} }

func (f *fakeClient) Connect(ctx context.Context) error { return f.connectErr }

func (f *fakeClient) SetSlave(id byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slaveID = id
	f.setSlaveLog = append(f.setSlaveLog, id)
}

func (f *fakeClient) SetTimeout(d time.Duration) {}

func (f *fakeClient) do() {
	f.mu.Lock()
	slave := f.slaveID
	f.mu.Unlock()

	start := time.Now()
	if f.opDelay > 0 {
		time.Sleep(f.opDelay)
	}
	end := time.Now()

	f.mu.Lock()
	f.intervals = append(f.intervals, interval{start: start, end: end, slaveID: slave})
	f.mu.Unlock()
}

func (f *fakeClient) ReadHoldingRegisters(ctx context.Context, addr, count uint16) ([]byte, error) {
	f.do()
	return make([]byte, int(count)*2), nil
}
func (f *fakeClient) ReadInputRegisters(ctx context.Context, addr, count uint16) ([]byte, error) {
	f.do()
	return make([]byte, int(count)*2), nil
}
func (f *fakeClient) ReadCoils(ctx context.Context, addr, count uint16) ([]byte, error) {
	f.do()
	return []byte{0}, nil
}
func (f *fakeClient) ReadDiscreteInputs(ctx context.Context, addr, count uint16) ([]byte, error) {
	f.do()
	return []byte{0}, nil
}
func (f *fakeClient) WriteSingleRegister(ctx context.Context, addr, value uint16) error {
	f.do()
	return nil
}
func (f *fakeClient) WriteSingleCoil(ctx context.Context, addr uint16, value bool) error {
	f.do()
	return nil
}
func (f *fakeClient) WriteMultipleRegisters(ctx context.Context, addr uint16, data []byte) error {
	f.do()
	return nil
}
func (f *fakeClient) WriteMultipleCoils(ctx context.Context, addr uint16, count uint16, data []byte) error {
	f.do()
	return nil
}

func (f *fakeClient) Close() error {
	atomic.AddInt32(&f.closeCount, 1)
	return nil
}

func (f *fakeClient) snapshotIntervals() []interval {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]interval, len(f.intervals))
	copy(out, f.intervals)
	return out
}

// overlaps reports whether any two recorded intervals overlap in time.
func overlaps(intervals []interval) bool {
	for i := range intervals {
		for j := range intervals {
			if i == j {
				continue
			}
			if intervals[i].start.Before(intervals[j].end) && intervals[j].start.Before(intervals[i].end) {
				return true
			}
		}
	}
	return false
}
