package discovery

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edgeflow/modbus-toolkit/pkg/transport"
)

// TestStatus is the state a probe passes through, reported via
// ScanOptions.OnTestAttempt before and after the identification runs.
type TestStatus string

const (
	StatusTesting  TestStatus = "testing"
	StatusFound    TestStatus = "found"
	StatusNotFound TestStatus = "not-found"
)

// Device pairs a Parameter Combination with its (always Present)
// Identification.
type Device struct {
	Combination    Combination
	Identification Identification
}

// ScanOptions configures one run of Scan.
type ScanOptions struct {
	Port       string
	Timeout    time.Duration
	DelayMS    int
	MaxDevices int // 0 = unlimited
	Verbose    bool

	// ScanID correlates every log line emitted by one Scan call. Callers may
	// set it (e.g. to tie a scan to an incoming request); left empty, Scan
	// stamps a fresh one.
	ScanID string

	OnProgress    func(current, total, devicesFound int)
	OnDeviceFound func(Device)
	OnTestAttempt func(Combination, TestStatus)

	Logger *zap.Logger
}

// openBusClientFunc opens the shared Bus Client for one parameter group.
// Overridable by tests so the scanner can be driven without real hardware.
type openBusClientFunc func(ctx context.Context, port string, serial transport.SerialParams, timeout time.Duration) (*transport.MutexWrapper, error)

// Scanner runs the Parameter Generator's combinations through
// openBusClient and Identify, reporting devices as they are found.
type Scanner struct {
	openBusClient openBusClientFunc
	log           *zap.Logger
}

// NewScanner builds a Scanner that opens real RTU connections. Discovery
// uses a single retry attempt so cascade latency stays predictable; general
// Transport Manager callers default to three.
func NewScanner(log *zap.Logger) *Scanner {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Scanner{log: log}
	s.openBusClient = s.openRealBusClient
	return s
}

func (s *Scanner) openRealBusClient(ctx context.Context, port string, serial transport.SerialParams, timeout time.Duration) (*transport.MutexWrapper, error) {
	client := transport.NewRTUClient(transport.RTUConfig{
		Port:       port,
		Serial:     serial,
		Timeout:    timeout,
		MaxRetries: 1,
	})
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return transport.NewMutexWrapper(client), nil
}

func noop(current, total, found int)          {}
func noopDevice(Device)                       {}
func noopAttempt(Combination, TestStatus)      {}

// Scan runs the full generator configuration against opts, returning every
// discovered device. It guarantees the Bus Client for a group is closed
// exactly once before moving to the next group, whether the group
// succeeded, failed, or hit max_devices mid-group.
func (s *Scanner) Scan(ctx context.Context, genCfg Config, opts ScanOptions) []Device {
	onProgress := opts.OnProgress
	if onProgress == nil {
		onProgress = noop
	}
	onDeviceFound := opts.OnDeviceFound
	if onDeviceFound == nil {
		onDeviceFound = noopDevice
	}
	onTestAttempt := opts.OnTestAttempt
	if onTestAttempt == nil {
		onTestAttempt = noopAttempt
	}

	scanID := opts.ScanID
	if scanID == "" {
		scanID = uuid.New().String()
	}
	scanLog := s.log.With(zap.String("scan_id", scanID))

	total := CountCombinations(genCfg)
	current := 0
	var discovered []Device

	scanLog.Info("scan started", zap.Int("total_combinations", total), zap.String("strategy", string(genCfg.Strategy)))

	for _, group := range EnumerateGroups(genCfg) {
		if opts.MaxDevices > 0 && len(discovered) >= opts.MaxDevices {
			break
		}

		client, err := s.openBusClient(ctx, opts.Port, group.Serial, opts.Timeout)
		if err != nil {
			if opts.Verbose {
				scanLog.Warn("skipping parameter group: connect failed",
					zap.String("port", opts.Port), zap.String("serial", group.Serial.String()), zap.Error(err))
			}
			current += len(group.Addresses)
			onProgress(current, total, len(discovered))
			continue
		}

		s.runGroup(ctx, group, client, opts, &current, total, &discovered, onProgress, onDeviceFound, onTestAttempt)
	}

	scanLog.Info("scan finished", zap.Int("devices_found", len(discovered)))
	return discovered
}

func (s *Scanner) runGroup(
	ctx context.Context,
	group Group,
	client *transport.MutexWrapper,
	opts ScanOptions,
	current *int,
	total int,
	discovered *[]Device,
	onProgress func(int, int, int),
	onDeviceFound func(Device),
	onTestAttempt func(Combination, TestStatus),
) {
	defer client.Close()

	for _, addr := range group.Addresses {
		if opts.MaxDevices > 0 && len(*discovered) >= opts.MaxDevices {
			break
		}

		combination := Combination{Serial: group.Serial, Slave: addr}
		onTestAttempt(combination, StatusTesting)

		slaveHandle := transport.NewSlaveHandle(client, addr, opts.Timeout)
		result := identifySafely(ctx, slaveHandle)

		if result.Present {
			device := Device{Combination: combination, Identification: result}
			*discovered = append(*discovered, device)
			onTestAttempt(combination, StatusFound)
			onDeviceFound(device)

			reachedLimit := opts.MaxDevices > 0 && len(*discovered) >= opts.MaxDevices
			applyInterTestDelay(opts.DelayMS, int(opts.Timeout/time.Millisecond), true, !reachedLimit)
		} else {
			onTestAttempt(combination, StatusNotFound)
			applyInterTestDelay(opts.DelayMS, int(opts.Timeout/time.Millisecond), false, true)
		}

		*current++
		onProgress(*current, total, len(*discovered))
	}
}

// identifySafely wraps Identify so a panic or unexpected error inside the
// cascade is never allowed to abort the whole scan: the probe is simply
// classified as not-found.
func identifySafely(ctx context.Context, handle *transport.SlaveHandle) (result Identification) {
	defer func() {
		if r := recover(); r != nil {
			result = Identification{AbsentReason: ReasonOther}
		}
	}()
	return Identify(ctx, handle)
}

// applyInterTestDelay sleeps between probes so the bus can settle. When a
// device was found, the full delay applies; when nothing answered, the
// probe's own timeout already consumed part of the budget.
func applyInterTestDelay(delayMS, timeoutMS int, deviceFound, shouldContinue bool) {
	if !shouldContinue || delayMS <= 0 {
		return
	}
	if deviceFound {
		time.Sleep(time.Duration(delayMS) * time.Millisecond)
		return
	}
	remaining := delayMS - timeoutMS
	if remaining <= 0 {
		return
	}
	time.Sleep(time.Duration(remaining) * time.Millisecond)
}
