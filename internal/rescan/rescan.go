// Package rescan periodically re-runs the Discovery Scanner on a cron
// schedule and feeds newly found devices onward (typically into the MQTT
// bridge). It holds no bus state of its own: every run goes through the
// caller-supplied scan function, exactly as an ad-hoc scan would.
package rescan

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/edgeflow/modbus-toolkit/pkg/discovery"
)

// ScanFunc runs one full discovery pass and returns whatever it found.
type ScanFunc func(ctx context.Context) []discovery.Device

// ResultFunc receives the devices found by one scheduled run.
type ResultFunc func(devices []discovery.Device)

// Scheduler runs a single ScanFunc on a cron expression.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
	started bool
	log     *zap.Logger
}

// NewScheduler builds an idle Scheduler. Call Start to begin running.
func NewScheduler(log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{cron: cron.New(), log: log}
}

// Start registers scan to run on cronExpr and starts the underlying cron
// loop. onResult is invoked with each run's findings from the cron
// goroutine; callers needing synchronization must do their own locking.
func (s *Scheduler) Start(cronExpr string, scan ScanFunc, onResult ResultFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("rescan: scheduler already started")
	}

	entryID, err := s.cron.AddFunc(cronExpr, func() {
		devices := scan(context.Background())
		s.log.Info("rescan completed", zap.Int("devices_found", len(devices)))
		if onResult != nil {
			onResult(devices)
		}
	})
	if err != nil {
		return fmt.Errorf("rescan: invalid cron expression %q: %w", cronExpr, err)
	}

	s.entryID = entryID
	s.cron.Start()
	s.started = true
	return nil
}

// Stop halts the cron loop. Safe to call even if Start was never called.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.started = false
}

// RunNow triggers scan immediately, outside the cron schedule, and returns
// its result synchronously. Useful for an initial scan at startup before the
// first cron tick.
func (s *Scheduler) RunNow(ctx context.Context, scan ScanFunc) []discovery.Device {
	devices := scan(ctx)
	s.log.Info("manual scan completed", zap.Int("devices_found", len(devices)))
	return devices
}
