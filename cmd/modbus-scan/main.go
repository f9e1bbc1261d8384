// Command modbus-scan is a thin composition root: it wires configuration,
// logging, the Transport Manager, the Discovery Scanner and (optionally) the
// MQTT bridge together and emits newline-delimited JSON scan events. It does
// not implement argument-merging, shell completion or human-readable table
// formatting — those are external collaborators, not part of this toolkit.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/edgeflow/modbus-toolkit/internal/config"
	"github.com/edgeflow/modbus-toolkit/internal/logger"
	"github.com/edgeflow/modbus-toolkit/internal/rescan"
	"github.com/edgeflow/modbus-toolkit/pkg/discovery"
	"github.com/edgeflow/modbus-toolkit/pkg/driver"
	"github.com/edgeflow/modbus-toolkit/pkg/mqttbridge"
	"github.com/edgeflow/modbus-toolkit/pkg/transport"
)

// event is one line of the newline-delimited JSON stream this command
// writes to stdout.
type event struct {
	Kind    string             `json:"kind"` // progress, device, done
	Current int                `json:"current,omitempty"`
	Total   int                `json:"total,omitempty"`
	Found   int                `json:"found,omitempty"`
	Device  *discovery.Device  `json:"device,omitempty"`
}

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	port := flag.String("port", "/dev/ttyUSB0", "serial port to scan")
	strategy := flag.String("strategy", "", "override discovery strategy (quick, thorough)")
	publish := flag.Bool("publish", false, "publish found devices to MQTT")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "modbus-scan: loading config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		LogDir:     cfg.Logger.LogDir,
		MaxSizeMB:  cfg.Logger.MaxSizeMB,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAgeDays: cfg.Logger.MaxAgeDays,
		Compress:   cfg.Logger.Compress,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "modbus-scan: init logger: %v\n", err)
		os.Exit(1)
	}
	log := logger.Get()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager := transport.NewManager(log)
	defer manager.CloseAll()

	registry := driver.NewRegistry()
	registry.Register("generic", driver.NewGenericFactory(demoDataPoints))

	var bridge *mqttbridge.Bridge
	if *publish {
		bridge = mqttbridge.New(mqttbridge.Config{
			BrokerURL:   cfg.Bridge.BrokerURL,
			TopicPrefix: cfg.Bridge.TopicPrefix,
			QoS:         cfg.Bridge.QoS,
			ClientID:    cfg.Bridge.ClientID,
		}, log)
		if err := bridge.Connect(); err != nil {
			log.Warn("mqtt bridge unavailable, continuing without it", zap.Error(err))
			bridge = nil
		} else {
			defer bridge.Close()
		}
	}

	scanner := discovery.NewScanner(log)
	genCfg := buildGeneratorConfig(cfg, *strategy)

	runScan := func(ctx context.Context) []discovery.Device {
		return scanner.Scan(ctx, genCfg, discovery.ScanOptions{
			Port:       *port,
			Timeout:    durationMS(cfg.Discovery.TimeoutMS),
			DelayMS:    cfg.Discovery.DelayMS,
			MaxDevices: cfg.Discovery.MaxDevices,
			Logger:     log,
			OnProgress: func(current, total, found int) {
				emit(event{Kind: "progress", Current: current, Total: total, Found: found})
			},
			OnDeviceFound: func(d discovery.Device) {
				dev := d
				emit(event{Kind: "device", Device: &dev})
				if bridge != nil {
					busKey := transport.NewRTUKey(*port, d.Combination.Serial).String()
					if err := bridge.PublishDevice(busKey, d); err != nil {
						log.Warn("failed to publish device", zap.Error(err))
					}
				}
				readDemoDataPoint(ctx, manager, registry, *port, d, bridge, log)
			},
		})
	}

	devices := runScan(ctx)
	emit(event{Kind: "done", Found: len(devices)})

	if cfg.Rescan.Enabled {
		scheduler := rescan.NewScheduler(log)
		if err := scheduler.Start(cfg.Rescan.Cron, runScan, func(devices []discovery.Device) {
			emit(event{Kind: "done", Found: len(devices)})
		}); err != nil {
			log.Warn("failed to start rescan scheduler", zap.Error(err))
		} else {
			defer scheduler.Stop()
			<-ctx.Done()
		}
	}
}

func buildGeneratorConfig(cfg *config.Config, strategyOverride string) discovery.Config {
	strategy := discovery.StrategyQuick
	s := strategyOverride
	if s == "" {
		s = cfg.Discovery.Strategy
	}
	if s == "thorough" {
		strategy = discovery.StrategyThorough
	}

	return discovery.Config{
		Strategy: strategy,
		Supported: &discovery.SupportedConfig{
			Addresses: &discovery.AddressRange{
				Min: byte(cfg.Discovery.AddressRngMin),
				Max: byte(cfg.Discovery.AddressRngMax),
			},
		},
	}
}

func durationMS(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }

// demoDataPoints is the single read-only data point the generic driver polls
// on every newly found device: holding register 0, unscaled. It exists to
// exercise the Transport Manager and driver registry end to end; a real
// deployment would supply a device-specific catalog instead.
var demoDataPoints = []driver.DataPoint{
	{ID: "register_0", Name: "Holding Register 0", Register: driver.RegisterHolding, Address: 0, Type: driver.TypeUint16, Scale: 1, Access: driver.AccessRead},
}

// readDemoDataPoint opens a Slave Handle for the device through manager,
// builds a generic driver over it and reads demoDataPoints back, publishing
// the result if bridge is connected. Failures are logged and otherwise
// ignored: a device that doesn't support the probed register shouldn't stop
// the scan.
func readDemoDataPoint(ctx context.Context, manager *transport.Manager, registry *driver.Registry, port string, d discovery.Device, bridge *mqttbridge.Bridge, log *zap.Logger) {
	handle, err := manager.GetTransport(ctx, transport.Config{
		Kind:    transport.KindRTU,
		Port:    port,
		Serial:  d.Combination.Serial,
		SlaveID: d.Combination.Slave,
		Timeout: 2 * time.Second,
	})
	if err != nil {
		log.Warn("demo read: could not open transport", zap.Error(err))
		return
	}

	drv, err := registry.Create("generic", handle, driver.Device{SlaveID: d.Combination.Slave})
	if err != nil {
		log.Warn("demo read: could not create driver", zap.Error(err))
		return
	}

	value, err := drv.ReadDataPoint(ctx, "register_0")
	if err != nil {
		log.Debug("demo read: register 0 unreadable", zap.Error(err))
		return
	}

	busKey := fmt.Sprintf("rtu(%s,%s)", port, d.Combination.Serial.String())
	if bridge != nil {
		if err := bridge.PublishDataPoint(busKey, d.Combination.Slave, "register_0", value); err != nil {
			log.Warn("failed to publish data point", zap.Error(err))
		}
	}
}

func emit(e event) {
	body, err := json.Marshal(e)
	if err != nil {
		return
	}
	fmt.Println(string(body))
}
