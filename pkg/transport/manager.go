// Package transport pools and multiplexes access to shared Modbus buses
// across many logical devices. It owns Bus Client lifecycles, serializes
// request/response pairs per physical bus, and hands out per-slave Slave
// Handles that share the underlying connection.
package transport

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Config describes the connection a caller wants a Slave Handle for.
type Config struct {
	Kind    Kind
	Port    string // RTU
	Serial  SerialParams
	Host    string // TCP
	TCPPort int

	SlaveID    byte
	Timeout    time.Duration
	MaxRetries int
}

func (c Config) busKey() Key {
	if c.Kind == KindTCP {
		return NewTCPKey(c.Host, c.TCPPort)
	}
	return NewRTUKey(c.Port, c.Serial)
}

// Stats summarizes the pool's composition, not the number of handles
// issued over it.
type Stats struct {
	TotalBuses int
	RTUBuses   int
	TCPBuses   int
}

// Manager is a process-wide, keyed pool of Bus Clients. It is the single
// owner of every client it creates: close_all is the only place clients are
// closed, and it closes each one exactly once.
type Manager struct {
	mu      sync.Mutex
	clients map[Key]*MutexWrapper
	group   singleflight.Group
	log     *zap.Logger

	// clientFactory builds the unconnected Bus Client for a Config. Tests
	// override this to inject a fake client instead of opening real
	// hardware; production callers always get newRealClient.
	clientFactory func(Config) BusClient
}

// NewManager creates an empty pool. log may be nil, in which case a no-op
// logger is used.
func NewManager(log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{clients: make(map[Key]*MutexWrapper), log: log}
	m.clientFactory = m.newRealClient
	return m
}

// GetTransport derives the Bus Key from cfg, gets or creates the
// corresponding Bus Client (opening the connection if this is the first
// request for that key), and returns a fresh Slave Handle over it. Two
// simultaneous callers for a previously unseen key share one connection:
// singleflight.Group collapses concurrent first-inserts onto a single
// Connect call.
func (m *Manager) GetTransport(ctx context.Context, cfg Config) (*SlaveHandle, error) {
	key := cfg.busKey()

	m.mu.Lock()
	existing, ok := m.clients[key]
	m.mu.Unlock()
	if ok {
		return NewSlaveHandle(existing, cfg.SlaveID, cfg.Timeout), nil
	}

	v, err, _ := m.group.Do(key.String(), func() (interface{}, error) {
		m.mu.Lock()
		if existing, ok := m.clients[key]; ok {
			m.mu.Unlock()
			return existing, nil
		}
		m.mu.Unlock()

		client := m.clientFactory(cfg)
		if err := client.Connect(ctx); err != nil {
			return nil, err
		}
		wrapped := NewMutexWrapper(client)

		m.mu.Lock()
		m.clients[key] = wrapped
		m.mu.Unlock()

		m.log.Info("opened bus", zap.String("bus_key", key.String()))
		return wrapped, nil
	})
	if err != nil {
		return nil, err
	}
	return NewSlaveHandle(v.(*MutexWrapper), cfg.SlaveID, cfg.Timeout), nil
}

func (m *Manager) newRealClient(cfg Config) BusClient {
	if cfg.Kind == KindTCP {
		return NewTCPClient(TCPConfig{Host: cfg.Host, Port: cfg.TCPPort, Timeout: cfg.Timeout})
	}
	return NewRTUClient(RTUConfig{
		Port:       cfg.Port,
		Serial:     cfg.Serial,
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
	})
}

// GetStats counts buses (connections), not handles issued over them.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{TotalBuses: len(m.clients)}
	for key := range m.clients {
		switch key.Kind {
		case KindRTU:
			stats.RTUBuses++
		case KindTCP:
			stats.TCPBuses++
		}
	}
	return stats
}

// CloseAll closes every Bus Client exactly once, swallowing (and logging)
// any per-client close failure so one bad port cannot strand the rest, then
// empties the pool.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	clients := m.clients
	m.clients = make(map[Key]*MutexWrapper)
	m.mu.Unlock()

	for key, client := range clients {
		if err := client.Close(); err != nil {
			m.log.Warn("error closing bus", zap.String("bus_key", key.String()), zap.Error(err))
		}
	}
}
