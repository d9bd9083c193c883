// Package timemgr provides the process clock: a local tick source paced by
// the wall clock or by sample counts, optionally shared with other processes
// over TCP so that they all observe the same ticks.
package timemgr

import (
	"fmt"
	"net"
	"sync/atomic"

	"github.com/ranlab/rtcore/config"
	"github.com/ranlab/rtcore/log"
)

// Manager owns the clock components selected by the configuration.
type Manager struct {
	cfg     config.TimeManagement
	tickFns []func()
	ticks   atomic.Uint64

	source *Source
	server *Server
	client *Client
}

// ParseSourceMode maps a time_source configuration value to a SourceMode.
func ParseSourceMode(s string) (SourceMode, error) {
	switch s {
	case config.TimeSourceRealtime:
		return Realtime, nil
	case config.TimeSourceIQSamples:
		return IQSamples, nil
	default:
		return 0, fmt.Errorf("invalid time source %q", s)
	}
}

// Start builds the clock for cfg. Every tick runs tickFns in order.
//
// A standalone or server process owns a source; a server additionally
// forwards every tick to its clients. A client has no source and follows the
// server instead.
func Start(cfg config.TimeManagement, tickFns ...func()) (*Manager, error) {
	m := &Manager{cfg: cfg, tickFns: tickFns}

	switch cfg.Mode {
	case config.ModeStandalone, config.ModeServer, config.ModeClient:
	default:
		return nil, fmt.Errorf("invalid time management mode %q", cfg.Mode)
	}

	var mode SourceMode
	if cfg.Mode != config.ModeClient {
		var err error
		if mode, err = ParseSourceMode(cfg.TimeSource); err != nil {
			return nil, err
		}
	}

	switch cfg.Mode {
	case config.ModeStandalone:
		m.source = NewSource(mode)
		m.source.SetCallback(m.tick)
	case config.ModeServer:
		// The server exists before the source so every source tick goes
		// through it and reaches the clients.
		server, err := NewServer(cfg.Address(), m.tick)
		if err != nil {
			return nil, err
		}
		m.server = server
		m.source = NewSource(mode)
		m.server.AttachSource(m.source)
	case config.ModeClient:
		m.client = NewClient(cfg.Address(), m.tick)
	}

	log.InfoLog.Printf("time manager: started (mode=%s source=%s address=%s)",
		cfg.Mode, cfg.TimeSource, cfg.Address())
	return m, nil
}

func (m *Manager) tick() {
	m.ticks.Add(1)
	for _, fn := range m.tickFns {
		fn()
	}
}

// Ticks returns the number of ticks delivered so far.
func (m *Manager) Ticks() uint64 {
	return m.ticks.Load()
}

// AddSamples feeds an IQ samples source. It does nothing for other modes.
func (m *Manager) AddSamples(count, perSecond uint64) {
	m.source.AddSamples(count, perSecond)
}

// ServerAddr returns the listening address in server mode, nil otherwise.
func (m *Manager) ServerAddr() net.Addr {
	if m.server == nil {
		return nil
	}
	return m.server.Addr()
}

// Server returns the tick server in server mode, nil otherwise.
func (m *Manager) Server() *Server {
	return m.server
}

// Client returns the tick client in client mode, nil otherwise.
func (m *Manager) Client() *Client {
	return m.client
}

// Finish stops the source first so no tick reaches a stopped server, then the
// server, then the client.
func (m *Manager) Finish() {
	if m.source != nil {
		m.source.Close()
	}
	if m.server != nil {
		if err := m.server.Close(); err != nil {
			log.WarningLog.Printf("time manager: closing server: %v", err)
		}
	}
	if m.client != nil {
		m.client.Close()
	}
	log.InfoLog.Printf("time manager: finished after %d ticks", m.ticks.Load())
}
