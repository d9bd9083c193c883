package commands

import (
	"fmt"
	"time"

	"github.com/ranlab/rtcore/config"
	"github.com/ranlab/rtcore/log"
	"github.com/ranlab/rtcore/timemgr"
	"github.com/spf13/cobra"
)

var (
	tickAddrFlag   string
	tickSourceFlag string
)

// TickServerCmd runs a realtime tick source and shares it over TCP.
var TickServerCmd = &cobra.Command{
	Use:   "tick-server",
	Short: "Run the canonical clock and serve its ticks to tick clients",
	RunE: func(cmd *cobra.Command, args []string) error {
		log.Initialize(false)
		defer log.Close()

		cfg := config.LoadConfig()
		tm := cfg.TimeManagement
		tm.Mode = config.ModeServer
		if tickSourceFlag != "" {
			tm.TimeSource = tickSourceFlag
		}
		if err := applyAddr(&tm, tickAddrFlag); err != nil {
			return err
		}
		if tm.TimeSource != config.TimeSourceRealtime {
			return fmt.Errorf("tick-server needs a realtime source; iq_samples is fed by shm-server --tick-mode server")
		}

		m, err := timemgr.Start(tm)
		if err != nil {
			return err
		}
		defer m.Finish()
		fmt.Printf("serving ticks on %s\n", m.ServerAddr())
		return reportTicks(m, func() string {
			return fmt.Sprintf("%d clients", m.Server().ClientCount())
		})
	},
}

// TickClientCmd follows a tick server and prints the observed rate.
var TickClientCmd = &cobra.Command{
	Use:   "tick-client",
	Short: "Follow a tick server and print the tick rate",
	RunE: func(cmd *cobra.Command, args []string) error {
		log.Initialize(false)
		defer log.Close()

		cfg := config.LoadConfig()
		tm := cfg.TimeManagement
		tm.Mode = config.ModeClient
		if err := applyAddr(&tm, tickAddrFlag); err != nil {
			return err
		}

		m, err := timemgr.Start(tm)
		if err != nil {
			return err
		}
		defer m.Finish()
		return reportTicks(m, func() string {
			if m.Client().Connected() {
				return "connected to " + tm.Address()
			}
			return "waiting for " + tm.Address()
		})
	},
}

func applyAddr(tm *config.TimeManagement, addr string) error {
	if addr == "" {
		return nil
	}
	var port int
	host, portStr, err := splitHostPort(addr)
	if err != nil {
		return err
	}
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return fmt.Errorf("invalid port in %q: %w", addr, err)
	}
	tm.ServerIP, tm.ServerPort = host, port
	return nil
}

// reportTicks prints the tick rate once per second until interrupted.
func reportTicks(m *timemgr.Manager, status func() string) error {
	ctx, cancel := signalContext()
	defer cancel()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	last := m.Ticks()
	for {
		select {
		case <-ctx.Done():
			fmt.Printf("\n%d ticks\n", m.Ticks())
			return nil
		case <-ticker.C:
			now := m.Ticks()
			fmt.Printf("ticks=%d rate=%d/s %s\n", now, now-last, status())
			last = now
		}
	}
}

func init() {
	TickServerCmd.Flags().StringVar(&tickAddrFlag, "addr", "", "listen address host:port (default from config)")
	TickServerCmd.Flags().StringVar(&tickSourceFlag, "source", "", "time source: realtime")
	TickClientCmd.Flags().StringVar(&tickAddrFlag, "addr", "", "tick server address host:port (default from config)")
}
