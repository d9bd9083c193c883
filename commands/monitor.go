package commands

import (
	"fmt"

	"github.com/ranlab/rtcore/config"
	"github.com/ranlab/rtcore/log"
	"github.com/ranlab/rtcore/monitor"
	"github.com/ranlab/rtcore/shmchan"
	"github.com/ranlab/rtcore/timemgr"
	"github.com/spf13/cobra"
)

var (
	monitorChannelFlag string
	monitorTicksFlag   string
)

// MonitorCmd shows a live dashboard of a sample channel and a tick server.
var MonitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch a sample channel and a tick server",
	RunE: func(cmd *cobra.Command, args []string) error {
		log.Initialize(false)
		defer log.Close()

		cfg := config.LoadConfig()
		channel := monitorChannelFlag
		if channel == "" {
			channel = cfg.ShmRadio.ChannelName
		}

		var client *timemgr.Client
		if monitorTicksFlag != "" {
			if _, _, err := splitHostPort(monitorTicksFlag); err != nil {
				return err
			}
			client = timemgr.NewClient(monitorTicksFlag, nil)
			defer client.Close()
		}

		provider := func() monitor.Snapshot {
			var s monitor.Snapshot
			if client != nil {
				s.TickSource = monitorTicksFlag
				s.TickConnected = client.Connected()
				s.Ticks = client.Received()
			}
			info, err := shmchan.Inspect(channel)
			if err != nil {
				s.ChannelErr = fmt.Errorf("%s: %w", channel, err)
			} else {
				s.Channel = &info
			}
			return s
		}

		ctx, cancel := signalContext()
		defer cancel()
		return monitor.Run(ctx, provider)
	},
}

func init() {
	MonitorCmd.Flags().StringVar(&monitorChannelFlag, "channel", "", "sample channel to watch (default from config)")
	MonitorCmd.Flags().StringVar(&monitorTicksFlag, "ticks", "", "tick server address host:port to follow")
}
