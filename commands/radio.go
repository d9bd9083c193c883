package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ranlab/rtcore/config"
	"github.com/ranlab/rtcore/iqrecord"
	"github.com/ranlab/rtcore/log"
	"github.com/ranlab/rtcore/shmchan"
	"github.com/ranlab/rtcore/shmradio"
	"github.com/ranlab/rtcore/timemgr"
	"github.com/spf13/cobra"
)

// slotSamples is one 0.5 ms slot at 30.72 MHz.
const slotSamples = 30720

var (
	channelFlag       string
	timescaleFlag     float64
	sampleAdvanceFlag int64
	tickModeFlag      string
	tickListenFlag    string
	recordFlag        string
	slotsAhead        uint64
)

// ShmServerCmd plays the radio front end: it owns the sample channel clock.
var ShmServerCmd = &cobra.Command{
	Use:   "shm-server",
	Short: "Create a shared-memory sample channel and drive its clock",
	RunE: func(cmd *cobra.Command, args []string) error {
		log.Initialize(false)
		defer log.Close()

		cfg := config.LoadConfig()
		rc := radioConfig(cfg, true)

		var opts []shmradio.Option
		if tickModeFlag != "" {
			tm := cfg.TimeManagement
			tm.TimeSource = config.TimeSourceIQSamples
			tm.Mode = tickModeFlag
			if err := applyAddr(&tm, tickListenFlag); err != nil {
				return err
			}
			m, err := timemgr.Start(tm)
			if err != nil {
				return err
			}
			defer m.Finish()
			if m.ServerAddr() != nil {
				fmt.Printf("serving sample-paced ticks on %s\n", m.ServerAddr())
			}
			opts = append(opts, shmradio.WithSampleSink(m.AddSamples))
		}

		dev, err := shmradio.New(rc, opts...)
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		fmt.Printf("waiting for a client on channel %s\n", rc.ChannelName)
		if err := dev.Start(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		fmt.Println("client connected, clock running")

		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				r := dev.End()
				saveReport(cfg, r)
				printReport(r)
				return nil
			case <-ticker.C:
				fmt.Printf("sample=%d produced=%d\n", dev.CurrentSample(), dev.Produced())
			}
		}
	},
}

// ShmClientCmd is a loopback baseband: every received slot is sent back a
// few slots in the future.
var ShmClientCmd = &cobra.Command{
	Use:   "shm-client",
	Short: "Attach to a sample channel and loop received samples back",
	RunE: func(cmd *cobra.Command, args []string) error {
		log.Initialize(false)
		defer log.Close()

		cfg := config.LoadConfig()
		rc := radioConfig(cfg, false)

		var opts []shmradio.Option
		if recordFlag != "" {
			rec, err := iqrecord.Create(recordFlag, rc.SampleRate)
			if err != nil {
				return err
			}
			defer func() {
				if err := rec.Close(); err != nil {
					log.ErrorLog.Printf("closing recording: %v", err)
				}
				fmt.Printf("recorded %d frames to %s\n", rec.Frames(), recordFlag)
			}()
			opts = append(opts, shmradio.WithRecorder(rec))
		}

		dev, err := shmradio.New(rc, opts...)
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()
		if err := dev.Start(ctx); err != nil {
			return err
		}

		buf := make([]shmchan.Sample, slotSamples)
		every := log.NewEvery(time.Second)
		for {
			ts, err := dev.Read(ctx, buf)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					log.ErrorLog.Printf("read: %v", err)
				}
				break
			}
			if err := dev.Write(ts+slotsAhead*slotSamples, buf); err != nil {
				log.ErrorLog.Printf("write: %v", err)
				break
			}
			if every.ShouldLog() {
				s := dev.Stats()
				fmt.Printf("sample=%d rx=%d tx late=%.2f%%\n", ts, s.RxSamplesTotal, s.TxLatePercent())
			}
		}
		r := dev.End()
		saveReport(cfg, r)
		printReport(r)
		return nil
	},
}

func radioConfig(cfg *config.Config, server bool) shmradio.Config {
	rc := shmradio.ConfigFrom(cfg.ShmRadio)
	rc.Server = server
	if channelFlag != "" {
		rc.ChannelName = channelFlag
	}
	if timescaleFlag > 0 {
		rc.Timescale = timescaleFlag
	}
	if sampleAdvanceFlag >= 0 {
		rc.SampleAdvance = uint64(sampleAdvanceFlag)
	}
	return rc
}

func printReport(r shmradio.Report) {
	fmt.Printf("%s on %s: %s\n", r.Role, r.Channel, r.Ended.Sub(r.Started).Round(time.Millisecond))
	fmt.Printf("  TX late %.2f%% early %d total %d\n", r.TxLatePercent(), r.TxEarly, r.TxSamplesTotal)
	fmt.Printf("  RX late %.2f%% early %d total %d\n", r.RxLatePercent(), r.RxEarly, r.RxSamplesTotal)
	fmt.Printf("  average TX budget %.3f us\n", r.AverageTxBudget)
}

func init() {
	for _, c := range []*cobra.Command{ShmServerCmd, ShmClientCmd} {
		c.Flags().StringVar(&channelFlag, "channel", "", "channel name (default from config)")
		c.Flags().Float64Var(&timescaleFlag, "timescale", 0, "simulated time per wall clock time")
		c.Flags().Int64Var(&sampleAdvanceFlag, "sample-advance", -1, "samples subtracted from every transmit timestamp (default from config)")
	}
	ShmServerCmd.Flags().StringVar(&tickModeFlag, "tick-mode", "", "pace a tick source from produced samples: standalone or server")
	ShmServerCmd.Flags().StringVar(&tickListenFlag, "tick-addr", "", "tick server listen address host:port")
	ShmClientCmd.Flags().StringVar(&recordFlag, "record", "", "record transmitted samples to this file")
	ShmClientCmd.Flags().Uint64Var(&slotsAhead, "slots-ahead", 2, "transmit this many slots after the received one")
}
