package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ranlab/rtcore/config"
	"github.com/ranlab/rtcore/log"
	"github.com/ranlab/rtcore/runstore"
	"github.com/ranlab/rtcore/shmradio"
)

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// saveReport stores a session report, logging instead of failing: the
// session itself already completed.
func saveReport(cfg *config.Config, r shmradio.Report) {
	store, err := runstore.Open(cfg.RunStore)
	if err != nil {
		log.WarningLog.Printf("cannot open run store: %v", err)
		return
	}
	defer store.Close()
	id, err := store.Save(r)
	if err != nil {
		log.WarningLog.Printf("cannot save run: %v", err)
		return
	}
	log.InfoLog.Printf("run %s saved to %s", id, cfg.RunStore)
}
