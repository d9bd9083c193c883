package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/ranlab/rtcore/config"
	"github.com/ranlab/rtcore/runstore"
	"github.com/spf13/cobra"
)

var runsLimitFlag int

// RunsCmd lists stored shared-memory radio sessions.
var RunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded radio sessions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		store, err := runstore.Open(cfg.RunStore)
		if err != nil {
			return err
		}
		defer store.Close()

		runs, err := store.List(runsLimitFlag)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("no runs recorded")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTARTED\tDURATION\tROLE\tCHANNEL\tTX LATE\tRX LATE\tTX BUDGET")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.2f%%\t%.2f%%\t%.1fus\n",
				r.ID[:8], r.Started.Format(time.DateTime), r.Ended.Sub(r.Started).Round(time.Second),
				r.Role, r.Channel, r.TxLatePercent(), r.RxLatePercent(), r.AverageTxBudget)
		}
		return w.Flush()
	},
}

func init() {
	RunsCmd.Flags().IntVar(&runsLimitFlag, "limit", 20, "maximum number of runs to show")
}
