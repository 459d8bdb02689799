package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/stratapm/strata/internal/gc"
)

func newGCCommand(opts *RootOptions) *cobra.Command {
	var retainCount int
	var retainFor time.Duration

	cmd := &cobra.Command{
		Use:   "gc",
		Short: "sweep archived states and file objects outside the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(opts)
			if err != nil {
				return err
			}
			defer e.Close()

			collector := gc.New(e.db, e.store, e.cfg.Prefix, retainCount, retainFor)
			report, err := collector.Sweep(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			opts.logger().Info("gc sweep complete",
				"states_deleted", report.StatesDeleted,
				"objects_deleted", report.ObjectsDeleted)
			return nil
		},
	}

	cmd.Flags().IntVar(&retainCount, "retain-count", gc.DefaultRetainCount, "always keep this many of the newest archived states")
	cmd.Flags().DurationVar(&retainFor, "retain-for", 0, "additionally keep archived states younger than this duration")
	return cmd
}
