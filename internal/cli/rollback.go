package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

func newRollbackCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <state-id>",
		Short: "re-activate a previously recorded state as a new state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			targetID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fail("invalid state id %q: %w", args[0], err)
			}

			e, err := openEnv(opts)
			if err != nil {
				return err
			}
			defer e.Close()

			newID, err := e.mgr.Rollback(cmd.Context(), targetID)
			if err != nil {
				return err
			}
			opts.logger().Info("rolled back", "target_state_id", targetID, "new_state_id", newID)
			return nil
		},
	}
}
