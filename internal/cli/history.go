package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newHistoryCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "list every recorded state, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(opts)
			if err != nil {
				return err
			}
			defer e.Close()

			history, err := e.db.History(cmd.Context())
			if err != nil {
				return err
			}
			for _, st := range history {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\t%s\n", st.ID, st.Status, st.CreatedAt, st.ManifestDigest)
			}
			return nil
		},
	}
}
