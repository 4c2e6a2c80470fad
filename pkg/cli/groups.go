package cli

import (
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newGroupsCommand(opts *rootOptions) *cobra.Command {
	var (
		flags groupFlags
		out   string
	)

	cmd := &cobra.Command{
		Use:   "groups",
		Short: "Generate the group map",
		Long:  "Generate the compile groups for the targeted runtimes and print them, or write them to --out.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gm, err := flags.groupMap(cmd, opts)
			if err != nil {
				return fmt.Errorf("failed to generate groups: %w", err)
			}

			if out != "" {
				if err := gm.WriteFile(out); err != nil {
					return err
				}
				opts.logger.WithFields(logrus.Fields{
					"path":   out,
					"groups": len(gm),
				}).Info("Wrote group map")
				return nil
			}

			data, err := json.MarshalIndent(gm, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode groups: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write the group map to this file")
	return cmd
}
