package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/canopy/pkg/codegen/cache"
	"github.com/platinummonkey/canopy/pkg/codegen/cleanup"
	"github.com/platinummonkey/canopy/pkg/codegen/lock"
)

func newCleanCommand(opts *rootOptions) *cobra.Command {
	var (
		project    string
		out        string
		maxAge     time.Duration
		staleAfter time.Duration
	)

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove compiled artifacts that were not used recently",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, outDir, err := projectDirs(project, out)
			if err != nil {
				return err
			}

			logger := opts.libraryLogger(cmd.ErrOrStderr())
			store := cache.NewStore(cache.Options{Logger: logger})
			defer store.Close()

			sweeper, err := cleanup.NewSweeper(cleanup.Options{
				OutDir: outDir,
				MaxAge: maxAge,
				Store:  store,
				Locker: lock.NewLocker(lock.NewFileLock(staleAfter), lock.DefaultRetryPolicy()),
				Logger: logger,
			})
			if err != nil {
				return err
			}

			res, err := sweeper.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d of %d artifacts\n", res.Removed, res.Scanned)
			return nil
		},
	}

	cmd.Flags().StringVarP(&project, "project", "p", ".", "Project root")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output directory (default <project>/.canopy/out)")
	cmd.Flags().DurationVar(&maxAge, "max-age", 7*24*time.Hour, "Remove artifacts idle for longer than this")
	cmd.Flags().DurationVar(&staleAfter, "lock-stale-after", 10*time.Second, "Break lock files older than this")
	return cmd
}
