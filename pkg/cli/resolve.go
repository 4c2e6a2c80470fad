package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/canopy/pkg/variant"
)

func newResolveCommand(opts *rootOptions) *cobra.Command {
	var (
		flags   groupFlags
		prefix  string
		project string
		out     string
	)

	cmd := &cobra.Command{
		Use:   "resolve <request-path>",
		Short: "Show which variant and module a request path maps to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, outDir, err := projectDirs(project, out)
			if err != nil {
				return err
			}
			gm, err := flags.groupMap(cmd, opts)
			if err != nil {
				return fmt.Errorf("failed to generate groups: %w", err)
			}
			resolver, err := variant.NewResolver(prefix, gm)
			if err != nil {
				return err
			}

			match, ok, err := resolver.Resolve(args[0])
			if !ok {
				return fmt.Errorf("%s is not under %s", args[0], resolver.Prefix())
			}
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "variant:      %s\n", match.VariantID)
			fmt.Fprintf(w, "module:       %s\n", match.ModulePath)
			fmt.Fprintf(w, "capabilities: %s\n", strings.Join(match.Group.RequiredCapabilities, ","))
			fmt.Fprintf(w, "source:       %s\n", match.OriginalPath(root))
			fmt.Fprintf(w, "compiled:     %s\n", match.CompiledPath(outDir))
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&prefix, "prefix", "/.canopy/out/", "URL prefix of compiled modules")
	cmd.Flags().StringVarP(&project, "project", "p", ".", "Project root")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output directory (default <project>/.canopy/out)")
	return cmd
}
