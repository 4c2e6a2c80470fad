package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/platinummonkey/canopy/pkg/config"
	"github.com/platinummonkey/canopy/pkg/groups"
	"github.com/platinummonkey/canopy/pkg/observability"
)

// Version is set at build time with -ldflags "-X .../pkg/cli.Version=..."
var Version = "dev"

// defaultGroupCount matches the server's CANOPY_GROUP_COUNT default
const defaultGroupCount = 3

type rootOptions struct {
	configFile string
	logLevel   string
	logger     *logrus.Logger
}

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "canopy",
		Short:         "Canopy - compile modules once per runtime capability group",
		Long:          "Canopy groups target runtimes by the capability transforms they need and compiles modules once per group, caching the output on disk.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			opts.logger = setupLogger(cmd.ErrOrStderr(), opts.logLevel)
		},
	}

	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "YAML file holding the capability index, usage and runtimes")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	root.AddCommand(
		newGroupsCommand(opts),
		newCompileCommand(opts),
		newResolveCommand(opts),
		newCleanCommand(opts),
	)
	return root
}

func setupLogger(out io.Writer, logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

// libraryLogger is handed to the orchestrator and friends; their output only
// shows up at debug level
func (o *rootOptions) libraryLogger(out io.Writer) *observability.Logger {
	if o.logger != nil && o.logger.IsLevelEnabled(logrus.DebugLevel) {
		return observability.NewLogger(observability.DebugLevel, out)
	}
	return observability.NewLogger(observability.ErrorLevel, out)
}

// groupFlags are shared by every command that needs the group map
type groupFlags struct {
	groupCount   int
	runtimes     []string
	groupMapFile string
}

func (f *groupFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&f.groupCount, "group-count", "n", defaultGroupCount, "Number of groups to emit")
	cmd.Flags().StringSliceVarP(&f.runtimes, "runtime", "r", nil, "Targeted runtime (repeatable); defaults to every runtime in the index")
	cmd.Flags().StringVar(&f.groupMapFile, "group-map", "", "Read a previously generated groups.json instead of generating")
}

// groupMap merges the config file with explicit flags and generates groups
func (f *groupFlags) groupMap(cmd *cobra.Command, opts *rootOptions) (groups.GroupMap, error) {
	cfg := config.GroupsConfig{
		GroupMapFile:  f.groupMapFile,
		SelectOptions: groups.SelectOptions{GroupCount: defaultGroupCount},
	}
	if opts.configFile != "" {
		if err := cfg.LoadFile(opts.configFile); err != nil {
			return nil, err
		}
	}
	if cmd.Flags().Changed("group-count") {
		cfg.GroupCount = f.groupCount
	}
	if cmd.Flags().Changed("runtime") {
		cfg.Runtimes = f.runtimes
	}
	return cfg.GroupMap()
}

// projectDirs resolves the project root and the output directory, which
// defaults to <project>/.canopy/out
func projectDirs(project, out string) (string, string, error) {
	root, err := filepath.Abs(project)
	if err != nil {
		return "", "", fmt.Errorf("failed to resolve project root: %w", err)
	}
	if out == "" {
		return root, filepath.Join(root, ".canopy", "out"), nil
	}
	if !filepath.IsAbs(out) {
		out = filepath.Join(root, out)
	}
	return root, filepath.Clean(out), nil
}
