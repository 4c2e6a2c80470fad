package cli

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/canopy/pkg/codegen"
	"github.com/platinummonkey/canopy/pkg/codegen/cache"
	"github.com/platinummonkey/canopy/pkg/codegen/lock"
	"github.com/platinummonkey/canopy/pkg/codegen/orchestrator"
	"github.com/platinummonkey/canopy/pkg/transform"
	"github.com/platinummonkey/canopy/pkg/variant"
)

type compileOptions struct {
	groups      groupFlags
	variantID   string
	project     string
	out         string
	command     string
	commandArgs []string
	jobs        int
	noCache     bool
	staleAfter  time.Duration
}

type compileResult struct {
	module  string
	outcome *orchestrator.CompileOutcome
}

func newCompileCommand(opts *rootOptions) *cobra.Command {
	c := &compileOptions{}

	cmd := &cobra.Command{
		Use:   "compile <file>...",
		Short: "Compile modules for one variant",
		Long: `Compile one or more modules through the orchestrator, exactly as the server
would for a request, and print the compile status and timing of each.

Modules are compiled with the passthrough transformer unless --command names
an executable that speaks the transformer protocol.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(cmd, opts, c, args)
		},
	}

	c.groups.register(cmd)
	cmd.Flags().StringVar(&c.variantID, "variant", "best", "Variant to compile for")
	cmd.Flags().StringVarP(&c.project, "project", "p", ".", "Project root")
	cmd.Flags().StringVarP(&c.out, "out", "o", "", "Output directory (default <project>/.canopy/out)")
	cmd.Flags().StringVar(&c.command, "command", "", "Transformer executable")
	cmd.Flags().StringArrayVar(&c.commandArgs, "arg", nil, "Argument passed to the transformer executable (repeatable)")
	cmd.Flags().IntVarP(&c.jobs, "jobs", "j", 4, "Modules compiled in parallel")
	cmd.Flags().BoolVar(&c.noCache, "no-cache", false, "Ignore stored artifacts and always compile")
	cmd.Flags().DurationVar(&c.staleAfter, "lock-stale-after", 10*time.Second, "Break lock files older than this")
	return cmd
}

func runCompile(cmd *cobra.Command, opts *rootOptions, c *compileOptions, files []string) error {
	if c.jobs < 1 {
		return fmt.Errorf("%w: --jobs must be at least 1", codegen.ErrInvalidArgument)
	}
	root, outDir, err := projectDirs(c.project, c.out)
	if err != nil {
		return err
	}

	gm, err := c.groups.groupMap(cmd, opts)
	if err != nil {
		return fmt.Errorf("failed to generate groups: %w", err)
	}
	group, ok := gm.Get(c.variantID)
	if !ok {
		return fmt.Errorf("%w: %q (known: %s)", codegen.ErrVariantUnknown, c.variantID, strings.Join(gm.IDs(), ", "))
	}

	logger := opts.libraryLogger(cmd.ErrOrStderr())
	var transformer codegen.Transformer = transform.NewPassthrough()
	if c.command != "" {
		transformer, err = transform.NewCommand(c.command, c.commandArgs, logger)
		if err != nil {
			return err
		}
	}

	store := cache.NewStore(cache.Options{Logger: logger})
	defer store.Close()

	cfg := orchestrator.DefaultConfig()
	cfg.UseFilesystemAsCache = !c.noCache
	orch, err := orchestrator.New(orchestrator.Options{
		Config:      cfg,
		Store:       store,
		Locker:      lock.NewLocker(lock.NewFileLock(c.staleAfter), lock.DefaultRetryPolicy()),
		Transformer: transformer,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	matches := make([]variant.Match, len(files))
	for i, file := range files {
		modulePath, err := modulePathOf(root, file)
		if err != nil {
			return err
		}
		matches[i] = variant.Match{VariantID: c.variantID, ModulePath: modulePath, Group: group}
	}

	results := make([]compileResult, len(matches))
	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(c.jobs)
	for i, m := range matches {
		i, m := i, m
		g.Go(func() error {
			outcome, err := orch.Compile(ctx, &orchestrator.CompileRequest{
				SourcePath:   m.OriginalPath(root),
				ModulePath:   m.ModulePath,
				CompiledPath: m.CompiledPath(outDir),
				VariantID:    m.VariantID,
				Capabilities: m.Group.RequiredCapabilities,
			})
			if err != nil {
				return fmt.Errorf("%s: %w", m.ModulePath, err)
			}
			results[i] = compileResult{module: m.ModulePath, outcome: outcome}
			opts.logger.WithFields(logrus.Fields{
				"module": m.ModulePath,
				"status": outcome.Status,
			}).Debug("Compiled module")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	for _, r := range results {
		fmt.Fprintf(w, "%-8s %s  %s\n", r.outcome.Status, r.module, formatTiming(r.outcome.Timing))
	}
	return nil
}

// modulePathOf returns file relative to root, slash separated
func modulePathOf(root, file string) (string, error) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", file, err)
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is outside the project %s", codegen.ErrInvalidArgument, file, root)
	}
	return filepath.ToSlash(rel), nil
}

func formatTiming(t *codegen.Timing) string {
	if t == nil {
		return ""
	}
	parts := make([]string, 0, len(t.Phases())+1)
	for _, phase := range t.Phases() {
		d, _ := t.Get(phase)
		parts = append(parts, phase+"="+d.Round(time.Microsecond).String())
	}
	parts = append(parts, "total="+t.Total().Round(time.Microsecond).String())
	return strings.Join(parts, " ")
}
