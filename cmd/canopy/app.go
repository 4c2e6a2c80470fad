package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/platinummonkey/canopy/pkg/api"
	"github.com/platinummonkey/canopy/pkg/async"
	"github.com/platinummonkey/canopy/pkg/codegen"
	"github.com/platinummonkey/canopy/pkg/codegen/artifacts"
	"github.com/platinummonkey/canopy/pkg/codegen/cache"
	"github.com/platinummonkey/canopy/pkg/codegen/cleanup"
	"github.com/platinummonkey/canopy/pkg/codegen/lock"
	"github.com/platinummonkey/canopy/pkg/codegen/orchestrator"
	"github.com/platinummonkey/canopy/pkg/config"
	"github.com/platinummonkey/canopy/pkg/groups"
	"github.com/platinummonkey/canopy/pkg/observability"
	"github.com/platinummonkey/canopy/pkg/transform"
)

// groupsFile is written into the output directory whenever groups change
const groupsFile = "groups.json"

// closer is run on shutdown, in reverse order of registration
type closer struct {
	name string
	fn   observability.ShutdownFunc
}

// app holds everything the server wires together
type app struct {
	cfg    *config.Config
	logger *observability.Logger

	registry *prometheus.Registry
	metrics  *observability.Metrics
	health   *observability.HealthChecker

	groupsMu sync.Mutex
	groups   config.GroupsConfig
	groupMap *async.Lazy[groups.GroupMap]

	store   *cache.Store
	locker  *lock.Locker
	mirror  *artifacts.S3Mirror
	orch    *orchestrator.Orchestrator
	sweeper *cleanup.Sweeper
	server  *api.Server

	closers []closer
}

func newApp(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		health:   observability.NewHealthChecker(cfg.Observability.OTelServiceVersion),
		groups:   cfg.Groups,
	}
	if cfg.Observability.MetricsEnabled {
		a.metrics = observability.NewMetrics(a.registry)
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	if err := os.MkdirAll(cfg.Compile.OutDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	a.groupMap = async.NewLazy(a.computeGroups)
	if _, err := a.groupMap.Get(ctx); err != nil {
		return nil, fmt.Errorf("failed to compute groups: %w", err)
	}

	external, err := a.externalLock(ctx)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.locker = lock.NewLocker(external, cfg.Lock.RetryPolicy())

	a.store = cache.NewStore(cache.Options{
		Logger:        logger,
		MemoryEntries: cfg.Compile.MemoryEntries,
		MemoryTTL:     cfg.Compile.MemoryTTL,
	})
	a.onClose("descriptor cache", func(context.Context) error { return a.store.Close() })

	transformer, err := a.transformer()
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	var publisher orchestrator.Publisher
	var remover cleanup.Remover
	if cfg.Mirror.Enabled {
		mirrorCfg := cfg.Mirror.Config
		a.mirror, err = artifacts.NewS3Mirror(ctx, &mirrorCfg)
		if err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("failed to create artifact mirror: %w", err)
		}
		publisher, remover = a.mirror, a.mirror
		logger.WithField("bucket", mirrorCfg.S3Bucket).Info("Mirroring compiled artifacts to S3")
	}

	a.orch, err = orchestrator.New(orchestrator.Options{
		Config: &orchestrator.Config{
			UseFilesystemAsCache: cfg.Compile.UseFilesystemAsCache,
			WriteOnFilesystem:    cfg.Compile.WriteOnFilesystem,
			HitTracking:          cfg.Compile.HitTracking,
			CompileTimeout:       cfg.Compile.Timeout,
			PublishTimeout:       orchestrator.DefaultConfig().PublishTimeout,
		},
		Store:       a.store,
		Locker:      a.locker,
		Transformer: transformer,
		Logger:      logger,
		Metrics:     a.metrics,
		Mirror:      publisher,
	})
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	if cfg.Cleanup.Enabled {
		a.sweeper, err = cleanup.NewSweeper(cleanup.Options{
			OutDir:  cfg.Compile.OutDir,
			MaxAge:  cfg.Cleanup.MaxAge,
			Store:   a.store,
			Locker:  a.locker,
			Logger:  logger,
			Metrics: a.metrics,
			Mirror:  remover,
		})
		if err != nil {
			a.close(ctx)
			return nil, err
		}
	}

	a.health.AddCheck("output-directory", true, func(context.Context) error {
		return writable(cfg.Compile.OutDir)
	})
	a.health.AddCheck("groups", true, func(ctx context.Context) error {
		_, err := a.groupMap.Get(ctx)
		return err
	})

	a.server, err = api.NewServer(api.Options{
		ProjectRoot:  cfg.Compile.ProjectRoot,
		OutDir:       cfg.Compile.OutDir,
		OutDirPrefix: cfg.Compile.OutDirPrefix,
		Groups:       a.groupMap,
		Compiler:     a.orch,
		Logger:       logger,
		Health:       a.health,
		Metrics:      a.metrics,
		Registry:     a.registry,
	})
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	return a, nil
}

// computeGroups generates the group map and writes it next to the variants
func (a *app) computeGroups(ctx context.Context) (groups.GroupMap, error) {
	a.groupsMu.Lock()
	g := a.groups
	a.groupsMu.Unlock()

	gm, err := g.GroupMap()
	if err != nil {
		return nil, err
	}
	if err := gm.WriteFile(filepath.Join(a.cfg.Compile.OutDir, groupsFile)); err != nil {
		return nil, err
	}
	if a.metrics != nil {
		a.metrics.VariantsTotal.Set(float64(len(gm)))
	}
	a.logger.WithField("variants", gm.IDs()).Info("Computed compile groups")
	return gm, nil
}

// reloadGroups re-reads the groups file and regenerates the group map.
// Requests arriving meanwhile wait for the new map.
func (a *app) reloadGroups(ctx context.Context) error {
	a.groupsMu.Lock()
	g := a.groups
	a.groupsMu.Unlock()

	if g.File == "" {
		return nil
	}
	if err := g.LoadFile(g.File); err != nil {
		return err
	}
	// a broken file keeps the current map
	if g.Index != nil {
		if err := g.Index.Validate(); err != nil {
			return err
		}
	}
	if _, err := g.GroupMap(); err != nil {
		return err
	}

	a.groupsMu.Lock()
	a.groups = g
	a.groupsMu.Unlock()

	a.groupMap.Reset()
	_, err := a.groupMap.Get(ctx)
	return err
}

func (a *app) externalLock(ctx context.Context) (lock.ExternalLock, error) {
	switch a.cfg.Lock.Backend {
	case config.LockRedis:
		rl, err := lock.NewRedisLockFromURL(ctx, a.cfg.Lock.RedisURL, a.cfg.Lock.RedisPrefix, a.cfg.Lock.TTL)
		if err != nil {
			return nil, err
		}
		a.health.AddRedis("redis", rl.Client())
		a.onClose("redis", func(context.Context) error { return rl.Close() })
		return rl, nil
	case config.LockFile:
		return lock.NewFileLock(a.cfg.Lock.StaleAfter), nil
	default:
		return lock.NoopExternalLock{}, nil
	}
}

func (a *app) transformer() (codegen.Transformer, error) {
	if a.cfg.Compile.Transformer == config.TransformerCommand {
		return transform.NewCommand(a.cfg.Compile.TransformerCommand, a.cfg.Compile.TransformerArgs, a.logger)
	}
	return transform.NewPassthrough(), nil
}

func (a *app) onClose(name string, fn observability.ShutdownFunc) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// close runs closers directly; used when construction fails halfway
func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].fn(ctx); err != nil {
			a.logger.WithField("component", a.closers[i].name).WithError(err).Warn("Failed to close")
		}
	}
	a.closers = nil
}

// writable checks that a file can be created in dir
func writable(dir string) error {
	f, err := os.CreateTemp(dir, ".canopy-probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// reloadTimeout bounds one group regeneration after a config change
const reloadTimeout = 30 * time.Second
