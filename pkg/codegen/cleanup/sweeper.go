// Package cleanup removes compiled artifacts that have not been served or
// rebuilt for a while.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/canopy/pkg/codegen"
	"github.com/platinummonkey/canopy/pkg/codegen/cache"
	"github.com/platinummonkey/canopy/pkg/codegen/lock"
	"github.com/platinummonkey/canopy/pkg/observability"
)

// DefaultSchedule runs the sweep once an hour
const DefaultSchedule = "@hourly"

// Remover deletes a mirrored copy of an artifact
type Remover interface {
	Remove(ctx context.Context, variantID, modulePath string) error
}

// Options configures a Sweeper
type Options struct {
	OutDir string
	MaxAge time.Duration

	Store  *cache.Store
	Locker *lock.Locker
	Logger *observability.Logger
	// Metrics, Mirror and Now are optional
	Metrics *observability.Metrics
	Mirror  Remover
	Now     func() time.Time
}

// Result summarises one sweep
type Result struct {
	Scanned int
	Removed int
}

// Sweeper deletes artifacts whose last activity is older than MaxAge
type Sweeper struct {
	opts Options

	mu   sync.Mutex
	cron *cron.Cron
}

// NewSweeper validates options and creates a sweeper
func NewSweeper(opts Options) (*Sweeper, error) {
	if opts.OutDir == "" {
		return nil, fmt.Errorf("%w: output directory is required", codegen.ErrInvalidArgument)
	}
	if opts.MaxAge <= 0 {
		return nil, fmt.Errorf("%w: max age must be positive", codegen.ErrInvalidArgument)
	}
	if opts.Store == nil || opts.Locker == nil {
		return nil, fmt.Errorf("%w: store and locker are required", codegen.ErrInvalidArgument)
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewLogger(observability.InfoLevel, os.Stdout)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Sweeper{opts: opts}, nil
}

// Sweep walks the output directory once
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	var res Result

	artifacts, err := s.scan()
	if err != nil {
		return res, err
	}
	res.Scanned = len(artifacts)

	cutoff := s.opts.Now().Add(-s.opts.MaxAge)
	for _, artifact := range artifacts {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		removed, err := s.sweepOne(ctx, artifact, cutoff)
		if err != nil {
			s.opts.Logger.WithField("artifact", artifact).WithError(err).Warn("Failed to clean up artifact")
			continue
		}
		if removed {
			res.Removed++
		}
	}

	if s.opts.Metrics != nil {
		s.opts.Metrics.CleanupRemovedTotal.Add(float64(res.Removed))
	}
	s.opts.Logger.WithFields(map[string]interface{}{
		"scanned": res.Scanned,
		"removed": res.Removed,
	}).Info("Artifact cleanup finished")
	return res, nil
}

// scan lists artifact paths that have a descriptor
func (s *Sweeper) scan() ([]string, error) {
	var artifacts []string
	err := filepath.WalkDir(s.opts.OutDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || d.Name() != cache.DescriptorFile {
			return nil
		}
		dir := filepath.Dir(path)
		if !strings.HasSuffix(dir, cache.AssetDirSuffix) {
			return nil
		}
		artifacts = append(artifacts, strings.TrimSuffix(dir, cache.AssetDirSuffix))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan output directory: %w", err)
	}
	return artifacts, nil
}

func (s *Sweeper) sweepOne(ctx context.Context, artifact string, cutoff time.Time) (bool, error) {
	handle, err := s.opts.Locker.Lock(ctx, artifact)
	if err != nil {
		return false, err
	}
	defer func() {
		if err := handle.Release(); err != nil {
			s.opts.Logger.WithError(err).Warn("Failed to release artifact lock")
		}
	}()

	// re-read under the lock; a compile may have refreshed it meanwhile
	d, err := s.opts.Store.ReadDescriptor(ctx, artifact)
	if err != nil || d == nil {
		return false, err
	}
	if !LastActivity(d).Before(cutoff) {
		return false, nil
	}

	if err := s.opts.Store.Remove(artifact); err != nil {
		return false, err
	}
	if s.opts.Mirror != nil {
		if variantID, modulePath, ok := s.split(artifact); ok {
			if err := s.opts.Mirror.Remove(ctx, variantID, modulePath); err != nil {
				s.opts.Logger.WithField("artifact", artifact).WithError(err).Warn("Failed to remove mirrored artifact")
			}
		}
	}
	s.opts.Logger.WithField("artifact", artifact).Debug("Removed stale artifact")
	return true, nil
}

// split recovers the variant and module path from an artifact path
func (s *Sweeper) split(artifact string) (string, string, bool) {
	rel, err := filepath.Rel(s.opts.OutDir, artifact)
	if err != nil {
		return "", "", false
	}
	variantID, modulePath, ok := strings.Cut(filepath.ToSlash(rel), "/")
	if !ok || variantID == ".." || modulePath == "" {
		return "", "", false
	}
	return variantID, modulePath, true
}

// LastActivity is the last time an artifact was served from cache or written
func LastActivity(d *cache.Descriptor) time.Time {
	if d.LastMatchMs != nil && *d.LastMatchMs > d.LastModifiedMs {
		return time.UnixMilli(*d.LastMatchMs)
	}
	return d.LastModifiedAt()
}

// Start schedules Sweep with a cron expression. An empty schedule uses
// DefaultSchedule.
func (s *Sweeper) Start(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("%w: sweeper already started", codegen.ErrInvalidArgument)
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(schedule, func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.opts.Logger.WithError(err).Error("Artifact cleanup failed")
		}
	})
	if err != nil {
		return fmt.Errorf("%w: invalid cleanup schedule %q: %v", codegen.ErrInvalidArgument, schedule, err)
	}
	c.Start()
	s.cron = c
	s.opts.Logger.WithField("schedule", schedule).Info("Artifact cleanup scheduled")
	return nil
}

// Stop halts the schedule and waits for a running sweep
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
