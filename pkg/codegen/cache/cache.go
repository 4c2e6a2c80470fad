package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/canopy/pkg/codegen"
	"github.com/platinummonkey/canopy/pkg/observability"
)

const defaultMemoryTTL = 5 * time.Minute

// Store reads, validates and writes artifact descriptors. Callers must hold
// the artifact's lock around Validate and Write.
type Store struct {
	logger  *observability.Logger
	memory  *lru.LRU[string, memoryEntry]
	metrics *metrics
	now     func() time.Time
}

// NewStore creates a descriptor store
func NewStore(opts Options) *Store {
	s := &Store{
		logger:  opts.Logger,
		metrics: newMetrics(),
		now:     opts.Now,
	}
	if s.logger == nil {
		s.logger = observability.NewLogger(observability.InfoLevel, os.Stdout)
	}
	if s.now == nil {
		s.now = time.Now
	}
	if opts.MemoryEntries > 0 {
		ttl := opts.MemoryTTL
		if ttl <= 0 {
			ttl = defaultMemoryTTL
		}
		s.memory = lru.NewLRU[string, memoryEntry](opts.MemoryEntries, nil, ttl)
	}
	return s
}

// memoryEntry is a parsed descriptor together with the stat of the file it
// was read from. The entry is only trusted while the file is unchanged.
type memoryEntry struct {
	descriptor *Descriptor
	info       os.FileInfo
}

func (e memoryEntry) matches(info os.FileInfo) bool {
	return os.SameFile(e.info, info) &&
		e.info.Size() == info.Size() &&
		e.info.ModTime().Equal(info.ModTime())
}

// ReadDescriptor loads the descriptor of an artifact. A missing or malformed
// descriptor yields nil without error.
func (s *Store) ReadDescriptor(ctx context.Context, artifactPath string) (*Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := DescriptorPath(artifactPath)
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		if s.memory != nil {
			s.memory.Remove(path)
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat descriptor: %w", err)
	}

	// another process may have rewritten the descriptor since it was cached
	if s.memory != nil {
		if e, ok := s.memory.Get(path); ok && e.matches(info) {
			s.metrics.recordHit()
			return e.descriptor.clone(), nil
		}
		s.metrics.recordMiss()
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read descriptor: %w", err)
	}

	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		s.logger.WithField("path", path).WithError(err).Warn("Ignoring malformed cache descriptor")
		return nil, nil
	}
	if len(d.Sources) != len(d.SourcesETag) || len(d.Assets) != len(d.AssetsETag) {
		s.logger.WithField("path", path).Warn("Ignoring cache descriptor with mismatched etag lists")
		return nil, nil
	}

	if s.memory != nil {
		s.memory.Add(path, memoryEntry{descriptor: d.clone(), info: info})
	}
	return &d, nil
}

// Validate checks that the artifact and everything listed in its descriptor
// are unchanged on disk. Checks run in a fixed order and stop at the first
// failure. Filesystem errors other than not-found are returned as errors.
func (s *Store) Validate(ctx context.Context, d *Descriptor, artifactPath string, cond Conditions) (*Validation, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: descriptor is required", codegen.ErrInvalidArgument)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(artifactPath)
	if errors.Is(err, fs.ErrNotExist) {
		return invalid(ReasonArtifactNotFound, artifactPath), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat artifact: %w", err)
	}
	compiled, err := os.ReadFile(artifactPath)
	if errors.Is(err, fs.ErrNotExist) {
		return invalid(ReasonArtifactNotFound, artifactPath), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}

	etag := ETag(compiled)
	modTime := info.ModTime()
	if cond.IfNoneMatch != "" && !matchETag(cond.IfNoneMatch, etag) {
		return invalid(ReasonArtifactETagMismatch, artifactPath), nil
	}
	if !cond.IfModifiedSince.IsZero() && modTime.Truncate(time.Second).After(cond.IfModifiedSince) {
		return invalid(ReasonArtifactMtimeOutdated, artifactPath), nil
	}

	if len(d.Sources) == 0 {
		return invalid(ReasonSourcesEmpty, ""), nil
	}

	dir := AssetDir(artifactPath)
	sources := resolvePaths(dir, d.Sources)
	sourcesContent, missing, err := readFiles(ctx, sources)
	if err != nil {
		return nil, err
	}
	for i, p := range sources {
		if missing[i] {
			return invalid(ReasonSourceNotFound, p), nil
		}
		if ETag(sourcesContent[i]) != d.SourcesETag[i] {
			return invalid(ReasonSourceETagMismatch, p), nil
		}
	}

	assets := resolvePaths(dir, d.Assets)
	assetsContent, missing, err := readFiles(ctx, assets)
	if err != nil {
		return nil, err
	}
	for i, p := range assets {
		if missing[i] {
			return invalid(ReasonAssetFileNotFound, p), nil
		}
		if ETag(assetsContent[i]) != d.AssetsETag[i] {
			return invalid(ReasonAssetETagMismatch, p), nil
		}
	}

	return &Validation{
		Valid: true,
		Artifact: &codegen.Artifact{
			ContentType:    d.ContentType,
			Compiled:       compiled,
			Sources:        sources,
			SourcesContent: sourcesContent,
			Assets:         assets,
			AssetsContent:  assetsContent,
		},
		ETag:        etag,
		ModTime:     modTime,
		NotModified: !cond.Empty(),
	}, nil
}

// Write persists a compile result and its descriptor. New and updated results
// rewrite the artifact, its assets and the descriptor. Sources that no longer
// exist are dropped from the descriptor with a warning. A pure cache hit only
// touches the descriptor, and only with hit tracking on.
func (s *Store) Write(ctx context.Context, artifactPath string, a *codegen.Artifact, opts WriteOptions) (*Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !opts.IsNew && !opts.IsUpdate {
		if !opts.IsCacheHit || !opts.HitTracking {
			return nil, nil
		}
		d, err := s.ReadDescriptor(ctx, artifactPath)
		if err != nil || d == nil {
			return nil, err
		}
		s.trackMatch(d)
		if err := s.writeDescriptor(artifactPath, d); err != nil {
			return nil, err
		}
		return d, nil
	}

	if err := a.Validate(); err != nil {
		return nil, err
	}

	keep, err := existing(ctx, a.Sources)
	if err != nil {
		return nil, err
	}

	dir := AssetDir(artifactPath)
	now := s.now()
	d := &Descriptor{
		ContentType:    a.ContentType,
		Sources:        []string{},
		SourcesETag:    []string{},
		Assets:         []string{},
		AssetsETag:     []string{},
		CreatedMs:      now.UnixMilli(),
		LastModifiedMs: now.UnixMilli(),
	}

	for i, src := range a.Sources {
		if !keep[i] {
			s.logger.WithFields(map[string]interface{}{
				"artifact": artifactPath,
				"source":   src,
			}).Warn("Source reported by transformer does not exist; it will not invalidate the cache")
			continue
		}
		rel, err := relPath(dir, src)
		if err != nil {
			return nil, err
		}
		d.Sources = append(d.Sources, rel)
		d.SourcesETag = append(d.SourcesETag, ETag(a.SourcesContent[i]))
	}

	if err := writeFile(artifactPath, a.Compiled); err != nil {
		return nil, fmt.Errorf("failed to write artifact: %w", err)
	}
	for i, asset := range a.Assets {
		rel, err := relPath(dir, asset)
		if err != nil {
			return nil, err
		}
		if err := writeFile(asset, a.AssetsContent[i]); err != nil {
			return nil, fmt.Errorf("failed to write asset: %w", err)
		}
		d.Assets = append(d.Assets, rel)
		d.AssetsETag = append(d.AssetsETag, ETag(a.AssetsContent[i]))
	}

	if !opts.IsNew || opts.HitTracking {
		prev, err := s.ReadDescriptor(ctx, artifactPath)
		if err != nil {
			return nil, err
		}
		if prev != nil {
			if !opts.IsNew {
				d.CreatedMs = prev.CreatedMs
			}
			d.MatchCount = prev.MatchCount
			d.LastMatchMs = prev.LastMatchMs
		}
	}
	if opts.HitTracking {
		s.trackMatch(d)
	}

	if err := s.writeDescriptor(artifactPath, d); err != nil {
		return nil, err
	}
	return d.clone(), nil
}

// Remove deletes an artifact together with its descriptor and assets
func (s *Store) Remove(artifactPath string) error {
	if s.memory != nil {
		s.memory.Remove(DescriptorPath(artifactPath))
	}
	if err := os.Remove(artifactPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove artifact: %w", err)
	}
	if err := os.RemoveAll(AssetDir(artifactPath)); err != nil {
		return fmt.Errorf("failed to remove asset directory: %w", err)
	}
	return nil
}

// Stats returns statistics of the in-memory descriptor layer
func (s *Store) Stats() Stats {
	stats := Stats{
		Hits:   s.metrics.getHits(),
		Misses: s.metrics.getMisses(),
	}
	if s.memory != nil {
		stats.ItemCount = int64(s.memory.Len())
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

// Close drops the in-memory descriptor layer
func (s *Store) Close() error {
	if s.memory != nil {
		s.memory.Purge()
	}
	return nil
}

func (s *Store) trackMatch(d *Descriptor) {
	var count int64
	if d.MatchCount != nil {
		count = *d.MatchCount
	}
	count++
	at := s.now().UnixMilli()
	d.MatchCount = &count
	d.LastMatchMs = &at
}

func (s *Store) writeDescriptor(artifactPath string, d *Descriptor) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal descriptor: %w", err)
	}
	path := DescriptorPath(artifactPath)
	if err := writeFile(path, data); err != nil {
		return fmt.Errorf("failed to write descriptor: %w", err)
	}
	if s.memory != nil {
		info, err := os.Stat(path)
		if err != nil {
			s.memory.Remove(path)
			return nil
		}
		s.memory.Add(path, memoryEntry{descriptor: d.clone(), info: info})
	}
	return nil
}

func invalid(reason, path string) *Validation {
	return &Validation{Reason: reason, Path: path}
}

// matchETag implements If-None-Match comparison, which ignores the weak prefix
func matchETag(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

func resolvePaths(dir string, rel []string) []string {
	out := make([]string, len(rel))
	for i, p := range rel {
		out[i] = filepath.Join(dir, filepath.FromSlash(p))
	}
	return out
}

func relPath(dir, path string) (string, error) {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return "", fmt.Errorf("%w: cannot track %q: %v", codegen.ErrInvalidArgument, path, err)
	}
	return filepath.ToSlash(rel), nil
}

// readFiles reads paths in parallel. missing[i] is set for files that do not
// exist.
func readFiles(ctx context.Context, paths []string) ([][]byte, []bool, error) {
	contents := make([][]byte, len(paths))
	missing := make([]bool, len(paths))

	eg, ctx := errgroup.WithContext(ctx)
	for i, p := range paths {
		i, p := i, p
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(p)
			if errors.Is(err, fs.ErrNotExist) {
				missing[i] = true
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", p, err)
			}
			contents[i] = data
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}
	return contents, missing, nil
}

// existing probes paths in parallel and reports which exist
func existing(ctx context.Context, paths []string) ([]bool, error) {
	found := make([]bool, len(paths))

	eg, ctx := errgroup.WithContext(ctx)
	for i, p := range paths {
		i, p := i, p
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			_, err := os.Stat(p)
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to stat %s: %w", p, err)
			}
			found[i] = true
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return found, nil
}

// writeFile replaces path through a temporary file so readers never observe
// a partial write
func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// metrics tracks the in-memory descriptor layer
type metrics struct {
	hits   atomic.Int64
	misses atomic.Int64
}

func newMetrics() *metrics {
	return &metrics{}
}

func (m *metrics) recordHit() {
	m.hits.Add(1)
}

func (m *metrics) recordMiss() {
	m.misses.Add(1)
}

func (m *metrics) getHits() int64 {
	return m.hits.Load()
}

func (m *metrics) getMisses() int64 {
	return m.misses.Load()
}
