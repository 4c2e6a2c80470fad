package cache

import (
	"path/filepath"
	"time"

	"github.com/platinummonkey/canopy/pkg/codegen"
	"github.com/platinummonkey/canopy/pkg/observability"
)

const (
	// AssetDirSuffix is appended to an artifact path to name its asset directory
	AssetDirSuffix = "__asset__"
	// DescriptorFile is the descriptor's name inside the asset directory
	DescriptorFile = "meta.json"
)

// AssetDir returns the directory holding an artifact's descriptor and assets
func AssetDir(artifactPath string) string {
	return artifactPath + AssetDirSuffix
}

// DescriptorPath returns where the descriptor of an artifact is stored
func DescriptorPath(artifactPath string) string {
	return filepath.Join(AssetDir(artifactPath), DescriptorFile)
}

// Descriptor is the persisted record of everything that influenced an
// artifact. Paths are slash separated and relative to the descriptor's
// directory.
type Descriptor struct {
	ContentType    string   `json:"contentType"`
	Sources        []string `json:"sources"`
	SourcesETag    []string `json:"sourcesEtag"`
	Assets         []string `json:"assets"`
	AssetsETag     []string `json:"assetsEtag"`
	CreatedMs      int64    `json:"createdMs"`
	LastModifiedMs int64    `json:"lastModifiedMs"`
	MatchCount     *int64   `json:"matchCount,omitempty"`
	LastMatchMs    *int64   `json:"lastMatchMs,omitempty"`
}

// CreatedAt returns when the artifact was first compiled
func (d *Descriptor) CreatedAt() time.Time {
	return time.UnixMilli(d.CreatedMs)
}

// LastModifiedAt returns when the artifact was last compiled
func (d *Descriptor) LastModifiedAt() time.Time {
	return time.UnixMilli(d.LastModifiedMs)
}

func (d *Descriptor) clone() *Descriptor {
	c := *d
	c.Sources = append([]string(nil), d.Sources...)
	c.SourcesETag = append([]string(nil), d.SourcesETag...)
	c.Assets = append([]string(nil), d.Assets...)
	c.AssetsETag = append([]string(nil), d.AssetsETag...)
	if d.MatchCount != nil {
		n := *d.MatchCount
		c.MatchCount = &n
	}
	if d.LastMatchMs != nil {
		n := *d.LastMatchMs
		c.LastMatchMs = &n
	}
	return &c
}

// Conditions are the conditional request headers a client sent, if any
type Conditions struct {
	IfNoneMatch     string
	IfModifiedSince time.Time
}

// Empty reports whether no condition was supplied
func (c Conditions) Empty() bool {
	return c.IfNoneMatch == "" && c.IfModifiedSince.IsZero()
}

// Validation is the outcome of Store.Validate
type Validation struct {
	Valid bool
	// Reason is one of the Reason* codes when Valid is false
	Reason string
	// Path is the source or asset that failed validation, if any
	Path string

	// Artifact holds the stored bytes and the re-read sources and assets
	// when Valid is true
	Artifact *codegen.Artifact
	ETag     string
	ModTime  time.Time
	// NotModified is true when conditions were supplied and matched
	NotModified bool
}

// WriteOptions tells Store.Write what kind of compile produced the artifact
type WriteOptions struct {
	IsNew       bool
	IsUpdate    bool
	IsCacheHit  bool
	HitTracking bool
}

// Options configures a Store
type Options struct {
	Logger *observability.Logger

	// MemoryEntries enables an in-memory descriptor layer when positive.
	// Entries are checked against the descriptor file's stat on every read,
	// so a descriptor rewritten by another process is read again.
	MemoryEntries int
	MemoryTTL     time.Duration

	// Now overrides the clock, mostly for tests
	Now func() time.Time
}

// Stats reports the in-memory descriptor layer
type Stats struct {
	Hits      int64
	Misses    int64
	HitRate   float64
	ItemCount int64
}
