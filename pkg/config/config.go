package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/canopy/pkg/codegen"
	"github.com/platinummonkey/canopy/pkg/codegen/artifacts"
	"github.com/platinummonkey/canopy/pkg/codegen/cleanup"
	"github.com/platinummonkey/canopy/pkg/codegen/lock"
	"github.com/platinummonkey/canopy/pkg/compatibility"
	"github.com/platinummonkey/canopy/pkg/groups"
	"github.com/platinummonkey/canopy/pkg/observability"
)

// Transformer kinds
const (
	TransformerPassthrough = "passthrough"
	TransformerCommand     = "command"
)

// Lock backends
const (
	LockNone  = "none"
	LockFile  = "file"
	LockRedis = "redis"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Compile       CompileConfig
	Lock          LockConfig
	Groups        GroupsConfig
	Cleanup       CleanupConfig
	Mirror        MirrorConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Addr is the listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// CompileConfig holds project layout and orchestrator settings
type CompileConfig struct {
	// ProjectRoot holds the original modules
	ProjectRoot string
	// OutDir holds compiled artifacts, one directory per variant
	OutDir string
	// OutDirPrefix is the URL prefix compiled modules are served under
	OutDirPrefix string

	UseFilesystemAsCache bool
	WriteOnFilesystem    bool
	HitTracking          bool
	Timeout              time.Duration

	// MemoryEntries sizes the in-memory descriptor cache; 0 disables it.
	// It defaults to off when another process may share the output directory.
	MemoryEntries int
	MemoryTTL     time.Duration

	Transformer        string
	TransformerCommand string
	TransformerArgs    []string
}

// LockConfig selects the cross-process lock
type LockConfig struct {
	Backend     string
	RedisURL    string
	RedisPrefix string
	TTL         time.Duration
	StaleAfter  time.Duration

	Retries    int
	MinTimeout time.Duration
	MaxTimeout time.Duration
	Factor     float64
}

// RetryPolicy builds the external lock retry policy
func (l LockConfig) RetryPolicy() lock.RetryPolicy {
	return lock.RetryPolicy{
		Retries:    l.Retries,
		MinTimeout: l.MinTimeout,
		MaxTimeout: l.MaxTimeout,
		Factor:     l.Factor,
	}
}

// GroupsConfig holds the inputs of group generation
type GroupsConfig struct {
	// File is the YAML file the fields below were read from, if any
	File string
	// GroupMapFile, when set, is read instead of generating groups
	GroupMapFile string

	// Index is the capability compatibility index; nil uses the built-in one
	Index    compatibility.Index
	Usage    groups.UsageWeights
	Runtimes []string
	groups.SelectOptions
}

// CleanupConfig controls the stale artifact sweeper
type CleanupConfig struct {
	Enabled  bool
	Schedule string
	MaxAge   time.Duration
}

// MirrorConfig controls publishing artifacts to S3
type MirrorConfig struct {
	Enabled bool
	artifacts.Config
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// OTel converts the settings for observability.InitOTel. Config.OTel adds the
// deployment attributes.
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// OTel is Observability.OTel with the output directory, lock backend and
// transformer recorded as resource attributes, so traces from servers sharing
// one output directory can be told apart from the rest
func (c *Config) OTel() observability.OTelConfig {
	otelCfg := c.Observability.OTel()
	otelCfg.Attributes = map[string]string{
		"canopy.out_dir":      c.Compile.OutDir,
		"canopy.lock_backend": c.Lock.Backend,
		"canopy.transformer":  c.Compile.Transformer,
	}
	return otelCfg
}

// fileConfig is the layout of CANOPY_CONFIG_FILE
type fileConfig struct {
	Index                          compatibility.Index `yaml:"index"`
	Usage                          groups.UsageWeights `yaml:"usage"`
	Runtimes                       []string            `yaml:"runtimes"`
	GroupCount                     *int                `yaml:"groupCount"`
	RuntimeAlwaysInGroupPopulation *bool               `yaml:"runtimeAlwaysInGroupPopulation"`
	RuntimeWillAlwaysBeKnown       *bool               `yaml:"runtimeWillAlwaysBeKnown"`
}

// LoadConfig loads configuration from environment variables, then merges the
// YAML file named by CANOPY_CONFIG_FILE
func LoadConfig() (*Config, error) {
	lockCfg := loadLockConfig()
	compile, err := loadCompileConfig(lockCfg.Backend)
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		Server:        loadServerConfig(),
		Compile:       compile,
		Lock:          lockCfg,
		Groups:        loadGroupsConfig(),
		Cleanup:       loadCleanupConfig(),
		Mirror:        loadMirrorConfig(),
		Observability: loadObservabilityConfig(),
	}

	if cfg.Groups.File != "" {
		if err := cfg.Groups.LoadFile(cfg.Groups.File); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("CANOPY_HOST", "0.0.0.0"),
		Port:            getEnv("CANOPY_PORT", "8080"),
		ReadTimeout:     getEnvDuration("CANOPY_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("CANOPY_WRITE_TIMEOUT", 2*time.Minute),
		IdleTimeout:     getEnvDuration("CANOPY_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("CANOPY_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func loadCompileConfig(lockBackend string) (CompileConfig, error) {
	root, err := filepath.Abs(getEnv("CANOPY_PROJECT_ROOT", "."))
	if err != nil {
		return CompileConfig{}, fmt.Errorf("failed to resolve project root: %w", err)
	}
	outDir := getEnv("CANOPY_OUT_DIR", filepath.Join(root, ".canopy", "out"))
	if !filepath.IsAbs(outDir) {
		outDir = filepath.Join(root, outDir)
	}

	memoryEntries := 0
	if lockBackend == LockNone {
		memoryEntries = 1024
	}

	cfg := CompileConfig{
		ProjectRoot:          root,
		OutDir:               outDir,
		OutDirPrefix:         getEnv("CANOPY_OUT_DIR_PREFIX", "/.canopy/out/"),
		UseFilesystemAsCache: getEnvBool("CANOPY_USE_FILESYSTEM_AS_CACHE", true),
		WriteOnFilesystem:    getEnvBool("CANOPY_WRITE_ON_FILESYSTEM", true),
		HitTracking:          getEnvBool("CANOPY_HIT_TRACKING", false),
		Timeout:              getEnvDuration("CANOPY_COMPILE_TIMEOUT", 2*time.Minute),
		MemoryEntries:        getEnvInt("CANOPY_DESCRIPTOR_CACHE_SIZE", memoryEntries),
		MemoryTTL:            getEnvDuration("CANOPY_DESCRIPTOR_CACHE_TTL", 5*time.Minute),
		Transformer:          getEnv("CANOPY_TRANSFORMER", TransformerPassthrough),
		TransformerCommand:   getEnv("CANOPY_TRANSFORMER_COMMAND", ""),
	}
	if args := getEnv("CANOPY_TRANSFORMER_ARGS", ""); args != "" {
		cfg.TransformerArgs = strings.Fields(args)
	}
	return cfg, nil
}

func loadLockConfig() LockConfig {
	policy := lock.DefaultRetryPolicy()
	return LockConfig{
		Backend:     getEnv("CANOPY_LOCK_BACKEND", LockFile),
		RedisURL:    getEnv("CANOPY_REDIS_URL", ""),
		RedisPrefix: getEnv("CANOPY_REDIS_LOCK_PREFIX", "canopy:lock"),
		TTL:         getEnvDuration("CANOPY_LOCK_TTL", 30*time.Second),
		StaleAfter:  getEnvDuration("CANOPY_LOCK_STALE_AFTER", 10*time.Second),
		Retries:     getEnvInt("CANOPY_LOCK_RETRIES", policy.Retries),
		MinTimeout:  getEnvDuration("CANOPY_LOCK_MIN_TIMEOUT", policy.MinTimeout),
		MaxTimeout:  getEnvDuration("CANOPY_LOCK_MAX_TIMEOUT", policy.MaxTimeout),
		Factor:      getEnvFloat("CANOPY_LOCK_FACTOR", policy.Factor),
	}
}

func loadGroupsConfig() GroupsConfig {
	cfg := GroupsConfig{
		File:         getEnv("CANOPY_CONFIG_FILE", ""),
		GroupMapFile: getEnv("CANOPY_GROUP_MAP_FILE", ""),
		SelectOptions: groups.SelectOptions{
			GroupCount:                     getEnvInt("CANOPY_GROUP_COUNT", 3),
			RuntimeAlwaysInGroupPopulation: getEnvBool("CANOPY_RUNTIME_ALWAYS_IN_POPULATION", false),
			RuntimeWillAlwaysBeKnown:       getEnvBool("CANOPY_RUNTIME_ALWAYS_KNOWN", false),
		},
	}
	if runtimes := getEnv("CANOPY_RUNTIMES", ""); runtimes != "" {
		cfg.Runtimes = splitList(runtimes)
	}
	return cfg
}

func loadCleanupConfig() CleanupConfig {
	return CleanupConfig{
		Enabled:  getEnvBool("CANOPY_CLEANUP_ENABLED", false),
		Schedule: getEnv("CANOPY_CLEANUP_SCHEDULE", cleanup.DefaultSchedule),
		MaxAge:   getEnvDuration("CANOPY_CLEANUP_MAX_AGE", 7*24*time.Hour),
	}
}

func loadMirrorConfig() MirrorConfig {
	cfg := MirrorConfig{
		Enabled: getEnvBool("CANOPY_MIRROR_ENABLED", false),
		Config:  *artifacts.DefaultConfig(),
	}
	cfg.S3Bucket = getEnv("CANOPY_S3_BUCKET", cfg.S3Bucket)
	cfg.S3Prefix = getEnv("CANOPY_S3_PREFIX", cfg.S3Prefix)
	cfg.S3Region = getEnv("CANOPY_S3_REGION", cfg.S3Region)
	cfg.S3Endpoint = getEnv("CANOPY_S3_ENDPOINT", cfg.S3Endpoint)
	cfg.S3UsePathStyle = getEnvBool("CANOPY_S3_USE_PATH_STYLE", cfg.S3UsePathStyle)
	cfg.AccessKeyID = getEnv("CANOPY_S3_ACCESS_KEY", cfg.AccessKeyID)
	cfg.SecretAccessKey = getEnv("CANOPY_S3_SECRET_KEY", cfg.SecretAccessKey)
	return cfg
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLevel(getEnv("CANOPY_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("CANOPY_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("CANOPY_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("CANOPY_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("CANOPY_OTEL_SERVICE_NAME", "canopy"),
		OTelServiceVersion: getEnv("CANOPY_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("CANOPY_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("CANOPY_OTEL_SAMPLE_RATIO", 1),
	}
}

// LoadFile merges a YAML groups file. Keys absent from the file keep their
// current value.
func (g *GroupsConfig) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("%w: failed to parse config file %s: %v", codegen.ErrInvalidArgument, path, err)
	}

	if fc.Index != nil {
		g.Index = fc.Index
	}
	if fc.Usage != nil {
		g.Usage = fc.Usage
	}
	if fc.Runtimes != nil {
		g.Runtimes = fc.Runtimes
	}
	if fc.GroupCount != nil {
		g.GroupCount = *fc.GroupCount
	}
	if fc.RuntimeAlwaysInGroupPopulation != nil {
		g.RuntimeAlwaysInGroupPopulation = *fc.RuntimeAlwaysInGroupPopulation
	}
	if fc.RuntimeWillAlwaysBeKnown != nil {
		g.RuntimeWillAlwaysBeKnown = *fc.RuntimeWillAlwaysBeKnown
	}
	g.File = path
	return nil
}

// GroupMap reads GroupMapFile when set, otherwise generates the group map
func (g GroupsConfig) GroupMap() (groups.GroupMap, error) {
	if g.GroupMapFile != "" {
		return groups.ReadGroupMap(g.GroupMapFile)
	}
	index := g.Index
	if index == nil {
		index = compatibility.DefaultIndex()
	}
	return groups.Generate(index, groups.GenerateOptions{
		Runtimes:      g.Runtimes,
		Usage:         g.Usage,
		SelectOptions: g.SelectOptions,
	})
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return invalid("server port is required")
	}

	if c.Compile.ProjectRoot == "" || c.Compile.OutDir == "" {
		return invalid("project root and output directory are required")
	}
	if !strings.HasPrefix(c.Compile.OutDirPrefix, "/") || strings.Trim(c.Compile.OutDirPrefix, "/") == "" {
		return invalid("output directory prefix must be an absolute URL path other than /: %q", c.Compile.OutDirPrefix)
	}
	switch c.Compile.Transformer {
	case TransformerPassthrough:
	case TransformerCommand:
		if c.Compile.TransformerCommand == "" {
			return invalid("transformer command is required for the command transformer")
		}
	default:
		return invalid("invalid transformer: %s (must be passthrough or command)", c.Compile.Transformer)
	}
	if c.Compile.MemoryEntries < 0 {
		return invalid("descriptor cache size must not be negative")
	}

	switch c.Lock.Backend {
	case LockNone:
	case LockFile:
		if c.Lock.StaleAfter <= 0 {
			return invalid("lock stale threshold must be positive for the file lock backend")
		}
	case LockRedis:
		if c.Lock.RedisURL == "" {
			return invalid("redis URL is required for the redis lock backend")
		}
		if c.Lock.TTL <= 0 {
			return invalid("lock TTL must be positive for the redis lock backend")
		}
	default:
		return invalid("invalid lock backend: %s (must be none, file, or redis)", c.Lock.Backend)
	}
	if err := c.Lock.RetryPolicy().Validate(); err != nil {
		return err
	}

	if c.Groups.GroupCount < 1 {
		return invalid("group count must be at least 1")
	}
	if c.Groups.Index != nil {
		if err := c.Groups.Index.Validate(); err != nil {
			return err
		}
	}

	if c.Cleanup.Enabled && c.Cleanup.MaxAge <= 0 {
		return invalid("cleanup max age must be positive")
	}

	if c.Mirror.Enabled && c.Mirror.S3Bucket == "" {
		return fmt.Errorf("%w: %v", codegen.ErrInvalidArgument, artifacts.ErrBucketRequired)
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return invalid("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return invalid("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", codegen.ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
