// Package config loads server configuration from CANOPY_* environment
// variables and an optional YAML file.
//
// # Environment
//
//	CANOPY_HOST, CANOPY_PORT                 listen address (0.0.0.0:8080)
//	CANOPY_PROJECT_ROOT                      original modules (.)
//	CANOPY_OUT_DIR                           compiled variants (<root>/.canopy/out)
//	CANOPY_OUT_DIR_PREFIX                    URL prefix of compiled modules (/.canopy/out/)
//	CANOPY_USE_FILESYSTEM_AS_CACHE           validate stored artifacts (true)
//	CANOPY_WRITE_ON_FILESYSTEM               persist artifacts (true)
//	CANOPY_HIT_TRACKING                      record cache hits in descriptors (false)
//	CANOPY_TRANSFORMER                       passthrough or command
//	CANOPY_TRANSFORMER_COMMAND / _ARGS       executable for the command transformer
//	CANOPY_LOCK_BACKEND                      none, file or redis (file)
//	CANOPY_REDIS_URL                         redis lock server
//	CANOPY_GROUP_COUNT, CANOPY_RUNTIMES      group generation
//	CANOPY_GROUP_MAP_FILE                    use a fixed group map instead
//	CANOPY_CLEANUP_ENABLED / _SCHEDULE / _MAX_AGE
//	CANOPY_MIRROR_ENABLED, CANOPY_S3_*       S3 artifact mirror
//	CANOPY_LOG_LEVEL, CANOPY_OTEL_*          observability
//
// # File
//
// CANOPY_CONFIG_FILE names a YAML file with the group generation inputs:
//
//	index:
//	  arrow-functions: {chrome: 47, firefox: 45}
//	usage:
//	  chrome: {47: 0.6, 40: 0.1}
//	  firefox: 0.3
//	runtimes: [chrome, firefox]
//	groupCount: 2
//	runtimeAlwaysInGroupPopulation: false
//	runtimeWillAlwaysBeKnown: false
//
// Keys present in the file override the environment.
package config
