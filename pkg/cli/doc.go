// Package cli implements the canopy command-line tool.
//
//	canopy groups --runtime chrome --runtime firefox --group-count 2
//	canopy compile src/app.js src/util.js --variant otherwise
//	canopy resolve /.canopy/out/best/src/app.js
//	canopy clean --max-age 72h
//
// Every command that needs groups accepts the same --config YAML file the
// server reads from CANOPY_CONFIG_FILE.
package cli
