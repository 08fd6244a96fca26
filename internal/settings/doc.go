// Package settings loads configuration for the goAbuse binaries from a YAML
// file, an optional .env file and GOABUSE_* environment variables.
//
// The library itself never reads files or the environment; only cmd/ and
// examples/ import this package.
package settings
