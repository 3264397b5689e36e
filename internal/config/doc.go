// Package config loads the daemon configuration from a single YAML or JSON
// file and fills in defaults. Relative paths are resolved against the
// directory of the configuration file.
package config
