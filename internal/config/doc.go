// Package config provides configuration structures and utilities for
// chainscan. It defines the CLI options, the YAML project file that lists
// each project's seed addresses and analyzer overrides, and the mapping from
// both to discovery options.
package config
