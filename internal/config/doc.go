// Package config loads the tasksync agent configuration.
//
// A config file is YAML. Fields left out keep their defaults, unknown
// fields are rejected, and the merged document is validated against an
// embedded CUE schema before it is resolved into the runtime types the
// persistence and checkpoint packages consume.
//
// Minimal example:
//
//	agent_id: alice
//	persistence:
//	  mode: strict
//	  dir: /var/lib/tasksync
//	  initialize_if_missing: true
//
// The environment variable TASKSYNC_PERSISTENCE_MODE overrides
// persistence.mode (case-insensitive).
package config
