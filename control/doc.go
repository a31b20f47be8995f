// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime configuration, metrics and debug introspection for the engine.
//
// Provides concurrent-safe state handling primitives including:
//   - Snapshot config reads and merged updates with reload listeners
//   - Metrics counters
//   - Debug probe registration
//   - Settings loading from TOML files, .env files and the environment
package control
