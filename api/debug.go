// Package api
// Author: momentics
//
// Live debug support: named probes sampled on demand.

package api

// Debug exposes runtime introspection.
type Debug interface {
	// DumpState emits a snapshot of every probe.
	DumpState() map[string]any

	// RegisterProbe dynamically registers new debug probes.
	RegisterProbe(name string, fn func() any)
}
