// Package flags provides the read-only rollout flag registry consumed by the
// access gate. Unknown flags are disabled.
package flags

import "maps"

const (
	// FlagUIRollout enables the version picker and versioned resolution.
	FlagUIRollout = "ui_rollout"

	// FlagUploadRollout enables creating new versions.
	FlagUploadRollout = "upload_rollout"
)

// Registry holds flag state loaded from configuration. It is never mutated
// after construction.
type Registry struct {
	flags map[string]bool
}

// New copies flags into a Registry. A nil map yields an empty registry.
func New(flags map[string]bool) *Registry {
	r := &Registry{flags: make(map[string]bool, len(flags))}
	maps.Copy(r.flags, flags)
	return r
}

// Enabled returns false for unknown flags and on a nil registry.
func (r *Registry) Enabled(name string) bool {
	if r == nil || r.flags == nil {
		return false
	}
	return r.flags[name]
}

// All returns a copy of all flags.
func (r *Registry) All() map[string]bool {
	if r == nil || r.flags == nil {
		return make(map[string]bool)
	}
	result := make(map[string]bool, len(r.flags))
	maps.Copy(result, r.flags)
	return result
}
