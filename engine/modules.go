package engine

import (
	"fmt"

	"github.com/voxleap/tether/host"
)

// essentialSet returns the host's essential modules, deduplicated by
// resolved path. Core modules are implicitly available and never bound
// explicitly.
func (r *Runner) essentialSet() []host.Module {
	var out []host.Module
	seen := make(map[string]bool)
	for _, m := range r.host.Modules() {
		if m.Core || !m.Essential || seen[m.Path] {
			continue
		}
		seen[m.Path] = true
		out = append(out, m)
	}
	return out
}

// fullSet returns every loaded, non-core module, deduplicated by
// resolved path. Compiling against this set is slower, so it is only
// used after a tier-1 failure.
func (r *Runner) fullSet() []host.Module {
	var out []host.Module
	seen := make(map[string]bool)
	for _, m := range r.host.Modules() {
		if m.Core || seen[m.Path] {
			continue
		}
		seen[m.Path] = true
		out = append(out, m)
	}
	return out
}

// tier1Set is the essential set extended with the fragment's declared
// references. An unknown declared reference is a compile-stage error:
// the fragment can never run without it.
func (r *Runner) tier1Set(refs []string) ([]host.Module, error) {
	out := r.essentialSet()
	seen := make(map[string]bool)
	for _, m := range out {
		seen[m.Path] = true
	}

	all := r.host.Modules()
	for _, ref := range refs {
		found := false
		for _, m := range all {
			if m.Name != ref {
				continue
			}
			found = true
			if m.Core || seen[m.Path] {
				break
			}
			seen[m.Path] = true
			out = append(out, m)
			break
		}
		if !found {
			return nil, fmt.Errorf("unknown reference %q", ref)
		}
	}
	return out, nil
}
