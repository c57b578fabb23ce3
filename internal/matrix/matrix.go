// Package matrix expands declared build axes into independent execution lanes.
//
// Expansion is a pure function of the declared configuration: it has no side
// effects and is computed once, up front, before any lane runs. Lane order
// follows declaration order so log output is reproducible, but lanes carry no
// execution-order guarantee.
package matrix

import (
	"sort"
	"strings"

	"git.home.luguber.info/inful/matrixci/internal/cierrors"
)

// VarImage is the conventional variable name carrying the worker image for a
// lane. VarChannel carries the toolchain release channel bound by the
// provisioner before stages run.
const (
	VarImage   = "image"
	VarChannel = "channel"
)

// Axis is a named dimension of variation in the build matrix.
type Axis struct {
	Name    string
	Entries []Entry
}

// Entry is one labeled point on an axis. Immutable once defined.
type Entry struct {
	Label string
	Vars  map[string]string
}

// Lane is one concrete combination of axis-entry bindings; an independent
// execution unit. For a single axis the lane id is the entry label; for
// products it is the "/"-join of entry labels in axis declaration order.
type Lane struct {
	ID   string
	Vars map[string]string
}

// Image returns the lane's target worker image binding ("" if unbound).
func (l Lane) Image() string { return l.Vars[VarImage] }

// Channel returns the lane's toolchain channel binding ("" if unbound).
func (l Lane) Channel() string { return l.Vars[VarChannel] }

// Expand computes the set of execution lanes for the declared axes: the full
// cartesian product of entries across axes, one lane per combination,
// preserving declaration order.
//
// Errors (all fatal to the run, detected before any lane executes):
//   - EmptyMatrix when no axes are declared or any axis has no entries
//   - DuplicateLane when two entries within one axis share a label
//   - DuplicateVariable when two axes bind the same variable name
func Expand(axes []Axis) ([]Lane, error) {
	if len(axes) == 0 {
		return nil, cierrors.EmptyMatrix()
	}

	varOwner := make(map[string]string) // variable name -> axis that binds it
	for _, axis := range axes {
		if len(axis.Entries) == 0 {
			return nil, cierrors.EmptyMatrix()
		}
		seen := make(map[string]bool, len(axis.Entries))
		axisVars := make(map[string]bool)
		for _, entry := range axis.Entries {
			if seen[entry.Label] {
				return nil, cierrors.DuplicateLane(axis.Name, entry.Label)
			}
			seen[entry.Label] = true
			for name := range entry.Vars {
				axisVars[name] = true
			}
		}
		for name := range axisVars {
			if owner, ok := varOwner[name]; ok {
				return nil, cierrors.DuplicateVariable(name, owner, axis.Name)
			}
			varOwner[name] = axis.Name
		}
	}

	lanes := []Lane{{Vars: map[string]string{}}}
	for _, axis := range axes {
		next := make([]Lane, 0, len(lanes)*len(axis.Entries))
		for _, base := range lanes {
			for _, entry := range axis.Entries {
				vars := make(map[string]string, len(base.Vars)+len(entry.Vars))
				for k, v := range base.Vars {
					vars[k] = v
				}
				for k, v := range entry.Vars {
					vars[k] = v
				}
				id := entry.Label
				if base.ID != "" {
					id = base.ID + "/" + entry.Label
				}
				next = append(next, Lane{ID: id, Vars: vars})
			}
		}
		lanes = next
	}
	return lanes, nil
}

// IDs returns the lane ids in declaration order (log/report convenience).
func IDs(lanes []Lane) []string {
	ids := make([]string, len(lanes))
	for i, l := range lanes {
		ids[i] = l.ID
	}
	return ids
}

// String renders a compact human-readable form: "id{k=v, ...}".
func (l Lane) String() string {
	if len(l.Vars) == 0 {
		return l.ID
	}
	keys := make([]string, 0, len(l.Vars))
	for k := range l.Vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(l.ID)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(l.Vars[k])
	}
	b.WriteByte('}')
	return b.String()
}
