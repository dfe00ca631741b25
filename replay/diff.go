package replay

import (
	"reflect"
	"sort"
	"strings"
)

// DiffOp classifies one context diff entry.
type DiffOp string

// Diff operations.
const (
	DiffAdded   DiffOp = "added"
	DiffRemoved DiffOp = "removed"
	DiffChanged DiffOp = "changed"
)

// DiffEntry describes one leaf-level difference between two context
// snapshots. Path is dotted (e.g. "steps.qualify.score"). OldValue is
// set for removed/changed, NewValue for added/changed.
type DiffEntry struct {
	Path     string `json:"path"`
	Op       DiffOp `json:"op"`
	OldValue any    `json:"oldValue,omitempty"`
	NewValue any    `json:"newValue,omitempty"`
}

// ComputeDiff recursively compares two context maps and returns the
// leaf-level differences. Identical subtrees produce no entries. Maps
// recurse; everything else (slices included) is compared as a leaf with
// reflect.DeepEqual. Entries are sorted by path so output is
// deterministic regardless of map iteration order.
func ComputeDiff(before, after map[string]any) []DiffEntry {
	var entries []DiffEntry
	diffMaps("", before, after, &entries)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries
}

func diffMaps(prefix string, before, after map[string]any, entries *[]DiffEntry) {
	keys := make(map[string]bool, len(before)+len(after))
	for k := range before {
		keys[k] = true
	}
	for k := range after {
		keys[k] = true
	}

	for k := range keys {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}

		b, inBefore := before[k]
		a, inAfter := after[k]

		switch {
		case !inBefore:
			*entries = append(*entries, DiffEntry{Path: path, Op: DiffAdded, NewValue: a})
		case !inAfter:
			*entries = append(*entries, DiffEntry{Path: path, Op: DiffRemoved, OldValue: b})
		default:
			bm, bIsMap := b.(map[string]any)
			am, aIsMap := a.(map[string]any)
			if bIsMap && aIsMap {
				diffMaps(path, bm, am, entries)
				continue
			}
			if !reflect.DeepEqual(b, a) {
				*entries = append(*entries, DiffEntry{Path: path, Op: DiffChanged, OldValue: b, NewValue: a})
			}
		}
	}
}

// ApplyDiff returns a new context with each diff entry applied: added
// and changed set NewValue at the path, removed deletes the key. The
// input is never mutated, so ApplyDiff(a, ComputeDiff(a, b)) equals b.
func ApplyDiff(ctx map[string]any, diff []DiffEntry) map[string]any {
	out := deepCopyMap(ctx)
	for _, entry := range diff {
		parts := strings.Split(entry.Path, ".")
		switch entry.Op {
		case DiffAdded, DiffChanged:
			setPath(out, parts, entry.NewValue)
		case DiffRemoved:
			deletePath(out, parts)
		}
	}
	return out
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = deepCopyMap(nested)
		} else {
			out[k] = v
		}
	}
	return out
}

func setPath(m map[string]any, parts []string, value any) {
	for i := 0; i < len(parts)-1; i++ {
		next, ok := m[parts[i]].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[parts[i]] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = value
}

func deletePath(m map[string]any, parts []string) {
	for i := 0; i < len(parts)-1; i++ {
		next, ok := m[parts[i]].(map[string]any)
		if !ok {
			return
		}
		m = next
	}
	delete(m, parts[len(parts)-1])
}

// SnapshotManager indexes a run's recorded context snapshots for
// step-level lookup and diffing.
type SnapshotManager struct {
	order  []ContextSnapshot
	byStep map[string]int
}

// NewSnapshotManager builds the index. Snapshot order follows the
// record; a step with multiple snapshots keeps the last.
func NewSnapshotManager(rec *RunRecord) *SnapshotManager {
	sm := &SnapshotManager{byStep: make(map[string]int, len(rec.Snapshots))}
	for _, snap := range rec.Snapshots {
		sm.byStep[snap.StepID] = len(sm.order)
		sm.order = append(sm.order, snap)
	}
	return sm
}

// SnapshotAt returns the snapshot recorded at a step boundary.
func (sm *SnapshotManager) SnapshotAt(stepID string) (ContextSnapshot, bool) {
	idx, ok := sm.byStep[stepID]
	if !ok {
		return ContextSnapshot{}, false
	}
	return sm.order[idx], true
}

// SnapshotBefore returns the snapshot preceding a step's, false for the
// first step or an unknown step.
func (sm *SnapshotManager) SnapshotBefore(stepID string) (ContextSnapshot, bool) {
	idx, ok := sm.byStep[stepID]
	if !ok || idx == 0 {
		return ContextSnapshot{}, false
	}
	return sm.order[idx-1], true
}

// DiffForStep returns the context changes a step introduced: the
// recorded ChangesFromPrevious if present, otherwise the computed diff
// between the preceding snapshot and the step's own.
func (sm *SnapshotManager) DiffForStep(stepID string) []DiffEntry {
	at, ok := sm.SnapshotAt(stepID)
	if !ok {
		return nil
	}
	if len(at.ChangesFromPrevious) > 0 {
		out := make([]DiffEntry, len(at.ChangesFromPrevious))
		copy(out, at.ChangesFromPrevious)
		return out
	}

	before, ok := sm.SnapshotBefore(stepID)
	if !ok {
		return ComputeDiff(map[string]any{}, at.Context)
	}
	return ComputeDiff(before.Context, at.Context)
}
