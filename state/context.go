package state

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrVersionNotFound is returned when a version id is unknown to the lineage.
	ErrVersionNotFound = errors.New("version not found")
	// ErrCheckpointNotFound is returned when a checkpoint name is unknown.
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	// ErrImmutable is returned when a write is attempted on a frozen snapshot.
	ErrImmutable = errors.New("context is immutable")
)

// Version is a frozen snapshot of the context at one point in the lineage.
// Two versions are considered equal when their hashes match.
type Version struct {
	ID          int            `json:"id"`
	Snapshot    map[string]any `json:"snapshot"`
	Hash        string         `json:"hash"`
	Timestamp   time.Time      `json:"timestamp"`
	Agent       string         `json:"agent"`
	MutationIDs []string       `json:"mutation_ids,omitempty"`
}

// Checkpoint is a named pointer to a version id, for human-friendly rollback
// targets.
type Checkpoint struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	VersionID   int       `json:"version_id"`
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description,omitempty"`
}

// Change is an (old, new) value pair for a modified key.
type Change struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// Diff partitions the top-level keys of two version snapshots into added,
// removed and modified sets.
type Diff struct {
	FromVersion int               `json:"from_version"`
	ToVersion   int               `json:"to_version"`
	Added       map[string]any    `json:"added"`
	Removed     map[string]any    `json:"removed"`
	Modified    map[string]Change `json:"modified"`
}

// Empty reports whether the two snapshots are identical at the top level.
func (d *Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Modified) == 0
}

// Summary returns a short human-readable description of the diff.
func (d *Diff) Summary() string {
	var parts []string
	if len(d.Added) > 0 {
		parts = append(parts, fmt.Sprintf("+%d added", len(d.Added)))
	}
	if len(d.Removed) > 0 {
		parts = append(parts, fmt.Sprintf("-%d removed", len(d.Removed)))
	}
	if len(d.Modified) > 0 {
		parts = append(parts, fmt.Sprintf("~%d modified", len(d.Modified)))
	}
	if len(parts) == 0 {
		return "no changes"
	}
	return strings.Join(parts, ", ")
}

// VersionedContext is an immutable, versioned key-value context. Apply and
// the rollback operations return new context values; data and version history
// are never mutated after construction, so values can be shared across
// goroutines without locking. The two exceptions are internally synchronized:
// the transaction log, shared by every value in one lineage, and the
// checkpoint set, which CreateCheckpoint records on the receiver.
type VersionedContext struct {
	data        map[string]any
	versions    []*Version
	log         *TransactionLog
	versionID   int

	cpMu        sync.Mutex
	checkpoints map[string]*Checkpoint
}

// New creates a lineage seeded with a deep copy of initial (may be nil) and
// an initial version attributed to "system".
func New(initial map[string]any) *VersionedContext {
	c := &VersionedContext{
		data:        deepCopyMap(initial),
		checkpoints: make(map[string]*Checkpoint),
		log:         NewTransactionLog(0),
	}
	c.addVersion("system", nil)
	return c
}

func computeHash(data map[string]any) string {
	serialized, err := json.Marshal(data)
	if err != nil {
		serialized = []byte(fmt.Sprintf("%v", data))
	}
	sum := sha256.Sum256(serialized)
	return fmt.Sprintf("%x", sum)[:16]
}

func (c *VersionedContext) addVersion(agent string, mutationIDs []string) *Version {
	c.versionID++
	v := &Version{
		ID:          c.versionID,
		Snapshot:    deepCopyMap(c.data),
		Hash:        computeHash(c.data),
		Timestamp:   time.Now().UTC(),
		Agent:       agent,
		MutationIDs: mutationIDs,
	}
	c.versions = append(c.versions, v)
	return v
}

// Apply writes the given path to value changes and returns a new context one
// version ahead. The receiver is untouched. Paths are dotted
// ("product.name"); missing intermediate maps are created. One mutation is
// recorded per changed path; paths are applied in sorted order so the
// mutation records are deterministic.
func (c *VersionedContext) Apply(changes map[string]any, agent string) *VersionedContext {
	next := &VersionedContext{
		data:        deepCopyMap(c.data),
		versions:    append([]*Version(nil), c.versions...),
		checkpoints: c.snapshotCheckpoints(),
		log:         c.log,
		versionID:   c.versionID,
	}

	paths := make([]string, 0, len(changes))
	for p := range changes {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	mutationIDs := make([]string, 0, len(paths))
	for _, path := range paths {
		oldValue := getNested(next.data, path)
		setNested(next.data, path, changes[path])
		m := next.log.Record(MutationSet, path, oldValue, changes[path], agent)
		mutationIDs = append(mutationIDs, m.ID)
	}

	next.addVersion(agent, mutationIDs)
	return next
}

// Version returns the current (head) version id.
func (c *VersionedContext) Version() int { return c.versionID }

// Data returns a deep copy of the current snapshot.
func (c *VersionedContext) Data() map[string]any { return deepCopyMap(c.data) }

// Get returns the top-level value for key.
func (c *VersionedContext) Get(key string) (any, bool) {
	v, ok := c.data[key]
	return v, ok
}

// GetPath returns the value at a dotted path, or nil if any segment is
// missing.
func (c *VersionedContext) GetPath(path string) any { return getNested(c.data, path) }

func (c *VersionedContext) findVersion(id int) *Version {
	for _, v := range c.versions {
		if v.ID == id {
			return v
		}
	}
	return nil
}

// GetVersion returns the snapshot data of a specific version.
func (c *VersionedContext) GetVersion(id int) (map[string]any, error) {
	v := c.findVersion(id)
	if v == nil {
		return nil, fmt.Errorf("%w: %d", ErrVersionNotFound, id)
	}
	return deepCopyMap(v.Snapshot), nil
}

// Diff compares the top-level keys of two version snapshots. A toVersion of 0
// means the current head.
func (c *VersionedContext) Diff(fromVersion, toVersion int) (*Diff, error) {
	if toVersion == 0 {
		toVersion = c.versionID
	}
	from := c.findVersion(fromVersion)
	if from == nil {
		return nil, fmt.Errorf("%w: %d", ErrVersionNotFound, fromVersion)
	}
	to := c.findVersion(toVersion)
	if to == nil {
		return nil, fmt.Errorf("%w: %d", ErrVersionNotFound, toVersion)
	}

	d := &Diff{
		FromVersion: fromVersion,
		ToVersion:   toVersion,
		Added:       map[string]any{},
		Removed:     map[string]any{},
		Modified:    map[string]Change{},
	}
	for key, newVal := range to.Snapshot {
		oldVal, ok := from.Snapshot[key]
		switch {
		case !ok:
			d.Added[key] = newVal
		case !reflect.DeepEqual(oldVal, newVal):
			d.Modified[key] = Change{Old: oldVal, New: newVal}
		}
	}
	for key, oldVal := range from.Snapshot {
		if _, ok := to.Snapshot[key]; !ok {
			d.Removed[key] = oldVal
		}
	}
	return d, nil
}

// CreateCheckpoint names the current version so it can be rolled back to
// later. Reusing a name replaces the prior pointer. Checkpoints created on
// this value are visible to contexts derived from it, not to ancestors.
func (c *VersionedContext) CreateCheckpoint(name, description string) *Checkpoint {
	cp := &Checkpoint{
		ID:          fmt.Sprintf("cp_%s_%d", name, c.versionID),
		Name:        name,
		VersionID:   c.versionID,
		Timestamp:   time.Now().UTC(),
		Description: description,
	}
	c.cpMu.Lock()
	c.checkpoints[name] = cp
	c.cpMu.Unlock()
	return cp
}

// snapshotCheckpoints copies the checkpoint set under the lock.
func (c *VersionedContext) snapshotCheckpoints() map[string]*Checkpoint {
	c.cpMu.Lock()
	defer c.cpMu.Unlock()

	return copyCheckpoints(c.checkpoints)
}

// Checkpoints returns all named checkpoints.
func (c *VersionedContext) Checkpoints() []*Checkpoint {
	c.cpMu.Lock()
	out := make([]*Checkpoint, 0, len(c.checkpoints))
	for _, cp := range c.checkpoints {
		out = append(out, cp)
	}
	c.cpMu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].VersionID < out[j].VersionID })
	return out
}

// RollbackToCheckpoint returns a new context at the named checkpoint's
// version.
func (c *VersionedContext) RollbackToCheckpoint(name string) (*VersionedContext, error) {
	c.cpMu.Lock()
	cp, ok := c.checkpoints[name]
	c.cpMu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrCheckpointNotFound, name)
	}
	return c.RollbackToVersion(cp.VersionID)
}

// RollbackToVersion returns a new context whose data equals the target
// version's snapshot. The new lineage head keeps only versions up to and
// including the target; the receiver, with its full history, stays queryable.
func (c *VersionedContext) RollbackToVersion(id int) (*VersionedContext, error) {
	v := c.findVersion(id)
	if v == nil {
		return nil, fmt.Errorf("%w: %d", ErrVersionNotFound, id)
	}

	kept := make([]*Version, 0, len(c.versions))
	for _, old := range c.versions {
		if old.ID <= id {
			kept = append(kept, old)
		}
	}
	return &VersionedContext{
		data:        deepCopyMap(v.Snapshot),
		versions:    kept,
		checkpoints: c.snapshotCheckpoints(),
		log:         c.log,
		versionID:   id,
	}, nil
}

// PartialRollback restores only the listed paths from an older version. It is
// a normal Apply attributed to agent "rollback", so it moves the lineage
// forward with a new version rather than rewriting history. Paths absent from
// the old snapshot are skipped.
func (c *VersionedContext) PartialRollback(paths []string, toVersion int) (*VersionedContext, error) {
	v := c.findVersion(toVersion)
	if v == nil {
		return nil, fmt.Errorf("%w: %d", ErrVersionNotFound, toVersion)
	}

	changes := map[string]any{}
	for _, path := range paths {
		if old := getNested(v.Snapshot, path); old != nil {
			changes[path] = old
		}
	}
	return c.Apply(changes, "rollback"), nil
}

// History returns the most recent versions, oldest first, capped at limit
// (all versions if limit <= 0).
func (c *VersionedContext) History(limit int) []*Version {
	versions := c.versions
	if limit > 0 && len(versions) > limit {
		versions = versions[len(versions)-limit:]
	}
	return append([]*Version(nil), versions...)
}

// Log exposes the shared transaction log of this lineage.
func (c *VersionedContext) Log() *TransactionLog { return c.log }

// Freeze returns a read-only deep-copied snapshot with no version history.
func (c *VersionedContext) Freeze() *FrozenContext {
	return &FrozenContext{
		data:      deepCopyMap(c.data),
		versionID: c.versionID,
		hash:      computeHash(c.data),
		timestamp: time.Now().UTC(),
	}
}

// FrozenContext is an immutable snapshot of a context. Reads succeed; any
// write attempt fails with ErrImmutable.
type FrozenContext struct {
	data      map[string]any
	versionID int
	hash      string
	timestamp time.Time
}

// Get returns the top-level value for key.
func (f *FrozenContext) Get(key string) (any, bool) {
	v, ok := f.data[key]
	return v, ok
}

// GetPath returns the value at a dotted path, or nil if missing.
func (f *FrozenContext) GetPath(path string) any { return getNested(f.data, path) }

// Data returns a deep copy of the frozen snapshot.
func (f *FrozenContext) Data() map[string]any { return deepCopyMap(f.data) }

// VersionID returns the version the snapshot was taken at.
func (f *FrozenContext) VersionID() int { return f.versionID }

// Hash returns the content hash of the snapshot.
func (f *FrozenContext) Hash() string { return f.hash }

// Timestamp returns when the snapshot was taken.
func (f *FrozenContext) Timestamp() time.Time { return f.timestamp }

// Set always fails; frozen snapshots cannot be written.
func (f *FrozenContext) Set(string, any) error { return ErrImmutable }

// Delete always fails; frozen snapshots cannot be written.
func (f *FrozenContext) Delete(string) error { return ErrImmutable }

// Thaw starts a fresh lineage seeded with the frozen data.
func (f *FrozenContext) Thaw() *VersionedContext { return New(f.data) }

func getNested(data map[string]any, path string) any {
	parts := strings.Split(path, ".")
	var current any = data
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = m[part]
		if !ok {
			return nil
		}
	}
	return current
}

func setNested(data map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	current := data
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}

// deepCopyMap copies nested map[string]any and []any structures. Other value
// types are shared; context values are expected to be JSON-like.
func deepCopyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return deepCopyMap(tv)
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}

func copyCheckpoints(in map[string]*Checkpoint) map[string]*Checkpoint {
	out := make(map[string]*Checkpoint, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
