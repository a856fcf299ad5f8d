package state

import (
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentrelay/core"
)

// MutationKind classifies a single field-level change.
type MutationKind string

const (
	// MutationSet writes a value at a path.
	MutationSet MutationKind = "set"
	// MutationDelete removes a value at a path.
	MutationDelete MutationKind = "delete"
	// MutationAppend appends to a list value.
	MutationAppend MutationKind = "append"
	// MutationUpdate merges into a map value.
	MutationUpdate MutationKind = "update"
)

// Mutation records one field-level change. Mutations are immutable once
// recorded.
type Mutation struct {
	ID        string       `json:"id"`
	Kind      MutationKind `json:"kind"`
	Path      string       `json:"path"`
	Old       any          `json:"old,omitempty"`
	New       any          `json:"new,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
	Agent     string       `json:"agent"`
	Sequence  int          `json:"sequence"`
}

// TransactionLog is an append-only, capacity-bounded record of context
// mutations. A log is shared between every context value in one lineage and
// is safe for concurrent use.
type TransactionLog struct {
	mu         sync.Mutex
	mutations  []*Mutation
	maxEntries int
	seq        int
}

// NewTransactionLog creates a log retaining at most maxEntries mutations
// (oldest evicted first). A non-positive maxEntries falls back to 1000.
func NewTransactionLog(maxEntries int) *TransactionLog {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &TransactionLog{maxEntries: maxEntries}
}

// Record appends a mutation and returns it.
func (l *TransactionLog) Record(kind MutationKind, path string, oldValue, newValue any, agent string) *Mutation {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	m := &Mutation{
		ID:        core.NewID(),
		Kind:      kind,
		Path:      path,
		Old:       oldValue,
		New:       newValue,
		Timestamp: time.Now().UTC(),
		Agent:     agent,
		Sequence:  l.seq,
	}
	l.mutations = append(l.mutations, m)
	if len(l.mutations) > l.maxEntries {
		l.mutations = l.mutations[len(l.mutations)-l.maxEntries:]
	}
	return m
}

func (l *TransactionLog) filter(keep func(*Mutation) bool) []*Mutation {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*Mutation
	for _, m := range l.mutations {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}

// Since returns all mutations recorded after the given sequence number.
func (l *TransactionLog) Since(sequence int) []*Mutation {
	return l.filter(func(m *Mutation) bool { return m.Sequence > sequence })
}

// ByAgent returns all mutations recorded by the given agent.
func (l *TransactionLog) ByAgent(agent string) []*Mutation {
	return l.filter(func(m *Mutation) bool { return m.Agent == agent })
}

// ForField returns all mutations affecting the given path or any path nested
// under it.
func (l *TransactionLog) ForField(path string) []*Mutation {
	return l.filter(func(m *Mutation) bool { return strings.HasPrefix(m.Path, path) })
}

// Conflicts returns mutations to exactly the given path recorded after the
// given sequence number. Callers use it to detect competing writers.
func (l *TransactionLog) Conflicts(path string, sinceSequence int) []*Mutation {
	return l.filter(func(m *Mutation) bool { return m.Sequence > sinceSequence && m.Path == path })
}

// Len returns the number of retained mutations.
func (l *TransactionLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.mutations)
}
