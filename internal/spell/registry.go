package spell

import (
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"magetools/internal/logging"
)

// GrimoriumInfo is the registry's record of one active grimorium.
type GrimoriumInfo struct {
	// ID is the grimorium's identifier (its directory name).
	ID string

	// Name and Description come from the manifest.
	Name        string
	Description string

	// Dir is the grimorium's directory on disk.
	Dir string

	// Files lists the grimorium's source files, sorted by path.
	Files []string

	// Digest is the content digest computed at scan time; the staleness
	// detector compares it against the last-synced digest.
	Digest string

	// SpellCount is how many spells registered from this grimorium.
	SpellCount int
}

// Snapshot is the immutable result of one scan: every currently-loaded,
// permission-approved spell keyed by qualified name, the active grimoriums,
// and the quarantine produced by that scan. Snapshots are never mutated
// after Build, so readers need no locks.
type Snapshot struct {
	// Generation uniquely identifies the scan that produced this snapshot.
	Generation string

	// BuiltAt is when the snapshot was published.
	BuiltAt time.Time

	spells     map[string]*Spell
	grimoriums map[string]*GrimoriumInfo
	quarantine []QuarantineEntry
}

// Get returns a spell by qualified name, or nil if not present.
func (s *Snapshot) Get(qualified string) *Spell {
	return s.spells[qualified]
}

// Has returns true if a spell with the qualified name is present.
func (s *Snapshot) Has(qualified string) bool {
	_, ok := s.spells[qualified]
	return ok
}

// Names returns all qualified spell names, sorted.
func (s *Snapshot) Names() []string {
	names := make([]string, 0, len(s.spells))
	for name := range s.spells {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Spells returns all spells, sorted by qualified name.
func (s *Snapshot) Spells() []*Spell {
	out := make([]*Spell, 0, len(s.spells))
	for _, sp := range s.spells {
		out = append(out, sp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Qualified < out[j].Qualified })
	return out
}

// SpellsIn returns the spells of one grimorium, sorted by qualified name.
func (s *Snapshot) SpellsIn(grimorium string) []*Spell {
	var out []*Spell
	for _, sp := range s.spells {
		if sp.Grimorium == grimorium {
			out = append(out, sp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Qualified < out[j].Qualified })
	return out
}

// Grimorium returns one grimorium's record, or nil if not active.
func (s *Snapshot) Grimorium(id string) *GrimoriumInfo {
	return s.grimoriums[id]
}

// Grimoriums returns all active grimoriums, sorted by ID.
func (s *Snapshot) Grimoriums() []*GrimoriumInfo {
	out := make([]*GrimoriumInfo, 0, len(s.grimoriums))
	for _, g := range s.grimoriums {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Quarantine returns a copy of the scan's quarantine entries.
func (s *Snapshot) Quarantine() []QuarantineEntry {
	out := make([]QuarantineEntry, len(s.quarantine))
	copy(out, s.quarantine)
	return out
}

// Count returns the number of registered spells.
func (s *Snapshot) Count() int {
	return len(s.spells)
}

// GrimoriumCount returns the number of active grimoriums.
func (s *Snapshot) GrimoriumCount() int {
	return len(s.grimoriums)
}

// QuarantineCount returns the number of quarantine entries.
func (s *Snapshot) QuarantineCount() int {
	return len(s.quarantine)
}

// ===== SNAPSHOT BUILDER =====

// SnapshotBuilder accumulates one scan's results before publication.
// Not safe for concurrent use; one builder belongs to one scan.
type SnapshotBuilder struct {
	generation string
	spells     map[string]*Spell
	grimoriums map[string]*GrimoriumInfo
	quarantine *Quarantine
}

// NewSnapshotBuilder starts a snapshot for the given scan generation.
func NewSnapshotBuilder(generation string) *SnapshotBuilder {
	return &SnapshotBuilder{
		generation: generation,
		spells:     make(map[string]*Spell),
		grimoriums: make(map[string]*GrimoriumInfo),
		quarantine: &Quarantine{},
	}
}

// AddGrimorium records an active grimorium.
func (b *SnapshotBuilder) AddGrimorium(g *GrimoriumInfo) {
	b.grimoriums[g.ID] = g
}

// AddSpell registers a spell. A qualified-name collision returns
// ErrDuplicateSpell; the caller decides whether to quarantine.
func (b *SnapshotBuilder) AddSpell(sp *Spell) error {
	if err := sp.Validate(); err != nil {
		return fmt.Errorf("invalid spell: %w", err)
	}
	if _, exists := b.spells[sp.Qualified]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSpell, sp.Qualified)
	}
	b.spells[sp.Qualified] = sp
	if g, ok := b.grimoriums[sp.Grimorium]; ok {
		g.SpellCount++
	}
	logging.RegistryDebug("Registered spell: %s (file=%s, params=%d)", sp.Qualified, sp.File, len(sp.Params))
	return nil
}

// RemoveSpell drops a previously registered spell, typically after a later
// name collision invalidates the earlier registration. Reports whether a
// spell was removed.
func (b *SnapshotBuilder) RemoveSpell(qualified string) bool {
	sp, ok := b.spells[qualified]
	if !ok {
		return false
	}
	delete(b.spells, qualified)
	if g, ok := b.grimoriums[sp.Grimorium]; ok {
		g.SpellCount--
	}
	logging.RegistryDebug("Removed spell: %s", qualified)
	return true
}

// Quarantine records a failed unit or file.
func (b *SnapshotBuilder) Quarantine(e QuarantineEntry) {
	b.quarantine.Add(e)
	logging.Registry("Quarantined %s (%s): %s", e.Subject, e.Reason, e.Detail)
}

// Build seals the snapshot.
func (b *SnapshotBuilder) Build() *Snapshot {
	return &Snapshot{
		Generation: b.generation,
		BuiltAt:    time.Now(),
		spells:     b.spells,
		grimoriums: b.grimoriums,
		quarantine: b.quarantine.Entries(),
	}
}

// ===== REGISTRY =====

// Registry publishes the current snapshot. The snapshot pointer is swapped
// atomically per scan generation, so readers never observe a half-populated
// registry; each reader holds the snapshot it loaded for the duration of
// its query.
type Registry struct {
	current atomic.Pointer[Snapshot]
}

// NewRegistry creates a registry holding an empty snapshot.
func NewRegistry() *Registry {
	r := &Registry{}
	r.current.Store(NewSnapshotBuilder("").Build())
	return r
}

// Current returns the currently published snapshot.
func (r *Registry) Current() *Snapshot {
	return r.current.Load()
}

// Swap publishes a new snapshot and returns the previous one.
func (r *Registry) Swap(snap *Snapshot) *Snapshot {
	prev := r.current.Swap(snap)
	logging.Registry("Published snapshot %s: %d spells, %d grimoriums, %d quarantined",
		snap.Generation, snap.Count(), snap.GrimoriumCount(), snap.QuarantineCount())
	return prev
}
