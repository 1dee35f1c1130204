// Package grimorium is the engine facade: it owns the registry, the vector
// index, the provider, and the sync pipeline, and exposes the four discovery
// operations an agent calls: DiscoverGrimoriums, DiscoverSpells,
// ExecuteSpell, and ListSpells.
//
// Structural state always leads semantic state: Scan publishes a fresh
// registry snapshot before Sync touches the index, so a spell can be
// executable while its summary is still stale or missing.
package grimorium

import (
	"context"
	"fmt"
	"sort"
	"time"

	"magetools/internal/config"
	"magetools/internal/extract"
	"magetools/internal/logging"
	"magetools/internal/manifest"
	"magetools/internal/provider"
	"magetools/internal/scan"
	"magetools/internal/spell"
	"magetools/internal/spellsync"
	"magetools/internal/vecstore"
)

const defaultTopK = 5

// GrimoriumMatch is one grimorium-level discovery hit.
type GrimoriumMatch struct {
	// ID is the grimorium's identifier.
	ID string

	// Name and Description come from the manifest.
	Name        string
	Description string

	// Score is the similarity of the query to the grimorium's summary.
	Score float64

	// Stale means the indexed summary predates the grimorium's current
	// content; the match is usable but a sync would refresh it.
	Stale bool

	// SpellCount is how many spells the grimorium currently exposes.
	SpellCount int
}

// SpellMatch is one spell-level discovery hit.
type SpellMatch struct {
	// Qualified is the spell's globally unique name.
	Qualified string

	// Signature renders the declared parameters, e.g. "Add(a int, b int)".
	Signature string

	// Doc is the spell's documentation comment.
	Doc string

	// Score is the similarity of the query to the spell's doc.
	Score float64

	// Stale means the indexed doc predates the spell's current text.
	Stale bool
}

// ScanReport summarizes one structural scan.
type ScanReport struct {
	// Generation identifies the published snapshot.
	Generation string

	// ActiveGrimoriums counts grimoriums that loaded.
	ActiveGrimoriums int

	// Spells counts registered spells across all grimoriums.
	Spells int

	// QuarantinedUnits counts files and units that failed to load.
	QuarantinedUnits int

	// Removed counts grimoriums whose index records were dropped because
	// they vanished from disk or were disabled.
	Removed int
}

// Engine wires the discovery pipeline together. One Engine owns one
// discovery root; all methods are safe for concurrent use.
type Engine struct {
	cfg      *config.Config
	registry *spell.Registry
	scanner  *scan.Scanner
	store    *vecstore.Store
	prov     provider.Provider
	syncer   *spellsync.Syncer
}

// New builds an Engine from configuration: provider first, then the index
// database, then the scanner and sync pipeline on top of both.
func New(cfg *config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	prov, err := provider.New(cfg.Provider)
	if err != nil {
		return nil, fmt.Errorf("create provider: %w", err)
	}

	store, err := vecstore.Open(cfg.DatabasePath, prov)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	return &Engine{
		cfg:      cfg,
		registry: spell.NewRegistry(),
		scanner:  scan.NewScanner(cfg, extract.NewExtractor(extract.NewInvoker())),
		store:    store,
		prov:     prov,
		syncer:   spellsync.NewSyncer(cfg, store, prov),
	}, nil
}

// Close releases the index database.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Snapshot returns the currently published registry snapshot.
func (e *Engine) Snapshot() *spell.Snapshot {
	return e.registry.Current()
}

// Provider returns the configured generation backend.
func (e *Engine) Provider() provider.Provider {
	return e.prov
}

// Scan rebuilds the registry from disk and publishes the new snapshot
// atomically. Index records of grimoriums that disappeared since the last
// snapshot are dropped so they can no longer surface in discovery. Only an
// unusable root fails; everything else degrades to quarantine entries.
func (e *Engine) Scan(ctx context.Context) (*ScanReport, error) {
	snap, err := e.scanner.Scan(ctx)
	if err != nil {
		return nil, err
	}

	prev := e.registry.Swap(snap)

	report := &ScanReport{
		Generation:       snap.Generation,
		ActiveGrimoriums: snap.GrimoriumCount(),
		Spells:           snap.Count(),
		QuarantinedUnits: snap.QuarantineCount(),
	}

	// The previous snapshot covers grimoriums that vanished while this
	// process ran; the synced digests cover ones deleted between runs.
	vanished := make(map[string]bool)
	for _, g := range prev.Grimoriums() {
		if snap.Grimorium(g.ID) == nil {
			vanished[g.ID] = true
		}
	}
	if synced, err := e.store.SyncedDigests(ctx); err != nil {
		logging.ScanWarn("could not list synced grimoriums: %v", err)
	} else {
		for id := range synced {
			if snap.Grimorium(id) == nil {
				vanished[id] = true
			}
		}
	}

	for id := range vanished {
		if err := e.store.DeleteGrimorium(ctx, id); err != nil {
			logging.ScanWarn("could not drop index records for %s: %v", id, err)
			continue
		}
		report.Removed++
	}
	return report, nil
}

// Sync brings the semantic index up to date with the current snapshot.
// Only grimoriums whose content digest drifted are re-summarized.
func (e *Engine) Sync(ctx context.Context) (*spellsync.Report, error) {
	return e.syncer.Sync(ctx, e.registry.Current())
}

// DiscoverGrimoriums ranks active, permitted grimoriums against the query.
// The allowed-grimoriums policy filters after ranking, so rank order among
// permitted grimoriums is preserved; grimoriums that are not in the current
// snapshot never appear, whatever the index still holds.
func (e *Engine) DiscoverGrimoriums(ctx context.Context, query string) ([]GrimoriumMatch, error) {
	snap := e.registry.Current()

	current := make(map[string]string, snap.GrimoriumCount())
	for _, g := range snap.Grimoriums() {
		current[g.ID] = g.Digest
	}

	hits, err := e.store.Query(ctx, vecstore.LevelGrimorium, query, e.topK(), current)
	if err != nil {
		return nil, fmt.Errorf("grimorium search: %w", err)
	}

	var matches []GrimoriumMatch
	for _, h := range hits {
		g := snap.Grimorium(h.ID)
		if g == nil || !e.cfg.GrimoriumAllowed(h.ID) {
			continue
		}
		if h.Score < e.cfg.Search.MinScore {
			continue
		}
		matches = append(matches, GrimoriumMatch{
			ID:          g.ID,
			Name:        g.Name,
			Description: g.Description,
			Score:       h.Score,
			Stale:       h.Stale,
			SpellCount:  g.SpellCount,
		})
	}
	logging.Exec("discover_grimoriums %q: %d matches", query, len(matches))
	return matches, nil
}

// DiscoverSpells ranks one grimorium's spells against the query. A
// grimorium that is not active or not permitted fails with
// spell.ErrGrimoriumNotFound; the two cases are indistinguishable.
func (e *Engine) DiscoverSpells(ctx context.Context, grimoriumID, query string) ([]SpellMatch, error) {
	snap := e.registry.Current()

	g := snap.Grimorium(grimoriumID)
	if g == nil || !e.cfg.GrimoriumAllowed(grimoriumID) {
		return nil, fmt.Errorf("%w: %s", spell.ErrGrimoriumNotFound, grimoriumID)
	}

	spells := snap.SpellsIn(grimoriumID)
	current := make(map[string]string, len(spells))
	for _, sp := range spells {
		current[sp.Qualified] = scan.DocHash(sp.Doc)
	}

	hits, err := e.store.QueryIn(ctx, vecstore.LevelSpell, grimoriumID, query, e.topK(), current)
	if err != nil {
		return nil, fmt.Errorf("spell search: %w", err)
	}

	var matches []SpellMatch
	for _, h := range hits {
		sp := snap.Get(h.ID)
		if sp == nil {
			continue
		}
		if h.Score < e.cfg.Search.MinScore {
			continue
		}
		matches = append(matches, SpellMatch{
			Qualified: sp.Qualified,
			Signature: sp.Signature(),
			Doc:       sp.Doc,
			Score:     h.Score,
			Stale:     h.Stale,
		})
	}
	logging.Exec("discover_spells %s %q: %d matches", grimoriumID, query, len(matches))
	return matches, nil
}

// ExecuteSpell validates the arguments and invokes the named spell. A
// spell that is unknown, quarantined, blacklisted, or outside the allowed
// grimoriums fails with the same spell.ErrSpellNotFound. Argument problems
// wrap spell.ErrInvalidArgument; runtime failures wrap
// spell.ErrSpellExecution and also appear in the returned result.
func (e *Engine) ExecuteSpell(ctx context.Context, qualified string, args map[string]any) (*spell.InvokeResult, error) {
	sp := e.lookup(qualified)
	if sp == nil {
		return nil, fmt.Errorf("%w: %s", spell.ErrSpellNotFound, qualified)
	}

	normalized, err := sp.ValidateArgs(args)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.ExecTimeout())
	defer cancel()

	start := time.Now()
	out, err := sp.Invoke(ctx, normalized)
	res := &spell.InvokeResult{
		Spell:      qualified,
		Result:     out,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		res.Error = err
		logging.ExecError("%s failed after %dms: %v", qualified, res.DurationMs, err)
		return res, fmt.Errorf("%w: %s: %v", spell.ErrSpellExecution, qualified, err)
	}
	logging.Exec("%s succeeded in %dms", qualified, res.DurationMs)
	return res, nil
}

// ListSpells returns the sorted qualified names of every spell the caller
// may execute. The permission filter is the same one ExecuteSpell applies,
// so everything listed is invokable.
func (e *Engine) ListSpells() []string {
	snap := e.registry.Current()
	var names []string
	for _, sp := range snap.Spells() {
		if e.cfg.GrimoriumAllowed(sp.Grimorium) {
			names = append(names, sp.Qualified)
		}
	}
	sort.Strings(names)
	return names
}

// Summary returns the stored summary of an active, permitted grimorium,
// or "" when none was synced yet.
func (e *Engine) Summary(ctx context.Context, grimoriumID string) (string, error) {
	snap := e.registry.Current()
	if snap.Grimorium(grimoriumID) == nil || !e.cfg.GrimoriumAllowed(grimoriumID) {
		return "", fmt.Errorf("%w: %s", spell.ErrGrimoriumNotFound, grimoriumID)
	}
	return e.store.Summary(ctx, grimoriumID)
}

// InitGrimorium bootstraps a grimorium directory with a default manifest.
// Writing the manifest is the opt-in; it refuses to overwrite one that
// already exists.
func (e *Engine) InitGrimorium(dir, name string) error {
	return manifest.WriteDefault(dir, name)
}

// lookup resolves a qualified name through the permission filter.
func (e *Engine) lookup(qualified string) *spell.Spell {
	grim, _, ok := spell.SplitQualified(qualified)
	if !ok || !e.cfg.GrimoriumAllowed(grim) {
		return nil
	}
	return e.registry.Current().Get(qualified)
}

func (e *Engine) topK() int {
	if k := e.cfg.Search.TopK; k > 0 {
		return k
	}
	return defaultTopK
}
