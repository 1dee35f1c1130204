// Package spellsync keeps the semantic index aligned with what the scanner
// found on disk. A sync pass re-summarizes and re-embeds only the grimoriums
// whose collection digest drifted from the last successful sync; everything
// else is skipped. Summaries are produced by the configured provider from
// sanitized docstrings and written back as grimorium_summary.md next to the
// spells they describe.
package spellsync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"magetools/internal/config"
	"magetools/internal/logging"
	"magetools/internal/provider"
	"magetools/internal/scan"
	"magetools/internal/spell"
	"magetools/internal/vecstore"
)

// SummaryFileName is the per-grimorium summary artifact written on a
// successful sync.
const SummaryFileName = "grimorium_summary.md"

const defaultConcurrency = 5

// Report tallies one sync pass.
type Report struct {
	// Synced counts grimoriums that were re-summarized and re-indexed.
	Synced int

	// Skipped counts grimoriums whose digest already matched the index.
	Skipped int

	// Failed counts grimoriums whose sync errored. Their prior summary and
	// digest are untouched, so the next pass retries them.
	Failed int

	// SpellsEmbedded and SpellsSkipped count spell-level embedding work
	// across all synced grimoriums.
	SpellsEmbedded int
	SpellsSkipped  int

	// Errors holds one "<grimorium>: <cause>" line per failure.
	Errors []string
}

// Syncer runs the summarize-and-embed pipeline against the vector store.
type Syncer struct {
	cfg   *config.Config
	store *vecstore.Store
	prov  provider.Provider

	// group collapses concurrent syncs of the same grimorium into one
	// provider call.
	group singleflight.Group
}

func NewSyncer(cfg *config.Config, store *vecstore.Store, prov provider.Provider) *Syncer {
	return &Syncer{cfg: cfg, store: store, prov: prov}
}

// IsStale reports whether a grimorium needs a sync: its digest differs from
// the last successfully synced digest, or no sync was ever recorded.
func (s *Syncer) IsStale(ctx context.Context, g *spell.GrimoriumInfo) bool {
	stored, err := s.store.SyncedDigest(ctx, g.ID)
	if err != nil || stored == "" {
		return true
	}
	return stored != g.Digest
}

// Sync brings the index up to date with the snapshot. Stale grimoriums are
// processed in parallel; one grimorium's failure never blocks its siblings.
// The returned error is non-nil only when the whole pass could not run
// (provider unavailable, index unreadable, context canceled).
func (s *Syncer) Sync(ctx context.Context, snap *spell.Snapshot) (*Report, error) {
	timer := logging.StartTimer(logging.CategorySync, "Sync")

	if hc, ok := s.prov.(provider.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", provider.ErrUnavailable, err)
		}
	}

	syncedDigests, err := s.store.SyncedDigests(ctx)
	if err != nil {
		return nil, fmt.Errorf("read synced digests: %w", err)
	}

	report := &Report{}
	var stale []*spell.GrimoriumInfo
	for _, g := range snap.Grimoriums() {
		if stored, ok := syncedDigests[g.ID]; ok && stored != "" && stored == g.Digest {
			report.Skipped++
			logging.SyncDebug("%s is current (digest %.8s)", g.ID, stored)
			continue
		}
		stale = append(stale, g)
	}
	if len(stale) == 0 {
		logging.Sync("Nothing stale, %d grimoriums current", report.Skipped)
		timer.Stop()
		return report, nil
	}

	limit := s.cfg.Sync.Concurrency
	if limit <= 0 {
		limit = defaultConcurrency
	}

	var mu sync.Mutex
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(limit)
	for _, g := range stale {
		g := g
		eg.Go(func() error {
			res, err := s.syncOne(egCtx, snap, g)
			mu.Lock()
			defer mu.Unlock()
			report.SpellsEmbedded += res.embedded
			report.SpellsSkipped += res.skipped
			if err != nil {
				report.Failed++
				report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", g.ID, err))
				logging.Get(logging.CategorySync).Error("Sync of %s failed: %v", g.ID, err)
				// Siblings keep going.
				return nil
			}
			report.Synced++
			return nil
		})
	}
	eg.Wait()

	logging.Sync("Sync pass done: synced=%d skipped=%d failed=%d", report.Synced, report.Skipped, report.Failed)
	timer.StopWithInfo()
	return report, ctx.Err()
}

type oneResult struct {
	embedded int
	skipped  int
}

// syncOne serializes same-grimorium work through singleflight so overlapping
// Sync calls cannot summarize the same grimorium twice.
func (s *Syncer) syncOne(ctx context.Context, snap *spell.Snapshot, g *spell.GrimoriumInfo) (oneResult, error) {
	v, err, _ := s.group.Do(g.ID, func() (any, error) {
		return s.summarizeAndIndex(ctx, snap, g)
	})
	res, _ := v.(oneResult)
	return res, err
}

func (s *Syncer) summarizeAndIndex(ctx context.Context, snap *spell.Snapshot, g *spell.GrimoriumInfo) (oneResult, error) {
	var res oneResult
	if err := ctx.Err(); err != nil {
		return res, err
	}

	spells := snap.SpellsIn(g.ID)
	docs := spellDocLines(spells)

	var description string
	if len(docs) > 0 {
		logging.Sync("Generating summary for %s (%d spells)", g.ID, len(spells))
		summary, err := s.prov.GenerateSummary(ctx, BuildSummaryPrompt(g.ID, docs))
		if err != nil {
			return res, fmt.Errorf("summarize: %w", err)
		}
		description = summary
	} else {
		// Nothing worth a provider round trip.
		description = "Collection of spells in " + g.ID
	}

	// The artifact is advisory. Failing to write it must not block indexing.
	artifact := filepath.Join(g.Dir, SummaryFileName)
	if err := os.WriteFile(artifact, []byte(description), 0o644); err != nil {
		logging.SyncWarn("Could not write %s: %v", artifact, err)
	}

	if err := s.store.Upsert(ctx, vecstore.LevelGrimorium, g.ID, g.ID, description, g.Digest); err != nil {
		return res, fmt.Errorf("index summary: %w", err)
	}

	var err error
	res, err = s.indexSpells(ctx, g, spells)
	if err != nil {
		return res, fmt.Errorf("index spells: %w", err)
	}

	// Advancing the digest is the last write. Any failure above leaves the
	// grimorium stale so the next pass retries it.
	if err := s.store.SaveSummary(ctx, g.ID, description, g.Digest, len(spells)); err != nil {
		return res, fmt.Errorf("record digest: %w", err)
	}
	logging.Sync("Synced %s: %d spells embedded, %d unchanged", g.ID, res.embedded, res.skipped)
	return res, nil
}

// indexSpells re-embeds spells whose doc hash drifted and prunes records for
// spells that no longer exist.
func (s *Syncer) indexSpells(ctx context.Context, g *spell.GrimoriumInfo, spells []*spell.Spell) (oneResult, error) {
	var res oneResult

	stored, err := s.store.Digests(ctx, vecstore.LevelSpell, g.ID)
	if err != nil {
		return res, err
	}

	live := make(map[string]bool, len(spells))
	var docs []vecstore.Doc
	for _, sp := range spells {
		live[sp.Qualified] = true
		hash := scan.DocHash(sp.Doc)
		if stored[sp.Qualified] == hash {
			res.skipped++
			continue
		}
		docs = append(docs, vecstore.Doc{
			ID:        sp.Qualified,
			Grimorium: g.ID,
			Text:      sp.Doc,
			Digest:    hash,
		})
	}

	var gone []string
	for id := range stored {
		if !live[id] {
			gone = append(gone, id)
		}
	}
	if len(gone) > 0 {
		if err := s.store.Delete(ctx, vecstore.LevelSpell, gone); err != nil {
			return res, err
		}
		logging.SyncDebug("%s: pruned %d removed spells", g.ID, len(gone))
	}

	if len(docs) == 0 {
		return res, nil
	}
	if err := s.store.UpsertMany(ctx, vecstore.LevelSpell, docs); err != nil {
		return res, err
	}
	res.embedded = len(docs)
	return res, nil
}

// spellDocLines renders the sanitized docstring listing that feeds the
// summary prompt. Spells without docs are omitted.
func spellDocLines(spells []*spell.Spell) []string {
	var docs []string
	for _, sp := range spells {
		if sp.Doc == "" {
			continue
		}
		docs = append(docs, "Spell "+sp.Name+": "+SanitizeDoc(sp.Doc))
	}
	return docs
}
