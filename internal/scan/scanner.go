// Package scan walks the grimorium root and builds registry snapshots. A
// scan is a full rebuild: the returned snapshot completely replaces the
// previous generation, so rescanning is idempotent and removals take
// effect without restarts.
package scan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"magetools/internal/config"
	"magetools/internal/extract"
	"magetools/internal/logging"
	"magetools/internal/manifest"
	"magetools/internal/spell"
)

// Scanner discovers grimoriums under the configured root and extracts
// their spells into a fresh snapshot.
type Scanner struct {
	cfg       *config.Config
	extractor *extract.Extractor
}

// NewScanner creates a Scanner using the given extractor.
func NewScanner(cfg *config.Config, x *extract.Extractor) *Scanner {
	return &Scanner{cfg: cfg, extractor: x}
}

// Scan walks every grimorium directory and returns the new snapshot. The
// only fatal failure is an unusable root; everything below that degrades
// to per-grimorium skips or per-unit quarantine entries.
func (s *Scanner) Scan(ctx context.Context) (*spell.Snapshot, error) {
	start := time.Now()
	root := s.cfg.Root

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", config.ErrBadRoot, root, err)
	}

	b := spell.NewSnapshotBuilder(uuid.NewString())
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.IsDir() || skipName(entry.Name()) {
			continue
		}
		s.scanGrimorium(b, filepath.Join(root, entry.Name()), entry.Name())
	}

	snap := b.Build()
	logging.Scan("scan complete: %d grimoriums, %d spells, %d quarantined in %v",
		snap.GrimoriumCount(), snap.Count(), snap.QuarantineCount(), time.Since(start))
	return snap, nil
}

// scanGrimorium loads one collection directory into the builder. Failures
// here never abort the scan; they skip the grimorium or quarantine the
// offending unit.
func (s *Scanner) scanGrimorium(b *spell.SnapshotBuilder, dir, id string) {
	man, err := manifest.Load(dir)
	switch {
	case errors.Is(err, manifest.ErrNotFound):
		if s.cfg.Strict {
			logging.Manifest("skipping %s: no manifest (strict mode)", id)
			return
		}
		logging.ManifestDebug("%s has no manifest, loading permissively", id)
		man = nil
	case err != nil:
		logging.Manifest("skipping %s: %v", id, err)
		return
	case !man.Enabled:
		logging.ManifestDebug("skipping %s: disabled by manifest", id)
		return
	}

	files, err := sourceFiles(dir)
	if err != nil {
		logging.ScanWarn("cannot walk %s: %v", id, err)
		return
	}

	info := &spell.GrimoriumInfo{ID: id, Name: id, Dir: dir, Files: files}
	if man != nil {
		if man.Name != "" {
			info.Name = man.Name
		}
		info.Description = man.Description
	}
	if digest, err := CollectionDigest(dir, files, s.cfg.DigestMTime); err != nil {
		// An unreadable file leaves the digest empty, which never matches
		// a stored digest, so the grimorium reads as stale until resolved.
		logging.ScanWarn("digest failed for %s: %v", id, err)
	} else {
		info.Digest = digest
	}
	b.AddGrimorium(info)

	// Qualified names dropped for colliding. Neither occurrence of a
	// collision can be trusted, so the earlier registration goes too.
	dropped := make(map[string]bool)

	for _, path := range files {
		spells, rejected, err := s.extractor.ExtractFile(id, path)
		if err != nil {
			b.Quarantine(spell.QuarantineEntry{
				Subject:   relPath(dir, path),
				Grimorium: id,
				Reason:    fileQuarantineReason(err),
				Detail:    err.Error(),
			})
			continue
		}
		for _, r := range rejected {
			b.Quarantine(spell.QuarantineEntry{
				Subject:   spell.Qualify(id, r.Name),
				Grimorium: id,
				Reason:    spell.ReasonParseError,
				Detail:    r.Detail,
			})
		}
		for i := range spells {
			sp := spells[i]
			if !man.Allows(sp.Name) {
				b.Quarantine(spell.QuarantineEntry{
					Subject:   sp.Qualified,
					Grimorium: id,
					Reason:    spell.ReasonManifestRejected,
					Detail:    "filtered by manifest",
				})
				continue
			}
			if dropped[sp.Qualified] {
				b.Quarantine(spell.QuarantineEntry{
					Subject:   sp.Qualified,
					Grimorium: id,
					Reason:    spell.ReasonDuplicateName,
					Detail:    fmt.Sprintf("name collision, occurrence in %s", relPath(dir, path)),
				})
				continue
			}
			if err := b.AddSpell(&sp); err != nil {
				b.RemoveSpell(sp.Qualified)
				dropped[sp.Qualified] = true
				b.Quarantine(spell.QuarantineEntry{
					Subject:   sp.Qualified,
					Grimorium: id,
					Reason:    spell.ReasonDuplicateName,
					Detail:    fmt.Sprintf("defined more than once, collision in %s", relPath(dir, path)),
				})
			}
		}
	}

	logging.ScanDebug("grimorium %s: %d files, %d spells", id, len(files), info.SpellCount)
}

// sourceFiles collects the grimorium's spell source files: .go files,
// recursively, skipping hidden and underscore-prefixed entries and tests.
func sourceFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == dir {
				return walkErr
			}
			logging.ScanWarn("skipping unreadable entry %s: %v", path, walkErr)
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if path != dir && skipName(name) {
				return filepath.SkipDir
			}
			return nil
		}
		if skipName(name) || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			return nil
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

// skipName filters hidden and private entries, matching the loader's
// convention that "." and "_" prefixes are not spell content.
func skipName(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")
}

func fileQuarantineReason(err error) spell.Reason {
	if errors.Is(err, extract.ErrUnsafeImport) {
		return spell.ReasonImportSafety
	}
	return spell.ReasonParseError
}

func relPath(dir, path string) string {
	if rel, err := filepath.Rel(dir, path); err == nil {
		return filepath.ToSlash(rel)
	}
	return path
}
