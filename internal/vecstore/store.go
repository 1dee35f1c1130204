// Package vecstore is the SQLite-backed semantic index. One table holds
// both search namespaces, split by the level column: grimorium-level
// summary embeddings and spell-level doc embeddings. Queries in one level
// never see the other.
//
// Distance runs in SQL through vec_distance_cosine when the open-time probe
// finds it; otherwise ranking falls back to brute-force cosine in Go over
// the same rows.
package vecstore

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"magetools/internal/logging"
	"magetools/internal/provider"
)

// Index levels. Every record belongs to exactly one.
const (
	LevelGrimorium = "grimorium"
	LevelSpell     = "spell"
)

// Match is one semantic search hit.
type Match struct {
	// ID is the record's subject: a grimorium ID or qualified spell name.
	ID string

	// Grimorium is the owning grimorium.
	Grimorium string

	// Score is 1 - cosine distance, clamped to [0, 1].
	Score float64

	// Digest is the content digest the record was indexed under.
	Digest string

	// Stale means the indexed digest no longer matches the subject's live
	// digest; the hit is usable but the summary behind it is outdated.
	Stale bool
}

// Doc is one document for batch indexing.
type Doc struct {
	ID        string
	Grimorium string
	Text      string
	Digest    string
}

// Store owns the index database and the provider used to embed documents
// and queries.
type Store struct {
	mu        sync.RWMutex
	db        *sql.DB
	provider  provider.Provider
	vectorExt bool
	path      string
}

// Open initializes the index database at path, creating directories and
// schema as needed.
func Open(path string, p provider.Provider) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryIndex, "Open")
	defer timer.Stop()

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single writer keeps SQLite happy under concurrent sync workers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logging.IndexDebug("pragma failed (%s): %v", pragma, err)
		}
	}

	s := &Store{db: db, provider: p, path: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	s.vectorExt = s.probeVec()
	if s.vectorExt {
		logging.Index("semantic index ready at %s (SQL distance, %d dims)", path, p.Dimensions())
	} else {
		logging.Index("semantic index ready at %s (brute-force distance, %d dims)", path, p.Dimensions())
	}
	return s, nil
}

func (s *Store) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS vec_index (
			level TEXT NOT NULL,
			id TEXT NOT NULL,
			grimorium TEXT NOT NULL,
			embedding BLOB,
			digest TEXT NOT NULL DEFAULT '',
			document TEXT NOT NULL DEFAULT '',
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (level, id)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create vec_index table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS summaries (
			grimorium TEXT PRIMARY KEY,
			summary TEXT NOT NULL,
			digest TEXT NOT NULL,
			spell_count INTEGER NOT NULL DEFAULT 0,
			synced_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create summaries table: %w", err)
	}

	_, _ = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_vec_index_grimorium ON vec_index(grimorium)`)
	return nil
}

// probeVec checks whether vec_distance_cosine is callable in this build.
func (s *Store) probeVec() bool {
	a := float32SliceToBytes([]float32{1, 0})
	b := float32SliceToBytes([]float32{0, 1})
	var d float64
	if err := s.db.QueryRow(`SELECT vec_distance_cosine(?, ?)`, a, b).Scan(&d); err != nil {
		logging.IndexDebug("vec_distance_cosine unavailable, using brute-force ranking: %v", err)
		return false
	}
	return true
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database location.
func (s *Store) Path() string {
	return s.path
}

// Upsert embeds one document and writes its record, replacing any previous
// record with the same (level, id).
func (s *Store) Upsert(ctx context.Context, level, id, grimorium, text, digest string) error {
	vec, err := s.provider.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed %s %s: %w", level, id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeRecord(ctx, s.db, level, id, grimorium, text, digest, vec)
}

// UpsertMany embeds a batch of documents and writes them in one
// transaction. Either all records land or none do.
func (s *Store) UpsertMany(ctx context.Context, level string, docs []Doc) error {
	if len(docs) == 0 {
		return nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	vecs, err := s.provider.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed batch (%d docs): %w", len(docs), err)
	}
	if len(vecs) != len(docs) {
		return fmt.Errorf("provider returned %d embeddings for %d docs", len(vecs), len(docs))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for i, d := range docs {
		if err := s.writeRecord(ctx, tx, level, d.ID, d.Grimorium, d.Text, d.Digest, vecs[i]); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// execer lets writeRecord run against the db or a transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) writeRecord(ctx context.Context, ex execer, level, id, grimorium, text, digest string, vec []float32) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO vec_index (level, id, grimorium, embedding, digest, document, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(level, id) DO UPDATE SET
			grimorium = excluded.grimorium,
			embedding = excluded.embedding,
			digest = excluded.digest,
			document = excluded.document,
			updated_at = CURRENT_TIMESTAMP
	`, level, id, grimorium, float32SliceToBytes(vec), digest, text)
	if err != nil {
		return fmt.Errorf("upsert %s %s: %w", level, id, err)
	}
	logging.IndexDebug("indexed %s %s (digest %.8s)", level, id, digest)
	return nil
}

// Query embeds the text and returns the top k records in the level
// namespace, best first. current maps subject IDs to their live content
// digests: a hit whose stored digest differs, or whose subject is missing
// from current, is flagged Stale. An empty namespace returns an empty
// slice and no error.
func (s *Store) Query(ctx context.Context, level, text string, k int, current map[string]string) ([]Match, error) {
	return s.query(ctx, level, "", text, k, current)
}

// QueryIn is Query restricted to one grimorium's records, so ranking
// happens inside the scope instead of filtering a global result.
func (s *Store) QueryIn(ctx context.Context, level, grimorium, text string, k int, current map[string]string) ([]Match, error) {
	return s.query(ctx, level, grimorium, text, k, current)
}

func (s *Store) query(ctx context.Context, level, grimorium, text string, k int, current map[string]string) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}
	qvec, err := s.provider.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []Match
	if s.vectorExt {
		matches, err = s.queryVec(ctx, level, grimorium, qvec, k)
	} else {
		matches, err = s.queryBruteForce(ctx, level, grimorium, qvec, k)
	}
	if err != nil {
		return nil, err
	}

	for i := range matches {
		live, ok := current[matches[i].ID]
		matches[i].Stale = !ok || live != matches[i].Digest
	}
	return matches, nil
}

// queryVec ranks in SQL through vec_distance_cosine. An empty grimorium
// searches the whole namespace.
func (s *Store) queryVec(ctx context.Context, level, grimorium string, qvec []float32, k int) ([]Match, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, grimorium, digest, vec_distance_cosine(embedding, ?) AS distance
		FROM vec_index
		WHERE level = ? AND (? = '' OR grimorium = ?) AND embedding IS NOT NULL
		ORDER BY distance
		LIMIT ?
	`, float32SliceToBytes(qvec), level, grimorium, grimorium, k)
	if err != nil {
		logging.IndexDebug("vec search failed, falling back: %v", err)
		return s.queryBruteForce(ctx, level, grimorium, qvec, k)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		var distance float64
		if err := rows.Scan(&m.ID, &m.Grimorium, &m.Digest, &distance); err != nil {
			continue
		}
		m.Score = clampScore(1.0 - distance)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		// Stored vectors from an older provider can have the wrong width;
		// brute force skips those instead of failing the query.
		logging.IndexDebug("vec scan failed, falling back: %v", err)
		return s.queryBruteForce(ctx, level, grimorium, qvec, k)
	}
	return matches, nil
}

// queryBruteForce loads the scope and ranks it in Go.
func (s *Store) queryBruteForce(ctx context.Context, level, grimorium string, qvec []float32, k int) ([]Match, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, grimorium, digest, embedding
		FROM vec_index
		WHERE level = ? AND (? = '' OR grimorium = ?) AND embedding IS NOT NULL
	`, level, grimorium, grimorium)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []Match
	var corpus [][]float32
	for rows.Next() {
		var m Match
		var blob []byte
		if err := rows.Scan(&m.ID, &m.Grimorium, &m.Digest, &blob); err != nil {
			continue
		}
		if len(blob) == 0 {
			continue
		}
		candidates = append(candidates, m)
		corpus = append(corpus, bytesToFloat32Slice(blob))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var matches []Match
	for _, r := range provider.FindTopK(qvec, corpus, k) {
		m := candidates[r.Index]
		m.Score = clampScore(r.Similarity)
		matches = append(matches, m)
	}
	return matches, nil
}

// Digests returns the stored digests of one grimorium's records at the
// given level, keyed by subject ID. The sync pipeline diffs spell-level
// digests to skip unchanged docs.
func (s *Store) Digests(ctx context.Context, level, grimorium string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, digest FROM vec_index WHERE level = ? AND grimorium = ?`, level, grimorium)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	digests := make(map[string]string)
	for rows.Next() {
		var id, digest string
		if err := rows.Scan(&id, &digest); err != nil {
			return nil, err
		}
		digests[id] = digest
	}
	return digests, rows.Err()
}

// DeleteGrimorium removes every record of a grimorium across both levels,
// its summary row included. Used when a grimorium disappears from disk.
func (s *Store) DeleteGrimorium(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM vec_index WHERE grimorium = ?`, id); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM summaries WHERE grimorium = ?`, id); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	logging.Index("dropped index records for %s", id)
	return nil
}

// Delete removes the given subjects from one namespace. The sync pipeline
// uses it to prune spells that no longer exist on disk.
func (s *Store) Delete(ctx context.Context, level string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	args := make([]any, 0, len(ids)+1)
	args = append(args, level)
	marks := make([]string, len(ids))
	for i, id := range ids {
		marks[i] = "?"
		args = append(args, id)
	}
	stmt := fmt.Sprintf(`DELETE FROM vec_index WHERE level = ? AND id IN (%s)`, strings.Join(marks, ","))
	if _, err := s.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("delete %s records: %w", level, err)
	}
	logging.IndexDebug("deleted %d %s records", len(ids), level)
	return nil
}

// SaveSummary records a successful sync: the summary text, the collection
// digest it covers, and the spell count, in one statement.
func (s *Store) SaveSummary(ctx context.Context, grimorium, summary, digest string, spellCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO summaries (grimorium, summary, digest, spell_count, synced_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(grimorium) DO UPDATE SET
			summary = excluded.summary,
			digest = excluded.digest,
			spell_count = excluded.spell_count,
			synced_at = CURRENT_TIMESTAMP
	`, grimorium, summary, digest, spellCount)
	if err != nil {
		return fmt.Errorf("save summary for %s: %w", grimorium, err)
	}
	return nil
}

// Summary returns the stored summary text, or "" when none was synced yet.
func (s *Store) Summary(ctx context.Context, grimorium string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var summary string
	err := s.db.QueryRowContext(ctx,
		`SELECT summary FROM summaries WHERE grimorium = ?`, grimorium).Scan(&summary)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return summary, err
}

// SyncedDigest returns the digest of the last successful sync, or "" when
// the grimorium was never synced.
func (s *Store) SyncedDigest(ctx context.Context, grimorium string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var digest string
	err := s.db.QueryRowContext(ctx,
		`SELECT digest FROM summaries WHERE grimorium = ?`, grimorium).Scan(&digest)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return digest, err
}

// SyncedDigests returns every grimorium's last-synced digest.
func (s *Store) SyncedDigests(ctx context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT grimorium, digest FROM summaries`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	digests := make(map[string]string)
	for rows.Next() {
		var id, digest string
		if err := rows.Scan(&id, &digest); err != nil {
			return nil, err
		}
		digests[id] = digest
	}
	return digests, rows.Err()
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// Embedding blobs are little-endian float32, the layout sqlite-vec expects.

func float32SliceToBytes(floats []float32) []byte {
	bytes := make([]byte, len(floats)*4)
	for i, f := range floats {
		bits := math.Float32bits(f)
		bytes[i*4] = byte(bits)
		bytes[i*4+1] = byte(bits >> 8)
		bytes[i*4+2] = byte(bits >> 16)
		bytes[i*4+3] = byte(bits >> 24)
	}
	return bytes
}

func bytesToFloat32Slice(bytes []byte) []float32 {
	floats := make([]float32, len(bytes)/4)
	for i := range floats {
		bits := uint32(bytes[i*4]) | uint32(bytes[i*4+1])<<8 | uint32(bytes[i*4+2])<<16 | uint32(bytes[i*4+3])<<24
		floats[i] = math.Float32frombits(bits)
	}
	return floats
}
