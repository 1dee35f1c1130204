package scan

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// CollectionDigest fingerprints a grimorium's source content: sha256 over
// (relative path, raw bytes) pairs, path-sorted so the digest is stable
// across enumeration order and operating systems. Modification times
// participate only when includeMTime is set; by default a touch without a
// content change does not mark the grimorium stale.
func CollectionDigest(dir string, files []string, includeMTime bool) (string, error) {
	sorted := make([]string, len(files))
	copy(sorted, files)
	sort.Strings(sorted)

	h := sha256.New()
	for _, path := range sorted {
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = path
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("digest %s: %w", rel, err)
		}
		io.WriteString(h, filepath.ToSlash(rel))
		h.Write([]byte{0})
		h.Write(data)
		h.Write([]byte{0})
		if includeMTime {
			info, err := os.Stat(path)
			if err != nil {
				return "", fmt.Errorf("digest %s: %w", rel, err)
			}
			fmt.Fprintf(h, "%d", info.ModTime().UnixNano())
			h.Write([]byte{0})
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DocHash fingerprints one spell document. The sync pipeline uses it to
// skip re-embedding spells whose text did not change.
func DocHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
