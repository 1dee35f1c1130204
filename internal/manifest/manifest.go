// Package manifest loads and enforces per-grimorium permission records.
// A manifest.json in a grimorium directory is the owner's explicit opt-in:
// it enables the grimorium and optionally restricts which spells are exposed
// through a whitelist and a blacklist.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Filename is the manifest file looked up inside each grimorium directory.
const Filename = "manifest.json"

var (
	// ErrNotFound indicates the directory has no manifest file.
	ErrNotFound = errors.New("manifest not found")

	// ErrInvalid indicates the manifest exists but cannot be used.
	ErrInvalid = errors.New("manifest invalid")

	// ErrExists indicates WriteDefault would overwrite an existing manifest.
	ErrExists = errors.New("manifest already exists")
)

// Manifest is the declarative permission record for one grimorium.
type Manifest struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Enabled     bool     `json:"enabled"`
	Whitelist   []string `json:"whitelist,omitempty"`
	Blacklist   []string `json:"blacklist,omitempty"`
	Version     string   `json:"version,omitempty"`
}

// rawManifest distinguishes a missing enabled key from an explicit false.
type rawManifest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Enabled     *bool    `json:"enabled"`
	Whitelist   []string `json:"whitelist"`
	Blacklist   []string `json:"blacklist"`
	Version     string   `json:"version"`
}

// Load reads and validates the manifest in dir. A missing file returns
// ErrNotFound; any parse or validation failure returns ErrInvalid. The
// manifest's presence is the opt-in, so a missing enabled key defaults to
// true. An empty name defaults to the directory name.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, Filename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var raw rawManifest
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
	}

	m := &Manifest{
		Name:        strings.TrimSpace(raw.Name),
		Description: raw.Description,
		Enabled:     true,
		Whitelist:   raw.Whitelist,
		Blacklist:   raw.Blacklist,
		Version:     raw.Version,
	}
	if raw.Enabled != nil {
		m.Enabled = *raw.Enabled
	}
	if m.Name == "" {
		m.Name = filepath.Base(dir)
	}

	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
	}
	return m, nil
}

// validate rejects list entries that can never match a spell name.
func (m *Manifest) validate() error {
	for _, name := range m.Whitelist {
		if strings.TrimSpace(name) == "" {
			return errors.New("whitelist contains an empty entry")
		}
	}
	for _, name := range m.Blacklist {
		if strings.TrimSpace(name) == "" {
			return errors.New("blacklist contains an empty entry")
		}
	}
	return nil
}

// Allows reports whether a spell with the given local name may be exposed.
// Rules, in order: a disabled grimorium exposes nothing; a whitelist, when
// present, admits only its members; the blacklist removes names regardless
// of the whitelist.
func (m *Manifest) Allows(name string) bool {
	if m == nil {
		return true
	}
	if !m.Enabled {
		return false
	}
	if m.Whitelist != nil && !contains(m.Whitelist, name) {
		return false
	}
	if contains(m.Blacklist, name) {
		return false
	}
	return true
}

func contains(list []string, name string) bool {
	for _, n := range list {
		if n == name {
			return true
		}
	}
	return false
}

// WriteDefault bootstraps a new manifest in dir, creating the directory if
// needed. It refuses to overwrite an existing manifest so init never
// silently resets a grimorium's permissions.
func WriteDefault(dir, name string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create grimorium directory: %w", err)
	}

	path := filepath.Join(dir, Filename)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, path)
	}

	if name == "" {
		name = filepath.Base(dir)
	}
	m := Manifest{
		Name:        name,
		Description: "Describe what the spells in this grimorium do.",
		Enabled:     true,
		Version:     "1",
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}
