package spell

import "time"

// Reason classifies why a unit or file was quarantined.
type Reason string

const (
	// ReasonParseError marks files that failed to parse.
	ReasonParseError Reason = "parse_error"

	// ReasonImportSafety marks files whose imports fall outside the
	// allowed set.
	ReasonImportSafety Reason = "import_safety"

	// ReasonManifestRejected marks units filtered out by a manifest
	// whitelist or blacklist.
	ReasonManifestRejected Reason = "manifest_rejected"

	// ReasonDuplicateName marks units whose qualified name collided with
	// an already-registered spell.
	ReasonDuplicateName Reason = "duplicate_name"
)

// QuarantineEntry records one unit or file that was intended to load but
// failed. Quarantined subjects are never invokable or searchable; the
// entries exist for scan reports only.
type QuarantineEntry struct {
	// Subject is the file path or qualified spell name.
	Subject string

	// Grimorium is the owning grimorium's identifier.
	Grimorium string

	// Reason classifies the failure.
	Reason Reason

	// Detail is the underlying error text.
	Detail string

	// At is when the entry was recorded.
	At time.Time
}

// Quarantine accumulates entries during a scan. Entries are append-only
// within one scan; the next scan's snapshot replaces them wholesale.
type Quarantine struct {
	entries []QuarantineEntry
}

// Add appends an entry, stamping it if the caller left At zero.
func (q *Quarantine) Add(e QuarantineEntry) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	q.entries = append(q.entries, e)
}

// Entries returns a copy of all recorded entries.
func (q *Quarantine) Entries() []QuarantineEntry {
	out := make([]QuarantineEntry, len(q.entries))
	copy(out, q.entries)
	return out
}

// Count returns the number of recorded entries.
func (q *Quarantine) Count() int {
	return len(q.entries)
}

// ForGrimorium returns the entries recorded for one grimorium.
func (q *Quarantine) ForGrimorium(id string) []QuarantineEntry {
	var out []QuarantineEntry
	for _, e := range q.entries {
		if e.Grimorium == id {
			out = append(out, e)
		}
	}
	return out
}
