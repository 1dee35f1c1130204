package extract

import "errors"

// File-level extraction failures. The scanner quarantines the whole file
// when one of these comes back; other files in the grimorium are unaffected.
var (
	// ErrParse covers unreadable files and Go syntax errors.
	ErrParse = errors.New("spell file does not parse")

	// ErrUnsafeImport means the file imports a package outside the
	// allowlist. The file is never evaluated, not even partially.
	ErrUnsafeImport = errors.New("spell file imports a forbidden package")
)
