package extract

import (
	"fmt"
	"go/ast"
	"sort"
	"strconv"
	"strings"
)

// allowedImports is the import allowlist for spell files. Spells run inside
// an interpreter that exposes the full standard library, so the gate is
// this static check at extraction time: a file that imports anything else
// is quarantined and its source never reaches the interpreter.
var allowedImports = map[string]bool{
	"strings":         true,
	"strconv":         true,
	"fmt":             true,
	"math":            true,
	"math/rand":       true,
	"regexp":          true,
	"encoding/json":   true,
	"encoding/base64": true,
	"time":            true,
	"sort":            true,
	"bytes":           true,
	"unicode":         true,
	"unicode/utf8":    true,
	"errors":          true,
	"path":            true,
	"path/filepath":   true,

	// Blocked outright, listed here so nobody "fixes" the omission:
	// "os", "os/exec", "io", "net", "net/http", "syscall", "unsafe",
	// "reflect", "runtime", "plugin".
}

// checkImports validates every import in a parsed file against the
// allowlist. All violations are reported at once so the quarantine entry
// names the full set.
func checkImports(f *ast.File) error {
	var forbidden []string
	for _, imp := range f.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			path = strings.Trim(imp.Path.Value, `"`)
		}
		if !allowedImports[path] {
			forbidden = append(forbidden, path)
		}
	}
	if len(forbidden) > 0 {
		sort.Strings(forbidden)
		return fmt.Errorf("%w: %s", ErrUnsafeImport, strings.Join(forbidden, ", "))
	}
	return nil
}

// AllowedImports returns the allowlist in sorted order, for usage docs and
// error surfaces.
func AllowedImports() []string {
	pkgs := make([]string, 0, len(allowedImports))
	for pkg := range allowedImports {
		pkgs = append(pkgs, pkg)
	}
	sort.Strings(pkgs)
	return pkgs
}
