// Package extract turns Go source files into spell metadata and bound
// invokers. Extraction is purely syntactic: the file is parsed, never
// evaluated. Spell code only reaches the interpreter through the Invoker,
// and only for files that passed the import safety check.
package extract

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"go/types"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"magetools/internal/logging"
	"magetools/internal/spell"
)

// Directive marks a function as a spell. It uses the standard tool
// directive comment form, so go/ast strips it from the extracted doc text.
// An optional "optional=a,b" argument names parameters that may be omitted
// at call time.
const Directive = "grim:spell"

// Rejection reports a marked function that could not be loaded as a spell.
// Rejections are unit-level: the rest of the file still loads.
type Rejection struct {
	Name   string
	Detail string
}

// Extractor parses spell files and binds each discovered spell to the
// shared Invoker.
type Extractor struct {
	invoker *Invoker
}

// NewExtractor creates an Extractor backed by the given Invoker.
func NewExtractor(inv *Invoker) *Extractor {
	return &Extractor{invoker: inv}
}

// ExtractFile pulls all spells out of one source file. A returned error is
// file-level (ErrParse or ErrUnsafeImport) and means zero units loaded;
// per-function problems come back as Rejections instead.
func (x *Extractor) ExtractFile(grimorium, path string) ([]spell.Spell, []Rejection, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	fset := token.NewFileSet()
	node, err := parser.ParseFile(fset, path, src, parser.ParseComments)
	if err != nil {
		logging.Get(logging.CategoryExtract).Error("parse failed: %s - %v", path, err)
		return nil, nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	if err := checkImports(node); err != nil {
		logging.Extract("quarantining %s: %v", filepath.Base(path), err)
		return nil, nil, err
	}

	pkgName := node.Name.Name
	source := string(src)

	var spells []spell.Spell
	var rejected []Rejection
	for _, decl := range node.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok {
			continue
		}
		marked, optional := spellDirective(fn.Doc)
		if !marked {
			continue
		}

		name := fn.Name.Name
		if fn.Recv != nil {
			rejected = append(rejected, Rejection{Name: name, Detail: "spell directive on a method"})
			continue
		}
		if !fn.Name.IsExported() {
			rejected = append(rejected, Rejection{Name: name, Detail: "spell functions must be exported"})
			continue
		}
		params, detail := extractParams(fn, optional)
		if detail != "" {
			rejected = append(rejected, Rejection{Name: name, Detail: detail})
			continue
		}
		if detail := checkResults(fn); detail != "" {
			rejected = append(rejected, Rejection{Name: name, Detail: detail})
			continue
		}

		spells = append(spells, spell.Spell{
			Name:      name,
			Grimorium: grimorium,
			Qualified: spell.Qualify(grimorium, name),
			Doc:       strings.TrimSpace(fn.Doc.Text()),
			Params:    params,
			File:      path,
			Invoke:    x.invoker.bind(source, pkgName, name, params),
		})
	}

	logging.ExtractDebug("%s: %d spells, %d rejected (package %s)",
		filepath.Base(path), len(spells), len(rejected), pkgName)
	return spells, rejected, nil
}

// spellDirective scans a doc comment group for the spell directive and
// parses its optional= argument.
func spellDirective(doc *ast.CommentGroup) (marked bool, optional []string) {
	if doc == nil {
		return false, nil
	}
	for _, c := range doc.List {
		if !strings.HasPrefix(c.Text, "//") {
			continue
		}
		line := c.Text[2:]
		if !strings.HasPrefix(line, Directive) {
			continue
		}
		rest := line[len(Directive):]
		if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
			continue
		}
		marked = true
		for _, arg := range strings.Fields(rest) {
			if !strings.HasPrefix(arg, "optional=") {
				continue
			}
			for _, name := range strings.Split(strings.TrimPrefix(arg, "optional="), ",") {
				if name = strings.TrimSpace(name); name != "" {
					optional = append(optional, name)
				}
			}
		}
	}
	return marked, optional
}

// extractParams builds the declared parameter list. A non-empty detail
// rejects the unit.
func extractParams(fn *ast.FuncDecl, optional []string) ([]spell.Param, string) {
	opt := make(map[string]bool, len(optional))
	for _, name := range optional {
		opt[name] = true
	}

	var params []spell.Param
	if fn.Type.Params != nil {
		for _, field := range fn.Type.Params.List {
			tag, ok := typeTag(field.Type)
			if !ok {
				return nil, fmt.Sprintf("unsupported parameter type %s", types.ExprString(field.Type))
			}
			if len(field.Names) == 0 {
				return nil, "parameters must be named"
			}
			for _, ident := range field.Names {
				p := spell.Param{Name: ident.Name, Type: tag, Required: true}
				if opt[ident.Name] {
					p.Required = false
					p.Default = spell.ZeroValue(tag)
					delete(opt, ident.Name)
				}
				params = append(params, p)
			}
		}
	}

	if len(opt) > 0 {
		leftover := make([]string, 0, len(opt))
		for name := range opt {
			leftover = append(leftover, name)
		}
		sort.Strings(leftover)
		return nil, fmt.Sprintf("optional= refers to unknown parameters: %s", strings.Join(leftover, ", "))
	}
	return params, ""
}

// typeTag maps an AST parameter type to its supported tag.
func typeTag(expr ast.Expr) (string, bool) {
	ident, ok := expr.(*ast.Ident)
	if !ok {
		return "", false
	}
	switch ident.Name {
	case "string", "int", "float64", "bool":
		return ident.Name, true
	}
	return "", false
}

// checkResults enforces the T or (T, error) result shape.
func checkResults(fn *ast.FuncDecl) string {
	res := fn.Type.Results
	if res == nil || len(res.List) == 0 {
		return "spell must return a value"
	}
	n := 0
	for _, field := range res.List {
		if len(field.Names) == 0 {
			n++
		} else {
			n += len(field.Names)
		}
	}
	switch n {
	case 1:
		return ""
	case 2:
		last := res.List[len(res.List)-1]
		if ident, ok := last.Type.(*ast.Ident); ok && ident.Name == "error" {
			return ""
		}
		return "second result must be error"
	default:
		return fmt.Sprintf("too many results (%d)", n)
	}
}
