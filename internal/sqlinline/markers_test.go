package sqlinline

import (
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"regexp"
	"strconv"
	"strings"
	"testing"
)

var uuidMarkerPattern = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// Every exported query must start with a unique audit marker; SQLRunner
// refuses to execute anything else.
func TestQueriesCarryUniqueMarkers(t *testing.T) {
	fset := token.NewFileSet()
	pkgs, err := parser.ParseDir(fset, ".", func(fi fs.FileInfo) bool {
		return !strings.HasSuffix(fi.Name(), "_test.go")
	}, 0)
	if err != nil {
		t.Fatalf("parse package: %v", err)
	}

	seen := map[string]string{}
	count := 0
	for _, pkg := range pkgs {
		for _, file := range pkg.Files {
			ast.Inspect(file, func(n ast.Node) bool {
				vs, ok := n.(*ast.ValueSpec)
				if !ok {
					return true
				}
				for i, name := range vs.Names {
					if !strings.HasPrefix(name.Name, "Q") || i >= len(vs.Values) {
						continue
					}
					lit := leftmostLiteral(vs.Values[i])
					if lit == nil {
						t.Errorf("%s: query is not built from a string literal", name.Name)
						continue
					}
					raw, err := strconv.Unquote(lit.Value)
					if err != nil {
						t.Errorf("%s: unquote: %v", name.Name, err)
						continue
					}
					marker := strings.TrimSpace(strings.SplitN(raw, "\n", 2)[0])
					if !uuidMarkerPattern.MatchString(marker) {
						t.Errorf("%s (%s): missing or invalid --sql <uuid> marker", name.Name, fset.Position(lit.Pos()))
						continue
					}
					if prev, dup := seen[marker]; dup {
						t.Errorf("%s reuses marker of %s", name.Name, prev)
					}
					seen[marker] = name.Name
					count++
				}
				return true
			})
		}
	}
	if count == 0 {
		t.Fatalf("no queries found")
	}
}

func leftmostLiteral(expr ast.Expr) *ast.BasicLit {
	switch e := expr.(type) {
	case *ast.BasicLit:
		if e.Kind == token.STRING {
			return e
		}
	case *ast.BinaryExpr:
		return leftmostLiteral(e.X)
	case *ast.ParenExpr:
		return leftmostLiteral(e.X)
	}
	return nil
}
