package host

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/reftrace/internal/lang"
)

// importQueries capture the module path of each import statement.
var importQueries = map[string]string{
	"go": `(import_spec path: (interpreted_string_literal) @path)`,
	"python": `(import_statement name: (dotted_name) @path)
(import_from_statement module_name: (dotted_name) @path)`,
	"javascript": `(import_statement source: (string) @path)`,
	"typescript": `(import_statement source: (string) @path)`,
	"c":          `(preproc_include path: (string_literal) @path)`,
	"cpp":        `(preproc_include path: (string_literal) @path)`,
	"java":       `(import_declaration (scoped_identifier) @path)`,
}

var (
	compiledMu      sync.Mutex
	compiledQueries = map[string]*sitter.Query{}
)

func importQuery(language string, grammar *sitter.Language) (*sitter.Query, error) {
	compiledMu.Lock()
	defer compiledMu.Unlock()
	if q, ok := compiledQueries[language]; ok {
		return q, nil
	}
	pattern, ok := importQueries[language]
	if !ok {
		return nil, nil
	}
	q, err := sitter.NewQuery([]byte(pattern), grammar)
	if err != nil {
		return nil, fmt.Errorf("import query for %s: %w", language, err)
	}
	compiledQueries[language] = q
	return q, nil
}

// ExtractImports returns the import specifiers of a source file, unquoted and
// in source order. Files in languages without an import query yield nil.
func ExtractImports(ctx context.Context, file string, src []byte) ([]string, error) {
	language, ok := lang.ForFile(file)
	if !ok {
		return nil, nil
	}
	grammar, ok := lang.Grammar(language)
	if !ok {
		return nil, nil
	}
	q, err := importQuery(language, grammar)
	if err != nil || q == nil {
		return nil, err
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(grammar)

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", file, err)
	}

	cursor := sitter.NewQueryCursor()
	defer cursor.Close()
	cursor.Exec(q, tree.RootNode())

	var out []string
	for {
		match, ok := cursor.NextMatch()
		if !ok {
			break
		}
		for _, c := range match.Captures {
			spec := strings.Trim(c.Node.Content(src), "\"'`<>")
			if spec != "" {
				out = append(out, spec)
			}
		}
	}
	return out, nil
}

// importResolver maps import specifiers to corpus files.
type importResolver struct {
	files []string
	set   map[string]bool
}

func newImportResolver(corpus []string) *importResolver {
	r := &importResolver{files: corpus, set: make(map[string]bool, len(corpus))}
	for _, f := range corpus {
		r.set[f] = true
	}
	return r
}

func stripExt(p string) string {
	return strings.TrimSuffix(p, path.Ext(p))
}

// resolve returns the corpus files an import of spec from file refers to.
func (r *importResolver) resolve(file, spec string) []string {
	language, _ := lang.ForFile(file)
	switch language {
	case "go":
		// An import path names a package directory; its trailing segments
		// must equal the directory's root-relative path.
		var out []string
		for _, f := range r.files {
			if path.Ext(f) != ".go" || strings.HasSuffix(f, "_test.go") {
				continue
			}
			dir := path.Dir(f)
			if dir != "." && (spec == dir || strings.HasSuffix(spec, "/"+dir)) {
				out = append(out, f)
			}
		}
		return out
	case "python":
		return r.bySuffix(strings.ReplaceAll(spec, ".", "/"), "/__init__")
	case "java":
		return r.bySuffix(strings.ReplaceAll(spec, ".", "/"), "")
	case "javascript", "typescript":
		if !strings.HasPrefix(spec, ".") {
			return nil
		}
		target := path.Join(path.Dir(file), spec)
		var out []string
		for _, f := range r.files {
			if f == target || stripExt(f) == target || stripExt(f) == target+"/index" {
				out = append(out, f)
			}
		}
		return out
	case "c", "cpp":
		if local := path.Join(path.Dir(file), spec); r.set[local] {
			return []string{local}
		}
		var out []string
		for _, f := range r.files {
			if f == spec || strings.HasSuffix(f, "/"+spec) {
				out = append(out, f)
			}
		}
		return out
	}
	return nil
}

// bySuffix matches files whose extension-less path ends with want, or with
// want+pkgSuffix when pkgSuffix is set.
func (r *importResolver) bySuffix(want, pkgSuffix string) []string {
	var out []string
	for _, f := range r.files {
		base := stripExt(f)
		if base == want || strings.HasSuffix(base, "/"+want) {
			out = append(out, f)
			continue
		}
		if pkgSuffix != "" {
			pkg := want + pkgSuffix
			if base == pkg || strings.HasSuffix(base, "/"+pkg) {
				out = append(out, f)
			}
		}
	}
	return out
}
