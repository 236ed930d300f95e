package runtime

import (
	"bytes"
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/risor-io/risor/object"
	sitter "github.com/smacker/go-tree-sitter"

	reflang "github.com/jward/reftrace/internal/lang"
)

// evalScope is the state behind the host functions of one script
// evaluation: the match being classified, if any, and every tree the script
// has parsed. The scope is dropped when the evaluation returns, and the trees
// with it.
type evalScope struct {
	match *Match

	mu    sync.Mutex
	trees map[*sitter.Node]*parsedTree // root node -> tree
}

type parsedTree struct {
	tree *sitter.Tree
	src  []byte
	lang *sitter.Language
}

func newEvalScope(m *Match) *evalScope {
	return &evalScope{match: m, trees: make(map[*sitter.Node]*parsedTree)}
}

// add registers a tree. go-tree-sitter caches node wrappers per tree, so the
// root pointer is stable for as long as the scope holds the tree.
func (s *evalScope) add(tree *sitter.Tree, src []byte, lang *sitter.Language) {
	s.mu.Lock()
	s.trees[tree.RootNode()] = &parsedTree{tree: tree, src: src, lang: lang}
	s.mu.Unlock()
}

func (s *evalScope) lookup(node *sitter.Node) (*parsedTree, bool) {
	root := node
	for root.Parent() != nil {
		root = root.Parent()
	}
	s.mu.Lock()
	pt, ok := s.trees[root]
	s.mu.Unlock()
	return pt, ok
}

func (s *evalScope) treeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trees)
}

// globals returns the host functions bound to this scope.
func (s *evalScope) globals() map[string]any {
	return map[string]any{
		"parse":      s.parseFn(),
		"parse_src":  s.parseSrcFn(),
		"node_text":  s.nodeTextFn(),
		"node_child": nodeChildFn(),
		"query":      s.queryFn(),
		"hits":       s.hitsFn(),
		"within":     withinFn(),
	}
}

// parseFn creates "parse", which parses the content of the match being
// classified. The language defaults to the one implied by the match's path.
//
// parse([language]) → *sitter.Tree
func (s *evalScope) parseFn() *object.Builtin {
	return object.NewBuiltin("parse", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) > 1 {
			return object.NewArgsRangeError("parse", 0, 1, len(args))
		}
		if s.match == nil {
			return object.Errorf("parse: no match is being classified")
		}

		langName, known := reflang.ForFile(s.match.Path)
		if len(args) == 1 {
			str, ok := args[0].(*object.String)
			if !ok {
				return object.Errorf("parse: language must be a string, got %s", args[0].Type())
			}
			langName, known = str.Value(), true
		}
		if !known {
			return object.Errorf("parse: no language for %s", s.match.Path)
		}
		return s.parse(ctx, s.match.Content, langName)
	})
}

// parseSrcFn creates "parse_src", which parses a source string.
//
// parse_src(source, language) → *sitter.Tree
func (s *evalScope) parseSrcFn() *object.Builtin {
	return object.NewBuiltin("parse_src", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("parse_src", 2, len(args))
		}

		srcStr, ok := args[0].(*object.String)
		if !ok {
			return object.Errorf("parse_src: source must be a string, got %s", args[0].Type())
		}

		langStr, ok := args[1].(*object.String)
		if !ok {
			return object.Errorf("parse_src: language must be a string, got %s", args[1].Type())
		}

		return s.parse(ctx, []byte(srcStr.Value()), langStr.Value())
	})
}

func (s *evalScope) parse(ctx context.Context, src []byte, langName string) object.Object {
	lang, found := reflang.Grammar(langName)
	if !found {
		return object.Errorf("parse: unsupported language %q", langName)
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return object.Errorf("parse: tree-sitter parse failed: %v", err)
	}

	s.add(tree, src, lang)

	proxy, err := object.NewProxy(tree)
	if err != nil {
		return object.Errorf("parse: proxy error: %v", err)
	}
	return proxy
}

// nodeArg unwraps a proxied *sitter.Node argument.
func nodeArg(fn string, arg object.Object) (*sitter.Node, *object.Error) {
	proxy, ok := arg.(*object.Proxy)
	if !ok {
		return nil, object.Errorf("%s: expected proxy (Node), got %s", fn, arg.Type())
	}
	node, ok := proxy.Interface().(*sitter.Node)
	if !ok || node == nil {
		return nil, object.Errorf("%s: expected *sitter.Node, got %T", fn, proxy.Interface())
	}
	return node, nil
}

// nodeTextFn creates "node_text". Risor proxies cannot pass []byte to
// Node.Content, so the source is looked up in the scope.
//
// node_text(node) → string
func (s *evalScope) nodeTextFn() *object.Builtin {
	return object.NewBuiltin("node_text", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("node_text", 1, len(args))
		}
		node, errObj := nodeArg("node_text", args[0])
		if errObj != nil {
			return errObj
		}
		pt, found := s.lookup(node)
		if !found {
			return object.Errorf("node_text: node was not parsed in this script")
		}
		return object.NewString(node.Content(pt.src))
	})
}

// queryFn creates "query". Each result maps capture names to nodes.
//
// query(pattern, node) → []map[string]Node
func (s *evalScope) queryFn() *object.Builtin {
	return object.NewBuiltin("query", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("query", 2, len(args))
		}

		patternStr, ok := args[0].(*object.String)
		if !ok {
			return object.Errorf("query: pattern must be a string, got %s", args[0].Type())
		}
		node, errObj := nodeArg("query", args[1])
		if errObj != nil {
			return errObj
		}
		pt, found := s.lookup(node)
		if !found {
			return object.Errorf("query: node was not parsed in this script")
		}

		q, err := sitter.NewQuery([]byte(patternStr.Value()), pt.lang)
		if err != nil {
			return object.Errorf("query: invalid pattern: %v", err)
		}
		defer q.Close()

		cursor := sitter.NewQueryCursor()
		defer cursor.Close()
		cursor.Exec(q, node)

		results := []object.Object{}
		for {
			match, ok := cursor.NextMatch()
			if !ok {
				break
			}
			match = cursor.FilterPredicates(match, pt.src)

			captures := make(map[string]object.Object)
			for _, capture := range match.Captures {
				name := q.CaptureNameForId(capture.Index)
				p, err := object.NewProxy(capture.Node)
				if err != nil {
					return object.Errorf("query: proxy error for capture %q: %v", name, err)
				}
				captures[name] = p
			}
			results = append(results, object.NewMap(captures))
		}
		return object.NewList(results)
	})
}

// hitsFn creates "hits", which locates every occurrence of text (the match
// target by default) inside node and returns the smallest named node
// spanning each one, in source order.
//
// hits(node[, text]) → []Node
func (s *evalScope) hitsFn() *object.Builtin {
	return object.NewBuiltin("hits", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) < 1 || len(args) > 2 {
			return object.NewArgsRangeError("hits", 1, 2, len(args))
		}
		node, errObj := nodeArg("hits", args[0])
		if errObj != nil {
			return errObj
		}

		var text string
		switch {
		case len(args) == 2:
			str, ok := args[1].(*object.String)
			if !ok {
				return object.Errorf("hits: text must be a string, got %s", args[1].Type())
			}
			text = str.Value()
		case s.match != nil:
			text = s.match.Target
		}
		if text == "" {
			return object.Errorf("hits: no text to look for")
		}

		pt, found := s.lookup(node)
		if !found {
			return object.Errorf("hits: node was not parsed in this script")
		}

		results := []object.Object{}
		for _, off := range occurrences(pt.src, []byte(text), int(node.StartByte()), int(node.EndByte())) {
			hit := node.NamedDescendantForPointRange(pointAt(pt.src, off), pointAt(pt.src, off+len(text)))
			if hit == nil {
				continue
			}
			p, err := object.NewProxy(hit)
			if err != nil {
				return object.Errorf("hits: proxy error: %v", err)
			}
			results = append(results, p)
		}
		return object.NewList(results)
	})
}

// occurrences returns the offsets of needle within src[start:end].
func occurrences(src, needle []byte, start, end int) []int {
	var out []int
	for i := start; i < end; {
		j := bytes.Index(src[i:end], needle)
		if j < 0 {
			break
		}
		out = append(out, i+j)
		i += j + len(needle)
	}
	return out
}

// pointAt converts a byte offset to a tree-sitter row/column point. Columns
// are in bytes.
func pointAt(src []byte, off int) sitter.Point {
	line := bytes.LastIndexByte(src[:off], '\n')
	return sitter.Point{
		Row:    uint32(bytes.Count(src[:off], []byte{'\n'})),
		Column: uint32(off - line - 1),
	}
}

// withinFn creates "within", which reports whether node or one of its
// ancestors has one of the given types.
//
// within(node, type...) → bool
func withinFn() *object.Builtin {
	return object.NewBuiltin("within", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) < 2 {
			return object.Errorf("within: expected a node and at least one type, got %d arguments", len(args))
		}
		node, errObj := nodeArg("within", args[0])
		if errObj != nil {
			return errObj
		}
		types := make([]string, 0, len(args)-1)
		for _, arg := range args[1:] {
			str, ok := arg.(*object.String)
			if !ok {
				return object.Errorf("within: type must be a string, got %s", arg.Type())
			}
			types = append(types, str.Value())
		}
		for n := node; n != nil; n = n.Parent() {
			if slices.Contains(types, n.Type()) {
				return object.True
			}
		}
		return object.False
	})
}

// nodeChildFn creates "node_child", a ChildByFieldName that returns Risor nil
// instead of a proxied Go nil pointer.
//
// node_child(node, fieldName) → Node or nil
func nodeChildFn() *object.Builtin {
	return object.NewBuiltin("node_child", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("node_child", 2, len(args))
		}
		node, errObj := nodeArg("node_child", args[0])
		if errObj != nil {
			return errObj
		}
		fieldStr, ok := args[1].(*object.String)
		if !ok {
			return object.Errorf("node_child: field must be a string, got %s", args[1].Type())
		}

		child := node.ChildByFieldName(fieldStr.Value())
		if child == nil {
			return object.Nil
		}
		p, err := object.NewProxy(child)
		if err != nil {
			return object.Errorf("node_child: proxy error: %v", err)
		}
		return p
	})
}

// logObject provides log.Info/Warn/Error to scripts.
type logObject struct {
	logger *slog.Logger
}

func (l *logObject) Info(msg string)  { l.logger.Info(msg) }
func (l *logObject) Warn(msg string)  { l.logger.Warn(msg) }
func (l *logObject) Error(msg string) { l.logger.Error(msg) }
