package parser

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/dshills/repoindex/pkg/types"
)

// maxSyntaxErrors caps how many ERROR/MISSING nodes are reported per file
const maxSyntaxErrors = 20

// parseTree parses src with a fresh parser. Parsers are not safe for
// concurrent use, so one is created per call.
func parseTree(ctx context.Context, lang *sitter.Language, src []byte) (*sitter.Tree, error) {
	p := sitter.NewParser()
	defer p.Close()
	p.SetLanguage(lang)

	tree, err := p.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return tree, nil
}

// collectSyntaxErrors records ERROR and MISSING nodes on result. Only
// subtrees that contain an error are visited.
func collectSyntaxErrors(root *sitter.Node, path string, src []byte, result *types.ParseResult) {
	if root == nil || !root.HasError() {
		return
	}

	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if len(result.Errors) >= maxSyntaxErrors {
			return
		}
		pt := n.StartPoint()
		line, col := int(pt.Row)+1, int(pt.Column)+1
		switch {
		case n.IsMissing():
			result.AddError(path, line, col, fmt.Sprintf("line %d:%d: missing %s", line, col, n.Type()))
			return
		case n.IsError():
			result.AddError(path, line, col, fmt.Sprintf("line %d:%d: unexpected %q", line, col, snippet(n.Content(src))))
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			child := n.Child(i)
			if child != nil && (child.HasError() || child.IsMissing()) {
				walk(child)
			}
		}
	}
	walk(root)

	// Errors hidden below the reporting threshold still mark the file
	if len(result.Errors) == 0 {
		result.AddError(path, 1, 1, "syntax error")
	}
}

func snippet(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 40 {
		s = s[:40] + "..."
	}
	return s
}

// nodeLine returns the 1-based line of n
func nodeLine(n *sitter.Node) int {
	return int(n.StartPoint().Row) + 1
}

// text returns the source text of n, or "" when n is nil
func text(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	return n.Content(src)
}

// namedChildren returns the named children of n
func namedChildren(n *sitter.Node) []*sitter.Node {
	if n == nil {
		return nil
	}
	count := int(n.NamedChildCount())
	out := make([]*sitter.Node, 0, count)
	for i := 0; i < count; i++ {
		if c := n.NamedChild(i); c != nil {
			out = append(out, c)
		}
	}
	return out
}

// firstNamedChildOfType returns the first named child of n whose type is
// one of kinds
func firstNamedChildOfType(n *sitter.Node, kinds ...string) *sitter.Node {
	for _, c := range namedChildren(n) {
		for _, k := range kinds {
			if c.Type() == k {
				return c
			}
		}
	}
	return nil
}

// hasToken reports whether n has a direct anonymous child with the given
// literal, for keywords such as async or *
func hasToken(n *sitter.Node, tok string) bool {
	if n == nil {
		return false
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c != nil && !c.IsNamed() && c.Type() == tok {
			return true
		}
	}
	return false
}

// unquote strips string delimiters from a literal
func unquote(s string) string {
	return strings.Trim(s, "\"'`")
}

// typeAnnotation strips the leading colon or arrow of a type annotation
func typeAnnotation(n *sitter.Node, src []byte) string {
	s := strings.TrimSpace(text(n, src))
	s = strings.TrimPrefix(s, ":")
	s = strings.TrimPrefix(s, "->")
	return strings.TrimSpace(s)
}

// orAny returns s, or "any" when s is empty
func orAny(s string) string {
	if s == "" {
		return "any"
	}
	return s
}
