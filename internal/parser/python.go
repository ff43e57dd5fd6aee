package parser

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/dshills/repoindex/pkg/types"
)

func pythonLanguage() *LanguageSpec {
	return &LanguageSpec{
		Name:       "python",
		Extensions: []string{".py", ".pyi"},
		Extractor:  &pythonExtractor{},
	}
}

// pythonExtractor reports module-level functions, classes and
// assignments. Names with a leading underscore are private; dunder names
// are public.
type pythonExtractor struct{}

// Extract implements Extractor
func (x *pythonExtractor) Extract(ctx context.Context, path string, content []byte) (*types.ParseResult, error) {
	tree, err := parseTree(ctx, python.GetLanguage(), content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	root := tree.RootNode()
	result := &types.ParseResult{}
	collectSyntaxErrors(root, path, content, result)

	w := &pythonWalker{src: content}
	for _, n := range namedChildren(root) {
		switch n.Type() {
		case "import_statement":
			result.Imports = append(result.Imports, w.importStatement(n)...)
		case "import_from_statement":
			result.Imports = append(result.Imports, w.importFrom(n)...)
		default:
			result.Exports = append(result.Exports, w.statement(n)...)
		}
	}
	return result, nil
}

type pythonWalker struct {
	src []byte
}

func (w *pythonWalker) statement(n *sitter.Node) []types.ExportEntry {
	switch n.Type() {
	case "decorated_definition":
		if def := n.ChildByFieldName("definition"); def != nil {
			return w.statement(def)
		}
	case "function_definition":
		return []types.ExportEntry{w.function(n, false)}
	case "class_definition":
		return []types.ExportEntry{w.class(n)}
	case "expression_statement":
		var out []types.ExportEntry
		for _, a := range namedChildren(n) {
			if a.Type() == "assignment" {
				out = append(out, w.assignment(a)...)
			}
		}
		return out
	}
	return nil
}

func (w *pythonWalker) function(n *sitter.Node, method bool) types.ExportEntry {
	name := text(n.ChildByFieldName("name"), w.src)
	return types.ExportEntry{
		Name:       name,
		Kind:       types.ExportFunction,
		Visibility: pythonVisibility(name),
		LineNumber: nodeLine(n),
		Function: &types.FunctionSignature{
			Parameters:  w.parameters(n.ChildByFieldName("parameters"), method),
			ReturnType:  orAny(typeAnnotation(n.ChildByFieldName("return_type"), w.src)),
			IsAsync:     hasToken(n, "async"),
			IsGenerator: containsYield(n.ChildByFieldName("body")),
		},
	}
}

// parameters drops the leading self or cls of methods
func (w *pythonWalker) parameters(list *sitter.Node, method bool) []types.Parameter {
	var params []types.Parameter
	for i, p := range namedChildren(list) {
		var param types.Parameter
		switch p.Type() {
		case "identifier":
			param = types.Parameter{Name: text(p, w.src), Type: "any", Required: true}
		case "typed_parameter":
			nameNode := firstNamedChildOfType(p, "identifier", "list_splat_pattern", "dictionary_splat_pattern")
			param = types.Parameter{
				Name:     text(nameNode, w.src),
				Type:     orAny(text(p.ChildByFieldName("type"), w.src)),
				Required: nameNode != nil && nameNode.Type() == "identifier",
			}
		case "default_parameter", "typed_default_parameter":
			param = types.Parameter{
				Name:         text(p.ChildByFieldName("name"), w.src),
				Type:         orAny(text(p.ChildByFieldName("type"), w.src)),
				DefaultValue: text(p.ChildByFieldName("value"), w.src),
			}
		case "list_splat_pattern", "dictionary_splat_pattern":
			param = types.Parameter{Name: text(p, w.src), Type: "any"}
		default:
			continue
		}
		if method && i == 0 && (param.Name == "self" || param.Name == "cls") {
			continue
		}
		params = append(params, param)
	}
	return params
}

func (w *pythonWalker) class(n *sitter.Node) types.ExportEntry {
	name := text(n.ChildByFieldName("name"), w.src)
	info := &types.ClassInfo{}

	for _, base := range namedChildren(n.ChildByFieldName("superclasses")) {
		if base.Type() == "keyword_argument" {
			continue
		}
		if info.Extends == "" {
			info.Extends = text(base, w.src)
		} else {
			info.Implements = append(info.Implements, text(base, w.src))
		}
	}

	for _, m := range namedChildren(n.ChildByFieldName("body")) {
		if m.Type() == "decorated_definition" {
			if def := m.ChildByFieldName("definition"); def != nil {
				m = def
			}
		}
		switch m.Type() {
		case "function_definition":
			entry := w.function(m, true)
			if entry.Name == "__init__" {
				info.Constructors = append(info.Constructors, entry)
			} else {
				info.Methods = append(info.Methods, entry)
			}
		case "expression_statement":
			for _, a := range namedChildren(m) {
				if a.Type() == "assignment" {
					info.Properties = append(info.Properties, w.assignment(a)...)
				}
			}
		}
	}

	return types.ExportEntry{
		Name:       name,
		Kind:       types.ExportClass,
		Visibility: pythonVisibility(name),
		LineNumber: nodeLine(n),
		Class:      info,
	}
}

// assignment reports plain and annotated name bindings. Tuple targets
// yield one entry per name.
func (w *pythonWalker) assignment(a *sitter.Node) []types.ExportEntry {
	left := a.ChildByFieldName("left")
	if left == nil {
		return nil
	}
	var names []*sitter.Node
	switch left.Type() {
	case "identifier":
		names = []*sitter.Node{left}
	case "pattern_list", "tuple_pattern":
		for _, c := range namedChildren(left) {
			if c.Type() == "identifier" {
				names = append(names, c)
			}
		}
	}

	out := make([]types.ExportEntry, 0, len(names))
	for _, id := range names {
		name := text(id, w.src)
		out = append(out, types.ExportEntry{
			Name:       name,
			Kind:       types.ExportVariable,
			Visibility: pythonVisibility(name),
			LineNumber: nodeLine(a),
		})
	}
	return out
}

func (w *pythonWalker) importStatement(n *sitter.Node) []types.ImportEntry {
	var out []types.ImportEntry
	for _, c := range namedChildren(n) {
		module := w.importedName(c)
		if module == "" {
			continue
		}
		out = append(out, types.ImportEntry{Name: module, Source: module, LineNumber: nodeLine(n)})
	}
	return out
}

func (w *pythonWalker) importFrom(n *sitter.Node) []types.ImportEntry {
	moduleNode := n.ChildByFieldName("module_name")
	source := text(moduleNode, w.src)
	line := nodeLine(n)

	if firstNamedChildOfType(n, "wildcard_import") != nil {
		return []types.ImportEntry{{Name: "*", Source: source, LineNumber: line}}
	}

	var out []types.ImportEntry
	for _, c := range namedChildren(n) {
		if moduleNode != nil && c.StartByte() == moduleNode.StartByte() {
			continue
		}
		if name := w.importedName(c); name != "" {
			out = append(out, types.ImportEntry{Name: name, Source: source, LineNumber: line})
		}
	}
	return out
}

// importedName returns the dotted name of an import target, ignoring any
// alias
func (w *pythonWalker) importedName(c *sitter.Node) string {
	switch c.Type() {
	case "dotted_name":
		return text(c, w.src)
	case "aliased_import":
		return text(c.ChildByFieldName("name"), w.src)
	}
	return ""
}

// containsYield reports whether body yields, without descending into
// nested functions, lambdas or classes
func containsYield(body *sitter.Node) bool {
	if body == nil {
		return false
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		c := body.NamedChild(i)
		if c == nil {
			continue
		}
		switch c.Type() {
		case "yield":
			return true
		case "function_definition", "lambda", "class_definition":
			continue
		}
		if containsYield(c) {
			return true
		}
	}
	return false
}

func pythonVisibility(name string) types.Visibility {
	if strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__") && len(name) > 4 {
		return types.VisibilityPublic
	}
	return types.VisibilityFromName(name, false)
}
