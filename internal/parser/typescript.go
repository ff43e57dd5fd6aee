package parser

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/dshills/repoindex/pkg/types"
)

func typescriptLanguage() *LanguageSpec {
	return &LanguageSpec{
		Name:       "typescript",
		Extensions: []string{".ts", ".mts", ".cts"},
		Extractor:  &scriptExtractor{lang: typescript.GetLanguage()},
	}
}

func tsxLanguage() *LanguageSpec {
	return &LanguageSpec{
		Name:       "tsx",
		Extensions: []string{".tsx"},
		Extractor:  &scriptExtractor{lang: tsx.GetLanguage()},
	}
}

func javascriptLanguage() *LanguageSpec {
	return &LanguageSpec{
		Name:       "javascript",
		Extensions: []string{".js", ".jsx", ".mjs", ".cjs"},
		Extractor:  &scriptExtractor{lang: javascript.GetLanguage()},
	}
}

// scriptExtractor handles TypeScript, TSX and JavaScript. Only symbols
// reached through an export statement are reported.
type scriptExtractor struct {
	lang *sitter.Language
}

// Extract implements Extractor
func (x *scriptExtractor) Extract(ctx context.Context, path string, content []byte) (*types.ParseResult, error) {
	tree, err := parseTree(ctx, x.lang, content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	root := tree.RootNode()
	result := &types.ParseResult{}
	collectSyntaxErrors(root, path, content, result)

	w := &scriptWalker{src: content}
	for _, n := range namedChildren(root) {
		switch n.Type() {
		case "export_statement":
			result.Exports = append(result.Exports, w.exportStatement(n)...)
		case "import_statement":
			result.Imports = append(result.Imports, w.importStatement(n)...)
		}
	}
	result.Exports = mergeOverloads(result.Exports)
	return result, nil
}

type scriptWalker struct {
	src []byte
}

func (w *scriptWalker) exportStatement(n *sitter.Node) []types.ExportEntry {
	if decl := n.ChildByFieldName("declaration"); decl != nil {
		return w.declaration(decl)
	}

	if clause := firstNamedChildOfType(n, "export_clause"); clause != nil {
		var out []types.ExportEntry
		for _, spec := range namedChildren(clause) {
			if spec.Type() != "export_specifier" {
				continue
			}
			name := text(spec.ChildByFieldName("alias"), w.src)
			if name == "" {
				name = text(spec.ChildByFieldName("name"), w.src)
			}
			out = append(out, variableEntry(unquote(name), nodeLine(spec)))
		}
		return out
	}

	if value := n.ChildByFieldName("value"); value != nil {
		return []types.ExportEntry{w.defaultExport(value, nodeLine(n))}
	}
	return nil
}

// defaultExport names anonymous default exports "default"
func (w *scriptWalker) defaultExport(value *sitter.Node, line int) types.ExportEntry {
	switch value.Type() {
	case "function", "function_expression", "arrow_function", "generator_function":
		return types.ExportEntry{
			Name:       "default",
			Kind:       types.ExportFunction,
			Visibility: types.VisibilityPublic,
			LineNumber: line,
			Function:   w.signature(value),
		}
	case "class":
		entry := w.class(value)
		entry.Name = "default"
		return entry
	case "identifier":
		return variableEntry(text(value, w.src), line)
	}
	return variableEntry("default", line)
}

func (w *scriptWalker) declaration(decl *sitter.Node) []types.ExportEntry {
	switch decl.Type() {
	case "function_declaration", "generator_function_declaration", "function_signature":
		return []types.ExportEntry{w.function(decl)}
	case "class_declaration", "abstract_class_declaration", "class":
		return []types.ExportEntry{w.class(decl)}
	case "interface_declaration":
		return []types.ExportEntry{w.iface(decl)}
	case "type_alias_declaration":
		return []types.ExportEntry{w.typeAlias(decl)}
	case "lexical_declaration", "variable_declaration":
		var out []types.ExportEntry
		for _, d := range namedChildren(decl) {
			if d.Type() == "variable_declarator" {
				out = append(out, w.declarator(d))
			}
		}
		return out
	case "ambient_declaration":
		var out []types.ExportEntry
		for _, c := range namedChildren(decl) {
			out = append(out, w.declaration(c)...)
		}
		return out
	case "enum_declaration", "internal_module", "module":
		if name := text(decl.ChildByFieldName("name"), w.src); name != "" {
			return []types.ExportEntry{variableEntry(unquote(name), nodeLine(decl))}
		}
	}
	return nil
}

func (w *scriptWalker) function(n *sitter.Node) types.ExportEntry {
	return types.ExportEntry{
		Name:       text(n.ChildByFieldName("name"), w.src),
		Kind:       types.ExportFunction,
		Visibility: types.VisibilityPublic,
		LineNumber: nodeLine(n),
		Function:   w.signature(n),
	}
}

// declarator reports arrow functions and function expressions bound to a
// name as functions, everything else as a variable
func (w *scriptWalker) declarator(d *sitter.Node) types.ExportEntry {
	name := text(d.ChildByFieldName("name"), w.src)
	value := d.ChildByFieldName("value")
	if value != nil {
		switch value.Type() {
		case "arrow_function", "function", "function_expression", "generator_function":
			return types.ExportEntry{
				Name:       name,
				Kind:       types.ExportFunction,
				Visibility: types.VisibilityPublic,
				LineNumber: nodeLine(d),
				Function:   w.signature(value),
			}
		}
	}
	return variableEntry(name, nodeLine(d))
}

func (w *scriptWalker) signature(n *sitter.Node) *types.FunctionSignature {
	sig := &types.FunctionSignature{
		Parameters:  w.parameters(n.ChildByFieldName("parameters")),
		ReturnType:  orAny(typeAnnotation(n.ChildByFieldName("return_type"), w.src)),
		IsAsync:     hasToken(n, "async"),
		IsGenerator: hasToken(n, "*") || strings.HasPrefix(n.Type(), "generator_function"),
	}
	// A single bare arrow parameter has no parameter list
	if sig.Parameters == nil {
		if p := n.ChildByFieldName("parameter"); p != nil {
			sig.Parameters = []types.Parameter{{Name: text(p, w.src), Type: "any", Required: true}}
		}
	}
	return sig
}

func (w *scriptWalker) parameters(list *sitter.Node) []types.Parameter {
	var params []types.Parameter
	for _, p := range namedChildren(list) {
		switch p.Type() {
		case "required_parameter", "optional_parameter":
			pattern := p.ChildByFieldName("pattern")
			param := types.Parameter{
				Name:         text(pattern, w.src),
				Type:         orAny(typeAnnotation(p.ChildByFieldName("type"), w.src)),
				DefaultValue: text(p.ChildByFieldName("value"), w.src),
			}
			param.Required = p.Type() == "required_parameter" && param.DefaultValue == "" &&
				(pattern == nil || pattern.Type() != "rest_pattern")
			params = append(params, param)
		case "identifier":
			params = append(params, types.Parameter{Name: text(p, w.src), Type: "any", Required: true})
		case "assignment_pattern":
			params = append(params, types.Parameter{
				Name:         text(p.ChildByFieldName("left"), w.src),
				Type:         "any",
				DefaultValue: text(p.ChildByFieldName("right"), w.src),
			})
		case "rest_pattern":
			params = append(params, types.Parameter{Name: text(p, w.src), Type: "any"})
		case "object_pattern", "array_pattern":
			params = append(params, types.Parameter{Name: text(p, w.src), Type: "any", Required: true})
		}
	}
	return params
}

func (w *scriptWalker) class(n *sitter.Node) types.ExportEntry {
	info := &types.ClassInfo{}

	if heritage := firstNamedChildOfType(n, "class_heritage"); heritage != nil {
		for _, clause := range namedChildren(heritage) {
			switch clause.Type() {
			case "extends_clause":
				if v := clause.ChildByFieldName("value"); v != nil {
					info.Extends = text(v, w.src)
				} else if kids := namedChildren(clause); len(kids) > 0 {
					info.Extends = text(kids[0], w.src)
				}
			case "implements_clause":
				for _, t := range namedChildren(clause) {
					info.Implements = append(info.Implements, text(t, w.src))
				}
			default:
				// JavaScript puts the superclass expression directly under the heritage
				info.Extends = text(clause, w.src)
			}
		}
	}

	for _, m := range namedChildren(n.ChildByFieldName("body")) {
		switch m.Type() {
		case "method_definition", "method_signature", "abstract_method_signature":
			entry := w.member(m, types.ExportFunction)
			entry.Function = w.signature(m)
			if entry.Name == "constructor" {
				info.Constructors = append(info.Constructors, entry)
			} else {
				info.Methods = append(info.Methods, entry)
			}
		case "public_field_definition", "field_definition":
			info.Properties = append(info.Properties, w.member(m, types.ExportVariable))
		}
	}

	return types.ExportEntry{
		Name:       text(n.ChildByFieldName("name"), w.src),
		Kind:       types.ExportClass,
		Visibility: types.VisibilityPublic,
		LineNumber: nodeLine(n),
		Class:      info,
	}
}

// member builds a class member entry. Private and protected modifiers and
// #names mark the member private.
func (w *scriptWalker) member(m *sitter.Node, kind types.ExportKind) types.ExportEntry {
	nameNode := m.ChildByFieldName("name")
	if nameNode == nil {
		nameNode = m.ChildByFieldName("property")
	}
	name := text(nameNode, w.src)

	vis := types.VisibilityPublic
	if mod := firstNamedChildOfType(m, "accessibility_modifier"); mod != nil && text(mod, w.src) != "public" {
		vis = types.VisibilityPrivate
	}
	if strings.HasPrefix(name, "#") {
		vis = types.VisibilityPrivate
	}

	return types.ExportEntry{
		Name:       name,
		Kind:       kind,
		Visibility: vis,
		LineNumber: nodeLine(m),
	}
}

func (w *scriptWalker) iface(n *sitter.Node) types.ExportEntry {
	info := &types.InterfaceInfo{}
	if ext := firstNamedChildOfType(n, "extends_type_clause", "extends_clause"); ext != nil {
		for _, t := range namedChildren(ext) {
			info.Extends = append(info.Extends, text(t, w.src))
		}
	}
	w.objectMembers(n.ChildByFieldName("body"), info)

	return types.ExportEntry{
		Name:       text(n.ChildByFieldName("name"), w.src),
		Kind:       types.ExportInterface,
		Visibility: types.VisibilityPublic,
		LineNumber: nodeLine(n),
		Interface:  info,
	}
}

func (w *scriptWalker) objectMembers(body *sitter.Node, info *types.InterfaceInfo) {
	for _, m := range namedChildren(body) {
		switch m.Type() {
		case "property_signature":
			info.Properties = append(info.Properties, w.member(m, types.ExportVariable))
		case "method_signature":
			entry := w.member(m, types.ExportFunction)
			entry.Function = w.signature(m)
			info.Methods = append(info.Methods, entry)
		case "call_signature", "construct_signature":
			info.CallSignatures = append(info.CallSignatures, text(m, w.src))
		case "index_signature":
			info.IndexSignatures = append(info.IndexSignatures, text(m, w.src))
		}
	}
}

// typeAlias reports object type aliases as interfaces and anything else
// as a variable
func (w *scriptWalker) typeAlias(n *sitter.Node) types.ExportEntry {
	name := text(n.ChildByFieldName("name"), w.src)
	value := n.ChildByFieldName("value")
	if value == nil || value.Type() != "object_type" {
		return variableEntry(name, nodeLine(n))
	}

	info := &types.InterfaceInfo{}
	w.objectMembers(value, info)
	return types.ExportEntry{
		Name:       name,
		Kind:       types.ExportInterface,
		Visibility: types.VisibilityPublic,
		LineNumber: nodeLine(n),
		Interface:  info,
	}
}

func (w *scriptWalker) importStatement(n *sitter.Node) []types.ImportEntry {
	line := nodeLine(n)
	source := unquote(text(n.ChildByFieldName("source"), w.src))

	if req := firstNamedChildOfType(n, "import_require_clause"); req != nil {
		return []types.ImportEntry{{
			Name:       text(firstNamedChildOfType(req, "identifier"), w.src),
			Source:     unquote(text(req.ChildByFieldName("source"), w.src)),
			LineNumber: line,
		}}
	}

	clause := firstNamedChildOfType(n, "import_clause")
	if clause == nil {
		// Side-effect import
		return []types.ImportEntry{{Name: "*", Source: source, LineNumber: line}}
	}

	var out []types.ImportEntry
	for _, c := range namedChildren(clause) {
		switch c.Type() {
		case "identifier":
			out = append(out, types.ImportEntry{Name: text(c, w.src), Source: source, LineNumber: line})
		case "namespace_import":
			out = append(out, types.ImportEntry{Name: "*", Source: source, LineNumber: line})
		case "named_imports":
			for _, spec := range namedChildren(c) {
				if spec.Type() != "import_specifier" {
					continue
				}
				out = append(out, types.ImportEntry{
					Name:       unquote(text(spec.ChildByFieldName("name"), w.src)),
					Source:     source,
					LineNumber: line,
				})
			}
		}
	}
	return out
}

// mergeOverloads folds consecutive TypeScript overload signatures into
// the last declaration of the same name
func mergeOverloads(entries []types.ExportEntry) []types.ExportEntry {
	out := entries[:0]
	for _, e := range entries {
		if n := len(out); n > 0 && e.Kind == types.ExportFunction && e.Function != nil {
			last := out[n-1]
			if last.Kind == types.ExportFunction && last.Name == e.Name && last.Function != nil {
				bare := *last.Function
				bare.Overloads = nil
				overloads := append([]types.FunctionSignature(nil), last.Function.Overloads...)
				e.Function.Overloads = append(overloads, bare)
				out[n-1] = e
				continue
			}
		}
		out = append(out, e)
	}
	return out
}

func variableEntry(name string, line int) types.ExportEntry {
	return types.ExportEntry{
		Name:       name,
		Kind:       types.ExportVariable,
		Visibility: types.VisibilityPublic,
		LineNumber: line,
	}
}
