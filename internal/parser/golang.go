package parser

import (
	"context"
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/scanner"
	"go/token"
	"strconv"
	"strings"

	"github.com/dshills/repoindex/pkg/types"
)

func goLanguage() *LanguageSpec {
	return &LanguageSpec{
		Name:       "go",
		Extensions: []string{".go"},
		Extractor:  &goExtractor{},
	}
}

// goExtractor reports every top-level declaration of a Go file, exported
// identifiers as public. Methods are attached to the receiver type when
// it is declared in the same file.
type goExtractor struct{}

// Extract implements Extractor
func (x *goExtractor) Extract(ctx context.Context, path string, content []byte) (*types.ParseResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fset := token.NewFileSet()
	result := &types.ParseResult{}

	file, err := parser.ParseFile(fset, path, content, parser.SkipObjectResolution)
	if err != nil {
		// Syntax errors are non-fatal; a partial AST is still walked
		var list scanner.ErrorList
		if errors.As(err, &list) {
			for _, e := range list {
				result.AddError(path, e.Pos.Line, e.Pos.Column, fmt.Sprintf("line %d:%d: %s", e.Pos.Line, e.Pos.Column, e.Msg))
			}
		} else {
			result.AddError(path, 0, 0, fmt.Sprintf("syntax error: %v", err))
		}
	}
	if file == nil {
		return result, nil
	}

	e := &symbolExtractor{fset: fset, structs: make(map[string]int)}
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			e.extractFunction(d)
		case *ast.GenDecl:
			e.extractGenDecl(d)
		}
	}
	e.attachMethods()

	result.Exports = e.exports
	result.Imports = extractImports(fset, file)
	return result, nil
}

// extractImports reports each import path; the local name is the alias
// or the last path element
func extractImports(fset *token.FileSet, file *ast.File) []types.ImportEntry {
	imports := make([]types.ImportEntry, 0, len(file.Imports))
	for _, imp := range file.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			path = strings.Trim(imp.Path.Value, "`\"")
		}
		name := path[strings.LastIndex(path, "/")+1:]
		if imp.Name != nil {
			name = imp.Name.Name
		}
		imports = append(imports, types.ImportEntry{
			Name:       name,
			Source:     path,
			LineNumber: fset.Position(imp.Pos()).Line,
		})
	}
	return imports
}

// symbolExtractor collects top-level declarations
type symbolExtractor struct {
	fset    *token.FileSet
	exports []types.ExportEntry

	// structs maps a struct name to its index in exports
	structs map[string]int
	methods []goMethod
}

type goMethod struct {
	receiver string
	entry    types.ExportEntry
}

// extractFunction extracts function and method declarations
func (e *symbolExtractor) extractFunction(funcDecl *ast.FuncDecl) {
	entry := types.ExportEntry{
		Name:       funcDecl.Name.Name,
		Kind:       types.ExportFunction,
		Visibility: determineVisibility(funcDecl.Name.Name),
		LineNumber: e.line(funcDecl.Pos()),
		Function:   e.signature(funcDecl.Type),
	}

	if funcDecl.Recv != nil && len(funcDecl.Recv.List) > 0 {
		e.methods = append(e.methods, goMethod{
			receiver: receiverType(funcDecl.Recv.List[0].Type),
			entry:    entry,
		})
		return
	}
	e.exports = append(e.exports, entry)
}

// extractGenDecl extracts type, const, and var declarations
func (e *symbolExtractor) extractGenDecl(genDecl *ast.GenDecl) {
	for _, spec := range genDecl.Specs {
		switch s := spec.(type) {
		case *ast.TypeSpec:
			e.extractTypeSpec(s)
		case *ast.ValueSpec:
			for _, name := range s.Names {
				if name.Name == "_" {
					continue
				}
				e.exports = append(e.exports, types.ExportEntry{
					Name:       name.Name,
					Kind:       types.ExportVariable,
					Visibility: determineVisibility(name.Name),
					LineNumber: e.line(name.Pos()),
				})
			}
		}
	}
}

// extractTypeSpec maps structs to classes and interfaces to interfaces.
// Other named types are reported as variables.
func (e *symbolExtractor) extractTypeSpec(typeSpec *ast.TypeSpec) {
	entry := types.ExportEntry{
		Name:       typeSpec.Name.Name,
		Visibility: determineVisibility(typeSpec.Name.Name),
		LineNumber: e.line(typeSpec.Pos()),
	}

	switch t := typeSpec.Type.(type) {
	case *ast.StructType:
		entry.Kind = types.ExportClass
		entry.Class = e.structInfo(t)
		e.structs[entry.Name] = len(e.exports)
	case *ast.InterfaceType:
		entry.Kind = types.ExportInterface
		entry.Interface = e.interfaceInfo(t)
	default:
		entry.Kind = types.ExportVariable
	}

	e.exports = append(e.exports, entry)
}

// structInfo lists named fields as properties. Embedded fields are
// reported as implemented types, the first as Extends.
func (e *symbolExtractor) structInfo(structType *ast.StructType) *types.ClassInfo {
	info := &types.ClassInfo{}
	if structType.Fields == nil {
		return info
	}
	for _, field := range structType.Fields.List {
		if len(field.Names) == 0 {
			embedded := strings.TrimPrefix(exprToString(field.Type), "*")
			if info.Extends == "" {
				info.Extends = embedded
			} else {
				info.Implements = append(info.Implements, embedded)
			}
			continue
		}
		for _, name := range field.Names {
			info.Properties = append(info.Properties, types.ExportEntry{
				Name:       name.Name,
				Kind:       types.ExportVariable,
				Visibility: determineVisibility(name.Name),
				LineNumber: e.line(name.Pos()),
			})
		}
	}
	return info
}

func (e *symbolExtractor) interfaceInfo(interfaceType *ast.InterfaceType) *types.InterfaceInfo {
	info := &types.InterfaceInfo{}
	if interfaceType.Methods == nil {
		return info
	}
	for _, field := range interfaceType.Methods.List {
		fn, ok := field.Type.(*ast.FuncType)
		if !ok || len(field.Names) == 0 {
			// Embedded interface or type constraint
			info.Extends = append(info.Extends, exprToString(field.Type))
			continue
		}
		for _, name := range field.Names {
			info.Methods = append(info.Methods, types.ExportEntry{
				Name:       name.Name,
				Kind:       types.ExportFunction,
				Visibility: determineVisibility(name.Name),
				LineNumber: e.line(name.Pos()),
				Function:   e.signature(fn),
			})
		}
	}
	return info
}

// attachMethods moves methods onto their receiver's class entry. Methods
// on types declared elsewhere are reported as Type.Method functions.
func (e *symbolExtractor) attachMethods() {
	for _, m := range e.methods {
		if idx, ok := e.structs[m.receiver]; ok {
			cls := e.exports[idx].Class
			cls.Methods = append(cls.Methods, m.entry)
			continue
		}
		entry := m.entry
		if m.receiver != "" {
			entry.Name = m.receiver + "." + entry.Name
		}
		e.exports = append(e.exports, entry)
	}
}

func (e *symbolExtractor) signature(fn *ast.FuncType) *types.FunctionSignature {
	sig := &types.FunctionSignature{}
	if fn.Params != nil {
		for _, field := range fn.Params.List {
			typeStr := exprToString(field.Type)
			_, variadic := field.Type.(*ast.Ellipsis)
			if len(field.Names) == 0 {
				sig.Parameters = append(sig.Parameters, types.Parameter{Name: "_", Type: typeStr, Required: !variadic})
				continue
			}
			for _, name := range field.Names {
				sig.Parameters = append(sig.Parameters, types.Parameter{Name: name.Name, Type: typeStr, Required: !variadic})
			}
		}
	}

	results := fieldListToString(fn.Results)
	switch {
	case results == "":
		sig.ReturnType = "void"
	case fn.Results.NumFields() > 1 || len(fn.Results.List[0].Names) > 0:
		sig.ReturnType = "(" + results + ")"
	default:
		sig.ReturnType = results
	}
	return sig
}

func (e *symbolExtractor) line(pos token.Pos) int {
	return e.fset.Position(pos).Line
}

// receiverType extracts the receiver type name from a method, dropping
// pointers and type parameters
func receiverType(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverType(t.X)
	case *ast.IndexExpr:
		return receiverType(t.X)
	case *ast.IndexListExpr:
		return receiverType(t.X)
	case *ast.Ident:
		return t.Name
	}
	return ""
}

// fieldListToString converts a field list to a string representation
func fieldListToString(fieldList *ast.FieldList) string {
	if fieldList == nil || len(fieldList.List) == 0 {
		return ""
	}

	var parts []string
	for _, field := range fieldList.List {
		typeStr := exprToString(field.Type)
		if len(field.Names) > 0 {
			for _, name := range field.Names {
				parts = append(parts, fmt.Sprintf("%s %s", name.Name, typeStr))
			}
		} else {
			parts = append(parts, typeStr)
		}
	}

	return strings.Join(parts, ", ")
}

// exprToString converts a type expression to a string representation
func exprToString(expr ast.Expr) string {
	if expr == nil {
		return ""
	}

	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return "*" + exprToString(t.X)
	case *ast.ArrayType:
		if t.Len != nil {
			return "[" + exprToString(t.Len) + "]" + exprToString(t.Elt)
		}
		return "[]" + exprToString(t.Elt)
	case *ast.BasicLit:
		return t.Value
	case *ast.MapType:
		return fmt.Sprintf("map[%s]%s", exprToString(t.Key), exprToString(t.Value))
	case *ast.ChanType:
		switch t.Dir {
		case ast.SEND:
			return "chan<- " + exprToString(t.Value)
		case ast.RECV:
			return "<-chan " + exprToString(t.Value)
		}
		return "chan " + exprToString(t.Value)
	case *ast.FuncType:
		s := "func(" + fieldListToString(t.Params) + ")"
		if res := fieldListToString(t.Results); res != "" {
			if t.Results.NumFields() > 1 {
				res = "(" + res + ")"
			}
			s += " " + res
		}
		return s
	case *ast.InterfaceType:
		if t.Methods == nil || len(t.Methods.List) == 0 {
			return "interface{}"
		}
		return "interface{...}"
	case *ast.StructType:
		return "struct{...}"
	case *ast.SelectorExpr:
		return exprToString(t.X) + "." + t.Sel.Name
	case *ast.Ellipsis:
		return "..." + exprToString(t.Elt)
	case *ast.IndexExpr:
		return exprToString(t.X) + "[" + exprToString(t.Index) + "]"
	case *ast.IndexListExpr:
		args := make([]string, len(t.Indices))
		for i, idx := range t.Indices {
			args[i] = exprToString(idx)
		}
		return exprToString(t.X) + "[" + strings.Join(args, ", ") + "]"
	case *ast.UnaryExpr:
		return t.Op.String() + exprToString(t.X)
	case *ast.BinaryExpr:
		return exprToString(t.X) + " " + t.Op.String() + " " + exprToString(t.Y)
	case *ast.ParenExpr:
		return "(" + exprToString(t.X) + ")"
	default:
		return "..."
	}
}

// determineVisibility maps Go's export rule onto visibility
func determineVisibility(name string) types.Visibility {
	if token.IsExported(name) {
		return types.VisibilityPublic
	}
	return types.VisibilityPrivate
}
