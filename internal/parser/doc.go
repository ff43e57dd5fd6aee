// Package parser extracts the exports and imports of source files.
//
// A Registry maps file extensions to language extractors and satisfies
// the indexer's Parser interface:
//
//	reg := parser.NewRegistry()
//	lang := reg.Language("src/app.ts") // "typescript"
//	result, err := reg.Parse(ctx, "src/app.ts", content, lang)
//
// # Languages
//
// Go files are parsed with go/parser and every top-level declaration is
// reported, with exported identifiers marked public. Structs become
// classes carrying their fields and same-file methods.
//
// TypeScript, TSX and JavaScript are parsed with tree-sitter. Only
// symbols reached through an export statement are reported: functions,
// classes with their members, interfaces, object type aliases and
// variables. Arrow functions bound to a name are reported as functions
// and overload signatures are folded into the implementation.
//
// Python is parsed with tree-sitter. Module-level functions, classes and
// assignments are reported; a leading underscore marks a name private.
//
// # Errors
//
// Syntax errors do not fail a parse. ERROR and MISSING nodes, or Go
// scanner errors, are recorded in ParseResult.Errors and the partial tree
// is still walked. Parse returns an error only when the file could not be
// parsed at all. Files whose language is not registered produce an empty
// result.
//
// # Concurrency
//
// A Registry is safe for concurrent use. Each call creates its own
// tree-sitter parser.
package parser
