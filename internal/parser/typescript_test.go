package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/repoindex/pkg/types"
)

func TestTypeScript_Exports(t *testing.T) {
	src := `import { Repo, Commit as C } from './models';
import fs from "fs";
import * as path from 'path';
import './polyfill';

export const VERSION = '1.0.0';

export async function fetchRepo(id: string, retries?: number, tag = "main"): Promise<Repo> {
  return null as any;
}

export const toKey = (repo: Repo, file: string): string => repo + file;

export interface Store extends Base, Closer {
  name: string;
  get(id: string): Repo | undefined;
  [key: string]: unknown;
}

export class Indexer extends BaseIndexer implements Runner {
  private cache: Map<string, Repo>;
  public readonly name: string = 'idx';

  constructor(store: Store) {
    super();
  }

  async run(files: string[]): Promise<void> {}

  private reset(): void {}
}

function internal() {}
`
	result := parse(t, "src/indexer.ts", src)
	assert.Equal(t, "typescript", result.Language)
	assert.Empty(t, result.Errors)

	assert.Equal(t, []string{"VERSION", "fetchRepo", "toKey", "Store", "Indexer"}, exportNames(result.Exports))

	version := findExport(t, result.Exports, "VERSION")
	assert.Equal(t, types.ExportVariable, version.Kind)
	assert.Equal(t, 6, version.LineNumber)

	fetch := findExport(t, result.Exports, "fetchRepo")
	require.Equal(t, types.ExportFunction, fetch.Kind)
	assert.True(t, fetch.Function.IsAsync)
	assert.False(t, fetch.Function.IsGenerator)
	assert.Equal(t, "Promise<Repo>", fetch.Function.ReturnType)
	require.Len(t, fetch.Function.Parameters, 3)
	assert.Equal(t, types.Parameter{Name: "id", Type: "string", Required: true}, fetch.Function.Parameters[0])
	assert.Equal(t, types.Parameter{Name: "retries", Type: "number"}, fetch.Function.Parameters[1])
	assert.Equal(t, "\"main\"", fetch.Function.Parameters[2].DefaultValue)
	assert.False(t, fetch.Function.Parameters[2].Required)

	toKey := findExport(t, result.Exports, "toKey")
	require.Equal(t, types.ExportFunction, toKey.Kind)
	assert.Equal(t, "string", toKey.Function.ReturnType)
	assert.Len(t, toKey.Function.Parameters, 2)

	store := findExport(t, result.Exports, "Store")
	require.Equal(t, types.ExportInterface, store.Kind)
	assert.Equal(t, []string{"Base", "Closer"}, store.Interface.Extends)
	assert.Equal(t, []string{"name"}, exportNames(store.Interface.Properties))
	assert.Equal(t, []string{"get"}, exportNames(store.Interface.Methods))
	assert.Len(t, store.Interface.IndexSignatures, 1)

	cls := findExport(t, result.Exports, "Indexer")
	require.Equal(t, types.ExportClass, cls.Kind)
	assert.Equal(t, "BaseIndexer", cls.Class.Extends)
	assert.Equal(t, []string{"Runner"}, cls.Class.Implements)
	assert.Len(t, cls.Class.Constructors, 1)
	assert.Equal(t, []string{"run", "reset"}, exportNames(cls.Class.Methods))
	assert.True(t, cls.Class.Methods[0].Function.IsAsync)
	assert.Equal(t, types.VisibilityPrivate, cls.Class.Methods[1].Visibility)
	assert.Equal(t, []string{"cache", "name"}, exportNames(cls.Class.Properties))
	assert.Equal(t, types.VisibilityPrivate, cls.Class.Properties[0].Visibility)
	assert.Equal(t, types.VisibilityPublic, cls.Class.Properties[1].Visibility)

	imports := importNames(result.Imports)
	assert.Equal(t, "./models", imports["Repo"])
	assert.Equal(t, "./models", imports["Commit"])
	assert.Equal(t, "fs", imports["fs"])
	assert.Len(t, result.Imports, 5)
}

func TestTypeScript_ReturnTypeDefaultsToAny(t *testing.T) {
	result := parse(t, "a.ts", "export function f(x) { return x }\n")

	f := findExport(t, result.Exports, "f")
	assert.Equal(t, "any", f.Function.ReturnType)
	assert.Equal(t, "any", f.Function.Parameters[0].Type)
}

func TestTypeScript_Overloads(t *testing.T) {
	src := `export function parse(x: string): number;
export function parse(x: number): number;
export function parse(x: any): number { return 0 }
`
	result := parse(t, "overload.ts", src)

	require.Len(t, result.Exports, 1)
	fn := result.Exports[0].Function
	require.NotNil(t, fn)
	assert.Len(t, fn.Overloads, 2)
	assert.Equal(t, "string", fn.Overloads[0].Parameters[0].Type)
	assert.Equal(t, "number", fn.Overloads[1].Parameters[0].Type)
}

func TestTypeScript_ExportClauseAndDefault(t *testing.T) {
	src := `const a = 1;
const b = 2;
export { a, b as bee };
export default function () {}
`
	result := parse(t, "clause.ts", src)

	assert.Equal(t, []string{"a", "bee", "default"}, exportNames(result.Exports))
	assert.Equal(t, types.ExportFunction, findExport(t, result.Exports, "default").Kind)
}

func TestTypeScript_TypeAlias(t *testing.T) {
	src := `export type Options = { depth: number; follow(): boolean };
export type Mode = 'a' | 'b';
`
	result := parse(t, "alias.ts", src)

	opts := findExport(t, result.Exports, "Options")
	require.Equal(t, types.ExportInterface, opts.Kind)
	assert.Equal(t, []string{"depth"}, exportNames(opts.Interface.Properties))
	assert.Equal(t, []string{"follow"}, exportNames(opts.Interface.Methods))

	assert.Equal(t, types.ExportVariable, findExport(t, result.Exports, "Mode").Kind)
}

func TestTypeScript_SyntaxErrorRecorded(t *testing.T) {
	src := "export const ok = 1;\nexport function broken( {\n"
	result := parse(t, "broken.ts", src)

	require.True(t, result.HasErrors())
	assert.Positive(t, result.Errors[0].Line)
	assert.Equal(t, "broken.ts", result.Errors[0].File)
	assert.Contains(t, exportNames(result.Exports), "ok")
}

func TestTSX_Component(t *testing.T) {
	src := `import React from 'react';

export const Button = (props: { label: string }) => <button>{props.label}</button>;
`
	result := parse(t, "Button.tsx", src)
	assert.Equal(t, "tsx", result.Language)
	assert.Empty(t, result.Errors)

	button := findExport(t, result.Exports, "Button")
	assert.Equal(t, types.ExportFunction, button.Kind)
	assert.Equal(t, "react", importNames(result.Imports)["React"])
}

func TestJavaScript_Exports(t *testing.T) {
	src := `import { readFile } from 'fs/promises';

export function* walk(dir, depth = 1, ...rest) {}

export class Cache extends Map {
  #hits = 0;
  get(key) { return super.get(key) }
}

export default Cache;
`
	result := parse(t, "cache.js", src)
	assert.Equal(t, "javascript", result.Language)
	assert.Empty(t, result.Errors)

	walk := findExport(t, result.Exports, "walk")
	require.Equal(t, types.ExportFunction, walk.Kind)
	assert.True(t, walk.Function.IsGenerator)
	require.Len(t, walk.Function.Parameters, 3)
	assert.True(t, walk.Function.Parameters[0].Required)
	assert.Equal(t, "1", walk.Function.Parameters[1].DefaultValue)
	assert.False(t, walk.Function.Parameters[2].Required)

	cache := result.Exports[1]
	require.Equal(t, types.ExportClass, cache.Kind)
	assert.Equal(t, "Cache", cache.Name)
	assert.Equal(t, "Map", cache.Class.Extends)
	assert.Equal(t, []string{"get"}, exportNames(cache.Class.Methods))
	require.Len(t, cache.Class.Properties, 1)
	assert.Equal(t, types.VisibilityPrivate, cache.Class.Properties[0].Visibility)

	assert.Equal(t, "fs/promises", importNames(result.Imports)["readFile"])
}
