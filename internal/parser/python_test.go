package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/repoindex/pkg/types"
)

func TestPython_Exports(t *testing.T) {
	src := `import os
import numpy as np
from typing import List, Optional as Opt
from .models import *

MAX_FILES = 100
_cache = {}

def process(repo_id: str, files: List[str], force=False, *args, **kwargs) -> int:
    return 0

async def fetch(url):
    pass

def walk(root):
    def inner():
        yield 1
    return inner

def chunks(items, size: int = 50):
    for i in range(0, len(items), size):
        yield items[i:i + size]

class Indexer(Base, Mixin):
    batch_size = 10

    def __init__(self, store):
        self.store = store

    @property
    def name(self) -> str:
        return "idx"

    def _reset(self):
        pass

    def __repr__(self):
        return "Indexer"
`
	result := parse(t, "indexer.py", src)
	assert.Equal(t, "python", result.Language)
	assert.Empty(t, result.Errors)

	assert.Equal(t,
		[]string{"MAX_FILES", "_cache", "process", "fetch", "walk", "chunks", "Indexer"},
		exportNames(result.Exports))

	assert.Equal(t, types.VisibilityPublic, findExport(t, result.Exports, "MAX_FILES").Visibility)
	assert.Equal(t, types.VisibilityPrivate, findExport(t, result.Exports, "_cache").Visibility)

	process := findExport(t, result.Exports, "process")
	require.Equal(t, types.ExportFunction, process.Kind)
	assert.Equal(t, "int", process.Function.ReturnType)
	require.Len(t, process.Function.Parameters, 5)
	assert.Equal(t, types.Parameter{Name: "repo_id", Type: "str", Required: true}, process.Function.Parameters[0])
	assert.Equal(t, "List[str]", process.Function.Parameters[1].Type)
	assert.Equal(t, "False", process.Function.Parameters[2].DefaultValue)
	assert.False(t, process.Function.Parameters[2].Required)
	assert.Equal(t, "*args", process.Function.Parameters[3].Name)
	assert.Equal(t, "**kwargs", process.Function.Parameters[4].Name)

	fetch := findExport(t, result.Exports, "fetch")
	assert.True(t, fetch.Function.IsAsync)
	assert.Equal(t, "any", fetch.Function.ReturnType)

	assert.False(t, findExport(t, result.Exports, "walk").Function.IsGenerator, "nested yield does not count")
	chunks := findExport(t, result.Exports, "chunks")
	assert.True(t, chunks.Function.IsGenerator)
	assert.Equal(t, "int", chunks.Function.Parameters[1].Type)
	assert.Equal(t, "50", chunks.Function.Parameters[1].DefaultValue)

	cls := findExport(t, result.Exports, "Indexer")
	require.Equal(t, types.ExportClass, cls.Kind)
	assert.Equal(t, "Base", cls.Class.Extends)
	assert.Equal(t, []string{"Mixin"}, cls.Class.Implements)
	require.Len(t, cls.Class.Constructors, 1)
	assert.Equal(t, []string{"store"}, []string{cls.Class.Constructors[0].Function.Parameters[0].Name})
	assert.Equal(t, []string{"name", "_reset", "__repr__"}, exportNames(cls.Class.Methods))
	assert.Equal(t, "str", cls.Class.Methods[0].Function.ReturnType)
	assert.Equal(t, types.VisibilityPrivate, cls.Class.Methods[1].Visibility)
	assert.Equal(t, types.VisibilityPublic, cls.Class.Methods[2].Visibility)
	assert.Equal(t, []string{"batch_size"}, exportNames(cls.Class.Properties))

	imports := importNames(result.Imports)
	assert.Equal(t, "os", imports["os"])
	assert.Equal(t, "numpy", imports["numpy"])
	assert.Equal(t, "typing", imports["List"])
	assert.Equal(t, "typing", imports["Optional"])
	assert.Equal(t, ".models", imports["*"])
}

func TestPython_SyntaxErrorRecorded(t *testing.T) {
	src := "def ok():\n    pass\n\ndef broken(:\n    pass\n"
	result := parse(t, "broken.py", src)

	require.True(t, result.HasErrors())
	assert.Contains(t, exportNames(result.Exports), "ok")
}

func TestPythonVisibility(t *testing.T) {
	tests := []struct {
		name string
		want types.Visibility
	}{
		{"public", types.VisibilityPublic},
		{"_private", types.VisibilityPrivate},
		{"__mangled", types.VisibilityPrivate},
		{"__init__", types.VisibilityPublic},
		{"____", types.VisibilityPrivate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pythonVisibility(tt.name))
		})
	}
}
