package parser

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dshills/repoindex/pkg/types"
)

// Extractor turns the content of one file into exports and imports.
// Syntax errors are recorded on the result; a returned error means the
// file could not be parsed at all.
type Extractor interface {
	Extract(ctx context.Context, path string, content []byte) (*types.ParseResult, error)
}

// LanguageSpec binds a language name to its extractor and file extensions
type LanguageSpec struct {
	Name       string
	Extensions []string
	Extractor  Extractor
}

// Registry dispatches parsing by file extension
type Registry struct {
	mu        sync.RWMutex
	byExt     map[string]*LanguageSpec
	byName    map[string]*LanguageSpec
	languages []string
}

// NewRegistry returns a registry with every built-in language registered
func NewRegistry() *Registry {
	r := &Registry{
		byExt:  make(map[string]*LanguageSpec),
		byName: make(map[string]*LanguageSpec),
	}
	r.Register(goLanguage())
	r.Register(typescriptLanguage())
	r.Register(tsxLanguage())
	r.Register(javascriptLanguage())
	r.Register(pythonLanguage())
	return r
}

// Register adds or replaces a language. Extensions are matched without
// regard to case.
func (r *Registry) Register(spec *LanguageSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[spec.Name]; !ok {
		r.languages = append(r.languages, spec.Name)
	}
	r.byName[spec.Name] = spec
	for _, ext := range spec.Extensions {
		r.byExt[normalizeExt(ext)] = spec
	}
}

// Language returns the language name for path, or "" when no extractor
// handles its extension
func (r *Registry) Language(path string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if spec, ok := r.byExt[normalizeExt(filepath.Ext(path))]; ok {
		return spec.Name
	}
	return ""
}

// Languages returns the registered language names in registration order
func (r *Registry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.languages...)
}

// Extensions returns every handled extension, sorted, with leading dots
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Supports reports whether path has a registered extension
func (r *Registry) Supports(path string) bool {
	return r.Language(path) != ""
}

// Parse extracts exports and imports from content. An empty language is
// resolved from path. Unknown languages produce an empty result rather
// than an error.
func (r *Registry) Parse(ctx context.Context, path string, content []byte, language string) (*types.ParseResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if language == "" {
		language = r.Language(path)
	}

	r.mu.RLock()
	spec, ok := r.byName[language]
	r.mu.RUnlock()
	if !ok {
		return &types.ParseResult{Language: language}, nil
	}

	result, err := spec.Extractor.Extract(ctx, path, content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", spec.Name, err)
	}
	result.Language = spec.Name
	return result, nil
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
