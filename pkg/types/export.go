package types

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

// ExportKind is the tag of the ExportEntry union
type ExportKind string

const (
	ExportVariable  ExportKind = "variable"
	ExportFunction  ExportKind = "function"
	ExportClass     ExportKind = "class"
	ExportInterface ExportKind = "interface"
)

// Visibility of an exported symbol
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// ExportEntry describes one symbol exposed by a file. Exactly one payload
// pointer is set, matching Kind; variables carry none.
type ExportEntry struct {
	Name       string     `json:"name"`
	Kind       ExportKind `json:"type"`
	Visibility Visibility `json:"visibility"`
	LineNumber int        `json:"lineNumber"`

	Function  *FunctionSignature `json:"functionSignature,omitempty"`
	Class     *ClassInfo         `json:"classInfo,omitempty"`
	Interface *InterfaceInfo     `json:"interfaceInfo,omitempty"`
}

// Parameter is one formal parameter of a function signature
type Parameter struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Required     bool   `json:"required"`
	DefaultValue string `json:"defaultValue,omitempty"`
	Description  string `json:"description,omitempty"`
}

// FunctionSignature holds parameters, return type and overloads
type FunctionSignature struct {
	Parameters  []Parameter         `json:"parameters"`
	ReturnType  string              `json:"returnType"`
	IsAsync     bool                `json:"isAsync"`
	IsGenerator bool                `json:"isGenerator"`
	Overloads   []FunctionSignature `json:"overloads,omitempty"`
}

// ClassInfo is the class payload. Members are entries of the same union.
type ClassInfo struct {
	Extends      string        `json:"extends,omitempty"`
	Implements   []string      `json:"implements,omitempty"`
	Methods      []ExportEntry `json:"methods,omitempty"`
	Properties   []ExportEntry `json:"properties,omitempty"`
	Constructors []ExportEntry `json:"constructors,omitempty"`
}

// InterfaceInfo is the interface payload
type InterfaceInfo struct {
	Extends         []string      `json:"extends,omitempty"`
	Methods         []ExportEntry `json:"methods,omitempty"`
	Properties      []ExportEntry `json:"properties,omitempty"`
	IndexSignatures []string      `json:"indexSignatures,omitempty"`
	CallSignatures  []string      `json:"callSignatures,omitempty"`
}

// ImportEntry describes one symbol consumed by a file
type ImportEntry struct {
	Name       string `json:"name"`
	Source     string `json:"source"`
	LineNumber int    `json:"lineNumber"`
}

// ValidateKind checks if the export kind is valid
func (e *ExportEntry) ValidateKind() error {
	switch e.Kind {
	case ExportVariable, ExportFunction, ExportClass, ExportInterface:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidKind, e.Kind)
	}
}

// Validate checks the entry and, recursively, its nested members
func (e *ExportEntry) Validate() error {
	if e.Name == "" {
		return ErrMissingName
	}
	if err := e.ValidateKind(); err != nil {
		return err
	}
	if e.Visibility != VisibilityPublic && e.Visibility != VisibilityPrivate {
		return fmt.Errorf("%s: %w", e.Name, ErrInvalidVisibility)
	}

	hasFn, hasCls, hasIface := e.Function != nil, e.Class != nil, e.Interface != nil
	var ok bool
	switch e.Kind {
	case ExportVariable:
		ok = !hasFn && !hasCls && !hasIface
	case ExportFunction:
		ok = !hasCls && !hasIface
	case ExportClass:
		ok = !hasFn && !hasIface
	case ExportInterface:
		ok = !hasFn && !hasCls
	}
	if !ok {
		return fmt.Errorf("%s: %w", e.Name, ErrPayloadMismatch)
	}

	for _, group := range e.Members() {
		for i := range group {
			if err := group[i].Validate(); err != nil {
				return fmt.Errorf("%s: %w", e.Name, err)
			}
		}
	}
	return nil
}

// Members returns the nested member groups of a class or interface entry
func (e *ExportEntry) Members() [][]ExportEntry {
	switch {
	case e.Class != nil:
		return [][]ExportEntry{e.Class.Constructors, e.Class.Methods, e.Class.Properties}
	case e.Interface != nil:
		return [][]ExportEntry{e.Interface.Methods, e.Interface.Properties}
	}
	return nil
}

// IsPublic reports whether the entry is visible outside its module
func (e *ExportEntry) IsPublic() bool {
	return e.Visibility == VisibilityPublic
}

// CountEntries returns the number of entries including nested members
func CountEntries(entries []ExportEntry) int {
	n := 0
	for i := range entries {
		n++
		for _, group := range entries[i].Members() {
			n += CountEntries(group)
		}
	}
	return n
}

// VisibilityFromName applies the common convention that a leading
// underscore or a lowercase initial marks a private name.
func VisibilityFromName(name string, upperIsPublic bool) Visibility {
	if name == "" || name[0] == '_' || name[0] == '#' {
		return VisibilityPrivate
	}
	if upperIsPublic {
		r, _ := utf8.DecodeRuneInString(name)
		if !unicode.IsUpper(r) {
			return VisibilityPrivate
		}
	}
	return VisibilityPublic
}
