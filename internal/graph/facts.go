package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FileFacts is everything a parser extracted from one source file. It is the
// sole input of Engine.Ingest.
type FileFacts struct {
	Classes    []ClassFacts     `json:"classes,omitempty"`
	Interfaces []InterfaceFacts `json:"interfaces,omitempty"`
	Types      []TypeFacts      `json:"types,omitempty"`
	Enums      []EnumFacts      `json:"enums,omitempty"`
	Functions  []FunctionFacts  `json:"functions,omitempty"`
	Variables  []VariableFacts  `json:"variables,omitempty"`
	Imports    []ImportFacts    `json:"imports,omitempty"`
	Exports    []string         `json:"exports,omitempty"`
	Components []ComponentFacts `json:"components,omitempty"`
}

// ClassFacts describes a class declaration.
type ClassFacts struct {
	Name       string   `json:"name"`
	Implements []string `json:"implements,omitempty"`
}

// InterfaceFacts describes an interface declaration.
type InterfaceFacts struct {
	Name string `json:"name"`
}

// TypeFacts describes a type alias.
type TypeFacts struct {
	Name       string `json:"name"`
	Definition string `json:"definition"`
}

// EnumFacts describes an enum and its members in declaration order.
type EnumFacts struct {
	Name    string            `json:"name"`
	Members []EnumMemberFacts `json:"members,omitempty"`
}

// EnumMemberFacts describes one enum member.
type EnumMemberFacts struct {
	Name string `json:"name"`
}

// FunctionFacts describes a function or method declaration.
type FunctionFacts struct {
	Name         string           `json:"name"`
	ReturnType   string           `json:"returnType,omitempty"`
	GenericTypes NameList         `json:"genericTypes,omitempty"`
	Parameters   []ParameterFacts `json:"parameters,omitempty"`
	Calls        []string         `json:"calls,omitempty"`
	Modifies     []string         `json:"modifies,omitempty"`
	Uses         []string         `json:"uses,omitempty"`
}

// ParameterFacts describes one function parameter.
type ParameterFacts struct {
	Name string    `json:"name"`
	Type ParamType `json:"type,omitempty"`
}

// VariableFacts describes a file-level variable.
type VariableFacts struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// ImportFacts describes one import statement. ResolvedPath, when set, is the
// repository path of the imported file.
type ImportFacts struct {
	Path          string   `json:"path"`
	Names         []string `json:"names,omitempty"`
	DefaultImport string   `json:"defaultImport,omitempty"`
	ResolvedPath  string   `json:"resolvedPath,omitempty"`
}

// ComponentFacts describes a UI component declaration.
type ComponentFacts struct {
	Name         string   `json:"name"`
	Props        JSONText `json:"props,omitempty"`
	GenericTypes NameList `json:"genericTypes,omitempty"`
}

// ParamType is a parameter's type name. Parsers report either a single name
// or a list of names; a list is kept as its JSON text.
type ParamType string

// UnmarshalJSON accepts a string or an array of strings.
func (p *ParamType) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*p = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = ParamType(s)
		return nil
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return fmt.Errorf("parameter type: want string or array of strings: %w", err)
	}
	*p = ParamTypeOf(names...)
	return nil
}

// ParamTypeOf builds a ParamType from one or more names. More than one name
// is encoded as JSON text.
func ParamTypeOf(names ...string) ParamType {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return ParamType(names[0])
	}
	b, _ := json.Marshal(names)
	return ParamType(b)
}

// NameList is a list of names that also accepts a single string, a {name}
// object or an array of {name} objects when decoded from JSON.
type NameList []string

// UnmarshalJSON implements the lenient decoding described on NameList.
func (n *NameList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = nil
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = NameList{s}
		return nil
	case '{':
		var obj struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		*n = NameList{obj.Name}
		return nil
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		out := make(NameList, 0, len(raw))
		for _, item := range raw {
			var one NameList
			if err := one.UnmarshalJSON(item); err != nil {
				return err
			}
			out = append(out, one...)
		}
		*n = out
		return nil
	}
	return fmt.Errorf("name list: unexpected JSON %q", data)
}

// JSONText holds any JSON value as its compact text.
type JSONText string

// UnmarshalJSON keeps the raw value compacted.
func (j *JSONText) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*j = ""
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return err
	}
	*j = JSONText(buf.String())
	return nil
}

// MarshalJSON emits the stored text verbatim, or null when empty.
func (j JSONText) MarshalJSON() ([]byte, error) {
	if j == "" {
		return []byte("null"), nil
	}
	if !json.Valid([]byte(j)) {
		return json.Marshal(string(j))
	}
	return []byte(j), nil
}

// ParseFacts decodes a FileFacts document.
func ParseFacts(data []byte) (*FileFacts, error) {
	var facts FileFacts
	if err := json.Unmarshal(data, &facts); err != nil {
		return nil, fmt.Errorf("%w: decode facts: %v", ErrInvalidFact, err)
	}
	return &facts, nil
}
