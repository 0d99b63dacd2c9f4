package registry

import (
	"github.com/go-json-experiment/json/jsontext"
)

// ParamType is the JSON type a CDP parameter is expected to carry.
type ParamType int

const (
	String ParamType = iota + 1
	Number
	Boolean
	Object
	Array
)

func (t ParamType) String() string {
	switch t {
	case String:
		return "String"
	case Number:
		return "Number"
	case Boolean:
		return "Boolean"
	case Object:
		return "Object"
	case Array:
		return "Array"
	default:
		return "Unknown"
	}
}

// TypeOf returns the ParamType of a raw JSON value. The second result is
// false for null and for values that are not valid JSON.
func TypeOf(v jsontext.Value) (ParamType, bool) {
	switch v.Kind() {
	case '"':
		return String, true
	case '0':
		return Number, true
	case 't', 'f':
		return Boolean, true
	case '{':
		return Object, true
	case '[':
		return Array, true
	default:
		return 0, false
	}
}

// Schema is the parameter contract of one CDP method.
type Schema struct {
	Required []string
	Optional []string
	Types    map[string]ParamType
}

// IsRequired reports whether name is a required parameter.
func (s Schema) IsRequired(name string) bool {
	for _, p := range s.Required {
		if p == name {
			return true
		}
	}
	return false
}

// IsDeclared reports whether name is a required or optional parameter.
func (s Schema) IsDeclared(name string) bool {
	if s.IsRequired(name) {
		return true
	}
	for _, p := range s.Optional {
		if p == name {
			return true
		}
	}
	return false
}

// TypeFor returns the declared type of name.
func (s Schema) TypeFor(name string) (ParamType, bool) {
	t, ok := s.Types[name]
	return t, ok
}

type param struct {
	name string
	typ  ParamType
}

// schema builds a Schema from name/type pairs.
func schema(required []param, optional []param) Schema {
	s := Schema{Types: make(map[string]ParamType, len(required)+len(optional))}
	for _, p := range required {
		s.Required = append(s.Required, p.name)
		s.Types[p.name] = p.typ
	}
	for _, p := range optional {
		s.Optional = append(s.Optional, p.name)
		s.Types[p.name] = p.typ
	}
	return s
}

func req(pairs ...param) []param { return pairs }
func opt(pairs ...param) []param { return pairs }

func str(name string) param     { return param{name, String} }
func num(name string) param     { return param{name, Number} }
func boolean(name string) param { return param{name, Boolean} }
func obj(name string) param     { return param{name, Object} }
func arr(name string) param     { return param{name, Array} }
