// Package schema loads declarative model definitions from YAML documents.
//
// A document declares data properties, nested sub-models, and validation
// rules that compile into the model engine's validator hooks:
//
//	properties:
//	  firstName: ""
//	  age: 30
//	  profile:
//	    properties:
//	      city: ""
//	rules:
//	  firstName:
//	    required: true
//	  age:
//	    min: 0
//	    max: 150
//
// Behavior (methods, computed getters, change hooks) stays in Go code: merge
// the loaded definition with a code-defined one through model.New's
// inheritance:
//
//	def, _ := schema.Load("person.yaml")
//	person, _ := model.New(def, behavior)
package schema

import (
	"fmt"
	"os"
	"reflect"
	"regexp"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/linq2js/remos/pkg/errors"
	"github.com/linq2js/remos/pkg/model"
)

// File is the YAML document shape.
type File struct {
	Properties map[string]any  `yaml:"properties"`
	Rules      map[string]Rule `yaml:"rules"`
}

// Rule is a declarative validation rule for one property. Zero fields are
// not enforced. A violated rule marks the property invalid with an error
// payload describing the violation.
type Rule struct {
	Required  bool     `yaml:"required"`
	Min       *float64 `yaml:"min"`
	Max       *float64 `yaml:"max"`
	MinLength *int     `yaml:"minLength"`
	MaxLength *int     `yaml:"maxLength"`
	Pattern   string   `yaml:"pattern"`
}

// Load reads and parses a definition file.
func Load(path string) (model.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errors.ModelError{Op: "schema.Load", Kind: errors.KindSchema, Err: err}
	}
	return Parse(data)
}

// Parse builds a model definition from a YAML document. Properties whose
// value is itself a document (a mapping with a "properties" key) become
// nested sub-model definitions; rules become val<Prop> hooks.
func Parse(data []byte) (model.Definition, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, &errors.ModelError{Op: "schema.Parse", Kind: errors.KindSchema, Err: err}
	}
	return buildDefinition(f)
}

func buildDefinition(f File) (model.Definition, error) {
	def := make(model.Definition, len(f.Properties)+len(f.Rules))
	for name, value := range f.Properties {
		if sub, ok := nestedFile(value); ok {
			child, err := buildDefinition(sub)
			if err != nil {
				return nil, err
			}
			def[name] = child
			continue
		}
		def[name] = value
	}
	for name, rule := range f.Rules {
		validate, err := compileRule(name, rule)
		if err != nil {
			return nil, err
		}
		def["val"+upperFirst(name)] = validate
	}
	return def, nil
}

// nestedFile detects a nested sub-model document inside a property value.
func nestedFile(value any) (File, bool) {
	mapping, ok := value.(map[string]any)
	if !ok {
		return File{}, false
	}
	if _, has := mapping["properties"]; !has {
		return File{}, false
	}
	raw, err := yaml.Marshal(mapping)
	if err != nil {
		return File{}, false
	}
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return File{}, false
	}
	return f, true
}

// compileRule turns a rule into a validator hook. The pattern is compiled
// once here so a malformed expression fails at load time, not per write.
func compileRule(name string, r Rule) (func(*model.Instance) error, error) {
	var re *regexp.Regexp
	if r.Pattern != "" {
		compiled, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, &errors.ModelError{
				Op:       "schema.Parse",
				Kind:     errors.KindSchema,
				Property: name,
				Err:      err,
			}
		}
		re = compiled
	}

	return func(m *model.Instance) error {
		value := m.Get(name)
		if isEmpty(value) {
			if r.Required {
				return fmt.Errorf("%s is required", name)
			}
			return nil
		}
		if r.Min != nil {
			if n, ok := toNumber(value); ok && n < *r.Min {
				return fmt.Errorf("%s must be at least %v", name, *r.Min)
			}
		}
		if r.Max != nil {
			if n, ok := toNumber(value); ok && n > *r.Max {
				return fmt.Errorf("%s must be at most %v", name, *r.Max)
			}
		}
		if r.MinLength != nil || r.MaxLength != nil {
			if n, ok := lengthOf(value); ok {
				if r.MinLength != nil && n < *r.MinLength {
					return fmt.Errorf("%s must have at least %d element(s)", name, *r.MinLength)
				}
				if r.MaxLength != nil && n > *r.MaxLength {
					return fmt.Errorf("%s must have at most %d element(s)", name, *r.MaxLength)
				}
			}
		}
		if re != nil {
			if s, ok := value.(string); ok && !re.MatchString(s) {
				return fmt.Errorf("%s must match %q", name, r.Pattern)
			}
		}
		return nil
	}, nil
}

// Apply writes a loaded definition's data properties onto a live instance
// as one logical mutation. Function entries are skipped: hooks and methods
// are fixed at construction time. Nested definitions are applied to the
// current nested instance when one is present.
func Apply(m *model.Instance, def model.Definition) {
	m.Batch(func() {
		for name, value := range def {
			if value != nil && reflect.TypeOf(value).Kind() == reflect.Func {
				continue
			}
			if child, ok := value.(model.Definition); ok {
				if current, ok := m.Get(name).(*model.Instance); ok {
					Apply(current, child)
					continue
				}
			}
			m.Update(name, value)
		}
	})
}

func isEmpty(value any) bool {
	return value == nil || value == ""
}

func toNumber(value any) (float64, bool) {
	switch n := value.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func lengthOf(value any) (int, bool) {
	switch v := value.(type) {
	case string:
		return len(v), true
	case []any:
		return len(v), true
	case map[string]any:
		return len(v), true
	}
	return 0, false
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
