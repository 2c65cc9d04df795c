package model

import (
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/linq2js/remos/pkg/errors"
)

// Definition is a static description of a model: a mapping from property
// name to either an initial value or a function. Functions whose names match
// the reserved hook convention (see the package documentation) become hooks;
// all other functions become instance methods. A value that is itself a
// Definition or an existing *Instance declares a nested sub-model.
//
// Definitions are treated as immutable once passed to New.
type Definition map[string]any

// validatorFunc is the normalized validator shape. A nil error with valid
// true means the property passed; valid false with nil error is the boolean
// invalid payload; a non-nil error is the error invalid payload.
type validatorFunc func(*Instance) (valid bool, err error)

// hookSet is the per-instance dispatch table built once at construction by
// scanning the effective definition. Keys are lower-cased property names.
type hookSet struct {
	onInit     func(*Instance)
	onChange   func(*Instance)
	propChange map[string]func(*Instance)
	validators map[string]validatorFunc
	valAll     validatorFunc
	getters    map[string]func(*Instance) any
	setters    map[string]func(*Instance, any)
	methods    map[string]reflect.Value

	// display holds the preferred casing for computed property names that
	// have no raw store entry, derived from the hook name itself.
	display map[string]string
}

func newHookSet() *hookSet {
	return &hookSet{
		propChange: make(map[string]func(*Instance)),
		validators: make(map[string]validatorFunc),
		getters:    make(map[string]func(*Instance) any),
		setters:    make(map[string]func(*Instance, any)),
		methods:    make(map[string]reflect.Value),
		display:    make(map[string]string),
	}
}

// flatten merges base definitions left-to-right into one effective
// definition. A later entry overrides an earlier one with the same name,
// case-insensitively, so a derived definition always wins over an inherited
// one. Two entries within a single definition that differ only by case are
// ambiguous and rejected.
func flatten(defs []Definition) (Definition, error) {
	eff := make(Definition)
	byLower := make(map[string]string) // lower -> current key in eff
	for _, def := range defs {
		seen := make(map[string]string, len(def))
		for name := range def {
			lower := strings.ToLower(name)
			if prev, ok := seen[lower]; ok {
				return nil, &errors.CompositionError{
					Property: name,
					Reason:   fmt.Sprintf("collides with %q (property names are case-insensitive)", prev),
				}
			}
			seen[lower] = name
		}
		for name, value := range def {
			lower := strings.ToLower(name)
			if prev, ok := byLower[lower]; ok && prev != name {
				delete(eff, prev)
			}
			byLower[lower] = name
			eff[name] = value
		}
	}
	return eff, nil
}

// buildHooks scans the effective definition and splits it into the hook
// dispatch table and the remaining data properties. Hook functions with a
// signature outside the documented shapes are composition conflicts.
func buildHooks(def Definition) (*hookSet, Definition, error) {
	hooks := newHookSet()
	data := make(Definition)

	for name, value := range def {
		if value == nil || reflect.TypeOf(value).Kind() != reflect.Func {
			data[name] = value
			continue
		}
		if err := bindHook(hooks, name, value); err != nil {
			return nil, nil, err
		}
	}
	return hooks, data, nil
}

// bindHook classifies one function entry by its name and registers it.
func bindHook(hooks *hookSet, name string, fn any) error {
	lower := strings.ToLower(name)
	switch lower {
	case "oninit":
		h, ok := asHook(fn)
		if !ok {
			return signatureConflict(name, "func(*Instance)")
		}
		hooks.onInit = h
		return nil
	case "onchange":
		h, ok := asHook(fn)
		if !ok {
			return signatureConflict(name, "func(*Instance)")
		}
		hooks.onChange = h
		return nil
	case "valall":
		v, ok := asValidator(fn)
		if !ok {
			return signatureConflict(name, "func(*Instance) bool, func(*Instance) error, or func(*Instance)")
		}
		hooks.valAll = v
		return nil
	}

	switch {
	case strings.HasPrefix(lower, "on") && strings.HasSuffix(lower, "change") && len(lower) > len("onchange"):
		prop := name[2 : len(name)-len("change")]
		h, ok := asHook(fn)
		if !ok {
			return signatureConflict(name, "func(*Instance)")
		}
		hooks.propChange[strings.ToLower(prop)] = h
		hooks.recordDisplay(prop)
	case strings.HasPrefix(lower, "val") && len(lower) > len("val"):
		prop := name[3:]
		v, ok := asValidator(fn)
		if !ok {
			return signatureConflict(name, "func(*Instance) bool, func(*Instance) error, or func(*Instance)")
		}
		hooks.validators[strings.ToLower(prop)] = v
		hooks.recordDisplay(prop)
	case strings.HasPrefix(lower, "get") && len(lower) > len("get"):
		prop := name[3:]
		g, ok := fn.(func(*Instance) any)
		if !ok {
			return signatureConflict(name, "func(*Instance) any")
		}
		hooks.getters[strings.ToLower(prop)] = g
		hooks.recordDisplay(prop)
	case strings.HasPrefix(lower, "set") && len(lower) > len("set"):
		prop := name[3:]
		s, ok := fn.(func(*Instance, any))
		if !ok {
			return signatureConflict(name, "func(*Instance, any)")
		}
		hooks.setters[strings.ToLower(prop)] = s
		hooks.recordDisplay(prop)
	default:
		rv := reflect.ValueOf(fn)
		t := rv.Type()
		if t.NumIn() == 0 || t.In(0) != reflect.TypeOf((*Instance)(nil)) {
			return &errors.CompositionError{
				Property: name,
				Reason:   "method must take *Instance as its first parameter",
			}
		}
		hooks.methods[lower] = rv
	}
	return nil
}

// recordDisplay remembers the casing a hook name implies for its property,
// e.g. valFirstName implies "firstName". Declared data properties take
// precedence over this when both exist.
func (h *hookSet) recordDisplay(prop string) {
	lower := strings.ToLower(prop)
	if _, ok := h.display[lower]; ok {
		return
	}
	h.display[lower] = lowerFirst(prop)
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}

// asHook adapts the lifecycle and change hook shape.
func asHook(fn any) (func(*Instance), bool) {
	h, ok := fn.(func(*Instance))
	return h, ok
}

// asValidator adapts the three accepted validator shapes to validatorFunc.
// A validator returning nothing signals valid unless it called SetInvalid
// or panicked; returning false or a non-nil error signals invalid.
func asValidator(fn any) (validatorFunc, bool) {
	switch v := fn.(type) {
	case func(*Instance) bool:
		return func(m *Instance) (bool, error) {
			return v(m), nil
		}, true
	case func(*Instance) error:
		return func(m *Instance) (bool, error) {
			err := v(m)
			return err == nil, err
		}, true
	case func(*Instance):
		return func(m *Instance) (bool, error) {
			v(m)
			return true, nil
		}, true
	}
	return nil, false
}

func signatureConflict(name, want string) error {
	return &errors.CompositionError{
		Property: name,
		Reason:   fmt.Sprintf("hook signature must be %s", want),
	}
}
