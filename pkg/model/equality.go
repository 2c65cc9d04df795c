package model

import "reflect"

// Equality decides whether a selector's previous and next outputs are equal.
// Equal outputs suppress the subscription callback. Strict and Shallow cover
// the common cases; any custom function with this shape works as well.
type Equality func(prev, next any) bool

// Strict compares by reference or primitive equality. Replacing a value with
// a structurally identical but distinct object counts as a change.
var Strict Equality = strictEqual

// Shallow compares mapping-like and slice outputs one level deep: it reports
// equal when the key sets match and every top-level value is strictly equal.
// Non-container values fall back to strict comparison.
var Shallow Equality = shallowEqual

// strictEqual is reference/primitive equality that never panics: comparable
// values use ==, while maps, slices, funcs, and channels compare by
// identity.
func strictEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ra := reflect.ValueOf(a)
	rb := reflect.ValueOf(b)
	if ra.Type() != rb.Type() {
		return false
	}
	switch ra.Kind() {
	case reflect.Map, reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return ra.Pointer() == rb.Pointer()
	case reflect.Slice:
		return ra.Pointer() == rb.Pointer() && ra.Len() == rb.Len()
	default:
		if ra.Comparable() {
			return a == b
		}
		return false
	}
}

func shallowEqual(a, b any) bool {
	if strictEqual(a, b) {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	ra := reflect.ValueOf(a)
	rb := reflect.ValueOf(b)
	if ra.Type() != rb.Type() {
		return false
	}
	switch ra.Kind() {
	case reflect.Map:
		if ra.Len() != rb.Len() {
			return false
		}
		iter := ra.MapRange()
		for iter.Next() {
			bv := rb.MapIndex(iter.Key())
			if !bv.IsValid() {
				return false
			}
			if !strictEqual(iter.Value().Interface(), bv.Interface()) {
				return false
			}
		}
		return true
	case reflect.Slice, reflect.Array:
		if ra.Len() != rb.Len() {
			return false
		}
		for i := 0; i < ra.Len(); i++ {
			if !strictEqual(ra.Index(i).Interface(), rb.Index(i).Interface()) {
				return false
			}
		}
		return true
	}
	return false
}

// depsEqual reports whether two dependency lists match element-by-element
// under strict equality. A memo slot is valid iff this holds.
func depsEqual(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !strictEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}
