package model

import "runtime"

// memoSlot caches one call site's derived value together with the
// dependency list that produced it.
type memoSlot struct {
	deps  []any
	value any
}

// Memo returns a memoized derived value. The slot is identified by the
// calling code location within this instance, so two computed getters on
// the same instance never collide and two instances never share a slot.
//
// The cached value is returned without invoking compute while deps matches
// the previous call's list element-by-element under strict equality;
// otherwise compute runs and the result is cached. There is no time-based
// expiry.
//
//	"getFullName": func(m *model.Instance) any {
//	    first, last := m.Get("firstName"), m.Get("lastName")
//	    return m.Memo(func() any {
//	        return fmt.Sprintf("%v %v", first, last)
//	    }, first, last)
//	},
//
// Call Memo directly from the hook body: the slot key is the immediate
// caller. Wrapping Memo in a shared helper would merge call sites; use
// MemoKey from helpers instead.
func (m *Instance) Memo(compute func() any, deps ...any) any {
	pc, _, _, ok := runtime.Caller(1)
	if !ok {
		return compute()
	}
	return m.memoAt(pc, compute, deps)
}

// MemoKey is Memo with an explicit slot key instead of the caller location.
// Keys share the instance-scoped namespace with call-site slots.
func (m *Instance) MemoKey(key string, compute func() any, deps ...any) any {
	return m.memoAt(stringSlot(key), compute, deps)
}

func (m *Instance) memoAt(key uintptr, compute func() any, deps []any) any {
	if slot, ok := m.memo[key]; ok && depsEqual(slot.deps, deps) {
		return slot.value
	}
	stored := make([]any, len(deps))
	copy(stored, deps)
	value := compute()
	m.memo[key] = &memoSlot{deps: stored, value: value}
	return value
}

// stringSlot maps an explicit key into the slot keyspace. Program counters
// point into mapped text segments, so the offset keeps the two ranges from
// overlapping in practice.
func stringSlot(key string) uintptr {
	var h uint64 = 14695981039346656037 // FNV-1a
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= 1099511628211
	}
	return uintptr(h)
}
