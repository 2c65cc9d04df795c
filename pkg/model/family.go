package model

import (
	"fmt"
	"sync"
)

// Family produces independent instances from a parameterized factory: one
// cached instance per distinct argument key. Requesting the same key returns
// the identical instance for as long as at least one observer holds it.
//
// Entries are reference-counted through Acquire; releasing the last
// reference evicts the entry, so the next request constructs a fresh
// instance. The release call is part of the observer's teardown contract —
// eviction never relies on garbage collection. The family cache is shared
// process-wide state and is the one part of the engine that takes a lock.
type Family struct {
	factory func(key any) Definition
	keyOf   func(key any) string

	mu      sync.Mutex
	entries map[string]*familyEntry
}

type familyEntry struct {
	instance *Instance
	refs     int
}

// FamilyOption configures a Family.
type FamilyOption func(*Family)

// WithKeyFunc overrides how argument keys are serialized into cache keys.
// The default uses fmt.Sprint.
func WithKeyFunc(fn func(key any) string) FamilyOption {
	return func(f *Family) {
		f.keyOf = fn
	}
}

// NewFamily creates a family from a factory that derives a definition per
// argument.
func NewFamily(factory func(key any) Definition, opts ...FamilyOption) *Family {
	f := &Family{
		factory: factory,
		keyOf:   func(key any) string { return fmt.Sprint(key) },
		entries: make(map[string]*familyEntry),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Get returns the member instance for the given argument, constructing and
// caching it on first request. Composition conflicts in the derived
// definition propagate to the caller. Get does not take a reference; use
// Acquire when the caller's lifetime should pin the entry.
func (f *Family) Get(key any) (*Instance, error) {
	entry, err := f.lookup(key, false)
	if err != nil {
		return nil, err
	}
	return entry.instance, nil
}

// Acquire is Get plus a reference: the entry stays cached until the
// returned release function runs. Release is idempotent; when the last
// reference is released the entry is evicted.
func (f *Family) Acquire(key any) (*Instance, func(), error) {
	entry, err := f.lookup(key, true)
	if err != nil {
		return nil, nil, err
	}
	ck := f.keyOf(key)
	released := false
	release := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if released {
			return
		}
		released = true
		cur, ok := f.entries[ck]
		if !ok || cur != entry {
			return
		}
		cur.refs--
		if cur.refs <= 0 {
			delete(f.entries, ck)
		}
	}
	return entry.instance, release, nil
}

// Len returns the number of cached member instances.
func (f *Family) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

func (f *Family) lookup(key any, retain bool) (*familyEntry, error) {
	ck := f.keyOf(key)
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[ck]
	if !ok {
		instance, err := New(f.factory(key))
		if err != nil {
			return nil, err
		}
		entry = &familyEntry{instance: instance}
		f.entries[ck] = entry
	}
	if retain {
		entry.refs++
	}
	return entry, nil
}
