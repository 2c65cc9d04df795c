package model

import "github.com/linq2js/remos/pkg/errors"

// Subscription is an active observation of one or more instances. Create
// one with Subscribe or SubscribeMany; stop observing with Unsubscribe.
//
// A subscription records the selector's output at creation time (the
// baseline) and fires its callback whenever a later notification pass
// produces an output the equality strategy considers different. It fires at
// most once per external mutation call, even when several of its instances
// were touched.
type Subscription struct {
	models   []*Instance
	selector func([]*Instance) any
	equal    Equality
	callback func()

	last     any
	lastPass uint64
	handles  []func()
	removed  bool
}

// Subscribe attaches an observer to a single instance. The selector
// extracts the observed value through the normal access path, so computed
// and memoized properties participate; a nil selector observes every change
// of the instance. A nil equality defaults to Strict.
//
// The baseline value is computed immediately and is available via Current.
func Subscribe(m *Instance, selector func(*Instance) any, equal Equality, callback func()) *Subscription {
	var sel func([]*Instance) any
	if selector != nil {
		sel = func(ms []*Instance) any { return selector(ms[0]) }
	}
	return SubscribeMany([]*Instance{m}, sel, equal, callback)
}

// SubscribeMany attaches an observer to several instances at once. The
// subscription fires when any constituent instance's change would change
// the selector output, coalesced to at most one callback per external
// mutation call. A nil selector observes every change of any instance.
func SubscribeMany(models []*Instance, selector func([]*Instance) any, equal Equality, callback func()) *Subscription {
	if selector == nil {
		selector = versionSelector
	}
	if equal == nil {
		equal = Strict
	}
	sub := &Subscription{
		models:   models,
		selector: selector,
		equal:    equal,
		callback: callback,
		lastPass: currentPass,
	}
	// Computing the baseline initializes each instance first.
	sub.last = sub.eval()
	for _, m := range models {
		sub.handles = append(sub.handles, m.register(sub))
	}
	return sub
}

// versionSelector is the nil-selector default: any committed change (or
// validity update) on any observed instance alters the combined version.
func versionSelector(ms []*Instance) any {
	var v uint64
	for _, m := range ms {
		v += m.Version()
	}
	return v
}

// Current returns the selector output recorded by the most recent firing
// (or the baseline, if the subscription has not fired yet).
func (s *Subscription) Current() any {
	return s.last
}

// Unsubscribe detaches the subscription from every observed instance. It is
// idempotent and safe to call during notification dispatch: a callback may
// remove its own subscription, and a removed subscription receives no
// further notifications, including ones in flight for the same pass.
func (s *Subscription) Unsubscribe() {
	if s.removed {
		return
	}
	s.removed = true
	for _, unregister := range s.handles {
		unregister()
	}
	s.handles = nil
}

// dispatch is called by an instance's notification pass.
func (s *Subscription) dispatch() {
	if s.removed || s.lastPass == currentPass {
		return
	}
	s.lastPass = currentPass
	next := s.eval()
	if s.equal(s.last, next) {
		return
	}
	s.last = next
	if s.callback != nil {
		s.invoke()
	}
}

// invoke runs the callback with panic containment, so one misbehaving
// observer cannot break the notification pass for the others.
func (s *Subscription) invoke() {
	defer errors.Recover("model.subscription")
	s.callback()
}

// eval runs the selector with panic containment: a selector failure is
// reported and the previous output is kept, suppressing the callback.
func (s *Subscription) eval() (out any) {
	defer func() {
		if r := recover(); r != nil {
			reportSelectorPanic(r)
			out = s.last
		}
	}()
	return s.selector(s.models)
}

func reportSelectorPanic(r any) {
	errors.ReportPanic(&errors.PanicError{
		Op:         "model.selector",
		Value:      r,
		StackTrace: errors.CaptureStack(),
	})
}

// register adds a subscription to this instance's registry and returns its
// unregister function.
func (m *Instance) register(s *Subscription) func() {
	m.ensureInit()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = s
	return func() {
		delete(m.subs, id)
	}
}
