package model

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/linq2js/remos/pkg/errors"
)

// Engine-wide dispatch state. The engine assumes a single logical thread of
// mutation (see the package documentation), so no locking is needed here.
var (
	// externalDepth tracks nesting of external mutation entry points across
	// all instances. A new notification pass begins when it leaves zero.
	externalDepth int

	// currentPass identifies the notification pass of the innermost external
	// call. A subscription fires at most once per pass, even when it observes
	// several instances touched by the same call.
	currentPass uint64

	// notifyQueue holds instances whose subscriptions are due. The queue is
	// drained only when the outermost external call returns, so every touched
	// instance's hooks have settled before any subscription evaluates.
	notifyQueue []*Instance
)

// drainNotify runs the queued notification passes. Entries appended while
// draining (nested propagation, writes made by callbacks) are picked up by
// the same loop or by the recursive drain of the batch that produced them.
func drainNotify() {
	for len(notifyQueue) > 0 {
		m := notifyQueue[0]
		notifyQueue = notifyQueue[1:]
		m.queued = false
		m.notify()
	}
}

// Instance is a live, observable model constructed from one or more
// definitions. Every property read, write, and delete passes through it so
// that computed getters, validators, change hooks, and subscriptions stay
// consistent. Construct instances with New or MustNew.
//
// An Instance is NOT safe for concurrent mutation; see the package
// documentation.
type Instance struct {
	id    string
	def   Definition
	hooks *hookSet

	store map[string]any
	names map[string]string // lower-cased name -> declared casing

	memo map[uintptr]*memoSlot

	validity  map[string]Validity
	aggregate Validity

	subs    map[int]*Subscription
	nextSub int

	watchers    map[int]func()
	nextWatcher int

	nestedUnsub map[string]func()

	initialized bool
	version     uint64

	batchDepth    int
	flushing      bool
	queued        bool
	notifyPending bool
	changed       []string
	changedSet    map[string]struct{}

	validatorRunning bool
	validityExplicit bool
}

// New builds an Instance from the given definitions, flattened left to
// right: a later definition's property or hook overrides an earlier one with
// the same name, so list base definitions first and the most specific last.
//
// Properties whose initial value is a Definition or an existing *Instance
// become nested sub-models whose changes propagate to this instance's
// subscriptions. Composition conflicts (ambiguous names, malformed hook
// signatures, a nested model combined with a custom accessor) are returned
// as *errors.CompositionError; they are the only failures that propagate
// from construction.
//
// The initialization hook does not run here. It runs exactly once, on the
// first external access of any kind.
func New(defs ...Definition) (*Instance, error) {
	if len(defs) == 0 {
		return nil, &errors.CompositionError{Reason: "at least one definition is required"}
	}
	eff, err := flatten(defs)
	if err != nil {
		return nil, err
	}
	hooks, data, err := buildHooks(eff)
	if err != nil {
		return nil, err
	}

	m := &Instance{
		id:          uuid.NewString(),
		def:         eff,
		hooks:       hooks,
		store:       make(map[string]any, len(data)),
		names:       make(map[string]string, len(data)),
		memo:        make(map[uintptr]*memoSlot),
		validity:    make(map[string]Validity),
		aggregate:   Validity{Valid: true},
		subs:        make(map[int]*Subscription),
		watchers:    make(map[int]func()),
		nestedUnsub: make(map[string]func()),
	}

	for name, value := range data {
		lower := strings.ToLower(name)
		m.names[lower] = name
		switch v := value.(type) {
		case Definition, *Instance:
			if hooks.getters[lower] != nil || hooks.setters[lower] != nil {
				return nil, &errors.CompositionError{
					Property: name,
					Reason:   "nested model cannot combine with a custom getter or setter",
				}
			}
			child, ok := v.(*Instance)
			if !ok {
				child, err = New(v.(Definition))
				if err != nil {
					return nil, err
				}
			}
			m.store[name] = child
			m.bindNested(lower, child)
		default:
			m.store[name] = value
		}
	}
	return m, nil
}

// MustNew is like New but panics on a composition conflict.
// Use it for definitions known to be valid at compile time.
func MustNew(defs ...Definition) *Instance {
	m, err := New(defs...)
	if err != nil {
		panic(err)
	}
	return m
}

// ID returns the unique identifier assigned to this instance.
func (m *Instance) ID() string { return m.id }

func (m *Instance) String() string {
	short := m.id
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("Instance(%s)", short)
}

// Version returns a counter that increments on every observable change,
// including validity updates and nested model changes.
func (m *Instance) Version() uint64 { return m.version }

// Initialized reports whether the initialization hook has run.
func (m *Instance) Initialized() bool { return m.initialized }

// Definition returns the resolved, post-inheritance definition this instance
// was constructed from. Callers must not mutate it.
func (m *Instance) Definition() Definition { return m.def }

// Get returns the current readable value of a property. A computed getter,
// when declared, shadows the raw store; otherwise the stored value is
// returned, or nil for unknown properties. Property names are matched
// case-insensitively.
func (m *Instance) Get(name string) any {
	m.ensureInit()
	lower := strings.ToLower(name)
	if getter := m.hooks.getters[lower]; getter != nil {
		return m.invokeGetter(lower, getter)
	}
	if decl, ok := m.names[lower]; ok {
		return m.store[decl]
	}
	return nil
}

// Set is the external write path. It routes through the property's custom
// setter; without one the property is read-only from the outside and Set is
// a silent no-op. Method and hook bodies mutate state with Update instead.
func (m *Instance) Set(name string, value any) {
	m.ensureInit()
	lower := strings.ToLower(name)
	setter := m.hooks.setters[lower]
	if setter == nil {
		// Read-only property: ignored, not an error.
		return
	}
	m.begin()
	m.invokeSetter(lower, setter, value)
	m.end()
}

// Update commits a property value, bypassing the custom setter. It is the
// mutation primitive for method and hook bodies ("this.x = v"). Writing a
// value strictly equal to the current one is a no-op and produces no
// notifications. Writing an *Instance replaces a nested model: change
// propagation is rebound from the old instance to the new one.
func (m *Instance) Update(name string, value any) {
	m.ensureInit()
	lower := strings.ToLower(name)
	decl, ok := m.names[lower]
	if !ok {
		decl = name
		m.names[lower] = name
	}
	if old, exists := m.store[decl]; exists && strictEqual(old, value) {
		return
	}
	m.begin()
	if unsub := m.nestedUnsub[lower]; unsub != nil {
		unsub()
		delete(m.nestedUnsub, lower)
	}
	if child, isChild := value.(*Instance); isChild {
		m.bindNested(lower, child)
	}
	m.store[decl] = value
	m.version++
	m.markChanged(lower)
	m.end()
}

// Has reports whether a property currently has a value or a computed getter.
func (m *Instance) Has(name string) bool {
	m.ensureInit()
	lower := strings.ToLower(name)
	if _, ok := m.hooks.getters[lower]; ok {
		return true
	}
	decl, ok := m.names[lower]
	if !ok {
		return false
	}
	_, ok = m.store[decl]
	return ok
}

// Delete removes an optional property's value. Deleting an absent property
// is a no-op; deleting a nested model unbinds its change propagation.
func (m *Instance) Delete(name string) {
	m.ensureInit()
	lower := strings.ToLower(name)
	decl, ok := m.names[lower]
	if !ok {
		return
	}
	if _, exists := m.store[decl]; !exists {
		return
	}
	m.begin()
	if unsub := m.nestedUnsub[lower]; unsub != nil {
		unsub()
		delete(m.nestedUnsub, lower)
	}
	delete(m.store, decl)
	m.version++
	m.markChanged(lower)
	m.end()
}

// Call invokes a definition method with this instance as its receiver and
// returns the method's first result, if any. A panic inside the method is
// contained and reported; Call then returns nil.
func (m *Instance) Call(name string, args ...any) any {
	m.ensureInit()
	lower := strings.ToLower(name)
	fn, ok := m.hooks.methods[lower]
	if !ok {
		errors.Report(&errors.ModelError{
			Op:   "model.Call",
			Kind: errors.KindHook,
			Err:  fmt.Errorf("no method %q", name),
		})
		return nil
	}
	m.begin()
	defer m.end()
	return m.invokeMethod(name, fn, args)
}

// Batch groups several mutations into one logical external call: hooks run
// once per touched property and each subscription fires at most once when
// fn returns.
func (m *Instance) Batch(fn func()) {
	m.ensureInit()
	m.begin()
	defer m.end()
	fn()
}

// Snapshot returns the instance's readable state as a plain map: every
// stored property plus every computed property, read through the normal
// access path. Nested models appear as their own snapshots. The map is
// freshly allocated per call, so pair snapshot-based selectors with Shallow
// equality.
func (m *Instance) Snapshot() map[string]any {
	m.ensureInit()
	out := make(map[string]any, len(m.store)+len(m.hooks.getters))
	for lower, decl := range m.names {
		if _, shadowed := m.hooks.getters[lower]; shadowed {
			continue
		}
		value, ok := m.store[decl]
		if !ok {
			continue
		}
		if child, isChild := value.(*Instance); isChild {
			out[decl] = child.Snapshot()
			continue
		}
		out[decl] = value
	}
	for lower := range m.hooks.getters {
		out[m.displayName(lower)] = m.Get(lower)
	}
	return out
}

// ensureInit runs the initialization hook exactly once, before any other
// hook or external observation sees the instance. The flag is set before
// the hook runs so re-entrant access from inside onInit does not recurse.
func (m *Instance) ensureInit() {
	if m.initialized {
		return
	}
	m.initialized = true
	if m.hooks.onInit == nil {
		return
	}
	m.begin()
	m.invokeHook("model.onInit", "", m.hooks.onInit)
	m.end()
}

// begin opens a mutation batch on this instance and joins (or starts) the
// engine-wide notification pass.
func (m *Instance) begin() {
	if externalDepth == 0 {
		currentPass++
	}
	externalDepth++
	m.batchDepth++
}

// end closes a mutation batch. The outermost end on an instance runs its
// hook pipeline and queues it for notification; the subscription pass runs
// once the outermost external call across all instances returns, so
// subscriptions always observe fully-settled post-hook state. The external
// depth is released in a defer so a panic escaping the pipeline cannot leak
// the counter.
func (m *Instance) end() {
	defer func() {
		externalDepth--
		if externalDepth == 0 {
			drainNotify()
		}
	}()
	m.batchDepth--
	if m.batchDepth == 0 && !m.flushing && (len(m.changed) > 0 || m.notifyPending) {
		m.flush()
	}
}

func (m *Instance) markChanged(lower string) {
	if m.changedSet == nil {
		m.changedSet = make(map[string]struct{})
	}
	if _, ok := m.changedSet[lower]; ok {
		return
	}
	m.changedSet[lower] = struct{}{}
	m.changed = append(m.changed, lower)
}

// flush runs the settled-batch pipeline in the documented order:
// per-property validators, then valAll, then per-property change hooks,
// then onChange, then queues the instance for the subscription pass.
// Properties written by hooks during the flush join the batch; each property
// is processed at most once, and valAll runs again when change hooks grew
// the batch so the aggregate validator always sees every property validated.
func (m *Instance) flush() {
	m.flushing = true
	defer func() {
		m.flushing = false
		m.changed = nil
		m.changedSet = nil
	}()

	// A validity-only batch skips the hook pipeline and only queues the pass.
	if len(m.changed) > 0 {
		validated := 0
		for validated < len(m.changed) {
			m.runValidator(m.changed[validated])
			validated++
		}
		settled := validated
		if m.hooks.valAll != nil {
			m.execValidator("", m.hooks.valAll)
		}
		for i := 0; i < len(m.changed); i++ {
			// Writes made by earlier change hooks still get validated.
			for validated <= i {
				m.runValidator(m.changed[validated])
				validated++
			}
			if hook := m.hooks.propChange[m.changed[i]]; hook != nil {
				m.invokeHook("model.onPropChange", m.changed[i], hook)
			}
		}
		if m.hooks.onChange != nil {
			m.invokeHook("model.onChange", "", m.hooks.onChange)
		}
		for validated < len(m.changed) {
			m.runValidator(m.changed[validated])
			validated++
		}
		if m.hooks.valAll != nil && validated > settled {
			m.execValidator("", m.hooks.valAll)
		}
	}
	m.queueNotify()
}

// queueNotify schedules this instance's subscription pass on the engine
// queue. Queueing is idempotent per drain.
func (m *Instance) queueNotify() {
	m.notifyPending = false
	if m.queued {
		return
	}
	m.queued = true
	notifyQueue = append(notifyQueue, m)
}

// notify evaluates active subscriptions and internal watchers. Entries
// removed while the pass is in flight are skipped.
func (m *Instance) notify() {
	if len(m.subs) > 0 {
		ids := make([]int, 0, len(m.subs))
		for id := range m.subs {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		for _, id := range ids {
			if sub, ok := m.subs[id]; ok {
				sub.dispatch()
			}
		}
	}
	if len(m.watchers) > 0 {
		ids := make([]int, 0, len(m.watchers))
		for id := range m.watchers {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		for _, id := range ids {
			if fn, ok := m.watchers[id]; ok {
				fn()
			}
		}
	}
}

// addWatcher registers an internal change listener and returns its
// unregister function. Watchers carry nested-model propagation; external
// observers use Subscribe instead.
func (m *Instance) addWatcher(fn func()) func() {
	id := m.nextWatcher
	m.nextWatcher++
	m.watchers[id] = fn
	return func() {
		delete(m.watchers, id)
	}
}

func (m *Instance) bindNested(lower string, child *Instance) {
	m.nestedUnsub[lower] = child.addWatcher(m.childChanged)
}

// childChanged propagates a nested instance's change as a change of this
// instance for subscription purposes. Owner hooks do not run for it. The
// child notifies its watchers during a drain, so queueing here lands the
// owner's pass in the same drain.
func (m *Instance) childChanged() {
	m.version++
	if m.batchDepth > 0 || m.flushing {
		m.notifyPending = true
		return
	}
	m.queueNotify()
}

// runValidator runs the property's validator, if declared.
func (m *Instance) runValidator(prop string) {
	if fn := m.hooks.validators[prop]; fn != nil {
		m.execValidator(prop, fn)
	}
}

// execValidator invokes a validator and records the outcome. All three
// invalid signals update the same record: a false return (boolean payload),
// a returned error or recovered panic (error payload), and an explicit
// SetInvalid call made by the validator body, which wins over the return
// value. An empty prop targets the whole-model record.
func (m *Instance) execValidator(prop string, fn validatorFunc) {
	prevRunning, prevExplicit := m.validatorRunning, m.validityExplicit
	m.validatorRunning, m.validityExplicit = true, false

	valid, err, panicked := callValidator(fn, m)

	explicit := m.validityExplicit
	m.validatorRunning, m.validityExplicit = prevRunning, prevExplicit

	switch {
	case panicked != nil:
		m.setValidity(prop, Validity{Err: panicked})
		errors.Report(&errors.ModelError{
			Op:         "model.validate",
			Kind:       errors.KindValidation,
			Property:   m.displayName(prop),
			Err:        panicked,
			StackTrace: errors.CaptureStack(),
		})
	case explicit:
		// The validator updated the record through SetInvalid.
	case err != nil:
		m.setValidity(prop, Validity{Err: err})
	default:
		m.setValidity(prop, Validity{Valid: valid})
	}
}

func callValidator(fn validatorFunc, m *Instance) (valid bool, err error, panicked error) {
	defer func() {
		if r := recover(); r != nil {
			panicked = toError(r)
		}
	}()
	valid, err = fn(m)
	return
}

// invokeHook runs a lifecycle or change hook with panic containment: a
// failure is attached to the property's validity error slot and reported,
// so one hook's failure cannot prevent others from running.
func (m *Instance) invokeHook(op, prop string, fn func(*Instance)) {
	defer m.containPanic(op, prop)
	fn(m)
}

func (m *Instance) invokeSetter(prop string, fn func(*Instance, any), value any) {
	defer m.containPanic("model.Set", prop)
	fn(m, value)
}

func (m *Instance) invokeGetter(prop string, fn func(*Instance) any) (result any) {
	defer m.containPanic("model.Get", prop)
	return fn(m)
}

func (m *Instance) invokeMethod(name string, fn reflect.Value, args []any) (result any) {
	defer m.containPanic("model.Call", "")

	t := fn.Type()
	fixed := t.NumIn() - 1
	if t.IsVariadic() {
		fixed--
		if len(args) < fixed {
			m.reportCallMismatch(fmt.Errorf("method %q needs at least %d argument(s), got %d", name, fixed, len(args)))
			return nil
		}
	} else if len(args) != fixed {
		m.reportCallMismatch(fmt.Errorf("method %q needs %d argument(s), got %d", name, fixed, len(args)))
		return nil
	}

	in := make([]reflect.Value, 0, len(args)+1)
	in = append(in, reflect.ValueOf(m))
	for i, arg := range args {
		var pt reflect.Type
		if t.IsVariadic() && i >= fixed {
			pt = t.In(t.NumIn() - 1).Elem()
		} else {
			pt = t.In(i + 1)
		}
		v, ok := conform(arg, pt)
		if !ok {
			m.reportCallMismatch(fmt.Errorf("method %q argument %d: cannot use %T as %s", name, i, arg, pt))
			return nil
		}
		in = append(in, v)
	}

	out := fn.Call(in)
	if len(out) == 0 {
		return nil
	}
	return out[0].Interface()
}

func (m *Instance) reportCallMismatch(err error) {
	errors.Report(&errors.ModelError{
		Op:   "model.Call",
		Kind: errors.KindHook,
		Err:  err,
	})
}

// conform adapts a Call argument to the method's parameter type.
func conform(arg any, pt reflect.Type) (reflect.Value, bool) {
	if arg == nil {
		return reflect.Zero(pt), true
	}
	v := reflect.ValueOf(arg)
	if v.Type().AssignableTo(pt) {
		return v, true
	}
	if v.Type().ConvertibleTo(pt) {
		return v.Convert(pt), true
	}
	return reflect.Value{}, false
}

// containPanic is the deferred recovery shared by hook invocations. The
// panic becomes the property's validity error (the whole-model record when
// prop is empty) and is reported to the global error handler; it never
// reaches the caller of the mutation.
func (m *Instance) containPanic(op, prop string) {
	if r := recover(); r != nil {
		err := toError(r)
		m.setValidity(prop, Validity{Err: err})
		errors.Report(&errors.ModelError{
			Op:         op,
			Kind:       errors.KindHook,
			Property:   m.displayName(prop),
			Err:        err,
			StackTrace: errors.CaptureStack(),
		})
	}
}

// displayName returns the preferred casing for a lower-cased property key:
// the declared data property name when one exists, else the casing implied
// by the hook that introduced it.
func (m *Instance) displayName(lower string) string {
	if decl, ok := m.names[lower]; ok {
		return decl
	}
	if name, ok := m.hooks.display[lower]; ok {
		return name
	}
	return lower
}

func toError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("%v", r)
}
