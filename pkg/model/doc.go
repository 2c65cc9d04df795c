// Package model provides the reactive model engine: plain definitions of
// data and behavior are turned into live, observable instances whose
// property reads and writes are intercepted so that dependent computations,
// validations, and external listeners stay consistent automatically.
//
// # Definitions and Instances
//
// A Definition maps property names to initial values or functions. Functions
// whose names match a reserved convention become hooks; every other function
// becomes an instance method:
//
//	counter, _ := model.New(model.Definition{
//	    "count": 0,
//	    "increase": func(m *model.Instance) {
//	        m.Update("count", m.Get("count").(int)+1)
//	    },
//	})
//	counter.Call("increase")
//
// # Hook Naming Convention
//
// Property-name matching is case-insensitive:
//
//	onInit            runs once, on the first external access
//	onChange          runs after every change batch
//	on<Prop>Change    runs after changes to <Prop>
//	val<Prop>         validates <Prop> after each committed write
//	valAll            validates the whole model after per-property validators
//	get<Prop>         computed getter; shadows the raw store
//	set<Prop>         custom setter; without one, <Prop> is read-only from
//	                  outside method bodies (Set is a silent no-op)
//
// # Reads, Writes, and Notification
//
// Instance.Get routes through the computed getter (and the memo cache, if
// the getter memoizes) before falling back to the raw store. Instance.Set is
// the external write path and only works through a custom setter. Method and
// hook bodies mutate state with Instance.Update, which commits the value,
// runs validators and change hooks in a fixed order, and then evaluates
// subscriptions. All writes made during one external call are coalesced so
// each subscription fires at most once per call.
//
// Subscriptions pair a selector with an equality strategy:
//
//	sub := model.Subscribe(counter, func(m *model.Instance) any {
//	    return m.Get("count")
//	}, model.Strict, func() {
//	    // react to count changes
//	})
//	defer sub.Unsubscribe()
//
// # Composition
//
// Definitions compose by inheritance (model.New(base, override)), nesting
// (a property whose initial value is a Definition or *Instance), runtime
// injection (Update with a new *Instance rebinds change propagation), and
// families (NewFamily caches one instance per derived key).
//
// # Concurrency
//
// The engine assumes a single logical thread of mutation and takes no locks
// in the mutation path. It is NOT safe to mutate instances from multiple
// goroutines; serialize access through your host event loop.
package model
