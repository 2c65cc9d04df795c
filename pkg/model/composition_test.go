package model

import (
	stderrors "errors"
	"testing"

	"github.com/linq2js/remos/pkg/errors"
)

func TestInheritanceOverride(t *testing.T) {
	base := Definition{
		"a": 1,
		"m": func(m *Instance) int { return 1 },
	}
	derived := Definition{"a": 2}

	m := MustNew(base, derived)

	if got := m.Get("a"); got != 2 {
		t.Errorf("Get(a) = %v, want 2 (derived overrides base)", got)
	}
	if got := m.Call("m"); got != 1 {
		t.Errorf("Call(m) = %v, want 1 (inherited method survives)", got)
	}
}

func TestInheritanceOverridesHooks(t *testing.T) {
	baseRan, derivedRan := false, false
	base := Definition{
		"x":         0,
		"onXChange": func(m *Instance) { baseRan = true },
	}
	derived := Definition{
		"onXChange": func(m *Instance) { derivedRan = true },
	}

	m := MustNew(base, derived)
	m.Update("x", 1)

	if baseRan {
		t.Error("base hook ran despite being overridden")
	}
	if !derivedRan {
		t.Error("derived hook should run")
	}
}

func TestInheritanceIsCaseInsensitive(t *testing.T) {
	base := Definition{"Name": "base"}
	derived := Definition{"name": "derived"}

	m := MustNew(base, derived)

	if got := m.Get("name"); got != "derived" {
		t.Errorf("Get(name) = %v, want derived", got)
	}
	if got := m.Get("Name"); got != "derived" {
		t.Errorf("Get(Name) = %v, want derived", got)
	}
}

func TestAmbiguousCasingWithinOneDefinition(t *testing.T) {
	_, err := New(Definition{"Name": 1, "name": 2})
	var conflict *errors.CompositionError
	if !stderrors.As(err, &conflict) {
		t.Fatalf("err = %v, want *errors.CompositionError", err)
	}
}

func TestMalformedHookSignatureIsConflict(t *testing.T) {
	_, err := New(Definition{
		"x":    0,
		"getX": func(m *Instance) int { return 1 }, // must be func(*Instance) any
	})
	var conflict *errors.CompositionError
	if !stderrors.As(err, &conflict) {
		t.Fatalf("err = %v, want *errors.CompositionError", err)
	}
}

func TestMethodWithoutInstanceReceiverIsConflict(t *testing.T) {
	_, err := New(Definition{
		"work": func() {},
	})
	var conflict *errors.CompositionError
	if !stderrors.As(err, &conflict) {
		t.Fatalf("err = %v, want *errors.CompositionError", err)
	}
}

func TestNestedModelWithSetterIsConflict(t *testing.T) {
	_, err := New(Definition{
		"profile":    Definition{"age": 1},
		"setProfile": func(m *Instance, v any) {},
	})
	var conflict *errors.CompositionError
	if !stderrors.As(err, &conflict) {
		t.Fatalf("err = %v, want *errors.CompositionError", err)
	}
}

func TestMustNewPanicsOnConflict(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustNew should panic on a composition conflict")
		}
	}()
	MustNew(Definition{"work": func() {}})
}

func TestNestedDefinitionBecomesInstance(t *testing.T) {
	m := MustNew(Definition{
		"profile": Definition{"age": 30},
	})

	child, ok := m.Get("profile").(*Instance)
	if !ok {
		t.Fatalf("Get(profile) = %T, want *Instance", m.Get("profile"))
	}
	if got := child.Get("age"); got != 30 {
		t.Errorf("child.Get(age) = %v, want 30", got)
	}
}

func TestNestedChangesPropagateToOwner(t *testing.T) {
	m := MustNew(Definition{
		"profile": Definition{"age": 30},
	})

	fires := 0
	sub := Subscribe(m, nil, nil, func() { fires++ })
	defer sub.Unsubscribe()

	child := m.Get("profile").(*Instance)
	child.Update("age", 31)

	if fires != 1 {
		t.Errorf("owner subscription fired %d times for nested change, want 1", fires)
	}
}

func TestNestedChangesDoNotRunOwnerHooks(t *testing.T) {
	ownerChanges := 0
	m := MustNew(Definition{
		"profile":  Definition{"age": 30},
		"onChange": func(m *Instance) { ownerChanges++ },
	})

	child := m.Get("profile").(*Instance)
	child.Update("age", 31)

	if ownerChanges != 0 {
		t.Errorf("owner onChange ran %d times for nested change, want 0", ownerChanges)
	}
}

func TestInjectionRebindsPropagation(t *testing.T) {
	m := MustNew(Definition{
		"profile": Definition{"age": 1},
	})

	old := m.Get("profile").(*Instance)
	replacement := MustNew(Definition{"age": 2})

	fires := 0
	sub := Subscribe(m, nil, nil, func() { fires++ })
	defer sub.Unsubscribe()

	m.Update("profile", replacement)
	if fires != 1 {
		t.Errorf("fired %d times for the injection itself, want 1", fires)
	}

	// The replaced instance no longer reaches the owner.
	old.Update("age", 99)
	if fires != 1 {
		t.Errorf("fired %d times after a stale instance change, want 1", fires)
	}

	// The injected instance does.
	replacement.Update("age", 3)
	if fires != 2 {
		t.Errorf("fired %d times after an injected instance change, want 2", fires)
	}
}

func TestExistingInstanceAsNestedProperty(t *testing.T) {
	shared := MustNew(Definition{"theme": "dark"})
	m := MustNew(Definition{"settings": shared})

	if m.Get("settings") != shared {
		t.Error("nested property should retain the provided instance identity")
	}

	fires := 0
	sub := Subscribe(m, nil, nil, func() { fires++ })
	defer sub.Unsubscribe()

	shared.Update("theme", "light")
	if fires != 1 {
		t.Errorf("owner fired %d times for shared instance change, want 1", fires)
	}
}

func TestDeleteNestedStopsPropagation(t *testing.T) {
	m := MustNew(Definition{
		"profile": Definition{"age": 1},
	})
	child := m.Get("profile").(*Instance)

	fires := 0
	sub := Subscribe(m, nil, nil, func() { fires++ })
	defer sub.Unsubscribe()

	m.Delete("profile")
	if fires != 1 {
		t.Errorf("fired %d times for Delete, want 1", fires)
	}

	child.Update("age", 2)
	if fires != 1 {
		t.Errorf("fired %d times after detached child change, want 1", fires)
	}
}
