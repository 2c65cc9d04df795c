package model

import (
	"errors"
	"reflect"
	"testing"
)

func TestHookOrdering(t *testing.T) {
	var order []string
	record := func(step string) { order = append(order, step) }

	m := MustNew(Definition{
		"x": 0,
		"valX": func(m *Instance) bool {
			record("valX")
			return true
		},
		"valAll": func(m *Instance) bool {
			record("valAll")
			return true
		},
		"onXChange": func(m *Instance) {
			record("onXChange")
		},
		"onChange": func(m *Instance) {
			record("onChange")
		},
	})

	sub := Subscribe(m, nil, nil, func() { record("notify") })
	defer sub.Unsubscribe()

	order = nil
	m.Update("x", 1)

	want := []string{"valX", "valAll", "onXChange", "onChange", "notify"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("hook order = %v, want %v", order, want)
	}
}

func TestValidatorScenario(t *testing.T) {
	changes := 0
	m := MustNew(Definition{
		"firstName": "",
		"valFirstName": func(m *Instance) bool {
			return len(m.Get("firstName").(string)) > 0
		},
		"onFirstNameChange": func(m *Instance) {
			changes++
		},
	})

	m.Update("firstName", "Bill")
	if !m.Valid("firstName") {
		t.Error("firstName should be valid after setting Bill")
	}
	if changes != 1 {
		t.Errorf("onFirstNameChange fired %d times, want 1", changes)
	}

	m.Update("firstName", "")
	if m.Valid("firstName") {
		t.Error("firstName should be invalid after setting empty string")
	}
	v := m.Validity("firstName")
	if v.Err != nil {
		t.Errorf("boolean invalid should carry no error payload, got %v", v.Err)
	}
}

func TestValidatorErrorPayload(t *testing.T) {
	errEmpty := errors.New("must not be empty")
	m := MustNew(Definition{
		"name": "x",
		"valName": func(m *Instance) error {
			if m.Get("name").(string) == "" {
				return errEmpty
			}
			return nil
		},
	})

	m.Update("name", "")

	v := m.Validity("name")
	if v.Valid {
		t.Error("name should be invalid")
	}
	if v.Err != errEmpty {
		t.Errorf("validity error = %v, want %v", v.Err, errEmpty)
	}

	m.Update("name", "ok")
	if !m.Valid("name") {
		t.Error("name should be valid again")
	}
}

func TestValidatorPanicIsCapturedNotPropagated(t *testing.T) {
	silenceReports(t)
	m := MustNew(Definition{
		"age": 1,
		"valAge": func(m *Instance) bool {
			if m.Get("age").(int) < 0 {
				panic("negative age")
			}
			return true
		},
	})

	// Must not panic through the mutation call.
	m.Update("age", -1)

	v := m.Validity("age")
	if v.Valid {
		t.Error("age should be invalid after validator panic")
	}
	if v.Err == nil {
		t.Error("panic payload should be recorded as the validity error")
	}
	if got := m.Get("age"); got != -1 {
		t.Errorf("Get(age) = %v, want -1 (validators never block the committed write)", got)
	}
}

func TestValidatorSetInvalidWinsOverReturn(t *testing.T) {
	marked := errors.New("too short")
	m := MustNew(Definition{
		"code": "abcd",
		"valCode": func(m *Instance) bool {
			if len(m.Get("code").(string)) < 3 {
				m.SetInvalid("code", marked)
			}
			return true
		},
	})

	m.Update("code", "ab")

	v := m.Validity("code")
	if v.Valid {
		t.Error("code should be invalid via SetInvalid")
	}
	if v.Err != marked {
		t.Errorf("validity error = %v, want %v", v.Err, marked)
	}
}

func TestSetInvalidOutsideValidator(t *testing.T) {
	m := MustNew(Definition{"name": ""})

	fires := 0
	sub := Subscribe(m, nil, nil, func() { fires++ })
	defer sub.Unsubscribe()

	m.SetInvalid("name", true)
	if m.Valid("name") {
		t.Error("name should be invalid")
	}
	if fires != 1 {
		t.Errorf("subscription fired %d times for a validity change, want 1", fires)
	}

	m.SetInvalid("name", false)
	if !m.Valid("name") {
		t.Error("name should be valid again")
	}
}

func TestValAllUpdatesAggregateValidity(t *testing.T) {
	m := MustNew(Definition{
		"a": 1,
		"b": 1,
		"valAll": func(m *Instance) bool {
			return m.Get("a").(int)+m.Get("b").(int) <= 10
		},
	})

	if !m.AllValid() {
		t.Error("model should start valid")
	}

	m.Update("a", 20)
	if m.AllValid() {
		t.Error("model should be invalid after valAll rejects")
	}
	if got := m.Get("a"); got != 20 {
		t.Errorf("Get(a) = %v, want 20 (valAll never blocks the write)", got)
	}

	m.Update("a", 2)
	if !m.AllValid() {
		t.Error("model should be valid again")
	}
}

func TestHookPanicDoesNotBlockOthers(t *testing.T) {
	silenceReports(t)
	ran := false
	m := MustNew(Definition{
		"x": 0,
		"onXChange": func(m *Instance) {
			panic("hook failure")
		},
		"onChange": func(m *Instance) {
			ran = true
		},
	})

	fires := 0
	sub := Subscribe(m, nil, nil, func() { fires++ })
	defer sub.Unsubscribe()

	m.Update("x", 1)

	if !ran {
		t.Error("onChange should run despite onXChange panicking")
	}
	if fires != 1 {
		t.Errorf("subscription fired %d times, want 1", fires)
	}
	if m.Validity("x").Err == nil {
		t.Error("hook panic should be attached to the property's validity error")
	}
}

func TestComputedGetterShadowsStore(t *testing.T) {
	m := MustNew(Definition{
		"celsius": 100,
		"getFahrenheit": func(m *Instance) any {
			return m.Get("celsius").(int)*9/5 + 32
		},
	})

	if got := m.Get("fahrenheit"); got != 212 {
		t.Errorf("Get(fahrenheit) = %v, want 212", got)
	}
	if !m.Has("fahrenheit") {
		t.Error("Has(fahrenheit) = false, want true for computed property")
	}
}

func TestGetterPanicReturnsNil(t *testing.T) {
	silenceReports(t)
	m := MustNew(Definition{
		"getBroken": func(m *Instance) any {
			panic("boom")
		},
	})

	if got := m.Get("broken"); got != nil {
		t.Errorf("Get(broken) = %v, want nil after getter panic", got)
	}
	if m.Validity("broken").Err == nil {
		t.Error("getter panic should be recorded in the validity error slot")
	}
}

func TestHookWritesJoinTheSameBatch(t *testing.T) {
	m := MustNew(Definition{
		"count":  0,
		"double": 0,
		"onCountChange": func(m *Instance) {
			m.Update("double", m.Get("count").(int)*2)
		},
	})

	fires := 0
	sub := Subscribe(m, nil, nil, func() { fires++ })
	defer sub.Unsubscribe()

	m.Update("count", 3)

	if got := m.Get("double"); got != 6 {
		t.Errorf("Get(double) = %v, want 6", got)
	}
	if fires != 1 {
		t.Errorf("subscription fired %d times, want 1 (hook writes coalesce)", fires)
	}
}

func TestHookWritesValidateBeforeFinalAggregate(t *testing.T) {
	var order []string
	record := func(step string) { order = append(order, step) }

	m := MustNew(Definition{
		"x": 0,
		"y": 0,
		"valY": func(m *Instance) bool {
			record("valY")
			return m.Get("y").(int) < 10
		},
		"valAll": func(m *Instance) bool {
			record("valAll")
			return true
		},
		"onXChange": func(m *Instance) {
			record("onXChange")
			m.Update("y", 20)
		},
	})

	m.Update("x", 1)

	// The change hook grew the batch, so its write is validated and the
	// aggregate validator runs once more over the final property list.
	want := []string{"valAll", "onXChange", "valY", "valAll"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
	if m.Valid("y") {
		t.Error("y should be invalid after the change hook wrote 20")
	}
}
