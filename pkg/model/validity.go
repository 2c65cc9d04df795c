package model

import "strings"

// Validity is the recorded outcome of validation for one property, or for
// the model as a whole. Both invalid payload shapes the engine accepts are
// representable: a validator that returned false yields {Valid: false,
// Err: nil} (the boolean payload), while a returned error, a recovered
// panic, or an explicit SetInvalid with an error yields a non-nil Err.
type Validity struct {
	Valid bool
	Err   error
}

// Validity returns the recorded validity of a property. Properties that
// have never been validated or marked are valid.
func (m *Instance) Validity(name string) Validity {
	m.ensureInit()
	if v, ok := m.validity[strings.ToLower(name)]; ok {
		return v
	}
	return Validity{Valid: true}
}

// Valid reports whether a property is currently valid.
func (m *Instance) Valid(name string) bool {
	return m.Validity(name).Valid
}

// AllValid reports aggregate validity: every per-property record and the
// whole-model record must be valid.
func (m *Instance) AllValid() bool {
	m.ensureInit()
	if !m.aggregate.Valid {
		return false
	}
	for _, v := range m.validity {
		if !v.Valid {
			return false
		}
	}
	return true
}

// SetInvalid is the invalidity-setter primitive available to validators and
// methods. The reason is a boolean or an error: true marks the property
// invalid with the boolean payload, an error marks it invalid with that
// error, and false (or nil) marks it valid again. An empty name targets the
// whole-model record. Validity changes notify subscriptions like any other
// observable change.
func (m *Instance) SetInvalid(name string, reason any) {
	m.ensureInit()
	var v Validity
	switch r := reason.(type) {
	case nil:
		v = Validity{Valid: true}
	case bool:
		v = Validity{Valid: !r}
	case error:
		v = Validity{Err: r}
	default:
		v = Validity{Err: toError(r)}
	}
	if m.validatorRunning {
		m.validityExplicit = true
	}
	m.setValidity(strings.ToLower(name), v)
}

// setValidity records a validity outcome keyed by lower-cased property name
// (empty for the whole-model record) and schedules notification when the
// record actually changed.
func (m *Instance) setValidity(prop string, v Validity) {
	cur := Validity{Valid: true}
	if prop == "" {
		cur = m.aggregate
	} else if known, ok := m.validity[prop]; ok {
		cur = known
	}
	if cur.Valid == v.Valid && cur.Err == v.Err {
		return
	}
	if prop == "" {
		m.aggregate = v
	} else {
		m.validity[prop] = v
	}
	m.version++
	m.notifyPending = true
	if m.batchDepth == 0 && !m.flushing {
		m.begin()
		m.end()
	}
}
