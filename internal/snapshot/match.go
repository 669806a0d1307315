package snapshot

import "github.com/vincentbai/formshot-agent/internal/form"

// lookup returns the first live field, in document order, whose identity
// matches r. id and name must both match when present. A radio-kind record
// additionally requires the field's value attribute to equal the stored value.
// The record is radio-kind when its positional partner is a radio; records
// without a partner take the kind of their first id/name match.
func lookup(live []*form.Field, r Record, partner *form.Field) *form.Field {
	radio := false
	if partner != nil {
		radio = partner.Kind() == form.KindRadio
	} else if f := firstMatch(live, r, false); f != nil {
		radio = f.Kind() == form.KindRadio
	}
	return firstMatch(live, r, radio)
}

func firstMatch(live []*form.Field, r Record, withValue bool) *form.Field {
	for _, f := range live {
		if matches(f, r, withValue) {
			return f
		}
	}
	return nil
}

func matches(f *form.Field, r Record, withValue bool) bool {
	if r.ID != nil && f.ID != *r.ID {
		return false
	}
	if r.Name != nil && f.Name != *r.Name {
		return false
	}
	if withValue && (r.Value == nil || f.Value != *r.Value) {
		return false
	}
	return true
}
