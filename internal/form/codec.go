package form

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	checkedValue   = "t"
	uncheckedValue = "f"
)

var ErrDecode = errors.New("form: cannot decode value")

type DecodeError struct {
	Field *Field
	Value string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("form: decode %s field (id=%q name=%q): %v", e.Field.Kind(), e.Field.ID, e.Field.Name, e.Err)
}

func (e *DecodeError) Unwrap() []error {
	return []error{ErrDecode, e.Err}
}

// Encode returns the stored representation of the field's current state.
func Encode(f *Field) string {
	switch f.Kind() {
	case KindCheckbox, KindRadio:
		if f.Checked {
			return checkedValue
		}
		return uncheckedValue
	case KindSelect:
		values := make([]string, 0, len(f.Options))
		for _, o := range f.Options {
			if o.Selected {
				values = append(values, o.Value)
			}
		}
		data, _ := json.Marshal(values)
		return string(data)
	}
	return f.Value
}

// Apply decodes value and sets it on the field. Select values only ever add
// selections; options missing from the stored list keep their state. On a
// decode error the field is left untouched.
func Apply(f *Field, value string) error {
	switch f.Kind() {
	case KindCheckbox, KindRadio:
		f.Checked = value == checkedValue
		return nil
	case KindSelect:
		var values []string
		if err := json.Unmarshal([]byte(value), &values); err != nil {
			return &DecodeError{Field: f, Value: value, Err: err}
		}
		wanted := make(map[string]struct{}, len(values))
		for _, v := range values {
			wanted[v] = struct{}{}
		}
		for i := range f.Options {
			if _, ok := wanted[f.Options[i].Value]; ok {
				selectOption(f, i)
			}
		}
		return nil
	}
	f.Value = value
	return nil
}

// selectOption marks option i selected. A single-choice select keeps at most
// one selection, the same way a browser does when option.selected is set.
func selectOption(f *Field, i int) {
	if !f.Multiple {
		for j := range f.Options {
			f.Options[j].Selected = false
		}
	}
	f.Options[i].Selected = true
}
