// Package form models the interactive elements of a page (inputs, selects and
// textareas) and converts their state to and from the string values stored in a
// shot.
package form

import "strings"

type Kind int

const (
	KindText Kind = iota
	KindCheckbox
	KindRadio
	KindSelect
)

func (k Kind) String() string {
	switch k {
	case KindCheckbox:
		return "checkbox"
	case KindRadio:
		return "radio"
	case KindSelect:
		return "select"
	default:
		return "text"
	}
}

type Option struct {
	Value    string `json:"value"`
	Selected bool   `json:"selected"`
}

// Field is the state of one element as read by a document view. Index is the
// element's position among all interactive elements of the document, hidden
// ones included, so a view can write the field back to the same element.
type Field struct {
	Index      int      `json:"index"`
	Tag        string   `json:"tag"`  // input | select | textarea
	Type       string   `json:"type"` // lowercased input type
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Value      string   `json:"value"`
	Checked    bool     `json:"checked"`
	Multiple   bool     `json:"multiple"`
	Options    []Option `json:"options,omitempty"`
	HiddenAttr bool     `json:"hidden"`
	Display    string   `json:"display"`
	Opacity    string   `json:"opacity"`
}

func (f *Field) Kind() Kind {
	if strings.EqualFold(f.Tag, "select") {
		return KindSelect
	}
	switch strings.ToLower(f.Type) {
	case "checkbox":
		return KindCheckbox
	case "radio":
		return KindRadio
	}
	return KindText
}

// Clone returns a deep copy so callers can compare before/after states.
func (f *Field) Clone() *Field {
	c := *f
	if f.Options != nil {
		c.Options = append([]Option(nil), f.Options...)
	}
	return &c
}
