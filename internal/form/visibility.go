package form

import (
	"strconv"
	"strings"
)

const minVisibleOpacity = 0.01

// IsHidden reports whether a field is excluded from capture and restore.
func IsHidden(f *Field) bool {
	return strings.EqualFold(f.Type, "hidden") ||
		f.HiddenAttr ||
		isHiddenStyle(f.Display, f.Opacity)
}

func isHiddenStyle(display, opacity string) bool {
	if strings.EqualFold(strings.TrimSpace(display), "none") {
		return true
	}
	o, err := strconv.ParseFloat(strings.TrimSpace(opacity), 64)
	if err != nil {
		return false
	}
	return o < minVisibleOpacity
}

// Visible filters fields down to the ones a shot can see, keeping order.
func Visible(fields []*Field) []*Field {
	out := make([]*Field, 0, len(fields))
	for _, f := range fields {
		if !IsHidden(f) {
			out = append(out, f)
		}
	}
	return out
}
