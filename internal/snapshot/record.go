package snapshot

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"
)

// Record is the captured state of one field. A nil pointer means the datum was
// absent or empty at capture time; it is omitted from JSON, never written as null.
type Record struct {
	ID    *string `json:"id,omitempty"`
	Name  *string `json:"name,omitempty"`
	Value *string `json:"value,omitempty"`
}

// Snapshot is the ordered list of records of one form, in document order.
type Snapshot []Record

// present maps the empty string to absent.
func present(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r Record) String() string {
	var b strings.Builder
	b.WriteByte('{')
	sep := ""
	for _, kv := range []struct {
		k string
		v *string
	}{{"id", r.ID}, {"name", r.Name}, {"value", r.Value}} {
		if kv.v != nil {
			b.WriteString(sep + kv.k + ":" + strconv.Quote(*kv.v))
			sep = " "
		}
	}
	b.WriteByte('}')
	return b.String()
}

// Marshal encodes a snapshot in the wire/storage format: a JSON array of
// objects holding only the present keys.
func Marshal(s Snapshot) ([]byte, error) {
	if s == nil {
		s = Snapshot{}
	}
	return json.Marshal(s)
}

func Unmarshal(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("snapshot: decode: %w", err)
	}
	if s == nil {
		return nil, fmt.Errorf("snapshot: decode: not an array")
	}
	return s, nil
}

// Signature hashes the identity tokens of a snapshot in order. Two captures of
// the same form layout share a signature whatever their values are.
func Signature(s Snapshot) string {
	var b strings.Builder
	for _, r := range s {
		if r.ID != nil {
			b.WriteString(*r.ID)
		}
		b.WriteByte(0)
		if r.Name != nil {
			b.WriteString(*r.Name)
		}
		b.WriteByte(0x1f)
	}
	return fmt.Sprintf("%016x", xxh3.HashString(b.String()))
}
