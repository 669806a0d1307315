// Package snapshot captures the visible fields of a document into an ordered
// list of records and re-applies such a list to a live document whose fields
// may have moved, appeared or disappeared since.
//
// Restore matches records to fields in two passes. The positional pass pairs
// record i with visible field i over the common prefix. The identity pass then
// looks every record carrying an id or name up again, independent of position,
// and re-applies its value to the first matching field; it runs last and wins.
package snapshot

import (
	"context"
	"errors"
	"fmt"

	"github.com/vincentbai/formshot-agent/internal/form"
)

var (
	// ErrNoTarget means there is no document context to act on.
	ErrNoTarget = errors.New("snapshot: no target document")
	// ErrLengthMismatch is what a Confirmer is asked about.
	ErrLengthMismatch = errors.New("snapshot: saved and live field counts differ")
	// ErrDeclined means the mismatch was not confirmed; nothing was changed.
	ErrDeclined = errors.New("snapshot: restore declined")
)

// Document is a view over the interactive elements of one page.
type Document interface {
	// Fields returns every input, select and textarea in document order,
	// hidden ones included.
	Fields(ctx context.Context) ([]*form.Field, error)
	// Commit writes the given fields back to their elements.
	Commit(ctx context.Context, fields []*form.Field) error
}

// Confirmer decides whether a restore goes ahead when the saved and live field
// counts differ. It is called before any field is touched.
type Confirmer interface {
	Confirm(ctx context.Context, saved, live int) (bool, error)
}

type ConfirmFunc func(ctx context.Context, saved, live int) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, saved, live int) (bool, error) {
	return f(ctx, saved, live)
}

var (
	AlwaysConfirm Confirmer = ConfirmFunc(func(context.Context, int, int) (bool, error) { return true, nil })
	NeverConfirm  Confirmer = ConfirmFunc(func(context.Context, int, int) (bool, error) { return false, nil })
)

// Result describes what a restore did.
type Result struct {
	Saved      int  `json:"saved"`
	Live       int  `json:"live"`
	Mismatch   bool `json:"mismatch"`
	Positional int  `json:"positional"` // values applied by index
	Identity   int  `json:"identity"`   // values applied by id/name lookup
	Unmatched  int  `json:"unmatched"`  // records past the end of the live fields
	Untouched  int  `json:"untouched"`  // live fields past the end of the snapshot
	Dropped    int  `json:"dropped"`    // identity lookups that found nothing
	// Failures holds one error per record and pass whose value could not be
	// decoded. Restore skips such records and carries on with the rest.
	Failures []error `json:"-"`

	touched []*form.Field
}

func (r *Result) Err() error {
	return errors.Join(r.Failures...)
}

func (r *Result) touch(f *form.Field) {
	for _, t := range r.touched {
		if t == f {
			return
		}
	}
	r.touched = append(r.touched, f)
}

// CaptureFields builds a snapshot from the visible subset of fields. Every
// visible field yields a record, even one with nothing to store, so positions
// stay aligned.
func CaptureFields(fields []*form.Field) Snapshot {
	visible := form.Visible(fields)
	s := make(Snapshot, 0, len(visible))
	for _, f := range visible {
		s = append(s, Record{
			ID:    present(f.ID),
			Name:  present(f.Name),
			Value: present(form.Encode(f)),
		})
	}
	return s
}

func Capture(ctx context.Context, doc Document) (Snapshot, error) {
	if doc == nil {
		return nil, ErrNoTarget
	}
	fields, err := doc.Fields(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: read fields: %w", err)
	}
	return CaptureFields(fields), nil
}

// RestoreFields applies s to the visible subset of fields in place. When the
// counts differ and c declines, it returns ErrDeclined without changing anything.
func RestoreFields(ctx context.Context, s Snapshot, fields []*form.Field, c Confirmer) (*Result, error) {
	live := form.Visible(fields)
	res := &Result{Saved: len(s), Live: len(live)}

	if len(s) != len(live) {
		res.Mismatch = true
		if c == nil {
			c = NeverConfirm
		}
		ok, err := c.Confirm(ctx, len(s), len(live))
		if err != nil {
			return res, fmt.Errorf("snapshot: confirm: %w", err)
		}
		if !ok {
			return res, ErrDeclined
		}
	}

	n := min(len(s), len(live))
	res.Unmatched = len(s) - n
	res.Untouched = len(live) - n

	for i := 0; i < n; i++ {
		r := s[i]
		if r.Value == nil {
			continue
		}
		if err := form.Apply(live[i], *r.Value); err != nil {
			res.Failures = append(res.Failures, fmt.Errorf("record %d: %w", i, err))
			continue
		}
		res.Positional++
		res.touch(live[i])
	}

	for i, r := range s {
		if r.Value == nil || (r.ID == nil && r.Name == nil) {
			continue
		}
		var partner *form.Field
		if i < n {
			partner = live[i]
		}
		f := lookup(live, r, partner)
		if f == nil {
			res.Dropped++
			continue
		}
		if err := form.Apply(f, *r.Value); err != nil {
			res.Failures = append(res.Failures, fmt.Errorf("record %d: %w", i, err))
			continue
		}
		res.Identity++
		res.touch(f)
	}

	return res, nil
}

// Restore reads the document's fields, applies s and commits the fields that
// were written to. A declined restore never reaches Commit.
func Restore(ctx context.Context, doc Document, s Snapshot, c Confirmer) (*Result, error) {
	if doc == nil {
		return nil, ErrNoTarget
	}
	fields, err := doc.Fields(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: read fields: %w", err)
	}
	res, err := RestoreFields(ctx, s, fields, c)
	if err != nil {
		return res, err
	}
	if len(res.touched) == 0 {
		return res, nil
	}
	if err := doc.Commit(ctx, res.touched); err != nil {
		return res, fmt.Errorf("snapshot: commit: %w", err)
	}
	return res, nil
}
