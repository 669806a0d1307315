package browser

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-rod/rod"

	"github.com/vincentbai/formshot-agent/internal/form"
)

const readFieldsJS = `() => Array.from(document.querySelectorAll('input, select, textarea')).map((el, index) => {
	const tag = el.tagName.toLowerCase();
	const style = getComputedStyle(el);
	return {
		index,
		tag,
		type: (el.type || '').toLowerCase(),
		id: el.id || '',
		name: el.getAttribute('name') || '',
		value: tag === 'select' ? '' : (el.value || ''),
		checked: !!el.checked,
		multiple: !!el.multiple,
		options: tag === 'select' ? Array.from(el.options).map(o => ({ value: o.value, selected: o.selected })) : null,
		hidden: el.hasAttribute('hidden'),
		display: style.display,
		opacity: style.opacity,
	};
})`

const writeFieldsJS = `(updates) => {
	const els = document.querySelectorAll('input, select, textarea');
	let written = 0;
	for (const u of updates) {
		const el = els[u.index];
		if (!el || el.tagName.toLowerCase() !== u.tag) continue;
		if (u.tag === 'select') {
			u.options.forEach((o, i) => { if (el.options[i]) el.options[i].selected = o.selected; });
		} else if (u.checkable) {
			el.checked = u.checked;
		} else {
			el.value = u.value;
		}
		written++;
	}
	return written;
}`

// Page is a snapshot.Document over a live tab.
type Page struct {
	page *rod.Page
}

func newPage(p *rod.Page) *Page {
	return &Page{page: p}
}

func (p *Page) URL() string {
	info, err := p.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (p *Page) Close() error {
	return p.page.Close()
}

func (p *Page) Fields(ctx context.Context) ([]*form.Field, error) {
	res, err := p.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:      readFieldsJS,
		ByValue: true,
	})
	if err != nil {
		return nil, fmt.Errorf("browser: read fields: %w", err)
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return decodeFields(raw)
}

func (p *Page) Commit(ctx context.Context, fields []*form.Field) error {
	updates := encodeUpdates(fields)
	res, err := p.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:      writeFieldsJS,
		JSArgs:  []interface{}{updates},
		ByValue: true,
	})
	if err != nil {
		return fmt.Errorf("browser: write fields: %w", err)
	}
	if n := res.Value.Int(); n != len(updates) {
		return fmt.Errorf("browser: wrote %d of %d fields, page changed underneath", n, len(updates))
	}
	return nil
}

func decodeFields(raw []byte) ([]*form.Field, error) {
	var fields []*form.Field
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("browser: decode fields: %w", err)
	}
	return fields, nil
}

type fieldUpdate struct {
	Index     int           `json:"index"`
	Tag       string        `json:"tag"`
	Checkable bool          `json:"checkable"`
	Checked   bool          `json:"checked"`
	Value     string        `json:"value"`
	Options   []form.Option `json:"options"`
}

func encodeUpdates(fields []*form.Field) []fieldUpdate {
	out := make([]fieldUpdate, 0, len(fields))
	for _, f := range fields {
		k := f.Kind()
		opts := f.Options
		if k == form.KindSelect && opts == nil {
			opts = []form.Option{}
		}
		out = append(out, fieldUpdate{
			Index:     f.Index,
			Tag:       f.Tag,
			Checkable: k == form.KindCheckbox || k == form.KindRadio,
			Checked:   f.Checked,
			Value:     f.Value,
			Options:   opts,
		})
	}
	return out
}
