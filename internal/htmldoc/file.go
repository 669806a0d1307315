package htmldoc

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vincentbai/formshot-agent/internal/form"
)

// File is a Document backed by an HTML file on disk. Fields re-reads the file
// so every capture sees its current content; Commit rewrites it in place.
type File struct {
	Path string
	doc  *Document
}

func NewFile(path string) *File {
	return &File{Path: path}
}

func (f *File) URL() string {
	abs, err := filepath.Abs(f.Path)
	if err != nil {
		abs = f.Path
	}
	return "file://" + filepath.ToSlash(abs)
}

func (f *File) Fields(ctx context.Context) ([]*form.Field, error) {
	r, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("htmldoc: open: %w", err)
	}
	defer r.Close()

	doc, err := Parse(r)
	if err != nil {
		return nil, err
	}
	f.doc = doc
	return doc.Fields(ctx)
}

func (f *File) Commit(ctx context.Context, fields []*form.Field) error {
	if f.doc == nil {
		return fmt.Errorf("htmldoc: commit before fields were read")
	}
	if err := f.doc.Commit(ctx, fields); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := f.doc.Render(&buf); err != nil {
		return fmt.Errorf("htmldoc: render: %w", err)
	}
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("htmldoc: write: %w", err)
	}
	if err := os.Rename(tmp, f.Path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("htmldoc: write: %w", err)
	}
	return nil
}
