package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/vincentbai/formshot-agent/internal/snapshot"
)

// promptConfirmer asks on the terminal whether to restore a shot into a form
// with a different number of fields. Without a terminal it answers fallback.
type promptConfirmer struct {
	in          io.Reader
	out         io.Writer
	interactive bool
	fallback    bool
}

func newPromptConfirmer(in io.Reader, out io.Writer, fallback bool) *promptConfirmer {
	interactive := false
	if f, ok := in.(*os.File); ok {
		interactive = term.IsTerminal(int(f.Fd()))
	}
	return &promptConfirmer{in: in, out: out, interactive: interactive, fallback: fallback}
}

func (p *promptConfirmer) Confirm(_ context.Context, saved, live int) (bool, error) {
	if !p.interactive {
		return p.fallback, nil
	}
	fmt.Fprintf(p.out, "The shot has %d fields, the form has %d.\ncontinue even if this is not the same form? [y/N] ", saved, live)
	line, err := bufio.NewReader(p.in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

var _ snapshot.Confirmer = (*promptConfirmer)(nil)
