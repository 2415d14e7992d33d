// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CommGuard Contributors

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// prompter reads secrets without echo on a terminal, or one line at a time
// from piped input.
type prompter struct {
	out io.Writer
	in  *bufio.Reader
	fd  int
	tty bool
}

func newPrompter(cmd *cobra.Command) *prompter {
	p := &prompter{out: cmd.ErrOrStderr()}
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) { //nolint:gosec // fd fits in int
		p.tty = true
		p.fd = int(f.Fd()) //nolint:gosec // fd fits in int
		return p
	}
	p.in = bufio.NewReader(cmd.InOrStdin())
	return p
}

// secret reads one value. label is shown only on a terminal.
func (p *prompter) secret(label string) (string, error) {
	if p.tty {
		fmt.Fprintf(p.out, "%s: ", label)
		b, err := term.ReadPassword(p.fd)
		fmt.Fprintln(p.out)
		if err != nil {
			return "", oops.Code("INPUT_FAILED").With("prompt", label).Wrap(err)
		}
		return string(b), nil
	}

	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", oops.Code("INPUT_FAILED").With("prompt", label).Wrapf(err, "expected %s on stdin", strings.ToLower(label))
	}
	return strings.TrimRight(line, "\r\n"), nil
}
