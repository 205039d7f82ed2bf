package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/artpar/botctl/internal/core/domain"
	"golang.org/x/term"
)

// Prompter asks the operator for missing values. Questions go to out
// (stderr), answers are read line by line from in.
type Prompter struct {
	in          *bufio.Reader
	out         io.Writer
	fd          int  // terminal descriptor of in, -1 when in is not a terminal
	interactive bool // optional values are only asked for on a terminal
}

// NewPrompter creates a prompter reading from in. When in is a terminal,
// secrets are read without echo.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	p := &Prompter{in: bufio.NewReader(in), out: out, fd: -1}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.fd = int(f.Fd())
		p.interactive = true
	}
	return p
}

// Interactive reports whether the operator is at a terminal.
func (p *Prompter) Interactive() bool {
	return p.interactive
}

// Ask prints label and returns the trimmed answer, or def when the answer is empty.
// End of input yields def.
func (p *Prompter) Ask(label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}
	line, err := p.readLine()
	if err != nil {
		return "", err
	}
	if line == "" {
		return def, nil
	}
	return line, nil
}

// Secret reads a value without echoing it when in is a terminal.
func (p *Prompter) Secret(label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)
	if p.fd < 0 {
		return p.readLine()
	}
	b, err := term.ReadPassword(p.fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", strings.ToLower(label), err)
	}
	return strings.TrimSpace(string(b)), nil
}

// Choose lists options and returns the one picked by number or by name.
func (p *Prompter) Choose(label string, options []string) (string, error) {
	if len(options) == 0 {
		return "", fmt.Errorf("%w: no instances installed", domain.ErrNotFound)
	}
	for i, o := range options {
		fmt.Fprintf(p.out, "  %d) %s\n", i+1, o)
	}
	answer, err := p.Ask(label, "")
	if err != nil {
		return "", err
	}
	if answer == "" {
		return "", fmt.Errorf("%w: no instance selected", domain.ErrInput)
	}
	if n, err := strconv.Atoi(answer); err == nil {
		if n < 1 || n > len(options) {
			return "", fmt.Errorf("%w: choice %d is out of range 1-%d", domain.ErrInput, n, len(options))
		}
		return options[n-1], nil
	}
	return answer, nil
}

func (p *Prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read answer: %w", err)
	}
	return strings.TrimSpace(line), nil
}
