package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/doeshing/shai-remote/internal/domain"
)

// ErrNotInteractive is returned when a secret is needed but stdin is not a terminal.
var ErrNotInteractive = errors.New("stdin is not a terminal")

// Prompter reads REPL lines, confirmations and passwords from stdin.
type Prompter struct {
	in     *bufio.Reader
	out    io.Writer
	secret func() ([]byte, error)
}

// NewPrompter constructs a prompter referencing stdio. Passwords are read
// without echo when in is a terminal.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	p := &Prompter{in: bufio.NewReader(in), out: out}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd := int(f.Fd())
		p.secret = func() ([]byte, error) { return term.ReadPassword(fd) }
	}
	return p
}

// ReadLine prints prompt and returns the next line without its newline.
// io.EOF is returned once input is exhausted.
func (p *Prompter) ReadLine(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Confirm asks whether to run a suggestion. High and critical risk require
// typing "yes"; everything else takes y/N.
func (p *Prompter) Confirm(pending domain.PendingSuggestion) (bool, error) {
	if pending.Suggestion.Risk.Level.Severity() >= domain.RiskHigh.Severity() {
		line, err := p.ReadLine("Type 'yes' to run it (anything else cancels): ")
		if err != nil {
			return false, err
		}
		return strings.TrimSpace(line) == "yes", nil
	}
	line, err := p.ReadLine("Run it? [y/N]: ")
	if err != nil {
		return false, err
	}
	line = strings.ToLower(strings.TrimSpace(line))
	return line == "y" || line == "yes", nil
}

// Password reads a secret without echo.
func (p *Prompter) Password(label string) (string, error) {
	if p.secret == nil {
		return "", ErrNotInteractive
	}
	fmt.Fprint(p.out, label)
	raw, err := p.secret()
	fmt.Fprintln(p.out)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
