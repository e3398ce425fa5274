package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"
)

// MaxSharedCommands caps the command list entered at the prompt.
const MaxSharedCommands = 10

// ErrNoInput is returned when input ends before an answer was given.
var ErrNoInput = errors.New("no input")

// Prompter asks the operator questions before a run starts.
type Prompter struct {
	in        io.Reader
	out       io.Writer
	scanner   *bufio.Scanner
	assumeYes bool
}

// NewPrompter reads answers from in and writes questions to out.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: in, out: out, scanner: bufio.NewScanner(in)}
}

// WithAssumeYes makes Confirm succeed without asking.
func (p *Prompter) WithAssumeYes(yes bool) *Prompter {
	p.assumeYes = yes
	return p
}

// Interactive reports whether answers come from a terminal.
func (p *Prompter) Interactive() bool {
	f, ok := p.in.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

// Confirm asks whether to proceed with count devices. Only "y" or "yes" proceeds.
func (p *Prompter) Confirm(count int) (bool, error) {
	if p.assumeYes {
		return true, nil
	}
	noun := "devices"
	if count == 1 {
		noun = "device"
	}
	fmt.Fprintf(p.out, "\nReady to provision %d %s. Continue? [y/N]: ", count, noun)

	line, err := p.readLine()
	if errors.Is(err, ErrNoInput) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	response := strings.ToLower(strings.TrimSpace(line))
	return response == "y" || response == "yes", nil
}

// Password asks for the admin password. Input is hidden on a terminal.
func (p *Prompter) Password() (string, error) {
	fmt.Fprint(p.out, "Admin password for devices without one: ")

	var password string
	if p.Interactive() {
		fd := int(p.in.(*os.File).Fd())
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(p.out)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		password = string(raw)
	} else {
		line, err := p.readLine()
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		password = strings.TrimRight(line, "\r")
	}

	if password == "" {
		return "", errors.New("password cannot be empty")
	}
	return password, nil
}

// Commands reads up to MaxSharedCommands commands, one per line.
// An empty line or the end of input finishes the list.
func (p *Prompter) Commands() ([]string, error) {
	fmt.Fprintf(p.out, "Enter commands to run on each device (empty line to finish, max %d):\n", MaxSharedCommands)

	var commands []string
	for len(commands) < MaxSharedCommands {
		fmt.Fprintf(p.out, "  command %d: ", len(commands)+1)
		line, err := p.readLine()
		if errors.Is(err, ErrNoInput) {
			fmt.Fprintln(p.out)
			break
		}
		if err != nil {
			return nil, err
		}
		cmd := strings.TrimSpace(line)
		if cmd == "" {
			break
		}
		commands = append(commands, cmd)
	}
	return commands, nil
}

func (p *Prompter) readLine() (string, error) {
	if !p.scanner.Scan() {
		if err := p.scanner.Err(); err != nil {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
		return "", ErrNoInput
	}
	return p.scanner.Text(), nil
}
