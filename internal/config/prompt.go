package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Prompter asks for credentials missing from the configuration.
type Prompter struct {
	In  io.Reader
	Out io.Writer
	// ReadPassword reads a line without echoing it.
	ReadPassword func() ([]byte, error)
}

// TerminalPrompter reads from stdin and hides the password when stdin is a terminal.
func TerminalPrompter() Prompter {
	return Prompter{
		In:  os.Stdin,
		Out: os.Stderr,
		ReadPassword: func() ([]byte, error) {
			return term.ReadPassword(int(os.Stdin.Fd()))
		},
	}
}

// Complete fills in User and Password when they are empty.
func (p Prompter) Complete(cfg *Config) error {
	r := bufio.NewReader(p.In)
	if cfg.User == "" {
		fmt.Fprint(p.Out, "User: ")
		line, err := r.ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read user: %w", err)
		}
		cfg.User = strings.TrimSpace(line)
	}
	if cfg.Password == "" {
		fmt.Fprint(p.Out, "Password: ")
		b, err := p.ReadPassword()
		fmt.Fprintln(p.Out)
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		cfg.Password = strings.TrimRight(string(b), "\r\n")
	}
	if cfg.User == "" || cfg.Password == "" {
		return fmt.Errorf("user and password are required")
	}
	return nil
}
