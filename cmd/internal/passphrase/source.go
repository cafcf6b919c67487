package passphrase

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// DefaultEnv is the environment variable consulted before prompting.
const DefaultEnv = "MARKET_KEYSTORE_PASSPHRASE"

var ErrMismatch = errors.New("passphrase: entries do not match")

// Option customises a Source.
type Option func(*Source)

// WithLabel names the secret in the interactive prompt.
func WithLabel(label string) Option {
	return func(s *Source) { s.label = label }
}

// WithConfirmation asks twice when prompting. Environment values are taken
// as is.
func WithConfirmation() Option {
	return func(s *Source) { s.confirm = true }
}

// Source resolves a passphrase once, from the environment or the terminal,
// and caches the outcome.
type Source struct {
	envVar  string
	label   string
	confirm bool

	prompt       io.Writer
	lookup       func(string) (string, bool)
	isTerminal   func() bool
	readPassword func() ([]byte, error)

	once  sync.Once
	value string
	err   error
}

func NewSource(envVar string, opts ...Option) *Source {
	fd := int(os.Stdin.Fd())
	s := &Source{
		envVar:       strings.TrimSpace(envVar),
		label:        "keystore passphrase",
		prompt:       os.Stderr,
		lookup:       os.LookupEnv,
		isTerminal:   func() bool { return term.IsTerminal(fd) },
		readPassword: func() ([]byte, error) { return term.ReadPassword(fd) },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the passphrase. Blank values are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() { s.value, s.err = s.resolve() })
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.envVar != "" {
		if value, ok := s.lookup(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", s.envVar)
			}
			return value, nil
		}
	}
	if !s.isTerminal() {
		if s.envVar != "" {
			return "", fmt.Errorf("%s required; set %s or run interactively", s.label, s.envVar)
		}
		return "", fmt.Errorf("%s required and no terminal available", s.label)
	}

	first, err := s.ask("Enter " + s.label + ": ")
	if err != nil {
		return "", err
	}
	if s.confirm {
		second, err := s.ask("Repeat " + s.label + ": ")
		if err != nil {
			return "", err
		}
		if first != second {
			return "", ErrMismatch
		}
	}
	return first, nil
}

func (s *Source) ask(prompt string) (string, error) {
	fmt.Fprint(s.prompt, prompt)
	raw, err := s.readPassword()
	fmt.Fprintln(s.prompt)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", s.label, err)
	}
	value := string(raw)
	if strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%s cannot be empty", s.label)
	}
	return value, nil
}
