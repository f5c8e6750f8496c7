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

// DefaultEnvVar names the variable consulted before prompting.
const DefaultEnvVar = "CODICE_KEYSTORE_PASSPHRASE"

var ErrNoTerminal = errors.New("passphrase: no terminal available")

// Source resolves a keystore passphrase from an environment variable or by
// prompting on the terminal. The first successful answer is cached.
type Source struct {
	envVar string
	prompt string
	out    io.Writer

	once  sync.Once
	value string
	err   error
}

func NewSource(envVar, prompt string) *Source {
	if strings.TrimSpace(prompt) == "" {
		prompt = "Keystore passphrase: "
	}
	return &Source{envVar: strings.TrimSpace(envVar), prompt: prompt, out: os.Stderr}
}

// Get returns the passphrase. Whitespace-only values are rejected so a
// keystore is never written unprotected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		s.value, s.err = s.resolve()
	})
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.envVar != "" {
		if value, ok := os.LookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("passphrase: %s is set but empty", s.envVar)
			}
			return value, nil
		}
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		if s.envVar != "" {
			return "", fmt.Errorf("%w; set %s", ErrNoTerminal, s.envVar)
		}
		return "", ErrNoTerminal
	}

	fmt.Fprint(s.out, s.prompt)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(s.out)
	if err != nil {
		return "", fmt.Errorf("passphrase: read: %w", err)
	}
	value := string(raw)
	if strings.TrimSpace(value) == "" {
		return "", errors.New("passphrase: empty passphrase")
	}
	return value, nil
}
