package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"cercasp-go/internal/config"
)

// ErrNoPassphrase is returned when no passphrase source is configured and
// stdin is not a terminal.
var ErrNoPassphrase = errors.New("no passphrase available: set passphrase_env or passphrase_file, or run interactively")

// ResolvePassphrase returns the field-encryption passphrase from, in order,
// the configured environment variable, the configured file, or a terminal
// prompt.
func ResolvePassphrase(cfg config.CryptoConfig, getenv func(string) string, stdin *os.File, prompt io.Writer) (string, error) {
	if cfg.PassphraseEnv != "" {
		if v := getenv(cfg.PassphraseEnv); v != "" {
			return v, nil
		}
	}

	if cfg.PassphraseFile != "" {
		data, err := os.ReadFile(cfg.PassphraseFile)
		if err != nil {
			return "", fmt.Errorf("reading passphrase file: %w", err)
		}
		p := strings.TrimRight(string(data), "\r\n")
		if p == "" {
			return "", fmt.Errorf("passphrase file %s is empty", cfg.PassphraseFile)
		}
		return p, nil
	}

	if stdin == nil || !term.IsTerminal(int(stdin.Fd())) {
		return "", ErrNoPassphrase
	}
	return PromptSecret(stdin, prompt, "Passphrase: ")
}

// PromptSecret reads a line from the terminal without echo.
func PromptSecret(stdin *os.File, prompt io.Writer, label string) (string, error) {
	fmt.Fprint(prompt, label)
	b, err := term.ReadPassword(int(stdin.Fd()))
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("reading from terminal: %w", err)
	}
	return string(b), nil
}
