package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// PasswordPrompt asks for the password of username. It is used when
// neither the locator nor the configuration carries one.
type PasswordPrompt func(username, host string) (string, error)

// ErrNoTerminal is returned by TerminalPrompt when stdin is not a terminal.
var ErrNoTerminal = errors.New("stdin is not a terminal")

// TerminalPrompt reads a password from the controlling terminal without
// echo.
func TerminalPrompt(out io.Writer) PasswordPrompt {
	return func(username, host string) (string, error) {
		fd := int(os.Stdin.Fd())
		if !term.IsTerminal(fd) {
			return "", ErrNoTerminal
		}

		fmt.Fprintf(out, "Password for %s@%s: ", username, host)
		password, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(password), nil
	}
}
