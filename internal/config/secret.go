package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// PasswordEnv names the environment variable holding the SMTP credential.
const PasswordEnv = "EMAIL_PASSWORD"

// ErrNoPassword is returned when no credential is available and stdin is not
// a terminal to prompt on.
var ErrNoPassword = errors.New("no email password: set " + PasswordEnv + " or run interactively")

// ResolvePassword returns the SMTP credential from the environment or, if
// unset, prompts on the terminal with echo disabled. The value is never
// written anywhere but the transport.
func ResolvePassword(in *os.File, prompt io.Writer) (string, error) {
	if pw, ok := os.LookupEnv(PasswordEnv); ok && pw != "" {
		return pw, nil
	}

	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return "", ErrNoPassword
	}

	fmt.Fprint(prompt, "Enter your email password: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}

	pw := strings.TrimSpace(string(b))
	if pw == "" {
		return "", ErrNoPassword
	}
	return pw, nil
}
