package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/good-yellow-bee/siemlite/internal/api/auth"
)

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "Generate a bcrypt hash for the admin password",
	Long: `Prompt for the admin password and print its bcrypt hash.

The password is read without echo. Put the hash in the server config as
auth.admin_password_hash (or SIEMLITE_AUTH_ADMIN_PASSWORD_HASH).

Password requirements:
  - Minimum 12 characters
  - At least 1 uppercase letter, 1 lowercase letter and 1 digit
  - At least 1 special character`,
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt := newPasswordPrompt(cmd.InOrStdin(), cmd.ErrOrStderr())
		password, err := prompt.read("Password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		if err := auth.ValidatePassword(password); err != nil {
			return err
		}
		confirm, err := prompt.read("Confirm password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		if password != confirm {
			return errors.New("passwords do not match")
		}

		hash, err := auth.HashPassword(password)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

// passwordPrompt reads passwords without echo from a terminal, or line by
// line from piped input.
type passwordPrompt struct {
	fd       int
	terminal bool
	lines    *bufio.Reader
	w        io.Writer
}

func newPasswordPrompt(in io.Reader, w io.Writer) *passwordPrompt {
	p := &passwordPrompt{w: w}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.fd = int(f.Fd())
		p.terminal = true
		return p
	}
	p.lines = bufio.NewReader(in)
	return p
}

func (p *passwordPrompt) read(prompt string) (string, error) {
	fmt.Fprint(p.w, prompt)
	if p.terminal {
		b, err := term.ReadPassword(p.fd)
		fmt.Fprintln(p.w)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	line, err := p.lines.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func init() {
	rootCmd.AddCommand(hashPasswordCmd)
}
