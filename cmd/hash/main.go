// Package main prints a bcrypt hash of a password. The console stores only
// bcrypt hashes, so operators use this tool to rotate the bootstrap admin
// password directly in the account store:
//
//	echo -n 'new-secret' | opsconsole-hash --stdin
//	UPDATE users SET password_hash = '<hash>' WHERE username = 'admin';
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/opsconsole/opsconsole/internal/auth"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("opsconsole-hash", flag.ContinueOnError)
	cost := fs.Int("cost", auth.DefaultBcryptCost, "bcrypt work factor")
	fromStdin := fs.Bool("stdin", false, "read the password from the first line of standard input")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var password string
	switch {
	case *fromStdin:
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	case fs.NArg() == 1:
		password = fs.Arg(0)
	default:
		return errors.New("usage: opsconsole-hash [--cost N] (--stdin | <password>)")
	}
	if password == "" {
		return errors.New("password must not be empty")
	}

	hash, err := auth.NewBcryptHasher(*cost).Hash(password)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, hash)
	return nil
}
