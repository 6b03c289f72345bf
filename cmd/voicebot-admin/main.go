// Command voicebot-admin prepares admin credentials for a voicebot deployment.
//
//	voicebot-admin hash-password            reads a password from stdin, prints its argon2id hash
//	voicebot-admin token -secret HEX [-subject NAME] [-ttl 12h]
package main

import (
	"bufio"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/KW781kazu/voicebot/internal/adminauth"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) == 0 {
		return errors.New("usage: voicebot-admin <hash-password|token> [flags]")
	}

	switch args[0] {
	case "hash-password":
		return hashPassword(stdin, stdout)
	case "token":
		return issueToken(args[1:], stdout)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// hashPassword reads one line from stdin and prints the encoded hash for
// VOICEBOT_ADMIN_PASSWORD_HASH.
func hashPassword(stdin io.Reader, stdout io.Writer) error {
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return errors.New("password must not be empty")
	}

	hash, err := adminauth.HashPassword(password)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, hash)
	return nil
}

// issueToken mints a bearer token offline from the shared admin secret.
func issueToken(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	secretHex := fs.String("secret", os.Getenv("VOICEBOT_ADMIN_SECRET"), "hex-encoded 32-byte admin secret (or set VOICEBOT_ADMIN_SECRET)")
	subject := fs.String("subject", "admin", "token subject")
	ttl := fs.Duration("ttl", adminauth.DefaultTokenTTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *secretHex == "" {
		return errors.New("-secret is required")
	}
	secret, err := hex.DecodeString(*secretHex)
	if err != nil {
		return fmt.Errorf("decoding secret: %w", err)
	}
	if len(secret) != 32 {
		return fmt.Errorf("secret must decode to 32 bytes, got %d", len(secret))
	}
	if *ttl <= 0 {
		return fmt.Errorf("ttl must be positive, got %s", *ttl)
	}

	token, expiresAt, err := adminauth.IssueToken(secret, *subject, *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, token)
	fmt.Fprintf(os.Stderr, "expires %s\n", expiresAt.UTC().Format(time.RFC3339))
	return nil
}
