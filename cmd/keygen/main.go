// Command keygen prints a fresh random master key for OPSCENTER_SECRET_KEY.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/ericfisherdev/opscenter/internal/adapter/driven/cipher"
)

func main() {
	envLine := flag.Bool("env", false, "print as an OPSCENTER_SECRET_KEY=... line for a .env file")
	flag.Parse()

	if err := run(os.Stdout, rand.Reader, *envLine); err != nil {
		fmt.Fprintln(os.Stderr, "keygen:", err)
		os.Exit(1)
	}
}

func run(w io.Writer, random io.Reader, envLine bool) error {
	key, err := generate(random)
	if err != nil {
		return err
	}
	if envLine {
		_, err = fmt.Fprintf(w, "OPSCENTER_SECRET_KEY=%s\n", key)
	} else {
		_, err = fmt.Fprintln(w, key)
	}
	return err
}

// generate returns a hex-encoded key and checks that the cipher accepts it.
func generate(random io.Reader) (string, error) {
	raw := make([]byte, cipher.MasterKeySize)
	if _, err := io.ReadFull(random, raw); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	if _, err := cipher.New(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}
