package main

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/alialinx/mini-gateway/internal/gateway/app"
	"github.com/alialinx/mini-gateway/pkg/cryptox"
)

func main() {
	cfg := app.LoadConfig()

	if len(os.Args) > 1 && os.Args[1] == "hash-password" {
		if err := hashPassword(cfg, os.Stdin, os.Stdout); err != nil {
			log.Fatalf("hash-password: %v", err)
		}
		return
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}

	if err := application.Run(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}

// hashPassword prints the ISSUER_PASSWORD_HASH value for the password read
// from in, peppered the same way the running gateway will verify it.
func hashPassword(cfg app.Config, in io.Reader, out io.Writer) error {
	pepper, err := app.LoadPepper(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return err
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return err
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return fmt.Errorf("empty password on stdin")
	}

	hash, err := cryptox.HashPassword(password, pepper)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, hash)
	return err
}
