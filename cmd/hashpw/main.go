// Команда hashpw печатает bcrypt-хеш пароля для FLUIDSTORE_ADMIN_PASSWORD_HASH.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/vladislavdragonenkov/fluidstore/internal/auth"
)

func main() {
	var password string
	flag.StringVar(&password, "password", "", "password to hash (default: read first line of stdin)")
	flag.Parse()

	hash, err := run(password, os.Stdin)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(hash)
}

func run(password string, stdin io.Reader) (string, error) {
	if password == "" {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && err != io.EOF {
			return "", fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if password == "" {
		return "", fmt.Errorf("password is required")
	}
	return auth.HashPassword(password)
}
