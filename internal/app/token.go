package app

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kamaleldincom/Briefs-sub000/internal/auth"
)

func runHashToken(args []string) int {
	fs := flag.NewFlagSet("hash-token", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	token := fs.String("token", "", "Operator token to hash (reads the first stdin line when empty)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	value := strings.TrimSpace(*token)
	if value == "" {
		line, err := readFirstLine(os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Read token failed: %v\n", err)
			return 1
		}
		value = line
	}

	hash, err := auth.HashToken(value)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid token: %v\n", err)
		return 2
	}

	fmt.Printf("ADMIN_TOKEN_HASH=%s\n", hash)
	return 0
}

func readFirstLine(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()), nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", nil
}
