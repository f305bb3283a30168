package util

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/jackc/pgpassfile"
	"golang.org/x/term"
)

// ResolvePassword implements spec.md §6's password resolution order:
// explicit flag, then URI-embedded (handled by the caller before this is
// reached), then a pgpass file entry, then an interactive prompt unless
// noPassword or a URI was given.
func ResolvePassword(explicit string, noPassword, haveURI bool, host string, port int, database, user string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if haveURI {
		return "", nil
	}

	if pw, ok := lookupPgpass(host, port, database, user); ok {
		return pw, nil
	}

	if noPassword {
		return "", nil
	}

	return promptPassword(fmt.Sprintf("Password for user %s: ", user))
}

// lookupPgpass looks up a matching entry in the pgpass file named by
// $PGPASSFILE, falling back to the OS-conventional default location,
// using pgpassfile's own `*`-wildcard and escape-aware matching.
func lookupPgpass(host string, port int, database, user string) (string, bool) {
	path := os.Getenv("PGPASSFILE")
	if path == "" {
		path = defaultPgpassPath()
	}
	if path == "" {
		return "", false
	}

	passfile, err := pgpassfile.ReadPassfile(path)
	if err != nil {
		return "", false
	}

	entry := passfile.FindEntry(host, strconv.Itoa(port), database, user)
	if entry == nil {
		return "", false
	}
	return entry.Password, true
}

func defaultPgpassPath() string {
	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return ""
		}
		return filepath.Join(appData, "postgresql", "pgpass.conf")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".pgpass")
}

// promptPassword reads a password from the terminal without echoing it,
// falling back to a plain line read when stdin isn't a terminal (e.g.
// piped input in tests).
func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	if term.IsTerminal(int(os.Stdin.Fd())) {
		bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(bytes), nil
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return trimNewline(line), nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
