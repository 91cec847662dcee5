// Package pathutil expands user supplied file paths.
package pathutil

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandUserAndEnv expands $VARS and a leading "~/" (or "~\") in p. The
// result is not made absolute.
func ExpandUserAndEnv(p string) (string, error) {
	p = os.ExpandEnv(strings.TrimSpace(p))
	if p == "" || p[0] != '~' {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	switch {
	case len(p) == 1:
		return home, nil
	case p[1] == '/' || p[1] == '\\':
		return filepath.Join(home, p[2:]), nil
	}
	return p, nil
}

// Resolve expands p like ExpandUserAndEnv and returns a cleaned absolute path.
// An empty p stays empty.
func Resolve(p string) (string, error) {
	expanded, err := ExpandUserAndEnv(p)
	if err != nil || expanded == "" {
		return expanded, err
	}
	return filepath.Abs(expanded)
}
