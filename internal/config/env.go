package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// LoadEnvFile reads path and exports each "KEY=value" line into the process
// environment. Blank lines and # comments are skipped; values may be wrapped
// in single or double quotes. A missing file is not an error, so callers can
// point at ".env" unconditionally. Path is cleaned with filepath.Clean to
// avoid traversal if path is user-influenced.
func LoadEnvFile(path string) error {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if key, value, ok := parseEnvLine(sc.Text()); ok {
			os.Setenv(key, value)
		}
	}
	return sc.Err()
}

// parseEnvLine splits one .env line into key and unquoted value. ok is false
// for blanks, comments and lines without a usable "KEY=".
func parseEnvLine(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	key, value, found := strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !found || key == "" {
		return "", "", false
	}
	value = strings.TrimSpace(value)
	if n := len(value); n >= 2 {
		if (value[0] == '"' && value[n-1] == '"') || (value[0] == '\'' && value[n-1] == '\'') {
			value = value[1 : n-1]
		}
	}
	return key, value, true
}
