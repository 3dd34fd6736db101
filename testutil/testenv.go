// Package testutil provides shared environment helpers for end-to-end
// tests. It depends only on stdlib so e2e tests, which run the built binary
// and cannot import internal/, can use it.
package testutil

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Environment variables naming the live test account.
const (
	EnvTestEmail    = "MEGA_TEST_EMAIL"
	EnvTestPassword = "MEGA_TEST_PASSWORD"
	EnvAllowed      = "MEGA_ALLOWED_TEST_ACCOUNTS"
)

// LoadDotEnv reads KEY=VALUE pairs from a .env file at the given path.
// Missing file is not an error (CI sets env vars directly).
// Existing env vars take precedence over .env values.
func LoadDotEnv(envPath string) {
	f, err := os.Open(envPath)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), "\"'")

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

// ValidateAllowlist crashes the process unless the test account is listed
// in MEGA_ALLOWED_TEST_ACCOUNTS, so a personal account is never used by
// accident.
func ValidateAllowlist(email string) {
	allowlist := os.Getenv(EnvAllowed)
	if allowlist == "" {
		fmt.Fprintf(os.Stderr, "FATAL: %s not set\n", EnvAllowed)
		os.Exit(1)
	}

	for _, a := range strings.Split(allowlist, ",") {
		if strings.EqualFold(strings.TrimSpace(a), email) {
			return
		}
	}

	fmt.Fprintf(os.Stderr, "FATAL: %q is not in %s=%q\n", email, EnvAllowed, allowlist)
	os.Exit(1)
}

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}

// IsolatedEnv returns the process environment with HOME and the XDG
// directories pointed into root, so the binary under test never touches
// the developer's real config, session or journal.
func IsolatedEnv(root string) []string {
	overrides := map[string]string{
		"HOME":            root,
		"XDG_CONFIG_HOME": filepath.Join(root, "config"),
		"XDG_DATA_HOME":   filepath.Join(root, "data"),
		"MEGA_GO_CONFIG":  filepath.Join(root, "config", "mega-go", "config.toml"),
	}

	env := make([]string, 0, len(os.Environ())+len(overrides))

	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[key]; !ok {
			env = append(env, kv)
		}
	}

	for k, v := range overrides {
		env = append(env, k+"="+v)
	}

	return env
}
