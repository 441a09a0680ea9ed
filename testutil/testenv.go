// Package testutil provides shared environment helpers for the live-drive
// E2E tests. It depends only on stdlib so that e2e/ (which cannot import
// internal/) can use it.
package testutil

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Environment variables read by the E2E harness.
const (
	EnvTestAccount     = "DRIVEBRIDGE_TEST_ACCOUNT"
	EnvAllowedAccounts = "DRIVEBRIDGE_ALLOWED_TEST_ACCOUNTS"
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

// ValidateAllowlist crashes the process unless the test account is named
// in the allowlist. Live tests create and delete items, so they must never
// run against an account nobody opted in.
func ValidateAllowlist() string {
	allowlist := os.Getenv(EnvAllowedAccounts)
	if allowlist == "" {
		fmt.Fprintf(os.Stderr, "FATAL: %s not set\n", EnvAllowedAccounts)
		fmt.Fprintf(os.Stderr, "Example: %s=user@outlook.com\n", EnvAllowedAccounts)
		os.Exit(1)
	}

	account := os.Getenv(EnvTestAccount)
	if account == "" {
		fmt.Fprintf(os.Stderr, "FATAL: %s not set\n", EnvTestAccount)
		os.Exit(1)
	}

	for _, a := range strings.Split(allowlist, ",") {
		if strings.EqualFold(strings.TrimSpace(a), account) {
			return account
		}
	}

	fmt.Fprintf(os.Stderr, "FATAL: %s=%q is not in %s=%q\n",
		EnvTestAccount, account, EnvAllowedAccounts, allowlist)
	os.Exit(1)

	return ""
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

// FindTestCredentialDir locates .testdata/ relative to the module root.
// Crashes if the directory or its token file does not exist.
func FindTestCredentialDir(moduleRoot string) string {
	dir := filepath.Join(moduleRoot, ".testdata")

	if _, err := os.Stat(filepath.Join(dir, TokenFileName)); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %s not found in %s\n", TokenFileName, dir)
		fmt.Fprintln(os.Stderr, "Run 'drivebridge login' with DRIVEBRIDGE_TOKEN_STORE=file and copy the token there.")
		os.Exit(1)
	}

	return dir
}

// TokenFileName is the name of the file token store's token.
const TokenFileName = "token.json"

// CopyFile copies a file from src to dst with the given permissions.
// Crashes on failure because tests cannot proceed without the file.
func CopyFile(src, dst string, perm os.FileMode) {
	data, err := os.ReadFile(src)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: cannot read %s: %v\n", src, err)
		os.Exit(1)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: creating %s: %v\n", filepath.Dir(dst), err)
		os.Exit(1)
	}

	if err := os.WriteFile(dst, data, perm); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: writing %s: %v\n", dst, err)
		os.Exit(1)
	}
}
