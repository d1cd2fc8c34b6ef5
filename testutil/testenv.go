// Package testutil provides shared test environment helpers for E2E
// tests. It depends only on stdlib so that E2E tests (which cannot
// import internal/) can use it.
package testutil

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
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
		value = strings.TrimSpace(value)
		value = strings.Trim(value, "\"'")

		// Env vars take precedence over .env file.
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

// ValidateAllowlist crashes the process if SHAREPOINT_ALLOWED_TEST_SITES
// is not set or if the site named by siteEnvVar is not in the allowlist.
// E2E tests create and delete real files, so they refuse to run against
// any site that was not explicitly listed.
func ValidateAllowlist(siteEnvVar string) {
	allowlist := os.Getenv("SHAREPOINT_ALLOWED_TEST_SITES")
	if allowlist == "" {
		fmt.Fprintln(os.Stderr, "FATAL: SHAREPOINT_ALLOWED_TEST_SITES not set")
		fmt.Fprintln(os.Stderr, "Set it in .env or as an environment variable.")
		fmt.Fprintln(os.Stderr, "Example: SHAREPOINT_ALLOWED_TEST_SITES=contoso/testsite")
		os.Exit(1)
	}

	testSite := os.Getenv(siteEnvVar)
	if testSite == "" {
		fmt.Fprintf(os.Stderr, "FATAL: %s not set\n", siteEnvVar)
		os.Exit(1)
	}

	for _, a := range strings.Split(allowlist, ",") {
		if strings.TrimSpace(a) == testSite {
			return
		}
	}

	fmt.Fprintf(os.Stderr, "FATAL: %s=%q is not in SHAREPOINT_ALLOWED_TEST_SITES=%q\n",
		siteEnvVar, testSite, allowlist)
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
