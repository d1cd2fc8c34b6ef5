package sppath

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/sharepoint-go/internal/sperr"
)

func TestResolve_ValidNames(t *testing.T) {
	r := New("marketing", "Shared Documents")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple", "report.pdf", "/sites/marketing/Shared Documents/report.pdf"},
		{"nested", "2024/q3/report.pdf", "/sites/marketing/Shared Documents/2024/q3/report.pdf"},
		{"leading slash", "/report.pdf", "/sites/marketing/Shared Documents/report.pdf"},
		{"dot segments collapse", "./2024/./report.pdf", "/sites/marketing/Shared Documents/2024/report.pdf"},
		{"double slashes collapse", "2024//report.pdf", "/sites/marketing/Shared Documents/2024/report.pdf"},
		{"backslash separators", `2024\q3\report.pdf`, "/sites/marketing/Shared Documents/2024/q3/report.pdf"},
		{"empty resolves to root", "", "/sites/marketing/Shared Documents"},
		{"spaces inside names", "annual report.pdf", "/sites/marketing/Shared Documents/annual report.pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestResolve_AlwaysUnderRoot(t *testing.T) {
	r := New("eng", "docs")

	// Every resolvable name must land under the library root.
	for _, name := range []string{"a", "a/b/c", "./x", "x//y", `a\b`, "deep/./path/file.bin"} {
		got, err := r.Resolve(name)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(got, "/sites/eng/docs/"), "resolved %q to %q", name, got)
	}
}

func TestResolve_RejectsTraversal(t *testing.T) {
	r := New("eng", "docs")

	for _, name := range []string{"..", "../secret", "a/../../b", `..\windows`, "a/.."} {
		t.Run(name, func(t *testing.T) {
			_, err := r.Resolve(name)
			require.Error(t, err)
			assert.True(t, errors.Is(err, sperr.ErrInvalidPath))
		})
	}
}

func TestResolve_RejectsDisallowedCharacters(t *testing.T) {
	r := New("eng", "docs")

	tests := []string{
		`what?.txt`,
		`a:b.txt`,
		`star*.txt`,
		`pipe|name`,
		`quote".txt`,
		`angle<.txt`,
		`angle>.txt`,
		"control\x00char",
		"tab\tname",
		" leading-space.txt",
		"trailing-space.txt ",
		"trailing-dot.",
	}

	for _, name := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := r.Resolve(name)
			require.Error(t, err)
			assert.True(t, errors.Is(err, sperr.ErrInvalidPath))
		})
	}
}

func TestResolve_RejectsOverlongPath(t *testing.T) {
	r := New("eng", "docs")

	_, err := r.Resolve(strings.Repeat("a", 500))
	require.Error(t, err)
	assert.True(t, errors.Is(err, sperr.ErrInvalidPath))
}

func TestResolve_NormalizesUnicode(t *testing.T) {
	r := New("eng", "docs")

	// NFD "é" (e + combining acute) must resolve to the same path as NFC "é".
	nfd, err := r.Resolve("café.txt")
	require.NoError(t, err)

	nfc, err := r.Resolve("café.txt")
	require.NoError(t, err)

	assert.Equal(t, nfc, nfd)
}

func TestNew_TrimsSlashes(t *testing.T) {
	r := New("/marketing/", "/Shared Documents/")
	assert.Equal(t, "/sites/marketing/Shared Documents", r.Root())
	assert.Equal(t, "/sites/marketing", r.SitePath())

	got, err := r.Resolve("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "/sites/marketing/Shared Documents/a.txt", got)
}

func TestSplit(t *testing.T) {
	tests := []struct {
		path string
		dir  string
		base string
	}{
		{"/sites/s/docs/a/b.txt", "/sites/s/docs/a", "b.txt"},
		{"/sites/s/docs/b.txt", "/sites/s/docs", "b.txt"},
		{"b.txt", "", "b.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			dir, base := Split(tt.path)
			assert.Equal(t, tt.dir, dir)
			assert.Equal(t, tt.base, base)
		})
	}
}
