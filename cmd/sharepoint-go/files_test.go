package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanRemotePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/", ""},
		{"report.pdf", "report.pdf"},
		{"/reports/2024/q1.xlsx", "reports/2024/q1.xlsx"},
		{"trailing/", "trailing"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, cleanRemotePath(tt.in), "input %q", tt.in)
	}
}

func TestJoinRemote(t *testing.T) {
	tests := []struct {
		dir  string
		base string
		want string
	}{
		{"", "a.txt", "a.txt"},
		{"reports", "a.txt", "reports/a.txt"},
		{"/reports/2024/", "a.txt", "reports/2024/a.txt"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, joinRemote(tt.dir, tt.base))
	}
}
