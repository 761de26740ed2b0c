package main

import (
	"bytes"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestRun_HashesArgument(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"--cost", "4", "s3cret"}, strings.NewReader(""), &out); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	hash := strings.TrimSpace(out.String())
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")); err != nil {
		t.Errorf("hash does not verify: %v", err)
	}
	if cost, _ := bcrypt.Cost([]byte(hash)); cost != 4 {
		t.Errorf("cost = %d, want 4", cost)
	}
}

func TestRun_HashesStdin(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"--cost", "4", "--stdin"}, strings.NewReader("from pipe\nignored\n"), &out); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	hash := strings.TrimSpace(out.String())
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("from pipe")); err != nil {
		t.Errorf("hash does not verify: %v", err)
	}
}

func TestRun_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		stdin string
	}{
		{"no password", nil, ""},
		{"two passwords", []string{"a", "b"}, ""},
		{"empty stdin", []string{"--stdin"}, ""},
		{"unknown flag", []string{"--rounds", "4", "x"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			if err := run(tt.args, strings.NewReader(tt.stdin), &out); err == nil {
				t.Errorf("run(%v) succeeded, want error", tt.args)
			}
			if out.Len() != 0 {
				t.Errorf("unexpected output %q", out.String())
			}
		})
	}
}
