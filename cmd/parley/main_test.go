package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRun_RejectsUnknownFlag(t *testing.T) {
	var stderr bytes.Buffer
	if err := run([]string{"-bogus"}, &stderr); err == nil {
		t.Fatal("Expected an error for an unknown flag")
	}
	if !strings.Contains(stderr.String(), "bogus") {
		t.Errorf("Expected usage output to mention the flag, got %q", stderr.String())
	}
}

func TestRun_FailsWithoutSecret(t *testing.T) {
	t.Setenv("PARLEY_CONFIG_FILE", "")
	t.Setenv("PARLEY_JWT_SECRET", "")
	t.Setenv("JWT_SECRET_KEY", "")
	t.Setenv("PARLEY_DATABASE_PATH", t.TempDir()+"/main.db")

	err := run(nil, &bytes.Buffer{})
	if err == nil {
		t.Fatal("Expected configuration error without a JWT secret")
	}
	if !strings.Contains(err.Error(), "JWT secret") {
		t.Errorf("Expected a JWT secret error, got %v", err)
	}
}
