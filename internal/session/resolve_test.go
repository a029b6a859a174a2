package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"main", false},
		{"work123", false},
		{"my-session", false},
		{"my_session", false},
		{"a", false},
		{"9lives", false},
		{strings.Repeat("a", 64), false},
		{"", true},
		{"Main", true},
		{"my session", true},
		{"my.session", true},
		{"-debug", true},
		{"_hidden", true},
		{strings.Repeat("a", 65), true},
		{"my/session", true},
	}
	for _, tt := range tests {
		err := ValidateName(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
	}
}

func TestResolvePrecedence(t *testing.T) {
	base := t.TempDir()
	t.Setenv("DUET_HOME", base)
	t.Setenv("DUET_SESSION", "")

	expect := func(flag, want string) {
		t.Helper()
		got, err := Resolve(flag)
		if err != nil {
			t.Fatalf("Resolve(%q) error = %v", flag, err)
		}
		if got != want {
			t.Errorf("Resolve(%q) = %q, want %q", flag, got, want)
		}
	}

	expect("", DefaultSessionName)

	if err := os.WriteFile(filepath.Join(base, "config.toml"), []byte("default_session = \"work\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	expect("", "work")

	t.Setenv("DUET_SESSION", "env")
	expect("", "env")
	expect("flag", "flag")
}

func TestResolveRejectsInvalidNames(t *testing.T) {
	base := t.TempDir()
	t.Setenv("DUET_HOME", base)
	t.Setenv("DUET_SESSION", "")

	if _, err := Resolve("Bad Name"); err == nil || !strings.Contains(err.Error(), "--session") {
		t.Errorf("Resolve(flag) error = %v, want one naming --session", err)
	}

	t.Setenv("DUET_SESSION", "../escape")
	if _, err := Resolve(""); err == nil || !strings.Contains(err.Error(), "DUET_SESSION") {
		t.Errorf("Resolve() error = %v, want one naming DUET_SESSION", err)
	}
}

func TestResolveMalformedConfig(t *testing.T) {
	base := t.TempDir()
	t.Setenv("DUET_HOME", base)
	t.Setenv("DUET_SESSION", "")
	if err := os.WriteFile(filepath.Join(base, "config.toml"), []byte("default_session = [\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Resolve(""); err == nil {
		t.Error("Resolve() with a malformed config succeeded")
	}
	if got, err := Resolve("main"); err != nil || got != "main" {
		t.Errorf("Resolve(main) = %q, %v; the flag should bypass the config", got, err)
	}
}
