package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDir(t *testing.T) {
	t.Setenv("DUET_HOME", "")
	home, _ := os.UserHomeDir()
	got := Dir("main")
	want := filepath.Join(home, ".duet", "sessions", "main")
	if got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
}

func TestBaseDirOverride(t *testing.T) {
	base := t.TempDir()
	t.Setenv("DUET_HOME", base)
	if got := DBPath("work"); got != filepath.Join(base, "sessions", "work", "duet.db") {
		t.Errorf("DBPath(work) = %q", got)
	}
	if got := ConfigPath(); got != filepath.Join(base, "config.toml") {
		t.Errorf("ConfigPath() = %q", got)
	}
}

func TestSessionFiles(t *testing.T) {
	tests := map[string]string{
		SocketPath("test"): filepath.Join("sessions", "test", "daemon.sock"),
		LockPath("test"):   filepath.Join("sessions", "test", "LOCK"),
		LogPath("test"):    filepath.Join("sessions", "test", "logs", "duetd.log"),
	}
	for got, suffix := range tests {
		if !strings.HasSuffix(got, suffix) {
			t.Errorf("%q, want suffix %s", got, suffix)
		}
	}
}

func TestEnsureDir(t *testing.T) {
	t.Setenv("DUET_HOME", t.TempDir())

	if err := EnsureDir("test"); err != nil {
		t.Fatal(err)
	}
	for _, dir := range []string{Dir("test"), LogDir("test")} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("%s not created: %v", dir, err)
		}
		if perm := info.Mode().Perm(); perm != 0700 {
			t.Errorf("%s permission = %o, want 0700", dir, perm)
		}
	}
}
