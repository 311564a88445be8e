package log

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFileWriter_Write(t *testing.T) {
	dir := t.TempDir()

	fw, err := NewFileWriter(dir)
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	defer fw.Close()

	if _, err := fw.Write([]byte(`{"msg":"hello"}` + "\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	path := filepath.Join(dir, "agento-"+time.Now().Format(time.DateOnly)+".jsonl")
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(content), `"hello"`) {
		t.Errorf("log file content = %q", content)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("log file perm = %04o, want 0600", perm)
	}
}

func TestFileWriter_RotatesOnDateChange(t *testing.T) {
	dir := t.TempDir()

	fw, err := NewFileWriter(dir)
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	defer fw.Close()

	tomorrow := time.Now().AddDate(0, 0, 1)
	fw.now = func() time.Time { return tomorrow }

	if _, err := fw.Write([]byte("line\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	want := "agento-" + tomorrow.Format(time.DateOnly) + ".jsonl"
	if _, err := os.Stat(filepath.Join(dir, want)); err != nil {
		t.Errorf("expected rotated file %s: %v", want, err)
	}
	target, err := os.Readlink(filepath.Join(dir, "latest"))
	if err != nil {
		t.Fatalf("reading symlink: %v", err)
	}
	if target != want {
		t.Errorf("latest -> %s, want %s", target, want)
	}
}

func TestCleanup(t *testing.T) {
	dir := t.TempDir()

	old := "agento-" + time.Now().AddDate(0, 0, -30).Format(time.DateOnly) + ".jsonl"
	recent := "agento-" + time.Now().AddDate(0, 0, -1).Format(time.DateOnly) + ".jsonl"
	other := "notes.txt"
	for _, name := range []string{old, recent, other} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0600); err != nil {
			t.Fatal(err)
		}
	}

	Cleanup(dir, 7)

	if _, err := os.Stat(filepath.Join(dir, old)); !os.IsNotExist(err) {
		t.Errorf("expected %s to be removed", old)
	}
	for _, name := range []string{recent, other} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s to remain: %v", name, err)
		}
	}
}
