package testutil

import (
	"os"
	"strings"
	"testing"
)

func TestContractDirRoundTrip(t *testing.T) {
	d, err := NewContractDir()
	if err != nil {
		t.Fatalf("NewContractDir failed: %v", err)
	}
	defer d.Cleanup()

	source := `Contract.deploy({ noop: exported({}, function () {}) });`
	path, err := d.WriteSource("token", source)
	if err != nil {
		t.Fatalf("WriteSource failed: %v", err)
	}
	if !strings.HasSuffix(path, "token.js") {
		t.Fatalf("expected a .js path, got %q", path)
	}
	got, err := d.ReadSource("token")
	if err != nil {
		t.Fatalf("ReadSource failed: %v", err)
	}
	if got != source {
		t.Fatalf("source mismatch: got %q want %q", got, source)
	}
}

func TestContractDirRejectsNestedNames(t *testing.T) {
	d, err := NewContractDir()
	if err != nil {
		t.Fatalf("NewContractDir failed: %v", err)
	}
	defer d.Cleanup()

	for _, name := range []string{"", "a/b", "../escape"} {
		if _, err := d.WriteSource(name, "x"); err == nil {
			t.Fatalf("expected rejection of name %q", name)
		}
	}
}

func TestContractDirCleanup(t *testing.T) {
	d, err := NewContractDir()
	if err != nil {
		t.Fatalf("NewContractDir failed: %v", err)
	}
	path, err := d.WriteSource("temp", "x")
	if err != nil {
		t.Fatalf("WriteSource failed: %v", err)
	}
	if err := d.Cleanup(); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected fixture directory to be removed")
	}
}
