package util

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFormatSeconds(t *testing.T) {
	cases := map[float64]string{
		0:        "0.000",
		1.5:      "1.500",
		4.5:      "4.500",
		0.0001:   "0.000",
		-0.0001:  "0.000",
		12.34567: "12.346",
	}
	for in, want := range cases {
		if got := FormatSeconds(in); got != want {
			t.Errorf("FormatSeconds(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestParseTimestamp(t *testing.T) {
	d, err := ParseTimestamp("00:01:02.500000")
	if err != nil {
		t.Fatalf("ParseTimestamp failed: %v", err)
	}
	if d != 62500*time.Millisecond {
		t.Errorf("expected 62.5s, got %v", d)
	}

	if _, err := ParseTimestamp("a:b"); err == nil {
		t.Error("expected error for garbage input")
	}
}

func TestExtensionForMime(t *testing.T) {
	ext, err := ExtensionForMime("image/jpeg")
	if err != nil || ext != ".jpg" {
		t.Fatalf("got %q, %v", ext, err)
	}
	ext, err = ExtensionForMime("audio/wav; codecs=1")
	if err != nil || ext != ".wav" {
		t.Fatalf("got %q, %v", ext, err)
	}
	if _, err := ExtensionForMime("application/pdf"); err == nil {
		t.Error("expected error for unsupported type")
	}
}

func TestRemoveFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.png")
	if err := os.WriteFile(a, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	failed := RemoveFiles(a, filepath.Join(dir, "missing.png"))
	if len(failed) != 0 {
		t.Errorf("expected no failures, got %v", failed)
	}
	if FileExists(a) {
		t.Error("file was not removed")
	}
}

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	if err := EnsureDir(dir); err != nil {
		t.Fatalf("EnsureDir failed: %v", err)
	}
	if !FileExists(dir) {
		t.Error("directory was not created")
	}
	if err := EnsureDir(dir); err != nil {
		t.Errorf("EnsureDir on an existing directory: %v", err)
	}
}
