package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestKey(t *testing.T) {
	got := Key("owner/", "", "/job", "Acme.pptx")
	if got != "owner/job/Acme.pptx" {
		t.Fatalf("Key: got %q", got)
	}
}

func TestLocalRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	l, err := NewLocal(dir)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	if _, err := l.Download(ctx, "o/missing.png"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing download: got %v", err)
	}
	if err := l.Upload(ctx, "o/j/a.pptx", []byte("deck"), ""); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	data, err := l.Download(ctx, "o/j/a.pptx")
	if err != nil || string(data) != "deck" {
		t.Fatalf("Download: %q %v", data, err)
	}
	if err := l.Delete(ctx, "o/j/a.pptx"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := l.Delete(ctx, "o/j/a.pptx"); err != nil {
		t.Fatalf("Delete twice: %v", err)
	}
	if err := l.Upload(ctx, "../escape", []byte("x"), ""); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "escape")); err != nil {
		t.Fatalf("dot-dot key should stay under the base dir: %v", err)
	}
}

func TestMemoryFailOn(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	boom := errors.New("backend down")
	m.FailOn("k", boom)
	if _, err := m.Download(ctx, "k"); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	m.Put("a", []byte("1"))
	if keys := m.Keys(); len(keys) != 1 || keys[0] != "a" {
		t.Fatalf("Keys: %v", keys)
	}
}
