package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"deckgen/internal/storage"
)

func TestBuild(t *testing.T) {
	mem := storage.NewMemory()
	mem.Put("o/j/Acme.pptx", []byte("first"))
	mem.Put("o/j/Acme_1.pptx", []byte("second"))
	entries := []Entry{{Name: "Acme.pptx", Key: "o/j/Acme.pptx"}, {Name: "Acme_1.pptx", Key: "o/j/Acme_1.pptx"}}

	var ticks []int
	data, err := BuildWithProgress(context.Background(), mem, entries, func(done, total int) {
		if total != 2 {
			t.Fatalf("total: %d", total)
		}
		ticks = append(ticks, done)
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(ticks) != 2 || ticks[1] != 2 {
		t.Fatalf("progress ticks: %v", ticks)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("read zip: %v", err)
	}
	if len(zr.File) != 2 || zr.File[0].Name != "Acme.pptx" || zr.File[1].Name != "Acme_1.pptx" {
		t.Fatalf("entries: %+v", zr.File)
	}
	rc, _ := zr.File[1].Open()
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "second" {
		t.Fatalf("body: %q", body)
	}

	again, _ := Build(context.Background(), mem, entries)
	if !bytes.Equal(data, again) {
		t.Fatalf("same inputs should give identical archives")
	}
}

func TestBuildIsAllOrNothing(t *testing.T) {
	mem := storage.NewMemory()
	mem.Put("a", []byte("a"))
	_, err := Build(context.Background(), mem, []Entry{{Name: "a.pptx", Key: "a"}, {Name: "b.pptx", Key: "b"}})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := Build(context.Background(), mem, nil); err == nil {
		t.Fatalf("empty archive should fail")
	}
	if _, err := Build(context.Background(), mem, []Entry{{Name: "a.pptx", Key: "a"}, {Name: "a.pptx", Key: "a"}}); err == nil {
		t.Fatalf("duplicate names should fail")
	}
}
