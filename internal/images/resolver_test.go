package images

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"testing"

	"deckgen/internal/jobs"
	"deckgen/internal/logger"
	"deckgen/internal/storage"
)

func samplePNG(t *testing.T) []byte {
	t.Helper()
	data, err := drawFallback()
	if err != nil {
		t.Fatalf("draw: %v", err)
	}
	return data
}

func newResolver(store storage.Store, policy jobs.MissingImagePolicy) *Resolver {
	return NewResolver(store, policy, "owner", "tpl", logger.Nop())
}

func TestResolveCandidateOrder(t *testing.T) {
	mem := storage.NewMemory()
	img := samplePNG(t)
	mem.Put("logo.png", img)
	r := newResolver(mem, jobs.MissingImageFail)

	got, err := r.Resolve(context.Background(), "logo_img", " logo.png ")
	if err != nil || !bytes.Equal(got.Data, img) {
		t.Fatalf("bare path: err=%v", err)
	}

	scoped := append([]byte(nil), img...)
	scoped = append(scoped, 0)
	mem.Put("owner/tpl/logo.png", scoped)
	got, _ = r.Resolve(context.Background(), "logo_img", "logo.png")
	if !bytes.Equal(got.Data, scoped) {
		t.Fatalf("template-scoped candidate must win")
	}

	want := []string{"owner/tpl/logo.png", "owner/logo.png", "logo.png"}
	for i, k := range r.Candidates("logo.png") {
		if k != want[i] {
			t.Fatalf("candidate %d = %q, want %q", i, k, want[i])
		}
	}
	if r.Stats().Found != 2 {
		t.Fatalf("stats: %+v", r.Stats())
	}
}

func TestResolveMissPolicies(t *testing.T) {
	ctx := context.Background()

	_, err := newResolver(storage.NewMemory(), jobs.MissingImageFail).Resolve(ctx, "logo_img", "gone.png")
	var mie *MissingImageError
	if !errors.As(err, &mie) || !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("fail policy: got %v", err)
	}

	var misses []Miss
	r := newResolver(storage.NewMemory(), jobs.MissingImagePlaceholder)
	r.OnMiss = func(m Miss) { misses = append(misses, m) }
	got, err := r.Resolve(ctx, "logo_img", "gone.png")
	if err != nil {
		t.Fatalf("placeholder policy: %v", err)
	}
	fallback, _ := Fallback()
	if !bytes.Equal(got.Data, fallback) {
		t.Fatalf("expected built-in fallback bytes")
	}
	if _, err := png.Decode(bytes.NewReader(got.Data)); err != nil {
		t.Fatalf("fallback is not a png: %v", err)
	}
	if r.Stats().Substituted != 1 || len(misses) != 1 || misses[0].Value != "gone.png" {
		t.Fatalf("stats=%+v misses=%+v", r.Stats(), misses)
	}

	s := newResolver(storage.NewMemory(), jobs.MissingImageSkip)
	got, err = s.Resolve(ctx, "logo_img", "")
	if err != nil || !got.Skip || got.Data != nil {
		t.Fatalf("skip policy: %+v %v", got, err)
	}
	if s.Stats().Skipped != 1 {
		t.Fatalf("stats: %+v", s.Stats())
	}
}

func TestResolveBackendErrorDegradesExceptUnderFail(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("bucket unavailable")
	mem := storage.NewMemory()
	mem.FailOn("owner/tpl/logo.png", boom)

	got, err := newResolver(mem, jobs.MissingImagePlaceholder).Resolve(ctx, "logo_img", "logo.png")
	if err != nil || len(got.Data) == 0 {
		t.Fatalf("placeholder should absorb backend error: %v", err)
	}

	_, err = newResolver(mem, jobs.MissingImageFail).Resolve(ctx, "logo_img", "logo.png")
	if !errors.Is(err, boom) {
		t.Fatalf("fail policy should re-raise backend error, got %v", err)
	}
}

func TestResolveRejectsNonImageObjects(t *testing.T) {
	mem := storage.NewMemory()
	mem.Put("owner/logo.png", []byte("not really a picture"))
	got, err := newResolver(mem, jobs.MissingImageSkip).Resolve(context.Background(), "logo_img", "logo.png")
	if err != nil || !got.Skip {
		t.Fatalf("non-image object should be a miss: %+v %v", got, err)
	}
}

func TestFallbackIsStable(t *testing.T) {
	a, err := Fallback()
	if err != nil {
		t.Fatalf("Fallback: %v", err)
	}
	b, _ := Fallback()
	if !bytes.Equal(a, b) || len(a) == 0 {
		t.Fatalf("fallback bytes should be stable")
	}
}
