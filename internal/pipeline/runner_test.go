package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"deckgen/internal/deck"
	"deckgen/internal/events"
	"deckgen/internal/images"
	"deckgen/internal/jobs"
	"deckgen/internal/storage"
	"deckgen/internal/testutil"
)

type harness struct {
	repo    *jobs.Repo
	objects *storage.Memory
	events  *events.Recorder
	runner  *Runner
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		repo:    &jobs.Repo{DB: testutil.DB(t)},
		objects: storage.NewMemory(),
		events:  &events.Recorder{},
	}
	h.runner = NewRunner(h.repo, h.objects, h.events, testutil.Logger(t), "test-worker", deck.DefaultPlacement)
	return h
}

type jobFixture struct {
	template         []byte
	data             string
	dataName         string
	filenameTemplate string
	policy           jobs.MissingImagePolicy
}

func (h *harness) enqueue(t *testing.T, fx jobFixture) *jobs.Job {
	t.Helper()
	ctx := context.Background()
	owner := uuid.New()
	if fx.dataName == "" {
		fx.dataName = "data.csv"
	}

	tpl := &jobs.Template{OwnerUserID: owner, Name: "deck.pptx", StoragePath: storage.Key(owner.String(), uuid.NewString()+".pptx")}
	if err := h.repo.DB.Create(tpl).Error; err != nil {
		t.Fatalf("create template: %v", err)
	}
	up := &jobs.CsvUpload{OwnerUserID: owner, Name: fx.dataName, StoragePath: storage.Key(owner.String(), uuid.NewString()+"-"+fx.dataName)}
	if err := h.repo.DB.Create(up).Error; err != nil {
		t.Fatalf("create upload: %v", err)
	}
	h.objects.Put(tpl.StoragePath, fx.template)
	h.objects.Put(up.StoragePath, []byte(fx.data))

	j := &jobs.Job{
		OwnerUserID:          owner,
		TemplateID:           tpl.ID,
		CsvUploadID:          up.ID,
		FilenameTemplate:     fx.filenameTemplate,
		MissingImageBehavior: fx.policy,
		CreatedAt:            time.Now().UTC(),
	}
	if err := h.repo.Enqueue(ctx, j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	j.Template, j.CsvUpload = *tpl, *up
	return j
}

func (h *harness) run(t *testing.T) (Result, *jobs.Job) {
	t.Helper()
	res, err := h.runner.RunNext(context.Background())
	if err != nil {
		t.Fatalf("RunNext: %v", err)
	}
	if !res.Claimed {
		t.Fatalf("nothing claimed")
	}
	job, err := h.repo.Get(context.Background(), res.JobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return res, job
}

// outputs lists per-row and archive keys written under the job's prefix.
func (h *harness) outputs(job *jobs.Job) []string {
	prefix := job.OwnerUserID.String() + "/" + job.ID.String() + "/"
	var out []string
	for _, k := range h.objects.Keys() {
		if strings.HasPrefix(k, prefix) {
			out = append(out, strings.TrimPrefix(k, prefix))
		}
	}
	return out
}

func logoPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{B: 200, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png: %v", err)
	}
	return buf.Bytes()
}

func archiveEntries(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	out := map[string][]byte{}
	for _, f := range zr.File {
		rc, _ := f.Open()
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(rc)
		_ = rc.Close()
		out[f.Name] = buf.Bytes()
	}
	return out
}

func logoTemplate(t *testing.T) []byte {
	return testutil.PPTX(t, testutil.TextSlide("{{company}}", "{{logo_img}}"))
}

func TestScenarioPlaceholderSubstitution(t *testing.T) {
	h := newHarness(t)
	job := h.enqueue(t, jobFixture{
		template:         logoTemplate(t),
		data:             "company,logo_img\nAcme,logo.png\nBeta,missing.png\n",
		filenameTemplate: "{{company}}",
		policy:           jobs.MissingImagePlaceholder,
	})
	logo := logoPNG(t)
	h.objects.Put(storage.Key(job.OwnerUserID.String(), "logo.png"), logo)

	res, got := h.run(t)
	if res.Status != jobs.StatusDone || got.Status != jobs.StatusDone {
		t.Fatalf("status: res=%+v job=%s err=%v", res, got.Status, got.ErrorMessage)
	}
	if res.RowsSucceeded != 2 || got.RowsSucceeded != 2 || got.RowsTotal != 2 {
		t.Fatalf("counts: %+v", got)
	}
	if got.Notes == nil || !strings.Contains(*got.Notes, "1 image substitution") {
		t.Fatalf("notes: %v", got.Notes)
	}

	outs := h.outputs(got)
	want := []string{"Acme.pptx", "Beta.pptx", ArchiveName}
	if strings.Join(outs, ",") != strings.Join(want, ",") {
		t.Fatalf("outputs: %v", outs)
	}

	zipped, err := h.objects.Download(context.Background(), *got.OutputArchivePath)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	entries := archiveEntries(t, zipped)
	fallback, _ := images.Fallback()
	if !bytes.Equal(testutil.Part(t, entries["Acme.pptx"], "ppt/media/image1.png"), logo) {
		t.Fatalf("row 1 should embed the stored logo")
	}
	if !bytes.Equal(testutil.Part(t, entries["Beta.pptx"], "ppt/media/image1.png"), fallback) {
		t.Fatalf("row 2 should embed the built-in placeholder")
	}
	slide := string(testutil.Part(t, entries["Beta.pptx"], "ppt/slides/slide1.xml"))
	if !strings.Contains(slide, "<a:t>Beta</a:t>") || strings.Contains(slide, "{{") {
		t.Fatalf("row 2 slide not fully rendered: %s", slide)
	}
}

func TestScenarioFailPolicyLeavesNoOutputs(t *testing.T) {
	h := newHarness(t)
	job := h.enqueue(t, jobFixture{
		template:         logoTemplate(t),
		data:             "company,logo_img\nAcme,logo.png\nBeta,missing.png\n",
		filenameTemplate: "{{company}}",
		policy:           jobs.MissingImageFail,
	})
	h.objects.Put(storage.Key(job.OwnerUserID.String(), "logo.png"), logoPNG(t))

	res, got := h.run(t)
	if res.Status != jobs.StatusError || got.Status != jobs.StatusError {
		t.Fatalf("expected error, got %s", got.Status)
	}
	if got.ErrorMessage == nil || !strings.Contains(*got.ErrorMessage, "missing.png") {
		t.Fatalf("error message: %v", got.ErrorMessage)
	}
	if got.FinishedAt == nil || got.OutputArchivePath != nil {
		t.Fatalf("finished_at=%v archive=%v", got.FinishedAt, got.OutputArchivePath)
	}
	if outs := h.outputs(got); len(outs) != 0 {
		t.Fatalf("failed job left outputs behind: %v", outs)
	}
}

func TestScenarioDuplicateFilenames(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, jobFixture{
		template:         testutil.PPTX(t, testutil.TextSlide("Hi {{company}}")),
		data:             "company\nAcme\nAcme\n",
		filenameTemplate: "{{company}}",
	})
	_, got := h.run(t)
	if got.Status != jobs.StatusDone {
		t.Fatalf("status: %s %v", got.Status, got.ErrorMessage)
	}
	zipped, _ := h.objects.Download(context.Background(), *got.OutputArchivePath)
	entries := archiveEntries(t, zipped)
	if len(entries) != 2 || entries["Acme.pptx"] == nil || entries["Acme_1.pptx"] == nil {
		t.Fatalf("archive entries: %v", keysOf(entries))
	}
}

func TestSkipPolicyDropsImage(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, jobFixture{
		template:         logoTemplate(t),
		data:             "company,logo_img\nAcme,missing.png\n",
		filenameTemplate: "{{company}}",
		policy:           jobs.MissingImageSkip,
	})

	_, got := h.run(t)
	if got.Status != jobs.StatusDone {
		t.Fatalf("status: %s %v", got.Status, got.ErrorMessage)
	}
	if got.Notes == nil || *got.Notes != "1 image skipped" {
		t.Fatalf("notes: %v", got.Notes)
	}
	doc, err := h.objects.Download(context.Background(), got.OwnerUserID.String()+"/"+got.ID.String()+"/Acme.pptx")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	slide := string(testutil.Part(t, doc, "ppt/slides/slide1.xml"))
	if strings.Contains(slide, "_img}}") || strings.Contains(slide, "<p:pic>") {
		t.Fatalf("skipped image left a literal or a picture: %s", slide)
	}
	if _, ok := testutil.Parts(t, doc)["ppt/media/image1.png"]; ok {
		t.Fatalf("skipped image should not add a media part")
	}
}

func TestUnmatchedTemplateVariableIsWarning(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, jobFixture{
		template:         testutil.PPTX(t, testutil.TextSlide("{{company}} in {{region}}")),
		data:             "company\nAcme\n",
		filenameTemplate: "{{company}}",
	})

	_, got := h.run(t)
	if got.Status != jobs.StatusDone {
		t.Fatalf("status: %s %v", got.Status, got.ErrorMessage)
	}
	if !strings.Contains(string(got.Warnings), "region has no matching column") {
		t.Fatalf("warnings: %s", got.Warnings)
	}
	var warned bool
	for _, ev := range h.events.Events() {
		if ev.Phase == PhaseScan && ev.Level == events.LevelWarn && strings.Contains(ev.Message, "region") {
			warned = true
		}
	}
	if !warned {
		t.Fatalf("no scan warning event: %+v", h.events.Events())
	}
}

func TestRoundTripWithoutImages(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, jobFixture{
		template:         testutil.PPTX(t, testutil.TextSlide("{{name}} / {{amount}}")),
		data:             "name;amount\nA;1.5E10\nB;2\nC;3\n",
		filenameTemplate: "{{name}}-{{amount}}",
	})
	res, got := h.run(t)
	if got.Status != jobs.StatusDone || res.RowsSucceeded != 3 {
		t.Fatalf("result: %+v", res)
	}
	if got.Notes != nil {
		t.Fatalf("clean run should carry no notes: %q", *got.Notes)
	}
	outs := h.outputs(got)
	if len(outs) != 4 || outs[0] != "A-1.5E10.pptx" {
		t.Fatalf("outputs: %v", outs)
	}
	doc, _ := h.objects.Download(context.Background(), got.OwnerUserID.String()+"/"+got.ID.String()+"/A-1.5E10.pptx")
	if !strings.Contains(string(testutil.Part(t, doc, "ppt/slides/slide1.xml")), "A / 1.5E10") {
		t.Fatalf("value coerced or not rendered")
	}
}

func TestProgressIsMonotonicAndEndsAt100(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, jobFixture{
		template:         testutil.PPTX(t, testutil.TextSlide("{{x}}")),
		data:             "x\n1\n2\n3\n4\n5\n",
		filenameTemplate: "{{x}}",
	})
	_, got := h.run(t)
	if got.Progress != 100 {
		t.Fatalf("final progress %d", got.Progress)
	}

	var seen []int
	for _, ev := range h.events.Events() {
		if ev.JobID != got.ID.String() || ev.Phase == "" || ev.Level == "" {
			t.Fatalf("event missing context: %+v", ev)
		}
		seen = append(seen, ev.Progress)
	}
	if len(seen) == 0 || seen[0] > 5 || seen[len(seen)-1] != 100 {
		t.Fatalf("progress sequence: %v", seen)
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] {
			t.Fatalf("progress went backwards: %v", seen)
		}
	}
}

func TestRowFailuresAreTolerated(t *testing.T) {
	h := newHarness(t)
	job := h.enqueue(t, jobFixture{
		template:         testutil.PPTX(t, testutil.TextSlide("{{company}}")),
		data:             "company\nAcme\nBeta\n",
		filenameTemplate: "{{company}}",
	})
	h.objects.FailOn(storage.Key(job.OwnerUserID.String(), job.ID.String(), "Beta.pptx"), errors.New("quota"))

	res, got := h.run(t)
	if got.Status != jobs.StatusDone || res.RowsFailed != 1 || got.RowsFailed != 1 {
		t.Fatalf("result: %+v status=%s", res, got.Status)
	}
	if got.Notes == nil || !strings.Contains(*got.Notes, "1 row failed") {
		t.Fatalf("notes: %v", got.Notes)
	}
	if !strings.Contains(string(got.Warnings), "row 2") {
		t.Fatalf("warnings: %s", got.Warnings)
	}
}

func TestZeroSuccessfulRowsIsAnError(t *testing.T) {
	h := newHarness(t)
	job := h.enqueue(t, jobFixture{
		template:         testutil.PPTX(t, testutil.TextSlide("{{company}}")),
		data:             "company\nAcme\n",
		filenameTemplate: "{{company}}",
	})
	h.objects.FailOn(storage.Key(job.OwnerUserID.String(), job.ID.String(), "Acme.pptx"), errors.New("quota"))

	_, got := h.run(t)
	if got.Status != jobs.StatusError || got.ErrorMessage == nil || !strings.Contains(*got.ErrorMessage, "all 1 rows failed") {
		t.Fatalf("job: %s %v", got.Status, got.ErrorMessage)
	}
}

func TestJobFatalErrors(t *testing.T) {
	cases := []struct {
		name    string
		fixture jobFixture
		setup   func(h *harness, job *jobs.Job)
		want    string
	}{
		{
			name:    "malformed template",
			fixture: jobFixture{template: testutil.PPTX(t, testutil.TextSlide("{{company")), data: "company\nA\n"},
			want:    "unclosed tag",
		},
		{
			name:    "not a presentation",
			fixture: jobFixture{template: []byte("plain text"), data: "company\nA\n"},
			want:    "not a zip container",
		},
		{
			name:    "empty data",
			fixture: jobFixture{template: testutil.PPTX(t, testutil.TextSlide("x")), data: "company\n"},
			want:    "no data rows",
		},
		{
			name:    "template missing from storage",
			fixture: jobFixture{template: testutil.PPTX(t, testutil.TextSlide("x")), data: "a\n1\n"},
			setup: func(h *harness, job *jobs.Job) {
				_ = h.objects.Delete(context.Background(), job.Template.StoragePath)
			},
			want: "download template input",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			job := h.enqueue(t, tc.fixture)
			if tc.setup != nil {
				tc.setup(h, job)
			}
			_, got := h.run(t)
			if got.Status != jobs.StatusError || got.ErrorMessage == nil || !strings.Contains(*got.ErrorMessage, tc.want) {
				t.Fatalf("job: %s %v", got.Status, got.ErrorMessage)
			}
		})
	}
}

func TestRunNextWithEmptyQueue(t *testing.T) {
	h := newHarness(t)
	res, err := h.runner.RunNext(context.Background())
	if err != nil || res.Claimed {
		t.Fatalf("expected nothing claimed: %+v %v", res, err)
	}
}

func TestFetchInputsReportsPhase(t *testing.T) {
	mem := storage.NewMemory()
	mem.Put("t", []byte("tpl"))
	_, err := FetchInputs(context.Background(), mem, "t", "d")
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Phase != PhaseData || !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected data fetch error, got %v", err)
	}
	mem.Put("d", []byte("data"))
	in, err := FetchInputs(context.Background(), mem, "t", "d")
	if err != nil || string(in.Template) != "tpl" || string(in.Data) != "data" {
		t.Fatalf("fetch: %+v %v", in, err)
	}
}

func TestReporterNeverMovesBackwards(t *testing.T) {
	h := newHarness(t)
	rec := &events.Recorder{}
	rep := newJobReporter(uuid.New(), h.repo, testutil.Logger(t), rec)
	ctx := context.Background()
	for _, p := range []int{0, 10, 7, 10, 120} {
		rep.Progress(ctx, p, PhaseRows, "step")
	}
	var got []int
	for _, ev := range rec.Events() {
		got = append(got, ev.Progress)
	}
	if len(got) != 3 || got[0] != 0 || got[1] != 10 || got[2] != 100 {
		t.Fatalf("progress events: %v", got)
	}
	if rowProgress(0, 4) != 5 || rowProgress(4, 4) != 85 || archiveProgress(1, 1) != 97 {
		t.Fatalf("bands off")
	}
}

func keysOf(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
