package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/GriffinCanCode/insight-capsule/internal/errs"
	"github.com/GriffinCanCode/insight-capsule/internal/generate"
)

type fakeRecorder struct {
	startOK bool
	stopOK  bool
	starts  int
	stops   int
	silence func()
}

func (r *fakeRecorder) Start() bool               { r.starts++; return r.startOK }
func (r *fakeRecorder) Stop(string) bool          { r.stops++; return r.stopOK }
func (r *fakeRecorder) SetSilenceHandler(f func()) { r.silence = f }

type fakeTranscriber struct {
	text string
	err  error
}

func (t *fakeTranscriber) Transcribe(context.Context, string) (string, error) {
	return t.text, t.err
}

type fakeGenerator struct {
	reply   string
	err     error
	gotReq  generate.Request
	panics  bool
	started chan struct{} // closed on first call when non-nil
	release chan struct{} // blocks until closed when non-nil
}

func (g *fakeGenerator) Generate(_ context.Context, req generate.Request) (string, error) {
	g.gotReq = req
	if g.started != nil {
		close(g.started)
		g.started = nil
	}
	if g.release != nil {
		<-g.release
	}
	if g.panics {
		panic("generator blew up")
	}
	return g.reply, g.err
}

type fakeStorage struct {
	logPath string
	err     error
}

func (s *fakeStorage) SaveLog(title, transcript, capsule string, tags []string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.logPath, nil
}

func (s *fakeStorage) ExtractTags(text string) []string {
	if strings.Contains(text, "#go") {
		return []string{"go"}
	}
	return nil
}

type fakeIndex struct {
	added int
	err   error
}

func (ix *fakeIndex) Add(context.Context, string, string, string, string) error {
	ix.added++
	return ix.err
}

func newTestOrchestrator(t *testing.T, rec *fakeRecorder, tr *fakeTranscriber, gen *fakeGenerator, st *fakeStorage, ix VectorIndex) *Orchestrator {
	t.Helper()
	o := New(Options{
		Recorder:    rec,
		Transcriber: tr,
		Generator:   gen,
		Storage:     st,
		Index:       ix,
		AudioDir:    t.TempDir(),
		Temperature: 0.7,
		MaxRetries:  2,
	})
	t.Cleanup(o.Close)
	return o
}

// waitEvent drains the event channel until kind appears or the test times out.
func waitEvent(t *testing.T, o *Orchestrator, kind EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-o.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

func TestStartRecording(t *testing.T) {
	rec := &fakeRecorder{startOK: true, stopOK: true}
	o := newTestOrchestrator(t, rec, &fakeTranscriber{}, &fakeGenerator{}, &fakeStorage{}, nil)

	if !o.StartRecording() {
		t.Fatal("StartRecording() = false, want true")
	}
	if o.State() != StateRecording {
		t.Errorf("State() = %v, want Recording", o.State())
	}
	waitEvent(t, o, EventRecordingStart)
}

func TestDoubleStartRejected(t *testing.T) {
	rec := &fakeRecorder{startOK: true, stopOK: true}
	o := newTestOrchestrator(t, rec, &fakeTranscriber{}, &fakeGenerator{}, &fakeStorage{}, nil)

	o.StartRecording()
	if o.StartRecording() {
		t.Error("second StartRecording() = true, want false")
	}
	if o.State() != StateRecording {
		t.Errorf("State() = %v, rejection must not disturb the session", o.State())
	}
	if rec.starts != 1 {
		t.Errorf("recorder started %d times, want 1", rec.starts)
	}
}

func TestStartFailsWhenStreamWontOpen(t *testing.T) {
	rec := &fakeRecorder{startOK: false}
	o := newTestOrchestrator(t, rec, &fakeTranscriber{}, &fakeGenerator{}, &fakeStorage{}, nil)

	if o.StartRecording() {
		t.Error("StartRecording() = true with failing recorder")
	}
	if o.State() != StateIdle {
		t.Errorf("State() = %v, want Idle", o.State())
	}
	waitEvent(t, o, EventError)
}

func TestStopWithoutRecording(t *testing.T) {
	o := newTestOrchestrator(t, &fakeRecorder{}, &fakeTranscriber{}, &fakeGenerator{}, &fakeStorage{}, nil)
	if o.StopRecording() {
		t.Error("StopRecording() = true while idle")
	}
}

func TestStopZeroFramesReturnsToIdle(t *testing.T) {
	rec := &fakeRecorder{startOK: true, stopOK: false}
	o := newTestOrchestrator(t, rec, &fakeTranscriber{}, &fakeGenerator{}, &fakeStorage{}, nil)

	o.StartRecording()
	if o.StopRecording() {
		t.Error("StopRecording() = true for empty session")
	}
	if o.State() != StateIdle {
		t.Errorf("State() = %v, want Idle with no processing scheduled", o.State())
	}
	waitEvent(t, o, EventError)
	if _, ok := o.LatestResult(); ok {
		t.Error("empty session must not produce a result")
	}
}

func TestEndToEndSession(t *testing.T) {
	rec := &fakeRecorder{startOK: true, stopOK: true}
	gen := &fakeGenerator{reply: "the distilled insight"}
	ix := &fakeIndex{}
	o := newTestOrchestrator(t, rec,
		&fakeTranscriber{text: "hello world"},
		gen,
		&fakeStorage{logPath: "/logs/2026-08-23-hello-world.md"},
		ix,
	)

	if !o.StartRecording() {
		t.Fatal("StartRecording() failed")
	}
	if !o.StopRecording() {
		t.Fatal("StopRecording() failed")
	}
	waitEvent(t, o, EventRecordingStop)
	waitEvent(t, o, EventProcessingStart)

	ev := waitEvent(t, o, EventProcessingComplete)
	if ev.Result == nil || !ev.Result.Success {
		t.Fatalf("result = %+v, want success", ev.Result)
	}
	if ev.Result.Title != "hello world" {
		t.Errorf("title = %q, want transcript-derived title", ev.Result.Title)
	}
	if ev.Result.Capsule != "the distilled insight" {
		t.Errorf("capsule = %q", ev.Result.Capsule)
	}
	if ev.Result.LogPath == "" {
		t.Error("log path empty")
	}
	if ev.Result.ID == "" {
		t.Error("result ID empty")
	}

	o.Close()
	if o.State() != StateIdle {
		t.Errorf("State() = %v after completion, want Idle", o.State())
	}
	if got, ok := o.LatestResult(); !ok || got.ID != ev.Result.ID {
		t.Error("latest result not retained")
	}
	if ix.added != 1 {
		t.Errorf("index.Add called %d times, want 1", ix.added)
	}
	if !strings.Contains(gen.gotReq.Prompt, "hello world") {
		t.Error("transcript missing from generation prompt")
	}
	if gen.gotReq.Role != generate.RoleWriting {
		t.Errorf("role = %v, want writing", gen.gotReq.Role)
	}
}

func TestSilenceAutoStopRunsFullPipeline(t *testing.T) {
	rec := &fakeRecorder{startOK: true, stopOK: true}
	o := newTestOrchestrator(t, rec,
		&fakeTranscriber{text: "auto stopped idea"},
		&fakeGenerator{reply: "capsule"},
		&fakeStorage{logPath: "/logs/x.md"},
		nil,
	)

	o.StartRecording()
	if rec.silence == nil {
		t.Fatal("silence handler not registered")
	}
	rec.silence()

	ev := waitEvent(t, o, EventProcessingComplete)
	if !ev.Result.Success {
		t.Errorf("result = %+v, want success", ev.Result)
	}
	if rec.stops != 1 {
		t.Errorf("recorder stopped %d times, want 1", rec.stops)
	}
}

func TestStartRejectedWhileProcessing(t *testing.T) {
	rec := &fakeRecorder{startOK: true, stopOK: true}
	gen := &fakeGenerator{
		reply:   "capsule",
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	started := gen.started
	o := newTestOrchestrator(t, rec, &fakeTranscriber{text: "busy"}, gen, &fakeStorage{logPath: "/l.md"}, nil)

	o.StartRecording()
	o.StopRecording()
	<-started

	if o.State() != StateProcessing {
		t.Fatalf("State() = %v, want Processing", o.State())
	}
	if o.StartRecording() {
		t.Error("StartRecording() = true while processing")
	}
	if !o.IsBusy() {
		t.Error("IsBusy() = false while processing")
	}

	close(gen.release)
	waitEvent(t, o, EventProcessingComplete)
}

func TestEmptyTranscriptUsesPlaceholder(t *testing.T) {
	rec := &fakeRecorder{startOK: true, stopOK: true}
	gen := &fakeGenerator{reply: "capsule from silence"}
	o := newTestOrchestrator(t, rec, &fakeTranscriber{text: "   "}, gen, &fakeStorage{logPath: "/l.md"}, nil)

	o.StartRecording()
	o.StopRecording()
	ev := waitEvent(t, o, EventProcessingComplete)

	if ev.Result.Title != untitled {
		t.Errorf("title = %q, want %q", ev.Result.Title, untitled)
	}
	if !strings.Contains(gen.gotReq.Prompt, emptyTranscriptPlaceholder) {
		t.Error("placeholder not substituted into generation prompt")
	}
	if !ev.Result.Success {
		t.Error("silent session should still complete")
	}
}

func TestTranscriptionFailure(t *testing.T) {
	rec := &fakeRecorder{startOK: true, stopOK: true}
	o := newTestOrchestrator(t, rec,
		&fakeTranscriber{err: errs.New(errs.TranscriptionFailed, "model gone")},
		&fakeGenerator{}, &fakeStorage{}, nil)

	o.StartRecording()
	o.StopRecording()
	ev := waitEvent(t, o, EventError)

	if ev.Message == "" {
		t.Error("error event carries no message")
	}
	o.Close()
	if o.State() != StateIdle {
		t.Errorf("State() = %v, failures must restore Idle", o.State())
	}
	if res, ok := o.LatestResult(); !ok || res.Success {
		t.Errorf("latest = (%+v, %v), want retained failure", res, ok)
	}
}

func TestGenerationFailure(t *testing.T) {
	rec := &fakeRecorder{startOK: true, stopOK: true}
	o := newTestOrchestrator(t, rec,
		&fakeTranscriber{text: "an idea"},
		&fakeGenerator{err: errs.New(errs.GenerationUnavailable, "all backends failed")},
		&fakeStorage{}, nil)

	o.StartRecording()
	o.StopRecording()
	waitEvent(t, o, EventError)
	o.Close()
	if o.State() != StateIdle {
		t.Errorf("State() = %v, want Idle", o.State())
	}
}

func TestStorageFailure(t *testing.T) {
	rec := &fakeRecorder{startOK: true, stopOK: true}
	o := newTestOrchestrator(t, rec,
		&fakeTranscriber{text: "an idea"},
		&fakeGenerator{reply: "capsule"},
		&fakeStorage{err: errs.New(errs.StorageFailed, "disk full")},
		nil)

	o.StartRecording()
	o.StopRecording()
	waitEvent(t, o, EventError)
	o.Close()
	if o.State() != StateIdle {
		t.Errorf("State() = %v, want Idle", o.State())
	}
}

func TestIndexFailureDoesNotFailSession(t *testing.T) {
	rec := &fakeRecorder{startOK: true, stopOK: true}
	ix := &fakeIndex{err: errs.New(errs.StorageFailed, "sqlite locked")}
	o := newTestOrchestrator(t, rec,
		&fakeTranscriber{text: "an idea with #go"},
		&fakeGenerator{reply: "capsule"},
		&fakeStorage{logPath: "/l.md"},
		ix)

	o.StartRecording()
	o.StopRecording()
	ev := waitEvent(t, o, EventProcessingComplete)

	if !ev.Result.Success {
		t.Error("indexing is best effort, session must still succeed")
	}
	if len(ev.Result.Tags) != 1 || ev.Result.Tags[0] != "go" {
		t.Errorf("tags = %v, want [go]", ev.Result.Tags)
	}
}

func TestPanicInStageRestoresIdle(t *testing.T) {
	rec := &fakeRecorder{startOK: true, stopOK: true}
	o := newTestOrchestrator(t, rec,
		&fakeTranscriber{text: "an idea"},
		&fakeGenerator{panics: true},
		&fakeStorage{}, nil)

	o.StartRecording()
	o.StopRecording()
	ev := waitEvent(t, o, EventError)

	if !strings.Contains(ev.Message, "generator blew up") {
		t.Errorf("error message = %q, want panic payload", ev.Message)
	}
	o.Close()
	if o.State() != StateIdle {
		t.Errorf("State() = %v, panic must still restore Idle", o.State())
	}

	// The machine is usable again after the panic.
	if !o.StartRecording() {
		t.Error("StartRecording() = false after recovered panic")
	}
}

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", untitled},
		{"whitespace", "   ", untitled},
		{"short", "hello world", "hello world"},
		{"exactly five", "one two three four five", "one two three four five"},
		{"truncated", "one two three four five six", "one two three four five..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := deriveTitle(tt.in); got != tt.want {
				t.Errorf("deriveTitle(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
