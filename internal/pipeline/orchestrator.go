// Package pipeline coordinates the capture session lifecycle: recording,
// transcription, capsule generation, and persistence, all behind a single
// Idle/Recording/Processing state machine.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GriffinCanCode/insight-capsule/internal/generate"
	"github.com/GriffinCanCode/insight-capsule/internal/syncx"
	"github.com/GriffinCanCode/insight-capsule/internal/trace"
)

// State is the pipeline phase. Exactly one holds at a time.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateProcessing
)

func (s State) String() string {
	return [...]string{"idle", "recording", "processing"}[s]
}

const (
	titleWords = 5
	untitled   = "Untitled Insight"

	// Substituted for generation input when the transcript comes back blank,
	// so a silent take still produces a session log instead of aborting.
	emptyTranscriptPlaceholder = "User provided silent or very short audio."

	eventBuffer = 16
)

// Recorder is the audio capture collaborator.
type Recorder interface {
	Start() bool
	Stop(path string) bool
	SetSilenceHandler(fn func())
}

// Transcriber converts a recorded file to text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// Generator produces the capsule text.
type Generator interface {
	Generate(ctx context.Context, req generate.Request) (string, error)
}

// Storage persists the finished session log.
type Storage interface {
	SaveLog(title, transcript, capsule string, tags []string) (string, error)
	ExtractTags(text string) []string
}

// VectorIndex is the optional semantic index; indexing failures never fail
// the session.
type VectorIndex interface {
	Add(ctx context.Context, id, title, logPath, text string) error
}

// Result is the outcome of one processing run.
type Result struct {
	ID          string    `json:"id"`
	Success     bool      `json:"success"`
	Transcript  string    `json:"transcript"`
	Title       string    `json:"title"`
	Capsule     string    `json:"capsule"`
	Tags        []string  `json:"tags,omitempty"`
	AudioPath   string    `json:"audio_path"`
	LogPath     string    `json:"log_path,omitempty"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// Options wires the orchestrator's collaborators.
type Options struct {
	Recorder    Recorder
	Transcriber Transcriber
	Generator   Generator
	Storage     Storage
	Index       VectorIndex // may be nil
	AudioDir    string
	Temperature float64
	MaxRetries  int
}

// Orchestrator owns the state machine. All transitions happen under one
// mutex so no two transitions are ever observed interleaved.
type Orchestrator struct {
	recorder    Recorder
	transcriber Transcriber
	generator   Generator
	store       Storage
	index       VectorIndex
	audioDir    string
	temperature float64
	maxRetries  int

	mu        sync.Mutex
	state     State
	audioPath string

	latest syncx.Latest[Result]
	events chan Event
	wg     sync.WaitGroup
}

// New creates the orchestrator and hooks silence auto-stop into the recorder.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		recorder:    opts.Recorder,
		transcriber: opts.Transcriber,
		generator:   opts.Generator,
		store:       opts.Storage,
		index:       opts.Index,
		audioDir:    opts.AudioDir,
		temperature: opts.Temperature,
		maxRetries:  opts.MaxRetries,
		events:      make(chan Event, eventBuffer),
	}

	o.recorder.SetSilenceHandler(func() {
		slog.Info("silence auto-stop, ending session")
		o.StopRecording()
	})
	return o
}

// Events returns the notification channel.
func (o *Orchestrator) Events() <-chan Event {
	return o.events
}

// State returns the current phase.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// IsRecording reports whether a capture session is active.
func (o *Orchestrator) IsRecording() bool { return o.State() == StateRecording }

// IsProcessing reports whether a background run is in flight.
func (o *Orchestrator) IsProcessing() bool { return o.State() == StateProcessing }

// IsBusy reports whether the pipeline is anything but idle.
func (o *Orchestrator) IsBusy() bool { return o.State() != StateIdle }

// LatestResult returns the most recent processing result, if any.
func (o *Orchestrator) LatestResult() (Result, bool) {
	return o.latest.Load()
}

// StartRecording begins a capture session. Returns false without side
// effects when the pipeline is not idle or the stream cannot be opened.
func (o *Orchestrator) StartRecording() bool {
	o.mu.Lock()
	if o.state != StateIdle {
		slog.Warn("start rejected, pipeline busy", "state", o.state)
		o.mu.Unlock()
		return false
	}

	if !o.recorder.Start() {
		o.mu.Unlock()
		o.emit(Event{Kind: EventError, Message: "could not start recording", At: time.Now()})
		return false
	}

	o.state = StateRecording
	o.audioPath = filepath.Join(o.audioDir, fmt.Sprintf("capture-%s.wav", time.Now().Format("20060102-150405")))
	o.mu.Unlock()

	o.emit(Event{Kind: EventRecordingStart, At: time.Now()})
	return true
}

// StopRecording ends the capture session and schedules background
// processing. Returns false when not recording, or when the session yielded
// zero frames; in that case state returns to Idle and nothing is processed.
func (o *Orchestrator) StopRecording() bool {
	o.mu.Lock()
	if o.state != StateRecording {
		slog.Warn("stop rejected, not recording", "state", o.state)
		o.mu.Unlock()
		return false
	}

	path := o.audioPath
	if !o.recorder.Stop(path) {
		o.state = StateIdle
		o.mu.Unlock()
		o.emit(Event{Kind: EventError, Message: "recording produced no audio", At: time.Now()})
		return false
	}

	o.state = StateProcessing
	o.mu.Unlock()

	o.emit(Event{Kind: EventRecordingStop, At: time.Now()})
	o.emit(Event{Kind: EventProcessingStart, At: time.Now()})

	o.wg.Add(1)
	go o.process(path)
	return true
}

// Close waits for any in-flight processing run to finish.
func (o *Orchestrator) Close() {
	o.wg.Wait()
}

// process runs off the stop-trigger path. Whatever happens in the stages,
// the deferred block restores Idle exactly once and reports the outcome.
func (o *Orchestrator) process(audioPath string) {
	defer o.wg.Done()

	var res Result
	defer func() {
		o.mu.Lock()
		o.state = StateIdle
		o.mu.Unlock()

		o.latest.Store(res)
		if res.Success {
			o.emit(Event{Kind: EventProcessingComplete, Result: &res, At: time.Now()})
		} else {
			o.emit(Event{Kind: EventError, Message: res.Error, Result: &res, At: time.Now()})
		}
	}()

	// Each session gets its own trace so the stages can be followed across
	// goroutines in the logs.
	ctx, _ := trace.Ensure(context.Background())
	res = o.runStages(ctx, audioPath)
}

func (o *Orchestrator) runStages(ctx context.Context, audioPath string) (res Result) {
	res = Result{ID: uuid.NewString(), AudioPath: audioPath, Title: untitled}
	defer func() {
		res.CompletedAt = time.Now()
		if r := recover(); r != nil {
			slog.Error("processing run panicked", "panic", r)
			res.Success = false
			res.Error = fmt.Sprintf("internal failure: %v", r)
		}
	}()

	tctx, log := trace.Span(ctx, "transcribe")
	transcript, err := o.transcriber.Transcribe(tctx, audioPath)
	if err != nil {
		log.Error("transcription failed", "path", audioPath, "error", err)
		res.Error = err.Error()
		return res
	}
	res.Transcript = transcript
	res.Title = deriveTitle(transcript)

	input := transcript
	if strings.TrimSpace(transcript) == "" {
		log.Warn("transcript is empty, generating from placeholder")
		input = emptyTranscriptPlaceholder
	}

	gctx, log := trace.Span(ctx, "generate")
	capsule, err := o.generator.Generate(gctx, generate.Request{
		Prompt:      capsulePrompt(input),
		Role:        generate.RoleWriting,
		Temperature: o.temperature,
		MaxRetries:  o.maxRetries,
	})
	if err != nil {
		log.Error("capsule generation failed", "error", err)
		res.Error = err.Error()
		return res
	}
	res.Capsule = capsule

	pctx, log := trace.Span(ctx, "persist")
	res.Tags = o.store.ExtractTags(transcript)
	logPath, err := o.store.SaveLog(res.Title, transcript, capsule, res.Tags)
	if err != nil {
		log.Error("failed to persist session log", "error", err)
		res.Error = err.Error()
		return res
	}
	res.LogPath = logPath

	if o.index != nil {
		if err := o.index.Add(pctx, res.ID, res.Title, logPath, transcript+"\n\n"+capsule); err != nil {
			log.Warn("vector indexing failed", "id", res.ID, "error", err)
		}
	}

	log.Info("session complete", "id", res.ID, "title", res.Title, "log", logPath)
	res.Success = true
	return res
}

// emit delivers an event without ever blocking the pipeline.
func (o *Orchestrator) emit(ev Event) {
	select {
	case o.events <- ev:
	default:
		slog.Debug("event channel full, dropping", "kind", ev.Kind)
	}
}

// deriveTitle takes the first few words of the transcript.
func deriveTitle(transcript string) string {
	words := strings.Fields(transcript)
	if len(words) == 0 {
		return untitled
	}
	if len(words) <= titleWords {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:titleWords], " ") + "..."
}
