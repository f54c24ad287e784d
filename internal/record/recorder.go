// Package record owns the audio capture lifecycle: stream open/close, the
// session frame buffer, silence-triggered auto-stop, and the drain to disk.
package record

import (
	"log/slog"
	"math"
	"os"
	"sync"
	"time"
)

// Stream is a live audio input stream.
type Stream interface {
	Start() error
	Stop() error
	Close() error
}

// StreamSource opens input streams. The callback receives each captured
// frame on the audio subsystem's own goroutine.
type StreamSource interface {
	Open(onFrame func(samples []float32)) (Stream, error)
}

// Config controls capture behavior.
type Config struct {
	SampleRate       int
	Channels         int
	SilenceDetection bool
	SilenceThreshold float64 // RMS amplitude below which a frame counts as silent
	SilenceDuration  time.Duration
}

const drainGrace = 100 * time.Millisecond

// Recorder captures audio frames into an in-memory session buffer.
// Start/Stop are non-blocking and idempotent-reject: a call in the wrong
// state returns false instead of raising, so UI callers can poll freely.
type Recorder struct {
	source StreamSource
	cfg    Config

	mu        sync.Mutex
	recording bool
	stream    Stream

	bufMu  sync.Mutex
	frames [][]float32

	silenceMu    sync.Mutex
	silenceStart time.Time
	silenceFired bool
	onSilence    func()

	now   func() time.Time
	grace time.Duration
}

// New creates a recorder over the given stream source.
func New(source StreamSource, cfg Config) *Recorder {
	return &Recorder{
		source: source,
		cfg:    cfg,
		now:    time.Now,
		grace:  drainGrace,
	}
}

// SetSilenceHandler registers the auto-stop callback. It fires at most once
// per session, on its own goroutine, so the frame-delivery path never blocks
// on stop/teardown work.
func (r *Recorder) SetSilenceHandler(fn func()) {
	r.silenceMu.Lock()
	defer r.silenceMu.Unlock()
	r.onSilence = fn
}

// IsRecording reports whether a session is active.
func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Start opens the input stream and begins buffering frames.
// Returns false if already recording or the stream cannot be opened.
func (r *Recorder) Start() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		slog.Warn("already recording")
		return false
	}

	r.clearBuffer()
	r.resetSilence()

	stream, err := r.source.Open(r.handleFrame)
	if err != nil {
		slog.Error("failed to open audio stream", "error", err)
		return false
	}
	if err := stream.Start(); err != nil {
		slog.Error("failed to start audio stream", "error", err)
		_ = stream.Close()
		return false
	}

	r.stream = stream
	r.recording = true
	slog.Info("recording started")
	return true
}

// Stop closes the stream and drains buffered frames to a WAV file at path.
// Returns false if not recording, or if the session captured zero frames —
// in that case any partial file is deleted.
func (r *Recorder) Stop(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording {
		slog.Warn("not currently recording")
		return false
	}

	if r.stream != nil {
		_ = r.stream.Stop()
		_ = r.stream.Close()
		r.stream = nil
	}
	r.recording = false

	// Let in-flight frames from the audio callback land before draining.
	time.Sleep(r.grace)

	frames := r.drain()
	if len(frames) == 0 {
		slog.Warn("no audio data was recorded")
		removePartial(path)
		return false
	}

	if err := writeWAV(path, r.cfg.SampleRate, r.cfg.Channels, frames); err != nil {
		slog.Error("failed to save recording", "path", path, "error", err)
		removePartial(path)
		return false
	}

	slog.Info("recording saved", "path", path, "frames", len(frames))
	return true
}

// handleFrame runs on the audio callback goroutine: append the frame to the
// session buffer in delivery order, then run silence detection.
func (r *Recorder) handleFrame(samples []float32) {
	frame := make([]float32, len(samples))
	copy(frame, samples)

	r.bufMu.Lock()
	r.frames = append(r.frames, frame)
	r.bufMu.Unlock()

	if r.cfg.SilenceDetection {
		r.checkSilence(frame)
	}
}

// checkSilence tracks continuous sub-threshold audio and fires the auto-stop
// handler exactly once per session.
func (r *Recorder) checkSilence(frame []float32) {
	amplitude := rms(frame)

	r.silenceMu.Lock()
	defer r.silenceMu.Unlock()

	if amplitude >= r.cfg.SilenceThreshold {
		r.silenceStart = time.Time{}
		return
	}

	now := r.now()
	if r.silenceStart.IsZero() {
		r.silenceStart = now
		return
	}
	if r.silenceFired || now.Sub(r.silenceStart) < r.cfg.SilenceDuration {
		return
	}

	r.silenceFired = true
	slog.Info("silence detected, triggering auto-stop", "duration", r.cfg.SilenceDuration)
	if r.onSilence != nil {
		go r.onSilence()
	}
}

// rms computes root-mean-square amplitude of a frame.
func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func (r *Recorder) clearBuffer() {
	r.bufMu.Lock()
	defer r.bufMu.Unlock()
	r.frames = nil
}

func (r *Recorder) drain() [][]float32 {
	r.bufMu.Lock()
	defer r.bufMu.Unlock()
	frames := r.frames
	r.frames = nil
	return frames
}

func (r *Recorder) resetSilence() {
	r.silenceMu.Lock()
	defer r.silenceMu.Unlock()
	r.silenceStart = time.Time{}
	r.silenceFired = false
}

func removePartial(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Debug("could not remove partial file", "path", path, "error", err)
	}
}
