package generate

import (
	"context"
	"log/slog"
	"time"

	"github.com/GriffinCanCode/insight-capsule/internal/errs"
	"github.com/GriffinCanCode/insight-capsule/internal/trace"
)

// backend is a selectable generation target.
type backend interface {
	TextGenerator
	Name() string
}

// Options configures hybrid construction.
type Options struct {
	PreferLocal bool
	LocalURL    string
	LocalModel  string
	EmbedModel  string
	RemoteURL   string
	RemoteKey   string
	RoleModels  map[string]string
	Timeout     time.Duration
}

// Hybrid composes the local and remote backends: prefer one, fall back to
// the other, surface a single terminal failure when both are exhausted.
type Hybrid struct {
	preferLocal bool
	local       backend
	remote      backend
	embedder    *LocalClient // non-nil when local was constructed, even if generation probe failed
}

// New builds a Hybrid. Backend availability is probed once, here; a backend
// that dies mid-session is only discovered on its next failed call.
// Construction never fails: with neither backend available the hybrid still
// exists and every Generate call returns GenerationUnavailable.
func New(ctx context.Context, opts Options) *Hybrid {
	h := &Hybrid{preferLocal: opts.PreferLocal}
	slog.Info("initializing hybrid generator", "prefer_local", opts.PreferLocal)

	local := NewLocalClient(opts.LocalURL, opts.LocalModel, opts.EmbedModel, opts.Timeout)
	h.embedder = local
	if err := local.Probe(ctx); err != nil {
		slog.Warn("local backend unavailable, will fall back to remote", "error", err)
	} else {
		slog.Info("local backend available", "url", opts.LocalURL, "model", opts.LocalModel)
		h.local = local
	}

	if h.local == nil || !opts.PreferLocal {
		remote, err := NewRemoteClient(opts.RemoteURL, opts.RemoteKey, opts.RoleModels, opts.Timeout)
		if err != nil {
			// Missing credential is a degraded mode, not a construction failure.
			slog.Warn("remote backend unavailable", "error", err)
		} else {
			slog.Info("remote backend available")
			h.remote = remote
		}
	}
	return h
}

// newHybrid wires explicit backends; used by tests.
func newHybrid(preferLocal bool, local, remote backend) *Hybrid {
	return &Hybrid{preferLocal: preferLocal, local: local, remote: remote}
}

// Available reports whether any backend can serve Generate.
func (h *Hybrid) Available() bool {
	return h.local != nil || h.remote != nil
}

// Embedder returns the local embedding client, or nil when the local side
// was never constructed.
func (h *Hybrid) Embedder() *LocalClient { return h.embedder }

// Generate routes to the preferred backend and falls back on failure.
// Each backend internally retries its own attempts; an error returned here
// means every configured backend was exhausted.
func (h *Hybrid) Generate(ctx context.Context, req Request) (string, error) {
	if req.Prompt == "" {
		return "", errs.New(errs.InvalidArgument, "prompt must not be empty")
	}
	log := trace.Logger(ctx)

	var lastErr error
	if h.preferLocal && h.local != nil {
		log.Info("routing generation", "backend", h.local.Name())
		text, err := h.local.Generate(ctx, req)
		if err == nil {
			return text, nil
		}
		lastErr = err
		log.Warn("local generation failed, trying remote", "error", err)
	}

	if h.remote != nil {
		log.Info("routing generation", "backend", h.remote.Name())
		text, err := h.remote.Generate(ctx, req)
		if err == nil {
			return text, nil
		}
		lastErr = err
		log.Warn("remote generation failed", "error", err)
	}

	if lastErr == nil {
		return "", errs.New(errs.GenerationUnavailable, "no generation backend configured")
	}
	return "", errs.Wrap(lastErr, errs.GenerationUnavailable, "all generation backends failed")
}
