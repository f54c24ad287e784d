package generate

import (
	"context"
	"testing"

	"github.com/GriffinCanCode/insight-capsule/internal/errs"
)

// fakeBackend counts calls and replies or fails on demand.
type fakeBackend struct {
	name  string
	reply string
	err   error
	calls int
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Generate(_ context.Context, _ Request) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func TestHybridPrefersLocal(t *testing.T) {
	local := &fakeBackend{name: "local", reply: "from local"}
	remote := &fakeBackend{name: "remote", reply: "from remote"}
	h := newHybrid(true, local, remote)

	got, err := h.Generate(context.Background(), Request{Prompt: "hello"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "from local" {
		t.Errorf("Generate() = %q, want local reply", got)
	}
	if remote.calls != 0 {
		t.Errorf("remote called %d times, want 0", remote.calls)
	}
}

func TestHybridFallsBackOnLocalFailure(t *testing.T) {
	local := &fakeBackend{name: "local", err: errs.New(errs.BackendCallFailed, "boom")}
	remote := &fakeBackend{name: "remote", reply: "from remote"}
	h := newHybrid(true, local, remote)

	got, err := h.Generate(context.Background(), Request{Prompt: "hello"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "from remote" {
		t.Errorf("Generate() = %q, want remote reply", got)
	}
	if local.calls != 1 || remote.calls != 1 {
		t.Errorf("calls = (local %d, remote %d), want (1, 1)", local.calls, remote.calls)
	}
}

func TestHybridRoutesRemoteOnlyWhenLocalUnavailable(t *testing.T) {
	// A failed probe leaves the local backend unset; generation must route
	// straight to remote with no local attempt.
	remote := &fakeBackend{name: "remote", reply: "from remote"}
	h := newHybrid(true, nil, remote)

	got, err := h.Generate(context.Background(), Request{Prompt: "hello"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "from remote" {
		t.Errorf("Generate() = %q", got)
	}
}

func TestHybridSkipsLocalWhenNotPreferred(t *testing.T) {
	local := &fakeBackend{name: "local", reply: "from local"}
	remote := &fakeBackend{name: "remote", reply: "from remote"}
	h := newHybrid(false, local, remote)

	got, err := h.Generate(context.Background(), Request{Prompt: "hello"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "from remote" {
		t.Errorf("Generate() = %q, want remote reply when local not preferred", got)
	}
	if local.calls != 0 {
		t.Errorf("local called %d times, want 0", local.calls)
	}
}

func TestHybridNoBackendsConfigured(t *testing.T) {
	h := newHybrid(true, nil, nil)

	_, err := h.Generate(context.Background(), Request{Prompt: "hello"})
	if !errs.IsCode(err, errs.GenerationUnavailable) {
		t.Fatalf("err = %v, want GenerationUnavailable", err)
	}
	if h.Available() {
		t.Error("Available() = true with no backends")
	}
}

func TestHybridAllBackendsFail(t *testing.T) {
	local := &fakeBackend{name: "local", err: errs.New(errs.BackendCallFailed, "local down")}
	remote := &fakeBackend{name: "remote", err: errs.New(errs.BackendCallFailed, "remote down")}
	h := newHybrid(true, local, remote)

	_, err := h.Generate(context.Background(), Request{Prompt: "hello"})
	if !errs.IsCode(err, errs.GenerationUnavailable) {
		t.Fatalf("err = %v, want GenerationUnavailable", err)
	}
	if local.calls != 1 || remote.calls != 1 {
		t.Errorf("calls = (local %d, remote %d), want both attempted once", local.calls, remote.calls)
	}
}

func TestHybridRejectsEmptyPrompt(t *testing.T) {
	h := newHybrid(true, &fakeBackend{name: "local", reply: "x"}, nil)

	_, err := h.Generate(context.Background(), Request{})
	if !errs.IsCode(err, errs.InvalidArgument) {
		t.Errorf("err = %v, want InvalidArgument", err)
	}
}

func TestParseRoleUnknownFallsBack(t *testing.T) {
	tests := []struct {
		tag  string
		want Role
	}{
		{"writing", RoleWriting},
		{"fact_check", RoleFactCheck},
		{"expander", RoleExpander},
		{"poet", RoleWriting},
		{"", RoleWriting},
	}
	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			if got := ParseRole(tt.tag); got != tt.want {
				t.Errorf("ParseRole(%q) = %v, want %v", tt.tag, got, tt.want)
			}
		})
	}
}

func TestRequestSystemPromptResolution(t *testing.T) {
	req := Request{Role: RoleFactCheck}
	if req.systemPrompt() != RoleFactCheck.SystemPrompt() {
		t.Error("should use role default when no override")
	}

	req.SystemPrompt = "custom"
	if req.systemPrompt() != "custom" {
		t.Error("override should win")
	}

	unknown := Request{Role: Role("poet")}
	if unknown.systemPrompt() != RoleWriting.SystemPrompt() {
		t.Error("unknown role should use writing prompt, not error")
	}
}

func TestRequestTemperatureClamp(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0.7, 0.7},
		{-1, 0},
		{5, 2},
	}
	for _, tt := range tests {
		req := Request{Temperature: tt.in}
		if got := req.temperature(); got != tt.want {
			t.Errorf("temperature(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
