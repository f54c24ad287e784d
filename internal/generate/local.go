package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/GriffinCanCode/insight-capsule/internal/errs"
	"github.com/GriffinCanCode/insight-capsule/internal/resilience"
	"github.com/GriffinCanCode/insight-capsule/internal/trace"
)

const probeTimeout = 5 * time.Second

// LocalClient talks to an Ollama-compatible inference server over HTTP.
//
// Older servers only expose /api/generate; newer ones prefer /api/chat. A 404
// from /api/generate is treated as capability negotiation: the attempt is
// transparently reissued against /api/chat with role-tagged messages. Both
// response shapes funnel through one extraction routine.
type LocalClient struct {
	baseURL    string
	model      string
	embedModel string
	httpClient *http.Client
}

// NewLocalClient creates a local backend client. timeout bounds each
// generation round trip; the availability probe uses its own short timeout.
func NewLocalClient(baseURL, model, embedModel string, timeout time.Duration) *LocalClient {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &LocalClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Name identifies the backend in logs.
func (c *LocalClient) Name() string { return "local" }

// Generate runs the attempt loop: MaxRetries+1 tries, no backoff, each try a
// full round trip. The error returned after exhaustion is what triggers
// hybrid-level fallback.
func (c *LocalClient) Generate(ctx context.Context, req Request) (string, error) {
	log := trace.Logger(ctx)
	text, err := resilience.RetryResult(ctx, resilience.Immediate(req.MaxRetries), func(attempt int) (string, error) {
		log.Info("generating", "backend", c.Name(), "model", c.model, "attempt", attempt+1, "max_attempts", req.MaxRetries+1)
		out, callErr := c.callGenerate(ctx, req)
		if callErr != nil {
			log.Warn("generation attempt failed", "backend", c.Name(), "attempt", attempt+1, "error", callErr)
			return "", callErr
		}
		log.Info("generation succeeded", "backend", c.Name(), "attempt", attempt+1, "chars", len(out))
		return out, nil
	})
	if err != nil {
		return "", errs.Wrapf(err, errs.BackendCallFailed, "local backend failed after %d attempts", req.MaxRetries+1)
	}
	return strings.TrimSpace(text), nil
}

type localOptions struct {
	Temperature float64 `json:"temperature"`
}

type localGenerateRequest struct {
	Model   string       `json:"model"`
	Prompt  string       `json:"prompt"`
	Stream  bool         `json:"stream"`
	Options localOptions `json:"options"`
}

type localChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type localChatRequest struct {
	Model    string             `json:"model"`
	Messages []localChatMessage `json:"messages"`
	Stream   bool               `json:"stream"`
	Options  localOptions       `json:"options"`
}

// localResponse covers both endpoint shapes: /api/generate returns a flat
// "response" field, /api/chat nests the text under "message".
type localResponse struct {
	Response string           `json:"response"`
	Message  localChatMessage `json:"message"`
}

func (c *LocalClient) callGenerate(ctx context.Context, req Request) (string, error) {
	payload := localGenerateRequest{
		Model:   c.model,
		Prompt:  fmt.Sprintf("%s\n\nUser: %s\nAssistant:", req.systemPrompt(), req.Prompt),
		Options: localOptions{Temperature: req.temperature()},
	}
	body, status, err := c.post(ctx, "/api/generate", payload)
	if err != nil {
		return "", err
	}
	if status == http.StatusNotFound {
		// Incompatible server version; negotiate down to the chat endpoint.
		trace.Logger(ctx).Info("local /api/generate returned 404, retrying via /api/chat")
		return c.callChat(ctx, req)
	}
	if status < 200 || status >= 300 {
		return "", errs.Newf(errs.BackendCallFailed, "local generate: status %d", status)
	}
	return extractText(body)
}

func (c *LocalClient) callChat(ctx context.Context, req Request) (string, error) {
	payload := localChatRequest{
		Model: c.model,
		Messages: []localChatMessage{
			{Role: "system", Content: req.systemPrompt()},
			{Role: "user", Content: req.Prompt},
		},
		Options: localOptions{Temperature: req.temperature()},
	}
	body, status, err := c.post(ctx, "/api/chat", payload)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", errs.Newf(errs.BackendCallFailed, "local chat: status %d", status)
	}
	return extractText(body)
}

// extractText normalizes the differing response shapes into plain text.
func extractText(body []byte) (string, error) {
	var resp localResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", errs.Wrap(err, errs.BackendCallFailed, "local backend: malformed response")
	}
	if resp.Response != "" {
		return resp.Response, nil
	}
	if resp.Message.Content != "" {
		return resp.Message.Content, nil
	}
	return "", errs.New(errs.BackendCallFailed, "local backend: empty completion")
}

// Probe checks that the server is reachable and the configured model is
// pulled. Computed on demand, never cached.
func (c *LocalClient) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return errs.Wrap(err, errs.BackendUnavailable, "local probe: build request")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errs.Wrap(err, errs.BackendUnavailable, "local backend unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errs.Newf(errs.BackendUnavailable, "local probe: status %d", resp.StatusCode)
	}

	var tags struct {
		Models []struct {
			Name  string `json:"name"`
			Model string `json:"model"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return errs.Wrap(err, errs.BackendUnavailable, "local probe: malformed tags response")
	}
	for _, m := range tags.Models {
		if m.Name == c.model || m.Model == c.model {
			return nil
		}
	}
	return errs.Newf(errs.BackendUnavailable, "model %q not present on local backend", c.model)
}

// Embed computes an embedding vector for text via /api/embeddings.
func (c *LocalClient) Embed(ctx context.Context, text string) ([]float32, error) {
	payload := struct {
		Model  string `json:"model"`
		Prompt string `json:"prompt"`
	}{Model: c.embedModel, Prompt: text}

	body, status, err := c.post(ctx, "/api/embeddings", payload)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, errs.Newf(errs.BackendCallFailed, "local embeddings: status %d", status)
	}

	var resp struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errs.Wrap(err, errs.BackendCallFailed, "local embeddings: malformed response")
	}
	if len(resp.Embedding) == 0 {
		return nil, errs.New(errs.BackendCallFailed, "local embeddings: empty vector")
	}
	return resp.Embedding, nil
}

// post sends JSON and returns the body and status. Transport errors are
// BackendCallFailed; status handling is left to the caller because the 404
// negotiation needs to see it.
func (c *LocalClient) post(ctx context.Context, path string, payload any) ([]byte, int, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, errs.Wrap(err, errs.Internal, "encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, 0, errs.Wrap(err, errs.Internal, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, errs.Wrapf(err, errs.BackendCallFailed, "local post %s", path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, errs.Wrapf(err, errs.BackendCallFailed, "local post %s: read body", path)
	}
	return body, resp.StatusCode, nil
}
