package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/GriffinCanCode/insight-capsule/internal/errs"
	"github.com/GriffinCanCode/insight-capsule/internal/resilience"
	"github.com/GriffinCanCode/insight-capsule/internal/trace"
)

// RemoteClient talks to an OpenAI-compatible chat completions API.
type RemoteClient struct {
	baseURL    string
	apiKey     string
	models     map[string]string // role tag -> model identifier
	httpClient *http.Client
}

// NewRemoteClient creates a remote backend client. The credential is
// required; construction fails without it so the hybrid can record the
// backend as unavailable instead of failing at call time.
func NewRemoteClient(baseURL, apiKey string, models map[string]string, timeout time.Duration) (*RemoteClient, error) {
	if apiKey == "" {
		return nil, errs.New(errs.BackendUnavailable, "remote API key not provided")
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &RemoteClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		models:     models,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Name identifies the backend in logs.
func (c *RemoteClient) Name() string { return "remote" }

// modelFor resolves the model for a role, falling back to the writing model.
func (c *RemoteClient) modelFor(role Role) string {
	if m, ok := c.models[string(ParseRole(string(role)))]; ok && m != "" {
		return m
	}
	if m, ok := c.models[string(RoleWriting)]; ok {
		return m
	}
	return "gpt-4o-mini"
}

type chatCompletionRequest struct {
	Model       string             `json:"model"`
	Messages    []localChatMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message localChatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Generate runs the same bounded attempt loop as the local backend.
func (c *RemoteClient) Generate(ctx context.Context, req Request) (string, error) {
	log := trace.Logger(ctx)
	model := c.modelFor(req.Role)

	text, err := resilience.RetryResult(ctx, resilience.Immediate(req.MaxRetries), func(attempt int) (string, error) {
		log.Info("generating", "backend", c.Name(), "model", model, "attempt", attempt+1, "max_attempts", req.MaxRetries+1)
		out, callErr := c.callChatCompletions(ctx, model, req)
		if callErr != nil {
			log.Warn("generation attempt failed", "backend", c.Name(), "attempt", attempt+1, "error", callErr)
			return "", callErr
		}
		log.Info("generation succeeded", "backend", c.Name(), "attempt", attempt+1, "chars", len(out))
		return out, nil
	})
	if err != nil {
		return "", errs.Wrapf(err, errs.BackendCallFailed, "remote backend failed after %d attempts", req.MaxRetries+1)
	}
	return strings.TrimSpace(text), nil
}

func (c *RemoteClient) callChatCompletions(ctx context.Context, model string, req Request) (string, error) {
	payload := chatCompletionRequest{
		Model: model,
		Messages: []localChatMessage{
			{Role: "system", Content: req.systemPrompt()},
			{Role: "user", Content: req.Prompt},
		},
		Temperature: req.temperature(),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", errs.Wrap(err, errs.Internal, "encode request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return "", errs.Wrap(err, errs.Internal, "build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", errs.Wrap(err, errs.BackendCallFailed, "remote chat completions")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errs.Wrap(err, errs.BackendCallFailed, "remote chat completions: read body")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", errs.Newf(errs.BackendCallFailed, "remote chat completions: status %d", resp.StatusCode)
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", errs.Wrap(err, errs.BackendCallFailed, "remote backend: malformed response")
	}
	if parsed.Error != nil {
		return "", errs.Newf(errs.BackendCallFailed, "remote backend: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", errs.New(errs.BackendCallFailed, "remote backend: empty completion")
	}
	return parsed.Choices[0].Message.Content, nil
}
