// Package transcribe talks to the speech-to-text gRPC sidecar.
package transcribe

import (
	"context"
	"encoding/base64"
	"log/slog"
	"os"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/GriffinCanCode/insight-capsule/internal/errs"
	"github.com/GriffinCanCode/insight-capsule/internal/resilience"
)

// Client configuration defaults
const (
	DefaultKeepaliveTime    = 10 * time.Second
	DefaultKeepaliveTimeout = 3 * time.Second
	HealthCheckTimeout      = 2 * time.Second
	DefaultCallTimeout      = 120 * time.Second
)

// The sidecar exposes a single unary method taking and returning loosely
// typed structs, so no generated stubs are needed on this side.
const transcribeMethod = "/transcriber.v1.Transcriber/Transcribe"

// Client wraps the transcription service connection with a circuit breaker
// and backoff retry around each call.
type Client struct {
	conn    *grpc.ClientConn
	breaker *resilience.Breaker
	timeout time.Duration
}

// Dial connects to the transcription sidecar. The connection is lazy; a
// sidecar that is down at startup only surfaces on the first call.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                DefaultKeepaliveTime,
			Timeout:             DefaultKeepaliveTimeout,
			PermitWithoutStream: true,
		}),
	)
	if err != nil {
		return nil, errs.Wrap(err, errs.TranscriptionFailed, "dial transcriber")
	}

	return &Client{
		conn:    conn,
		breaker: resilience.NewBreaker("transcriber", resilience.BreakerConfig{}),
		timeout: DefaultCallTimeout,
	}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Healthy probes the sidecar's standard health service.
func (c *Client) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	resp, err := grpc_health_v1.NewHealthClient(c.conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		slog.Warn("transcriber health check failed", "error", err)
		return false
	}
	return resp.Status == grpc_health_v1.HealthCheckResponse_SERVING
}

// Transcribe sends the WAV file at path and returns the recognized text.
// The text may legitimately be empty for silent audio.
func (c *Client) Transcribe(ctx context.Context, path string) (string, error) {
	audio, err := os.ReadFile(path)
	if err != nil {
		return "", errs.Wrap(err, errs.TranscriptionFailed, "read recording").
			WithMetadata("path", path)
	}

	req, err := structpb.NewStruct(map[string]any{
		"audio_b64": base64.StdEncoding.EncodeToString(audio),
		"format":    "wav",
	})
	if err != nil {
		return "", errs.Wrap(err, errs.Internal, "encode transcribe request")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	text, err := resilience.RetryResult(ctx, resilience.Backoff(), func(attempt int) (string, error) {
		if attempt > 0 {
			slog.Info("retrying transcription", "attempt", attempt, "path", path)
		}
		return resilience.ExecuteResult(c.breaker, func() (string, error) {
			return c.call(ctx, req)
		})
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (c *Client) call(ctx context.Context, req *structpb.Struct) (string, error) {
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, transcribeMethod, req, resp); err != nil {
		return "", errs.Wrap(err, errs.TranscriptionFailed, "transcribe call failed")
	}
	return textField(resp), nil
}

func textField(resp *structpb.Struct) string {
	if resp == nil {
		return ""
	}
	if v, ok := resp.Fields["text"]; ok {
		return v.GetStringValue()
	}
	return ""
}
