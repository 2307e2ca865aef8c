package stages

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tjfontaine/polyglot-pipe/internal/pipeline"
)

// WebhookAction is the decision returned by a webhook.
type WebhookAction string

const (
	// WebhookAllow lets the request continue unchanged.
	WebhookAllow WebhookAction = "allow"
	// WebhookDeny ends the run with the webhook's status and reason.
	WebhookDeny WebhookAction = "deny"
	// WebhookRewrite continues with the path the webhook returned.
	WebhookRewrite WebhookAction = "rewrite"
)

// WebhookInput is the JSON body posted to the webhook.
type WebhookInput struct {
	RequestID  string              `json:"request_id,omitempty"`
	Method     string              `json:"method"`
	Path       string              `json:"path"`
	Query      string              `json:"query,omitempty"`
	Headers    map[string][]string `json:"headers,omitempty"`
	SessionID  string              `json:"session_id,omitempty"`
	RemoteAddr string              `json:"remote_addr,omitempty"`
}

// WebhookOutput is the JSON body the webhook must answer with.
type WebhookOutput struct {
	Action     WebhookAction `json:"action"`
	Path       string        `json:"path,omitempty"`
	Status     int           `json:"status,omitempty"`
	DenyReason string        `json:"deny_reason,omitempty"`
}

// WebhookStage asks an external HTTP endpoint whether a request may proceed.
type WebhookStage struct {
	name    string
	url     string
	onError WebhookAction // Action to take when the webhook cannot be reached (allow or deny)
	retries int
	headers map[string]string
	redact  []string
	client  *http.Client
	logger  *slog.Logger
}

// WebhookStageConfig configures a webhook stage.
type WebhookStageConfig struct {
	Name    string
	URL     string
	Timeout time.Duration
	OnError WebhookAction // "allow" or "deny" (default: deny)
	Retries int
	Headers map[string]string
	// RedactHeaders are withheld from the webhook in addition to the
	// credential headers that are never forwarded.
	RedactHeaders []string
	// Transport overrides the HTTP transport; nil uses http.DefaultTransport.
	Transport http.RoundTripper
	Logger    *slog.Logger
}

// NewWebhookStage creates a new webhook stage.
func NewWebhookStage(cfg WebhookStageConfig) *WebhookStage {
	onError := cfg.OnError
	if onError == "" {
		onError = WebhookDeny // Default to fail-closed
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &WebhookStage{
		name:    cfg.Name,
		url:     cfg.URL,
		onError: onError,
		retries: cfg.Retries,
		headers: cfg.Headers,
		redact:  cfg.RedactHeaders,
		client: &http.Client{
			Timeout:   timeout,
			Transport: cfg.Transport,
		},
		logger: logger,
	}
}

// credentialHeaders carry the caller's session or credentials and are never
// posted to a webhook.
var credentialHeaders = []string{"Cookie", "Authorization", "Proxy-Authorization"}

// Name returns the stage identifier.
func (s *WebhookStage) Name() string {
	return s.name
}

// Process executes the webhook call.
func (s *WebhookStage) Process(ctx context.Context, pc *pipeline.Context) (pipeline.Result, error) {
	in := s.input(pc)

	var lastErr error
	attempts := s.retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		output, err := s.doRequest(ctx, in)
		if err == nil {
			return s.apply(pc, output), nil
		}
		lastErr = err

		// Don't retry on context cancellation
		if ctx.Err() != nil {
			break
		}
	}

	return s.handleError(pc, lastErr)
}

func (s *WebhookStage) input(pc *pipeline.Context) *WebhookInput {
	in := &WebhookInput{
		RequestID:  pc.RequestID,
		Method:     pc.Request.Method,
		Path:       pc.Request.Path(),
		Headers:    s.forwardedHeaders(pc.Request.Header),
		RemoteAddr: pc.Request.RemoteAddr,
	}
	if pc.Request.URL != nil {
		in.Query = pc.Request.URL.RawQuery
	}
	if sess, ok := SessionFrom(pc); ok {
		in.SessionID = sess.ID
	}
	return in
}

func (s *WebhookStage) forwardedHeaders(h http.Header) http.Header {
	out := h.Clone()
	for _, k := range credentialHeaders {
		out.Del(k)
	}
	for _, k := range s.redact {
		out.Del(k)
	}
	return out
}

func (s *WebhookStage) doRequest(ctx context.Context, in *WebhookInput) (*WebhookOutput, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal webhook input: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var output WebhookOutput
	if err := json.Unmarshal(respBody, &output); err != nil {
		return nil, fmt.Errorf("unmarshal webhook output: %w", err)
	}

	switch output.Action {
	case WebhookAllow, WebhookDeny:
	case WebhookRewrite:
		if output.Path == "" {
			return nil, fmt.Errorf("webhook rewrite without path")
		}
	case "":
		output.Action = WebhookAllow
	default:
		return nil, fmt.Errorf("invalid action from webhook: %s", output.Action)
	}

	return &output, nil
}

func (s *WebhookStage) apply(pc *pipeline.Context, out *WebhookOutput) pipeline.Result {
	switch out.Action {
	case WebhookDeny:
		s.deny(pc, out.Status, out.DenyReason)
		return pipeline.Halt
	case WebhookRewrite:
		pc.Request.SetPath(out.Path)
	}
	return pipeline.Continue
}

func (s *WebhookStage) deny(pc *pipeline.Context, status int, reason string) {
	if status == 0 {
		status = http.StatusForbidden
	}
	if reason == "" {
		reason = "denied by pipeline stage " + s.name
	}
	pc.Respond(status, "text/plain; charset=utf-8", []byte(reason+"\n"))
}

func (s *WebhookStage) handleError(pc *pipeline.Context, err error) (pipeline.Result, error) {
	switch s.onError {
	case WebhookAllow:
		s.logger.Warn("webhook failed, allowing request",
			slog.String("stage", s.name),
			slog.String("request_id", pc.RequestID),
			slog.String("error", err.Error()),
		)
		return pipeline.Continue, nil
	case WebhookDeny:
		s.logger.Warn("webhook failed, denying request",
			slog.String("stage", s.name),
			slog.String("request_id", pc.RequestID),
			slog.String("error", err.Error()),
		)
		s.deny(pc, http.StatusForbidden, "")
		return pipeline.Halt, nil
	default:
		return pipeline.Continue, fmt.Errorf("webhook stage %s failed: %w", s.name, err)
	}
}

var _ pipeline.Stage = (*WebhookStage)(nil)
