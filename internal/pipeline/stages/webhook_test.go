package stages

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tjfontaine/polyglot-pipe/internal/pipeline"
	"github.com/tjfontaine/polyglot-pipe/internal/testutil"
)

func webhookServer(t *testing.T, status int, out WebhookOutput, seen *WebhookInput) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			if err := json.NewDecoder(r.Body).Decode(seen); err != nil {
				t.Errorf("decode webhook input: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func runWebhook(t *testing.T, stage *WebhookStage, target string) (*pipeline.Context, pipeline.State, error) {
	t.Helper()
	pc := newContext(http.MethodGet, target)
	pc.RequestID = "req-1"
	state, err := pipeline.New().Use(stage, NotFound()).Run(context.Background(), pc)
	return pc, state, err
}

func TestWebhookStage_Allow(t *testing.T) {
	var seen WebhookInput
	srv := webhookServer(t, http.StatusOK, WebhookOutput{Action: WebhookAllow}, &seen)

	stage := NewWebhookStage(WebhookStageConfig{Name: "hook", URL: srv.URL})
	pc, state, err := runWebhook(t, stage, "/orders?id=7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Allow falls through to the NotFound stage.
	if state != pipeline.ShortCircuited || pc.Response.StatusCode != http.StatusNotFound {
		t.Errorf("state = %v status = %d, want next stage to answer", state, pc.Response.StatusCode)
	}
	if seen.Path != "/orders" || seen.Query != "id=7" || seen.RequestID != "req-1" {
		t.Errorf("webhook saw %+v", seen)
	}
}

func TestWebhookStage_WithholdsCredentials(t *testing.T) {
	var seen WebhookInput
	srv := webhookServer(t, http.StatusOK, WebhookOutput{Action: WebhookAllow}, &seen)

	built, err := Build([]string{"webhook:audit"}, Deps{
		SessionHeader: "X-Session-Key",
		Webhooks:      map[string]WebhookStageConfig{"audit": {URL: srv.URL}},
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	pc := newContext(http.MethodGet, "/orders")
	pc.Request.Header.Set("Cookie", "sid=abc123")
	pc.Request.Header.Set("Authorization", "Bearer secret")
	pc.Request.Header.Set("X-Session-Key", "abc123")
	pc.Request.Header.Set("User-Agent", "curl/8.0")
	pc.Request.Header.Set("Accept-Language", "de")

	if _, err := pipeline.New().Use(built[0], NotFound()).Run(context.Background(), pc); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for _, h := range []string{"Cookie", "Authorization", "X-Session-Key"} {
		if v, ok := seen.Headers[h]; ok {
			t.Errorf("webhook saw %s = %v", h, v)
		}
	}
	for _, h := range []string{"User-Agent", "Accept-Language"} {
		if _, ok := seen.Headers[h]; !ok {
			t.Errorf("webhook did not see %s", h)
		}
	}
	if pc.Request.Header.Get("Cookie") != "sid=abc123" {
		t.Errorf("request Cookie = %q, want it left in place", pc.Request.Header.Get("Cookie"))
	}
}

func TestWebhookStage_Deny(t *testing.T) {
	srv := webhookServer(t, http.StatusOK, WebhookOutput{
		Action:     WebhookDeny,
		Status:     http.StatusUnauthorized,
		DenyReason: "login required",
	}, nil)

	stage := NewWebhookStage(WebhookStageConfig{Name: "hook", URL: srv.URL})
	pc, _, err := runWebhook(t, stage, "/private")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pc.Response.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", pc.Response.StatusCode)
	}
	if string(pc.Response.Body) != "login required\n" {
		t.Errorf("body = %q", pc.Response.Body)
	}
}

func TestWebhookStage_Rewrite(t *testing.T) {
	srv := webhookServer(t, http.StatusOK, WebhookOutput{Action: WebhookRewrite, Path: "/v2/orders"}, nil)

	var sawPath string
	probe := pipeline.Func("probe", func(ctx context.Context, pc *pipeline.Context) (pipeline.Result, error) {
		sawPath = pc.Request.Path()
		return pipeline.Continue, nil
	})

	stage := NewWebhookStage(WebhookStageConfig{Name: "hook", URL: srv.URL})
	pc := newContext(http.MethodGet, "/orders")
	if _, err := pipeline.New().Use(stage, probe).Run(context.Background(), pc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sawPath != "/v2/orders" {
		t.Errorf("next stage saw %q, want /v2/orders", sawPath)
	}
}

func TestWebhookStage_OnError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	t.Run("fail closed retries then denies", func(t *testing.T) {
		calls.Store(0)
		stage := NewWebhookStage(WebhookStageConfig{Name: "hook", URL: srv.URL, Retries: 2})
		pc, state, err := runWebhook(t, stage, "/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if state != pipeline.ShortCircuited || pc.Response.StatusCode != http.StatusForbidden {
			t.Errorf("state = %v status = %d, want 403 short circuit", state, pc.Response.StatusCode)
		}
		if got := calls.Load(); got != 3 {
			t.Errorf("webhook called %d times, want 3", got)
		}
	})

	t.Run("fail open continues", func(t *testing.T) {
		stage := NewWebhookStage(WebhookStageConfig{
			Name:    "hook",
			URL:     srv.URL,
			OnError: WebhookAllow,
			Timeout: time.Second,
		})
		pc, _, err := runWebhook(t, stage, "/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if pc.Response.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want next stage's 404", pc.Response.StatusCode)
		}
	})

	t.Run("unknown policy propagates", func(t *testing.T) {
		stage := NewWebhookStage(WebhookStageConfig{Name: "hook", URL: srv.URL, OnError: "explode"})
		_, state, err := runWebhook(t, stage, "/")
		if err == nil || state != pipeline.Failed {
			t.Errorf("state = %v err = %v, want failed with error", state, err)
		}
	})
}

func TestWebhookStage_InvalidAction(t *testing.T) {
	srv := webhookServer(t, http.StatusOK, WebhookOutput{Action: "maybe"}, nil)

	stage := NewWebhookStage(WebhookStageConfig{Name: "hook", URL: srv.URL})
	pc, _, err := runWebhook(t, stage, "/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pc.Response.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want fail-closed 403", pc.Response.StatusCode)
	}
}

func TestWebhookStage_RecordedInteractions(t *testing.T) {
	rec := testutil.NewVCRRecorder(t, "webhook_auth")
	stage := NewWebhookStage(WebhookStageConfig{
		Name:      "auth",
		URL:       "https://hooks.example.com/auth",
		Transport: rec,
	})

	pc, state, err := runWebhook(t, stage, "/admin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state != pipeline.ShortCircuited || pc.Response.StatusCode != http.StatusUnauthorized {
		t.Errorf("state = %v status = %d, want 401 from webhook", state, pc.Response.StatusCode)
	}
	if string(pc.Response.Body) != "login required\n" {
		t.Errorf("body = %q", pc.Response.Body)
	}

	pc, _, err = runWebhook(t, stage, "/old/report")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pc.Request.Path() != "/reports/latest" {
		t.Errorf("path = %q, want rewrite to /reports/latest", pc.Request.Path())
	}
}
