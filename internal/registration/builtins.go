// Package registration wires the built-in controllers into a controller
// manager.
package registration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/tjfontaine/polyglot-pipe/internal/controller"
	"github.com/tjfontaine/polyglot-pipe/internal/pipeline"
	"github.com/tjfontaine/polyglot-pipe/internal/pipeline/stages"
)

// Factory is a controller factory for request-bound controllers.
type Factory = controller.Factory[stages.Controller]

// Builtins returns the factories for the built-in controllers by name.
func Builtins() map[string]Factory {
	return map[string]Factory{
		"health":  func(controller.Host[stages.Controller]) (stages.Controller, error) { return healthController{}, nil },
		"echo":    func(controller.Host[stages.Controller]) (stages.Controller, error) { return echoController{}, nil },
		"session": func(controller.Host[stages.Controller]) (stages.Controller, error) { return sessionController{}, nil },
	}
}

// BuiltinNames returns the built-in controller names, sorted.
func BuiltinNames() []string {
	names := make([]string, 0, len(Builtins()))
	for name := range Builtins() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterBuiltins registers the preload names eagerly and installs a
// resolver that looks up every other built-in on first use.
// This replaces init-based side effects and is intended to be called from
// the serve command and tests.
func RegisterBuiltins(m *stages.ControllerManager, preload []string) error {
	catalog := Builtins()

	for _, name := range preload {
		f, ok := catalog[name]
		if !ok {
			return fmt.Errorf("unknown controller %q (built-ins: %v)", name, BuiltinNames())
		}
		m.Set(name, f)
	}

	m.SetResolver(func(ctx context.Context, name string) (Factory, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, ok := catalog[name]
		if !ok {
			return nil, fmt.Errorf("no built-in controller named %q", name)
		}
		return f, nil
	})
	return nil
}

func writeJSON(pc *pipeline.Context, status int, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	pc.Respond(status, "application/json", body)
	return nil
}

type healthController struct{}

func (healthController) Serve(ctx context.Context, pc *pipeline.Context) error {
	return writeJSON(pc, http.StatusOK, map[string]string{"status": "ok"})
}

type echoController struct{}

func (echoController) Serve(ctx context.Context, pc *pipeline.Context) error {
	return writeJSON(pc, http.StatusOK, map[string]any{
		"request_id": pc.RequestID,
		"method":     pc.Request.Method,
		"path":       pc.Request.Path(),
		"query":      pc.Request.URL.Query(),
		"headers":    pc.Request.Header,
	})
}

type sessionController struct{}

func (sessionController) Serve(ctx context.Context, pc *pipeline.Context) error {
	sess, ok := stages.SessionFrom(pc)
	if !ok {
		return writeJSON(pc, http.StatusNotFound, map[string]string{"error": "no session"})
	}
	return writeJSON(pc, http.StatusOK, map[string]any{
		"id":         sess.ID,
		"created_at": sess.CreatedAt.Format(time.RFC3339),
		"last_seen":  sess.LastSeen().Format(time.RFC3339),
	})
}
