package stages

import (
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"strings"

	"github.com/tjfontaine/polyglot-pipe/internal/pipeline"
	"github.com/tjfontaine/polyglot-pipe/internal/session"
)

// Stage names accepted by Build. Webhooks are referenced as "webhook:<name>".
const (
	NameSession      = "session"
	NameClientScript = "client_script"
	NameController   = "controller"
	NameDefaultFiles = "default_files"
	NameSPA          = "spa"
	NameStatic       = "static"
	NameNotFound     = "not_found"
	webhookPrefix    = "webhook:"
)

// Deps carries what the built-in stages need. Only the dependencies of the
// stages actually named must be set.
type Deps struct {
	Files fs.FS
	Index string

	ClientScriptPath string
	ClientScriptFile string

	Sessions      *session.Store
	SessionCookie string
	SessionHeader string

	Controllers *ControllerManager

	Webhooks map[string]WebhookStageConfig

	Logger *slog.Logger
}

// Build constructs stages by name in the order given.
func Build(names []string, deps Deps) ([]pipeline.Stage, error) {
	if deps.Index == "" {
		deps.Index = "index.html"
	}
	if deps.SessionCookie == "" {
		deps.SessionCookie = "sid"
	}

	result := make([]pipeline.Stage, 0, len(names))
	for _, name := range names {
		stage, err := build(name, deps)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", name, err)
		}
		result = append(result, stage)
	}
	return result, nil
}

func build(name string, deps Deps) (pipeline.Stage, error) {
	if hook, ok := strings.CutPrefix(name, webhookPrefix); ok {
		cfg, ok := deps.Webhooks[hook]
		if !ok {
			return nil, fmt.Errorf("no webhook named %q is configured", hook)
		}
		if cfg.URL == "" {
			return nil, fmt.Errorf("webhook %q has no url", hook)
		}
		if cfg.Name == "" {
			cfg.Name = name
		}
		if cfg.Logger == nil {
			cfg.Logger = deps.Logger
		}
		if deps.SessionHeader != "" {
			cfg.RedactHeaders = append(slices.Clip(cfg.RedactHeaders), deps.SessionHeader)
		}
		return NewWebhookStage(cfg), nil
	}

	switch name {
	case NameSession:
		if deps.Sessions == nil {
			return nil, fmt.Errorf("session store is not configured")
		}
		return Session(deps.Sessions, deps.SessionCookie, deps.SessionHeader), nil
	case NameClientScript:
		if deps.Files == nil || deps.ClientScriptPath == "" || deps.ClientScriptFile == "" {
			return nil, fmt.Errorf("client script path and file must be configured")
		}
		return ClientScript(deps.ClientScriptPath, deps.Files, deps.ClientScriptFile), nil
	case NameController:
		if deps.Controllers == nil {
			return nil, fmt.Errorf("controller manager is not configured")
		}
		return BindController(deps.Controllers), nil
	case NameDefaultFiles:
		if deps.Files == nil {
			return nil, fmt.Errorf("static root is not configured")
		}
		return DefaultFiles(deps.Files, deps.Index), nil
	case NameSPA:
		if deps.Files == nil {
			return nil, fmt.Errorf("static root is not configured")
		}
		return SPA(deps.Files, deps.Index), nil
	case NameStatic:
		if deps.Files == nil {
			return nil, fmt.Errorf("static root is not configured")
		}
		return Static(deps.Files), nil
	case NameNotFound:
		return NotFound(), nil
	default:
		return nil, fmt.Errorf("unknown stage")
	}
}
