package stages

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tjfontaine/polyglot-pipe/internal/controller"
	"github.com/tjfontaine/polyglot-pipe/internal/pipeline"
)

// ControllerValueKey is the context value key holding the bound Controller.
const ControllerValueKey = "controller"

// Controller handles a request it has been bound to by name.
type Controller interface {
	Serve(ctx context.Context, pc *pipeline.Context) error
}

// ControllerManager resolves controllers for requests.
type ControllerManager = controller.Manager[Controller]

// requestHost exposes a request to the controller manager. Attributes come
// from the query string, then from an X-<attribute> header.
type requestHost struct {
	pc *pipeline.Context
}

func (h requestHost) Attr(name string) (string, bool) {
	if h.pc.Request.URL != nil {
		if v := h.pc.Request.URL.Query().Get(name); v != "" {
			return v, true
		}
	}
	if v := h.pc.Request.Header.Get("X-" + name); v != "" {
		return v, true
	}
	return "", false
}

func (h requestHost) Attach(c Controller) {
	h.pc.Set(ControllerValueKey, c)
}

// BindController binds and runs the controller named by the request. Requests
// that name no controller pass through; unknown names answer 404.
func BindController(m *ControllerManager) pipeline.Stage {
	return pipeline.Func("controller", func(ctx context.Context, pc *pipeline.Context) (pipeline.Result, error) {
		c, err := m.CheckAndInstance(ctx, requestHost{pc: pc})
		switch {
		case errors.Is(err, controller.ErrNoControllerAttribute):
			return pipeline.Continue, nil
		case controller.IsNotFound(err):
			var re *controller.ResolutionError
			errors.As(err, &re)
			pc.Respond(http.StatusNotFound, "text/plain; charset=utf-8",
				[]byte(fmt.Sprintf("controller %q not found\n", re.Name)))
			return pipeline.Halt, nil
		case err != nil:
			return pipeline.Continue, err
		}

		if err := c.Serve(ctx, pc); err != nil {
			return pipeline.Continue, err
		}
		return pipeline.Halt, nil
	})
}
