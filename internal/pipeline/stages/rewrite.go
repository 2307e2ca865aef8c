// Package stages contains the built-in pipeline stages used by the HTTP host.
package stages

import (
	"context"
	"net/http"

	"github.com/tjfontaine/polyglot-pipe/internal/pipeline"
)

// RewritePath replaces the request path with fn(path) and continues.
func RewritePath(name string, fn func(string) string) pipeline.Stage {
	return pipeline.Func(name, func(ctx context.Context, pc *pipeline.Context) (pipeline.Result, error) {
		if p := fn(pc.Request.Path()); p != pc.Request.Path() {
			pc.Request.SetPath(p)
		}
		return pipeline.Continue, nil
	})
}

// NotFound answers 404 and ends the run. It belongs at the end of a pipeline.
func NotFound() pipeline.Stage {
	return pipeline.Func("not_found", func(ctx context.Context, pc *pipeline.Context) (pipeline.Result, error) {
		pc.Respond(http.StatusNotFound, "text/plain; charset=utf-8", []byte("404 page not found\n"))
		return pipeline.Halt, nil
	})
}
