package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/tjfontaine/polyglot-pipe/internal/pipeline"
)

// Runner executes a pipeline over a request context.
type Runner interface {
	Run(ctx context.Context, pc *pipeline.Context) (pipeline.State, error)
}

// PipelineHandler adapts an HTTP request into a pipeline run and writes back
// whatever response the stages produced. A run that ends without a status is
// answered with 404. A stage error is logged and answered with a bare 500;
// the error text never reaches the client.
func PipelineHandler(runner Runner, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u := *r.URL
		pc := pipeline.NewContext(pipeline.Request{
			Method:     r.Method,
			URL:        &u,
			Header:     r.Header.Clone(),
			RemoteAddr: r.RemoteAddr,
		})
		pc.RequestID = GetRequestID(r.Context())

		state, err := runner.Run(r.Context(), pc)
		AddLogField(r.Context(), "pipeline_state", state.String())
		if err != nil {
			AddError(r.Context(), err)
			logger.Error("pipeline failed",
				slog.String("request_id", pc.RequestID),
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()),
			)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		writeResponse(w, &pc.Response)
	})
}

func writeResponse(w http.ResponseWriter, resp *pipeline.Response) {
	status := resp.StatusCode
	if status == 0 {
		http.Error(w, "404 page not found", http.StatusNotFound)
		return
	}

	h := w.Header()
	for k, vs := range resp.Header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	if h.Get("Content-Length") == "" && len(resp.Body) > 0 {
		h.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	}
	w.WriteHeader(status)
	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
	}
}
