package pipeline

import (
	"net/http"
	"net/url"
)

// Request is the inbound side of a pipeline context. Stages may rewrite it.
type Request struct {
	Method     string
	URL        *url.URL
	Header     http.Header
	RemoteAddr string
}

// Path returns the request path, or "/" when unset.
func (r *Request) Path() string {
	if r.URL == nil || r.URL.Path == "" {
		return "/"
	}
	return r.URL.Path
}

// SetPath rewrites the request path.
func (r *Request) SetPath(p string) {
	if r.URL == nil {
		r.URL = &url.URL{}
	}
	r.URL.Path = p
	r.URL.RawPath = ""
}

// Response is the outbound side of a pipeline context.
// A zero StatusCode means no stage has produced a response yet.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Context is the per-request state threaded through every stage.
// It is owned by a single pipeline run and is not safe for concurrent use.
type Context struct {
	Request  Request
	Response Response

	// Terminal marks the response as final. Later stages should not mutate
	// the context once it is set; the engine does not enforce this.
	Terminal bool

	// RequestID correlates log lines and spans for this request.
	RequestID string

	values map[string]any
	state  State
}

// NewContext creates a context for req in the Pending state.
func NewContext(req Request) *Context {
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	if req.URL == nil {
		req.URL = &url.URL{Path: "/"}
	}
	return &Context{
		Request:  req,
		Response: Response{Header: make(http.Header)},
		values:   make(map[string]any),
		state:    Pending,
	}
}

// State returns where the context's pipeline run currently stands.
func (c *Context) State() State {
	return c.state
}

// Set stores a request-scoped value for later stages.
func (c *Context) Set(key string, value any) {
	if c.values == nil {
		c.values = make(map[string]any)
	}
	c.values[key] = value
}

// Value returns a request-scoped value set by an earlier stage.
func (c *Context) Value(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Respond sets the response status and body and marks the context terminal.
func (c *Context) Respond(status int, contentType string, body []byte) {
	if c.Response.Header == nil {
		c.Response.Header = make(http.Header)
	}
	if contentType != "" {
		c.Response.Header.Set("Content-Type", contentType)
	}
	c.Response.StatusCode = status
	c.Response.Body = body
	c.Terminal = true
}
