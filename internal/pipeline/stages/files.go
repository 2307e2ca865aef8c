package stages

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/tjfontaine/polyglot-pipe/internal/pipeline"
)

// fsName maps a request path onto an fs.FS name.
func fsName(p string) string {
	name := strings.TrimPrefix(path.Clean("/"+p), "/")
	if name == "" {
		return "."
	}
	return name
}

// isFile reports whether name exists in fsys and is a regular file.
func isFile(fsys fs.FS, name string) bool {
	info, err := fs.Stat(fsys, name)
	return err == nil && info.Mode().IsRegular()
}

func isDir(fsys fs.FS, name string) bool {
	info, err := fs.Stat(fsys, name)
	return err == nil && info.IsDir()
}

func readable(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

// contentType picks a media type from the extension, sniffing the content
// when the extension is unknown.
func contentType(name string, data []byte) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return mimetype.Detect(data).String()
}

// serveFile answers pc with the named file and marks it terminal.
func serveFile(pc *pipeline.Context, fsys fs.FS, name, ct string) error {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if ct == "" {
		ct = contentType(name, data)
	}
	pc.Response.Header.Set("Content-Length", strconv.Itoa(len(data)))
	if pc.Request.Method == http.MethodHead {
		data = nil
	}
	pc.Respond(http.StatusOK, ct, data)
	return nil
}

// DefaultFiles rewrites directory requests to the directory's index file when
// one exists, so "/docs/" becomes "/docs/index.html".
func DefaultFiles(fsys fs.FS, index string) pipeline.Stage {
	return pipeline.Func("default_files", func(ctx context.Context, pc *pipeline.Context) (pipeline.Result, error) {
		name := fsName(pc.Request.Path())
		if !isDir(fsys, name) {
			return pipeline.Continue, nil
		}
		candidate := path.Join(name, index)
		if isFile(fsys, candidate) {
			pc.Request.SetPath("/" + candidate)
		}
		return pipeline.Continue, nil
	})
}

// SPA rewrites extensionless paths that do not name a file to the
// application's index document, leaving routing to the client.
func SPA(fsys fs.FS, index string) pipeline.Stage {
	return RewritePath("spa", func(p string) string {
		if path.Ext(p) != "" || isFile(fsys, fsName(p)) {
			return p
		}
		return "/" + index
	})
}

// Static serves files that exist at the request path.
func Static(fsys fs.FS) pipeline.Stage {
	return pipeline.Func("static", func(ctx context.Context, pc *pipeline.Context) (pipeline.Result, error) {
		if !readable(pc.Request.Method) {
			return pipeline.Continue, nil
		}
		name := fsName(pc.Request.Path())
		if !isFile(fsys, name) {
			return pipeline.Continue, nil
		}
		if err := serveFile(pc, fsys, name, ""); err != nil {
			return pipeline.Continue, err
		}
		return pipeline.Halt, nil
	})
}

// ClientScript serves one script file at a fixed mount path.
func ClientScript(mount string, fsys fs.FS, file string) pipeline.Stage {
	return pipeline.Func("client_script", func(ctx context.Context, pc *pipeline.Context) (pipeline.Result, error) {
		if pc.Request.Path() != mount || !readable(pc.Request.Method) {
			return pipeline.Continue, nil
		}
		err := serveFile(pc, fsys, fsName(file), "text/javascript; charset=utf-8")
		if errors.Is(err, fs.ErrNotExist) {
			return pipeline.Continue, fmt.Errorf("client script %s is not available: %w", file, err)
		}
		if err != nil {
			return pipeline.Continue, err
		}
		return pipeline.Halt, nil
	})
}
