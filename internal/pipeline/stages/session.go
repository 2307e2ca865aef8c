package stages

import (
	"context"
	"net/http"

	"github.com/tjfontaine/polyglot-pipe/internal/pipeline"
	"github.com/tjfontaine/polyglot-pipe/internal/session"
)

// SessionValueKey is the context value key holding the *session.Session.
const SessionValueKey = "session"

// SessionFrom returns the session attached by the Session stage.
func SessionFrom(pc *pipeline.Context) (*session.Session, bool) {
	v, ok := pc.Value(SessionValueKey)
	if !ok {
		return nil, false
	}
	sess, ok := v.(*session.Session)
	return sess, ok
}

// Session attaches the client's session to the context, creating one when the
// request carries no known key. The key is read from the header first, then
// the cookie; new keys are returned in the cookie.
func Session(store *session.Store, cookie, header string) pipeline.Stage {
	return pipeline.Func("session", func(ctx context.Context, pc *pipeline.Context) (pipeline.Result, error) {
		if key := requestSessionKey(pc, cookie, header); key != "" {
			if sess, ok := store.Lookup(key); ok {
				pc.Set(SessionValueKey, sess)
				return pipeline.Continue, nil
			}
		}

		sess, err := store.Create()
		if err != nil {
			return pipeline.Continue, err
		}
		pc.Set(SessionValueKey, sess)
		pc.Response.Header.Add("Set-Cookie", (&http.Cookie{
			Name:     cookie,
			Value:    sess.Key,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		}).String())
		return pipeline.Continue, nil
	})
}

func requestSessionKey(pc *pipeline.Context, cookie, header string) string {
	if header != "" {
		if key := pc.Request.Header.Get(header); key != "" {
			return key
		}
	}
	r := http.Request{Header: pc.Request.Header}
	if c, err := r.Cookie(cookie); err == nil {
		return c.Value
	}
	return ""
}
