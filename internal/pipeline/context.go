package pipeline

import (
	"context"
	"net/http"
	"net/url"

	"github.com/upb/auth-gateway/auth"
)

// State is the admission progress of a request, used in logs.
type State string

const (
	StateReceived          State = "received"
	StateTransportHardened State = "transport_hardened"
	StateOriginChecked     State = "origin_checked"
	StateRateLimited       State = "rate_limited"
	StateBodyDecoded       State = "body_decoded"
	StateAuthenticated     State = "authenticated"
	StateDispatched        State = "dispatched"
	StateResponded         State = "responded"
	StateRejected          State = "rejected"
)

var stageStates = map[string]State{
	StageHardening:    StateTransportHardened,
	StageOrigin:       StateOriginChecked,
	StageRateLimit:    StateRateLimited,
	StageBody:         StateBodyDecoded,
	StageAuthenticate: StateAuthenticated,
}

// Body is a decoded request payload. Raw is always kept; JSON or Form is
// set depending on the content type.
type Body struct {
	ContentType string
	Raw         []byte
	JSON        map[string]any
	Form        url.Values
}

// Fields flattens the payload into a string-keyed map. Form values keep
// their first entry.
func (b *Body) Fields() map[string]any {
	if b == nil {
		return nil
	}
	if b.JSON != nil {
		return b.JSON
	}
	if b.Form != nil {
		fields := make(map[string]any, len(b.Form))
		for k := range b.Form {
			fields[k] = b.Form.Get(k)
		}
		return fields
	}
	return nil
}

// Context is the per-request record stages fill in. It is created once per
// request and only touched by the request goroutine.
type Context struct {
	Body     *Body
	Identity *auth.Identity

	state State
	trace []string
}

// State returns the last state reached
func (c *Context) State() State { return c.state }

// Trace lists the stages run so far, in order
func (c *Context) Trace() []string {
	out := make([]string, len(c.trace))
	copy(out, c.trace)
	return out
}

type contextKey struct{}

// FromContext returns the pipeline context, or nil outside a pipeline.
func FromContext(ctx context.Context) *Context {
	pc, _ := ctx.Value(contextKey{}).(*Context)
	return pc
}

// IdentityFromContext returns the authenticated identity, if any.
func IdentityFromContext(ctx context.Context) *auth.Identity {
	if pc := FromContext(ctx); pc != nil {
		return pc.Identity
	}
	return nil
}

// BodyFromContext returns the decoded body, if any.
func BodyFromContext(ctx context.Context) *Body {
	if pc := FromContext(ctx); pc != nil {
		return pc.Body
	}
	return nil
}

// attach returns r carrying a pipeline context, reusing an existing one.
func attach(r *http.Request) (*http.Request, *Context) {
	if pc := FromContext(r.Context()); pc != nil {
		return r, pc
	}
	pc := &Context{state: StateReceived}
	return r.WithContext(context.WithValue(r.Context(), contextKey{}, pc)), pc
}

// WithContext attaches a fresh pipeline context. Used by tests that drive a
// single stage directly.
func WithContext(r *http.Request) (*http.Request, *Context) {
	return attach(r)
}
