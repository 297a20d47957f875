package pipeline

import "net/http"

// Stage names, in the only order New accepts.
const (
	StageHardening    = "hardening"
	StageOrigin       = "origin"
	StageRateLimit    = "ratelimit"
	StageBody         = "body"
	StageAuthenticate = "authenticate"
)

// Stage is one step of request admission.
type Stage interface {
	Name() string
	Run(w http.ResponseWriter, r *http.Request) Outcome
}

type outcomeKind int

const (
	kindContinue outcomeKind = iota
	kindReject
	kindHalt
)

// Outcome is what a stage decided: go on, fail, or stop because the
// stage already wrote a complete response.
type Outcome struct {
	kind outcomeKind
	req  *http.Request
	err  error
}

// Continue passes r (possibly enriched) to the next stage.
func Continue(r *http.Request) Outcome {
	return Outcome{kind: kindContinue, req: r}
}

// Reject hands err to the error boundary and stops the pipeline.
func Reject(err error) Outcome {
	return Outcome{kind: kindReject, err: err}
}

// Halt stops the pipeline without writing anything further.
func Halt() Outcome {
	return Outcome{kind: kindHalt}
}

func (o Outcome) Continued() bool { return o.kind == kindContinue }
func (o Outcome) Rejected() bool  { return o.kind == kindReject }
func (o Outcome) Halted() bool    { return o.kind == kindHalt }

// Err is the rejection cause, nil otherwise.
func (o Outcome) Err() error { return o.err }

// Request is the request to continue with, nil unless Continued.
func (o Outcome) Request() *http.Request { return o.req }

// StageFunc adapts a function to the Stage interface.
type StageFunc struct {
	StageName string
	Fn        func(w http.ResponseWriter, r *http.Request) Outcome
}

func (s StageFunc) Name() string { return s.StageName }

func (s StageFunc) Run(w http.ResponseWriter, r *http.Request) Outcome {
	return s.Fn(w, r)
}
