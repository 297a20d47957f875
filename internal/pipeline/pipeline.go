// Package pipeline drives request admission: an ordered list of stages,
// optional per-route authentication, and an error boundary that writes
// exactly one envelope per failed request.
package pipeline

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/upb/auth-gateway/auth"
	"go.uber.org/zap"
)

// ErrStageOrder is returned by New when the stages are not exactly
// hardening, origin, ratelimit, body.
var ErrStageOrder = errors.New("pipeline stages out of order")

var stageOrder = []string{StageHardening, StageOrigin, StageRateLimit, StageBody}

// Tracer observes every stage invocation, in order.
type Tracer func(stage string)

// AttemptHook observes every strategy invocation. identity is nil on failure.
type AttemptHook func(r *http.Request, strategy string, identity *auth.Identity, err error)

// Config assembles a Pipeline.
type Config struct {
	Stages     []Stage
	Boundary   *Boundary
	Dispatcher *auth.Dispatcher
	Metrics    Metrics
	Tracer     Tracer
	OnAttempt  AttemptHook
	Logger     *zap.Logger
}

// Pipeline runs the admission stages ahead of route dispatch.
type Pipeline struct {
	stages     []Stage
	boundary   *Boundary
	dispatcher *auth.Dispatcher
	metrics    Metrics
	tracer     Tracer
	onAttempt  AttemptHook
	logger     *zap.Logger
}

// New validates the stage order and builds the pipeline.
func New(cfg Config) (*Pipeline, error) {
	names := make([]string, len(cfg.Stages))
	for i, s := range cfg.Stages {
		if s == nil {
			return nil, fmt.Errorf("%w: stage %d is nil", ErrStageOrder, i)
		}
		names[i] = s.Name()
	}
	if strings.Join(names, ",") != strings.Join(stageOrder, ",") {
		return nil, fmt.Errorf("%w: got [%s], want [%s]",
			ErrStageOrder, strings.Join(names, ","), strings.Join(stageOrder, ","))
	}

	if cfg.Boundary == nil {
		return nil, errors.New("pipeline requires an error boundary")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pipeline{
		stages:     cfg.Stages,
		boundary:   cfg.Boundary,
		dispatcher: cfg.Dispatcher,
		metrics:    cfg.Metrics,
		tracer:     cfg.Tracer,
		onAttempt:  cfg.OnAttempt,
		logger:     logger.Named("pipeline"),
	}, nil
}

// Boundary returns the pipeline's error boundary
func (p *Pipeline) Boundary() *Boundary {
	return p.boundary
}

// Handler runs every stage, then next. A rejecting or halting stage ends
// the request.
func (p *Pipeline) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r, pc := attach(r)

		for _, stage := range p.stages {
			var ok bool
			if r, ok = p.run(stage, w, r, pc); !ok {
				return
			}
		}

		p.transition(r, pc, StateDispatched)
		next.ServeHTTP(w, r)
	})
}

// Authenticate returns route middleware that authenticates the request with
// the declared strategy (or the one the Authorization header names).
func (p *Pipeline) Authenticate(strategy string) func(http.Handler) http.Handler {
	stage := &authenticateStage{
		declared:   strategy,
		dispatcher: p.dispatcher,
		onAttempt:  p.onAttempt,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r, pc := attach(r)

			r, ok := p.run(stage, w, r, pc)
			if !ok {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (p *Pipeline) run(stage Stage, w http.ResponseWriter, r *http.Request, pc *Context) (*http.Request, bool) {
	name := stage.Name()
	pc.trace = append(pc.trace, name)
	if p.tracer != nil {
		p.tracer(name)
	}

	out := stage.Run(w, r)
	switch {
	case out.Rejected():
		p.transition(r, pc, StateRejected)
		if p.metrics != nil {
			p.metrics.IncRejection(name, Kind(out.Err()))
		}
		p.boundary.Handle(w, r, out.Err())
		return nil, false

	case out.Halted():
		p.transition(r, pc, StateResponded)
		return nil, false
	}

	if next := out.Request(); next != nil {
		r = next
	}
	p.transition(r, pc, stageStates[name])
	return r, true
}

func (p *Pipeline) transition(r *http.Request, pc *Context, to State) {
	from := pc.state
	pc.state = to
	if ce := p.logger.Check(zap.DebugLevel, "pipeline transition"); ce != nil {
		ce.Write(
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("from", string(from)),
			zap.String("to", string(to)))
	}
}

type authenticateStage struct {
	declared   string
	dispatcher *auth.Dispatcher
	onAttempt  AttemptHook
}

func (s *authenticateStage) Name() string { return StageAuthenticate }

func (s *authenticateStage) Run(_ http.ResponseWriter, r *http.Request) Outcome {
	if s.dispatcher == nil {
		return Reject(errors.New("authentication requested without a dispatcher"))
	}

	pc := FromContext(r.Context())
	scheme := auth.ParseScheme(s.declared, r.Header.Get("Authorization"), pc.Body.Fields())

	identity, err := s.dispatcher.Dispatch(r.Context(), scheme)
	if s.onAttempt != nil {
		s.onAttempt(r, scheme.Strategy, identity, err)
	}
	if err != nil {
		return Reject(err)
	}

	pc.Identity = identity
	return Continue(r)
}
