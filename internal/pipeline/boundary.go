package pipeline

import (
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/upb/auth-gateway/services"
	"github.com/upb/auth-gateway/utils"
	"go.uber.org/zap"
)

const internalMessage = "An internal error occurred"

// Metrics is the subset of the metrics registry the pipeline reports to.
type Metrics interface {
	IncPanic()
	IncRejection(stage, kind string)
}

// HandlerFunc is a route handler that reports failure by returning an error.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Boundary turns every failure into exactly one error envelope.
type Boundary struct {
	logger  *zap.Logger
	metrics Metrics
}

// NewBoundary creates a boundary. metrics may be nil.
func NewBoundary(logger *zap.Logger, metrics Metrics) *Boundary {
	return &Boundary{
		logger:  logger.Named("boundary"),
		metrics: metrics,
	}
}

// Handle writes the envelope for err. If the response already started the
// error is only logged.
func (b *Boundary) Handle(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}

	logger := b.logger.With(
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
	)

	if t := findTracker(w); t != nil && t.wrote {
		logger.Warn("error after response started", zap.Error(err))
		return
	}

	status, resp := Classify(err)
	if services.IsRouteNotFound(err) {
		resp.Path = r.URL.RequestURI()
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
	} else {
		logger.Debug("request rejected",
			zap.Int("status", status),
			zap.String("error_code", resp.Error),
			zap.Error(err))
	}

	if werr := utils.WriteJSON(w, status, resp); werr != nil {
		logger.Error("failed to write error response", zap.Error(werr))
	}
}

// Wrap adapts an error-returning handler so its failures go through Handle.
func (b *Boundary) Wrap(h HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			b.Handle(w, r, err)
		}
	})
}

// Recover converts panics below it into a 500 envelope, unless the
// response already started.
func (b *Boundary) Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tw := &trackingWriter{ResponseWriter: w}

		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			if b.metrics != nil {
				b.metrics.IncPanic()
			}
			b.logger.Error("panic recovered",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("path", r.URL.Path),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()))

			if tw.wrote {
				return
			}
			if err := utils.WriteInternalServerError(tw, internalMessage); err != nil {
				b.logger.Error("failed to write panic response", zap.Error(err))
			}
		}()

		next.ServeHTTP(tw, r)
	})
}

// NotFound is the catch-all for unmatched paths.
func (b *Boundary) NotFound(w http.ResponseWriter, r *http.Request) {
	b.Handle(w, r, services.ErrRouteNotFound)
}

// MethodNotAllowed reports a known path hit with the wrong verb as unmatched.
func (b *Boundary) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	b.Handle(w, r, services.ErrRouteNotFound)
}

// Classify maps err to a status and envelope. Internal causes never reach
// the envelope.
func Classify(err error) (int, utils.ErrorResponse) {
	message := services.GetErrorMessage(err)
	details := services.GetErrorDetails(err)
	if len(details) == 0 {
		details = nil
	}

	switch {
	case services.IsRateLimitError(err):
		return http.StatusTooManyRequests, utils.ErrorResponse{Error: utils.CodeRateLimitExceeded, Message: message, Details: details}

	case services.IsOriginRejectedError(err):
		return http.StatusForbidden, utils.ErrorResponse{Error: utils.CodeOriginRejected, Message: message, Details: details}

	case services.IsPayloadTooLargeError(err):
		return http.StatusRequestEntityTooLarge, utils.ErrorResponse{Error: utils.CodePayloadTooLarge, Message: message, Details: details}

	case services.IsStrategyNotFoundError(err):
		return http.StatusUnauthorized, utils.ErrorResponse{Error: utils.CodeStrategyNotFound, Message: message, Details: authDetails(err)}

	case services.IsUnauthorizedError(err):
		return http.StatusUnauthorized, utils.ErrorResponse{Error: utils.CodeAuthFailed, Message: message, Details: authDetails(err)}

	case services.IsRouteNotFound(err):
		return http.StatusNotFound, utils.ErrorResponse{Error: message}

	case services.IsNotFoundError(err):
		return http.StatusNotFound, utils.ErrorResponse{Error: utils.CodeNotFound, Message: message}

	case utils.IsValidationError(err):
		fields := make(map[string]interface{})
		for k, v := range utils.GetValidationFields(err) {
			fields[k] = v
		}
		return http.StatusBadRequest, utils.ErrorResponse{Error: utils.CodeBadRequest, Message: err.Error(), Details: fields}

	case services.IsValidationError(err):
		return http.StatusBadRequest, utils.ErrorResponse{Error: utils.CodeBadRequest, Message: message, Details: details}

	case services.IsConflictError(err):
		return http.StatusConflict, utils.ErrorResponse{Error: utils.CodeConflict, Message: message, Details: details}

	default:
		return http.StatusInternalServerError, utils.ErrorResponse{Error: utils.CodeInternalError, Message: internalMessage}
	}
}

// Kind is the bounded label used for rejection metrics.
func Kind(err error) string {
	switch {
	case services.IsRouteNotFound(err):
		return utils.CodeNotFound
	case services.IsStrategyNotFoundError(err):
		return utils.CodeStrategyNotFound
	case services.IsUnauthorizedError(err):
		return utils.CodeAuthFailed
	}
	_, resp := Classify(err)
	return resp.Error
}

func authDetails(err error) map[string]interface{} {
	authErr, ok := services.AsAuthError(err)
	if !ok {
		return nil
	}
	return map[string]interface{}{
		"reason":   string(authErr.Reason),
		"strategy": authErr.Strategy,
	}
}

type trackingWriter struct {
	http.ResponseWriter
	wrote bool
}

func (t *trackingWriter) WriteHeader(code int) {
	t.wrote = true
	t.ResponseWriter.WriteHeader(code)
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	t.wrote = true
	return t.ResponseWriter.Write(p)
}

func (t *trackingWriter) Flush() {
	if f, ok := t.ResponseWriter.(http.Flusher); ok {
		t.wrote = true
		f.Flush()
	}
}

func (t *trackingWriter) Unwrap() http.ResponseWriter {
	return t.ResponseWriter
}

func findTracker(w http.ResponseWriter) *trackingWriter {
	for w != nil {
		if t, ok := w.(*trackingWriter); ok {
			return t
		}
		u, ok := w.(interface{ Unwrap() http.ResponseWriter })
		if !ok {
			return nil
		}
		w = u.Unwrap()
	}
	return nil
}
