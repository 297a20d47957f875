package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/upb/auth-gateway/internal/pipeline"
	"github.com/upb/auth-gateway/services"
)

// DefaultBodyLimit is 10 MB
const DefaultBodyLimit int64 = 10 << 20

// BodyDecoder reads bounded request payloads and parses JSON and
// urlencoded forms. Other content types are kept raw.
type BodyDecoder struct {
	limit int64
}

// NewBodyDecoder creates the body stage. A non-positive limit uses DefaultBodyLimit.
func NewBodyDecoder(limit int64) *BodyDecoder {
	if limit <= 0 {
		limit = DefaultBodyLimit
	}
	return &BodyDecoder{limit: limit}
}

// Limit returns the configured byte limit
func (d *BodyDecoder) Limit() int64 {
	return d.limit
}

func (d *BodyDecoder) Name() string { return pipeline.StageBody }

func (d *BodyDecoder) Run(_ http.ResponseWriter, r *http.Request) pipeline.Outcome {
	body, err := d.Decode(r)
	if err != nil {
		return pipeline.Reject(err)
	}
	if pc := pipeline.FromContext(r.Context()); pc != nil {
		pc.Body = body
	}
	return pipeline.Continue(r)
}

// Decode reads and parses the request body. The body is replaced with a
// re-readable copy. It returns nil for bodiless requests.
func (d *BodyDecoder) Decode(r *http.Request) (*pipeline.Body, error) {
	if r.ContentLength > d.limit {
		return nil, services.ErrPayloadTooLarge.WithDetail("limit_bytes", d.limit)
	}
	if !hasBody(r) {
		return nil, nil
	}

	raw, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, d.limit))
	_ = r.Body.Close()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, services.ErrPayloadTooLarge.WithDetail("limit_bytes", d.limit)
		}
		return nil, services.ErrInvalidInput.WithDetail("reason", "unreadable request body")
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))

	contentType := r.Header.Get("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(contentType)
	body := &pipeline.Body{ContentType: mediaType, Raw: raw}

	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		body.JSON, err = decodeJSONObject(raw)
		if err != nil {
			return nil, services.ErrInvalidJSON
		}
	case mediaType == "application/x-www-form-urlencoded":
		body.Form, err = url.ParseQuery(string(raw))
		if err != nil {
			return nil, services.ErrInvalidInput.WithDetail("reason", "malformed form body")
		}
	}

	return body, nil
}

func hasBody(r *http.Request) bool {
	if r.Body == nil || r.Body == http.NoBody {
		return false
	}
	if r.ContentLength > 0 || r.ContentLength == -1 {
		return true
	}
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodDelete, http.MethodOptions:
		return false
	}
	return true
}

func decodeJSONObject(raw []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, nil
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode json body: %w", err)
	}
	if doc == nil {
		// literal null
		return map[string]any{}, nil
	}
	return doc, nil
}
