package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"

	apperrors "github.com/jrsteele09/lightshow-kiosk/internal/errors"
)

// HeaderRequestID carries the outbound request ID, kept across its retry.
const HeaderRequestID = "X-Request-ID"

// Kind controls how an authorization failure on a request is handled.
type Kind int

const (
	// Normal requests get one refresh-and-retry on authorization failure
	Normal Kind = iota
	// RefreshCall is the refresh operation itself; it is never refreshed
	RefreshCall
	// NoRefresh requests propagate authorization failure directly
	NoRefresh
)

// Request is one outbound call. A Request must not be reused for a second
// call: the retried marker stays set once the refresh has been spent.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
	Kind   Kind

	// Token, when set, is sent instead of the session's token
	Token string

	id      string
	retried bool
}

func NewRequest(method, path string) *Request {
	return &Request{Method: method, Path: path}
}

// JSON sets v as the JSON body of the request.
func (r *Request) JSON(v any) (*Request, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("[Request JSON] marshal body: %w", err)
	}
	r.Body = b
	if r.Header == nil {
		r.Header = make(http.Header)
	}
	r.Header.Set("Content-Type", "application/json")
	return r, nil
}

// Retried reports whether the one refresh-and-retry has been spent.
func (r *Request) Retried() bool {
	return r.retried
}

func (r *Request) ID() string {
	return r.id
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// StatusError is a non-2xx backend response surfaced as an error. A 401
// matches ErrAuthorizationFailure.
type StatusError struct {
	StatusCode int
	Detail     string
	RequestID  string
	Body       []byte
}

func NewStatusError(resp *Response, requestID string) *StatusError {
	return &StatusError{
		StatusCode: resp.StatusCode,
		Detail:     Detail(resp.Body),
		RequestID:  requestID,
		Body:       resp.Body,
	}
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("backend returned %d", e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		return apperrors.ErrAuthorizationFailure
	}
	return nil
}

// Detail pulls a human readable message out of a backend error body.
func Detail(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	for _, path := range []string{"detail", "error_description", "error", "message"} {
		if v := gjson.GetBytes(body, path); v.Exists() && v.Type == gjson.String {
			return v.String()
		}
	}
	// FastAPI validation errors: [{"msg": ...}]
	if v := gjson.GetBytes(body, "detail.0.msg"); v.Exists() {
		return v.String()
	}
	return ""
}
