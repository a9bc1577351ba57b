// Package client talks to a running erp server on behalf of a tenant.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"freelance-erp/internal/core"
)

const defaultTimeout = 15 * time.Second

// SyncError reports a failed exchange with the remote store. Status is zero
// for transport failures.
type SyncError struct {
	Op      string
	Status  int
	Message string
	Details []string
	Err     error
}

func (e *SyncError) Error() string {
	var b strings.Builder
	b.WriteString("remote ")
	b.WriteString(e.Op)
	if e.Status != 0 {
		fmt.Fprintf(&b, ": status %d", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Details) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(e.Details, "; "))
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *SyncError) Unwrap() error { return e.Err }

// Remote loads and saves the tenant document behind an API key. It applies a
// request timeout and never retries.
type Remote struct {
	baseURL string
	apiKey  string
	http    *http.Client
	timeout time.Duration
}

type Option func(*Remote)

// WithHTTPClient sends requests through a copy of c.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Remote) { r.http = c }
}

// WithTimeout bounds each request, whatever the order of the options.
func WithTimeout(d time.Duration) Option {
	return func(r *Remote) { r.timeout = d }
}

func NewRemote(baseURL, apiKey string, opts ...Option) *Remote {
	r := &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    http.DefaultClient,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	cp := *r.http
	cp.Timeout = r.timeout
	r.http = &cp
	return r
}

type dataResponse struct {
	Data      core.Document `json:"data"`
	UpdatedAt *time.Time    `json:"updatedAt"`
}

type saveResponse struct {
	OK        bool      `json:"ok"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type errorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details"`
}

// Load fetches the tenant document. updatedAt is nil for a tenant that never saved.
func (r *Remote) Load(ctx context.Context) (core.Document, *time.Time, error) {
	var out dataResponse
	if err := r.do(ctx, "load", http.MethodGet, nil, &out); err != nil {
		return core.Document{}, nil, err
	}
	out.Data.Normalize()
	return out.Data, out.UpdatedAt, nil
}

// Save replaces the tenant document. The server keeps whichever write lands last.
func (r *Remote) Save(ctx context.Context, doc core.Document) (time.Time, error) {
	body, err := json.Marshal(map[string]any{"data": doc})
	if err != nil {
		return time.Time{}, &SyncError{Op: "save", Err: err}
	}
	var out saveResponse
	if err := r.do(ctx, "save", http.MethodPut, body, &out); err != nil {
		return time.Time{}, err
	}
	if !out.OK {
		return time.Time{}, &SyncError{Op: "save", Message: "server did not acknowledge the write"}
	}
	return out.UpdatedAt, nil
}

func (r *Remote) do(ctx context.Context, op, method string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+"/api/data", reader)
	if err != nil {
		return &SyncError{Op: op, Err: err}
	}
	req.Header.Set("x-api-key", r.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return &SyncError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &SyncError{Op: op, Status: resp.StatusCode, Message: e.Error, Details: e.Details}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &SyncError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// IsValidation reports whether err is a 400 rejection of the document.
func IsValidation(err error) bool {
	var se *SyncError
	return errors.As(err, &se) && se.Status == http.StatusBadRequest
}
