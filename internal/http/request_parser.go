// Package http provides HTTP server and handler implementations.
//
// This file implements the parsing of query parameters and request bodies
// shared by the handlers.

package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"freelance-erp/internal/core"
)

// msgBadDataBody is returned to clients that send a malformed save body.
const msgBadDataBody = "Body must be { data: {...} }"

var (
	errBadDataBody = errors.New("body is not a data object")
	errTooLarge    = errors.New("request body too large")
)

// ParseYear reads the year query parameter. An empty value or "all" means
// every year and yields nil.
func ParseYear(q url.Values) (*int, error) {
	v := strings.TrimSpace(q.Get("year"))
	if v == "" || strings.EqualFold(v, "all") {
		return nil, nil
	}
	y, err := strconv.Atoi(v)
	if err != nil || y < 1900 || y > 9999 {
		return nil, fmt.Errorf("invalid year %q", v)
	}
	return &y, nil
}

// ParseOperationType reads the type query parameter. Empty means every type.
func ParseOperationType(q url.Values) (core.OperationType, error) {
	v := core.OperationType(strings.TrimSpace(q.Get("type")))
	if v == "" || v == "all" {
		return "", nil
	}
	if !v.Valid() {
		return "", fmt.Errorf("invalid operation type %q", v)
	}
	return v, nil
}

// ParseImportMode reads the mode query parameter, replace being the default.
func ParseImportMode(q url.Values) (core.ImportMode, error) {
	v := core.ImportMode(strings.ToLower(strings.TrimSpace(q.Get("mode"))))
	if v == "" {
		return core.ImportReplace, nil
	}
	if !v.Valid() {
		return "", fmt.Errorf("invalid import mode %q", v)
	}
	return v, nil
}

// ReadBody reads the whole request body. It returns errTooLarge when the
// body limit installed by the server is exceeded.
func ReadBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, errTooLarge
		}
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// DecodeDataBody extracts the raw document from a { "data": {...} } body.
func DecodeDataBody(body []byte) (json.RawMessage, error) {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, errBadDataBody
	}
	data := bytes.TrimSpace(envelope.Data)
	if len(data) == 0 || data[0] != '{' {
		return nil, errBadDataBody
	}
	return data, nil
}

// DecodeJSON decodes a small JSON body into v, rejecting unknown fields.
func DecodeJSON(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
