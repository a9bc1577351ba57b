package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestJSONResponseBuilder_Basic(t *testing.T) {
	rec := httptest.NewRecorder()
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("X-Test", "yes").
		Body(map[string]bool{"ok": true}).
		Write(rec)

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if rec.Header().Get("X-Test") != "yes" {
		t.Error("custom header missing")
	}
	var body map[string]bool
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || !body["ok"] {
		t.Errorf("body = %s, err = %v", rec.Body.String(), err)
	}
}

func TestErrorResponses(t *testing.T) {
	tests := []struct {
		name    string
		builder *JSONResponseBuilder
		status  int
		message string
	}{
		{"bad request", BadRequestError("Invalid data", "clients[0]: missing name"), http.StatusBadRequest, "Invalid data"},
		{"unauthorized", UnauthorizedError("Missing API key"), http.StatusUnauthorized, "Missing API key"},
		{"forbidden", ForbiddenError("Invalid API key"), http.StatusForbidden, "Invalid API key"},
		{"not found", NotFoundError(), http.StatusNotFound, "Not found"},
		{"too large", PayloadTooLargeError(), http.StatusRequestEntityTooLarge, "Payload too large"},
		{"rate limited", TooManyRequestsError(), http.StatusTooManyRequests, "Too many requests"},
		{"internal", InternalServerError(), http.StatusInternalServerError, "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.builder.Write(rec)

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			var body ErrorBody
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Error != tt.message {
				t.Errorf("error = %q, want %q", body.Error, tt.message)
			}
		})
	}
}

func TestErrorResponse_DetailsOmittedWhenEmpty(t *testing.T) {
	rec := httptest.NewRecorder()
	UnauthorizedError("Not authenticated").Write(rec)
	if got := rec.Body.String(); got != "{\"error\":\"Not authenticated\"}\n" {
		t.Errorf("body = %q", got)
	}
}
