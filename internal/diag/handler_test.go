package diag

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandlerServesSnapshotJSON(t *testing.T) {
	h := Handler(func() any {
		return map[string]any{"tracked_entities": 3}
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/debug/livemap", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if body["tracked_entities"] != float64(3) {
		t.Errorf("tracked_entities = %v, want 3", body["tracked_entities"])
	}
}

func TestHandlerRejectsNonGet(t *testing.T) {
	h := Handler(func() any { return nil }, nil)

	req := httptest.NewRequest(http.MethodPost, "/debug/livemap", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}
