package recordapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientCreatesAndUpdates(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.Path)
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected auth header %q", got)
		}
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["log_type"] != "Warning" {
			t.Errorf("unexpected body %v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"id": "abc123"})
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL + "/", APIKey: "secret"})
	fields := map[string]interface{}{"log_type": "Warning"}

	rec, err := c.Write(context.Background(), "views/logs", "", fields, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.ID != "abc123" {
		t.Errorf("expected id from response, got %q", rec.ID)
	}

	if _, err := c.Write(context.Background(), "views/logs", "abc123", fields, ""); err != nil {
		t.Fatalf("update: %v", err)
	}

	want := []string{"POST /views/logs/records", "PUT /views/logs/records/abc123"}
	if len(seen) != len(want) {
		t.Fatalf("expected %d requests, got %v", len(want), seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("request %d: expected %q, got %q", i, want[i], seen[i])
		}
	}
}

func TestClientEscapesPathSegments(t *testing.T) {
	var seen string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.URL.EscapedPath()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{})
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL})
	if _, err := c.Write(context.Background(), "views/my logs", "a/b?c", map[string]interface{}{"x": 1}, ""); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if want := "/views/my%20logs/records/a%2Fb%3Fc"; seen != want {
		t.Errorf("expected path %q, got %q", want, seen)
	}
}

func TestRecordPath(t *testing.T) {
	tests := []struct {
		target, id, want string
	}{
		{"views/logs", "", "/views/logs/records"},
		{"/views/logs/", "rec1", "/views/logs/records/rec1"},
		{"views//logs", "a b", "/views/logs/records/a%20b"},
	}
	for _, tt := range tests {
		if got := recordPath(tt.target, tt.id); got != tt.want {
			t.Errorf("recordPath(%q, %q) = %q, want %q", tt.target, tt.id, got, tt.want)
		}
	}
}

func TestClientReturnsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL})
	_, err := c.Write(context.Background(), "views/logs", "", map[string]interface{}{}, "")

	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests || !apiErr.Temporary() {
		t.Errorf("unexpected error %+v", apiErr)
	}
	if apiErr.Body != "rate limited" {
		t.Errorf("unexpected body %q", apiErr.Body)
	}
}

func TestMethodFor(t *testing.T) {
	tests := []struct {
		id, method, want string
	}{
		{"", "", http.MethodPost},
		{"r1", "", http.MethodPut},
		{"r1", "post", http.MethodPost},
	}
	for _, tt := range tests {
		if got := MethodFor(tt.id, tt.method); got != tt.want {
			t.Errorf("MethodFor(%q, %q) = %q, want %q", tt.id, tt.method, got, tt.want)
		}
	}
}

func TestMemoryWriter(t *testing.T) {
	m := NewMemoryWriter()
	m.Seed("views/account", "acct-1", map[string]interface{}{"name": "Ada"})

	if _, err := m.Write(context.Background(), "views/account", "acct-1", map[string]interface{}{"heartbeat": "now"}, ""); err != nil {
		t.Fatalf("update seeded record: %v", err)
	}
	rec, ok := m.Get("views/account", "acct-1")
	if !ok || rec["name"] != "Ada" || rec["heartbeat"] != "now" {
		t.Errorf("unexpected record %v", rec)
	}

	_, err := m.Write(context.Background(), "views/account", "missing", nil, "")
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown record, got %v", err)
	}

	boom := errors.New("boom")
	m.Fail(boom)
	if _, err := m.Write(context.Background(), "views/logs", "", nil, ""); !errors.Is(err, boom) {
		t.Errorf("expected injected failure, got %v", err)
	}
	if n := len(m.Calls()); n != 3 {
		t.Errorf("expected 3 recorded calls, got %d", n)
	}
}
