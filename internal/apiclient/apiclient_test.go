package apiclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"daypass-proxy/internal/model"
)

func TestProxyPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/x", "/api/proxy/x"},
		{"x", "/api/proxy/x"},
		{"/bookings/42?expand=addons", "/api/proxy/bookings/42?expand=addons"},
		{"/api/proxy/x", "/api/proxy/x"},
		{"/api/proxy", "/api/proxy"},
		{"/api/proxyish", "/api/proxy/api/proxyish"},
		{"/", "/api/proxy/"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ProxyPath(tt.in); got != tt.want {
				t.Errorf("ProxyPath(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if again := ProxyPath(ProxyPath(tt.in)); again != tt.want {
				t.Errorf("ProxyPath is not idempotent for %q: %q", tt.in, again)
			}
		})
	}
}

func TestClient_Do(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/proxy/bookings" {
			t.Errorf("path = %q, want /api/proxy/bookings", r.URL.Path)
		}
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("Accept = %q", r.Header.Get("Accept"))
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		var got map[string]any
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if got["date"] != "2026-10-17" {
			t.Errorf("body = %v", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"bk_1"}`))
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	resp, err := c.Do(context.Background(), http.MethodPost, "/bookings", map[string]string{"date": "2026-10-17"})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.StatusCode != http.StatusCreated || string(resp.Body) != `{"id":"bk_1"}` {
		t.Errorf("resp = %d %q", resp.StatusCode, resp.Body)
	}
	if resp.ContentType != "application/json" {
		t.Errorf("ContentType = %q", resp.ContentType)
	}
}

func TestClient_Do_NoBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if len(body) != 0 {
			t.Errorf("body = %q, want empty", body)
		}
		if r.Header.Get("Content-Type") != "" {
			t.Errorf("Content-Type = %q, want empty", r.Header.Get("Content-Type"))
		}
		if r.URL.RawQuery != "date=2026-10-17" {
			t.Errorf("query = %q", r.URL.RawQuery)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL}
	if _, err := c.Do(context.Background(), http.MethodGet, "slots?date=2026-10-17", nil); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
}

func TestClient_Do_Unreachable(t *testing.T) {
	c := New("http://127.0.0.1:1")
	if _, err := c.Do(context.Background(), http.MethodGet, "/slots", nil); err == nil {
		t.Fatal("Do() error = nil, want connection error")
	}
}

func TestClient_Do_UnencodableBody(t *testing.T) {
	c := New("http://127.0.0.1:1")
	if _, err := c.Do(context.Background(), http.MethodPost, "/bookings", make(chan int)); err == nil {
		t.Fatal("Do() error = nil, want encode error")
	}
}

func TestException(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
		wantOK  bool
	}{
		{"proxy failure", 500, `{"error":"Proxy exception","message":"Missing env var: CLOUD_RUN_URL"}`, "Missing env var: CLOUD_RUN_URL", true},
		{"upstream 500 relayed", 500, `{"error":"database down"}`, "", false},
		{"upstream 500 non-json", 500, `oops`, "", false},
		{"upstream 404", 404, `{"error":"not found"}`, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &model.ProxyResponse{StatusCode: tt.status, Body: []byte(tt.body)}
			exc, ok := Exception(resp)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && exc.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", exc.Message, tt.wantMsg)
			}
		})
	}
}
