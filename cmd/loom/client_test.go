package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testClient(t *testing.T, handler http.HandlerFunc) *apiClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &apiClient{
		baseURL:    srv.URL,
		token:      "cli-test-token",
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func TestClientSendsBearerToken(t *testing.T) {
	var gotAuth, gotContentType string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		w.Write([]byte(`{"ok":true}`))
	})

	resp, err := c.post(context.Background(), "/nodes", map[string]string{"text": "x"})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if gotAuth != "Bearer cli-test-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q", gotContentType)
	}

	// GET carries no body and no content type.
	resp, err = c.get(context.Background(), "/stats")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if gotContentType != "" {
		t.Errorf("GET Content-Type = %q", gotContentType)
	}
}

func TestDecodeJSON(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Write([]byte(`{"name":"loom"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":{"message":"node not found","type":"not_found"}}`))
		}
	})

	resp, err := c.get(context.Background(), "/ok")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var out struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		t.Fatalf("decodeJSON: %v", err)
	}
	if out.Name != "loom" {
		t.Errorf("Name = %q", out.Name)
	}

	// Error statuses surface the body instead of decoding.
	resp, err = c.get(context.Background(), "/missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	err = decodeJSON(resp, &out)
	if err == nil {
		t.Fatal("error status decoded silently")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "node not found") {
		t.Errorf("error = %v", err)
	}
}

func TestClientUnreachableServer(t *testing.T) {
	c := &apiClient{
		baseURL:    "http://127.0.0.1:1",
		token:      "t",
		httpClient: &http.Client{Timeout: time.Second},
	}
	_, err := c.get(context.Background(), "/stats")
	if err == nil {
		t.Fatal("unreachable server returned no error")
	}
	if !strings.Contains(err.Error(), "is loom running") {
		t.Errorf("error = %v", err)
	}
}
