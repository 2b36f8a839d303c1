package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func fakeServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestIsRunning(t *testing.T) {
	srv := fakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`{"models":[]}`))
	})

	c := New(srv.URL, "nomic-embed-text", 0)
	if !c.IsRunning(context.Background()) {
		t.Error("running server reported as down")
	}

	down := New("http://127.0.0.1:1", "nomic-embed-text", 0)
	if down.IsRunning(context.Background()) {
		t.Error("unreachable server reported as running")
	}
}

func TestHasModel(t *testing.T) {
	srv := fakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"models": []map[string]string{
				{"name": "nomic-embed-text:latest"},
				{"name": "llama3:8b"},
			},
		})
	})

	// The :latest suffix still matches the bare model name.
	if !New(srv.URL, "nomic-embed-text", 0).HasModel(context.Background()) {
		t.Error("suffixed model name not matched")
	}
	if !New(srv.URL, "nomic-embed-text:latest", 0).HasModel(context.Background()) {
		t.Error("exact model name not matched")
	}
	if New(srv.URL, "nomic", 0).HasModel(context.Background()) {
		t.Error("bare prefix matched a different model")
	}
	if New(srv.URL, "mxbai-embed-large", 0).HasModel(context.Background()) {
		t.Error("absent model reported as present")
	}
}

func TestPullModel(t *testing.T) {
	srv := fakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/pull" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var req struct {
			Name string `json:"name"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Name != "nomic-embed-text" {
			t.Errorf("pull name = %q", req.Name)
		}
		// Streamed progress: one JSON object per line.
		w.Write([]byte(`{"status":"pulling","total":100,"completed":50}` + "\n"))
		w.Write([]byte(`{"status":"success"}` + "\n"))
	})

	c := New(srv.URL, "nomic-embed-text", 0)
	var statuses []string
	err := c.PullModel(context.Background(), func(p PullProgress) {
		statuses = append(statuses, p.Status)
	})
	if err != nil {
		t.Fatalf("PullModel: %v", err)
	}
	if len(statuses) != 2 || statuses[1] != "success" {
		t.Errorf("progress = %v", statuses)
	}
}

func TestEmbed(t *testing.T) {
	srv := fakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var req struct {
			Model string `json:"model"`
			Input string `json:"input"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Input != "some text" {
			t.Errorf("input = %q", req.Input)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float32{{0.1, 0.2, 0.3}},
		})
	})

	c := New(srv.URL, "nomic-embed-text", 3)
	vec, err := c.Embed(context.Background(), "some text")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[0] != 0.1 {
		t.Errorf("vector = %v", vec)
	}
}

func TestEmbed_DimensionMismatch(t *testing.T) {
	srv := fakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float32{{0.1, 0.2, 0.3}},
		})
	})

	c := New(srv.URL, "nomic-embed-text", 768)
	_, err := c.Embed(context.Background(), "some text")
	if err == nil {
		t.Fatal("mismatched width accepted")
	}
	if !strings.Contains(err.Error(), "got 3 dimensions, want 768") {
		t.Errorf("error = %v", err)
	}
}

func TestEmbed_ServerErrors(t *testing.T) {
	srv := fakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	})

	c := New(srv.URL, "nomic-embed-text", 0)
	if _, err := c.Embed(context.Background(), "x"); err == nil {
		t.Error("error status accepted")
	}

	empty := fakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"embeddings":[]}`))
	})
	if _, err := New(empty.URL, "nomic-embed-text", 0).Embed(context.Background(), "x"); err == nil {
		t.Error("empty embeddings array accepted")
	}
}
