package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Paranoid-AF/promptbar"
)

func sseServer(t *testing.T, chunks []string, check func(*http.Request, chatCompletionsRequest)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatCompletionsRequest
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if check != nil {
			check(r, req)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			data, _ := json.Marshal(chatChunk{Choices: []chunkChoice{{Delta: chatMessage{Content: c}}}})
			fmt.Fprintf(w, "data: %s\n\n", data)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSendAppliesStreamedPatch(t *testing.T) {
	chunks := []string{
		"<<<<<<< ORIGINAL\n",
		"x = 1\n",
		"=======\n",
		"x = 2\n",
		">>>>>>> UPDATED\n",
	}
	srv := sseServer(t, chunks, func(r *http.Request, req chatCompletionsRequest) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}
		if !req.Stream {
			t.Error("expected stream=true")
		}
		if req.Model != "test-model" {
			t.Errorf("unexpected model %q", req.Model)
		}
		if len(req.Messages) != 1 || !strings.Contains(req.Messages[0].Content, "print(x)") ||
			!strings.Contains(req.Messages[0].Content, "set x to 2") {
			t.Errorf("prompt missing code or changes: %+v", req.Messages)
		}
	})

	g := NewGenerator(srv.URL+"/", "sk-test", "test-model", 100, 0, "", time.Second, 0)
	progress := make(chan promptbar.Progress, 16)
	res, err := g.Send(context.Background(), promptbar.Request{Prompt: "set x to 2", Code: "x = 1\nprint(x)\n"}, progress)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.AfterCode != "x = 2\nprint(x)\n" {
		t.Errorf("unexpected after code %q", res.AfterCode)
	}
	if res.Raw != strings.Join(chunks, "") {
		t.Errorf("unexpected raw output %q", res.Raw)
	}

	close(progress)
	var last string
	n := 0
	for p := range progress {
		last = p.Text
		n++
	}
	if n == 0 {
		t.Fatal("expected progress updates")
	}
	if !strings.HasPrefix(res.Raw, last) {
		t.Errorf("progress %q is not a prefix of the output", last)
	}
}

func TestSendThrottlesProgress(t *testing.T) {
	chunks := make([]string, 50)
	for i := range chunks {
		chunks[i] = "."
	}
	srv := sseServer(t, chunks, nil)

	g := NewGenerator(srv.URL, "sk-test", "m", 0, 0, "", time.Second, time.Hour)
	progress := make(chan promptbar.Progress, 64)
	_, err := g.Send(context.Background(), promptbar.Request{Code: "x"}, progress)
	if !errors.Is(err, ErrNoDiffs) {
		t.Fatalf("expected ErrNoDiffs, got %v", err)
	}
	if len(progress) != 1 {
		t.Errorf("expected a single progress update, got %d", len(progress))
	}
}

func TestSendNotConfigured(t *testing.T) {
	g := NewGenerator("http://127.0.0.1:1", "", "m", 0, 0, "", time.Second, 0)
	_, err := g.Send(context.Background(), promptbar.Request{}, nil)
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSendAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited"}}`)
	}))
	defer srv.Close()

	g := NewGenerator(srv.URL, "sk-test", "m", 0, 0, "", time.Second, 0)
	_, err := g.Send(context.Background(), promptbar.Request{Code: "x"}, nil)
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestSendStreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"error\":{\"message\":\"context too long\"}}\n\n")
	}))
	defer srv.Close()

	g := NewGenerator(srv.URL, "sk-test", "m", 0, 0, "", time.Second, 0)
	_, err := g.Send(context.Background(), promptbar.Request{Code: "x"}, nil)
	if err == nil || !strings.Contains(err.Error(), "context too long") {
		t.Fatalf("expected API error, got %v", err)
	}
}

func TestSendCancelled(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g := NewGenerator(srv.URL, "sk-test", "m", 0, 0, "", time.Second, 0)
	_, err := g.Send(ctx, promptbar.Request{Code: "x"}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBuildPrompt(t *testing.T) {
	got := buildPrompt("code:\n<APP_CODE>\nchanges: <APP_CHANGES>", "a = 1", "make it 2")
	want := "code:\na = 1\nchanges: make it 2"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFromConfigUsesCustomPrompt(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PROMPTBAR_CONFIG_DIR", dir)
	t.Setenv("PROMPTBAR_GENERATION_API_KEY", "sk-env")
	if err := os.WriteFile(filepath.Join(dir, "prompt.md"), []byte("custom <APP_CHANGES>"), 0644); err != nil {
		t.Fatal(err)
	}

	g := FromConfig(promptbar.DefaultConfig())
	if !g.Configured() {
		t.Error("expected generator to be configured from env")
	}
	if g.prompt != "custom <APP_CHANGES>" {
		t.Errorf("expected custom prompt, got %q", g.prompt)
	}
	if g.interval != 100*time.Millisecond {
		t.Errorf("expected 100ms progress interval, got %v", g.interval)
	}
}
