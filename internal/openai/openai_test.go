package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/mbales/gaspard/captioner"
	"github.com/mbales/gaspard/dataurl"

	"github.com/openai/openai-go/option"
	"github.com/tidwall/gjson"
)

func completionBody(content string) string {
	return fmt.Sprintf(`{
		"id": "chatcmpl-test",
		"object": "chat.completion",
		"created": 1700000000,
		"model": "gpt-4.1-mini",
		"choices": [
			{"index": 0, "finish_reason": "stop",
			 "message": {"role": "assistant", "content": %q}}
		]
	}`, content)
}

// newTestCaptioner returns a captioner pointed at a fake completions
// endpoint served by handler.
func newTestCaptioner(t *testing.T, handler http.HandlerFunc) *openai {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	o, err := Init("test-key", "", srv.Client(), option.WithBaseURL(srv.URL+"/"))
	if err != nil {
		t.Fatalf("Unexpected error %s", err)
	}
	return o
}

func TestCaptionTrimsOutput(t *testing.T) {
	o := newTestCaptioner(t, func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, completionBody("  A cat sits on a mat.  "))
	})

	got, err := o.Caption(t.Context(), captioner.Request{Image: []byte{1, 2, 3}, MIME: "image/jpeg"})
	if err != nil {
		t.Fatalf("Unexpected error %s", err)
	}
	if want := "A cat sits on a mat."; got != want {
		t.Errorf("Caption = %q, want %q", got, want)
	}
}

func TestCaptionEmptyResponse(t *testing.T) {
	t.Run("no choices", func(t *testing.T) {
		o := newTestCaptioner(t, func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"id":"chatcmpl-test","object":"chat.completion","created":1700000000,"model":"gpt-4.1-mini","choices":[]}`)
		})

		got, err := o.Caption(t.Context(), captioner.Request{Image: []byte{1}, MIME: "image/png"})
		if err != nil {
			t.Fatalf("Unexpected error %s", err)
		}
		if got != "" {
			t.Errorf("Expected empty caption, got %q", got)
		}
	})

	t.Run("blank content", func(t *testing.T) {
		o := newTestCaptioner(t, func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, completionBody("   "))
		})

		got, err := o.Caption(t.Context(), captioner.Request{Image: []byte{1}, MIME: "image/png"})
		if err != nil {
			t.Fatalf("Unexpected error %s", err)
		}
		if got != "" {
			t.Errorf("Expected empty caption, got %q", got)
		}
	})
}

func TestCaptionRequestShape(t *testing.T) {
	var body []byte
	o := newTestCaptioner(t, func(w http.ResponseWriter, req *http.Request) {
		body, _ = io.ReadAll(req.Body)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, completionBody("ok"))
	})

	image := []byte{0x89, 'P', 'N', 'G'}
	if _, err := o.Caption(t.Context(), captioner.Request{Image: image, MIME: "image/png"}); err != nil {
		t.Fatalf("Unexpected error %s", err)
	}

	// Exactly one user message with two parts: prompt text then image.
	if n := gjson.GetBytes(body, "messages.#").Int(); n != 1 {
		t.Fatalf("Expected 1 message, got %d", n)
	}
	if role := gjson.GetBytes(body, "messages.0.role").String(); role != "user" {
		t.Errorf("Expected user role, got %q", role)
	}
	if n := gjson.GetBytes(body, "messages.0.content.#").Int(); n != 2 {
		t.Fatalf("Expected 2 content parts, got %d", n)
	}
	if typ := gjson.GetBytes(body, "messages.0.content.0.type").String(); typ != "text" {
		t.Errorf("Expected first part to be text, got %q", typ)
	}
	if text := gjson.GetBytes(body, "messages.0.content.0.text").String(); text != captioner.DefaultPrompt {
		t.Errorf("Expected default prompt, got %q", text)
	}
	if typ := gjson.GetBytes(body, "messages.0.content.1.type").String(); typ != "image_url" {
		t.Errorf("Expected second part to be image_url, got %q", typ)
	}
	wantURL := dataurl.Encode("image/png", image)
	if url := gjson.GetBytes(body, "messages.0.content.1.image_url.url").String(); url != wantURL {
		t.Errorf("Expected image data URL %q, got %q", wantURL, url)
	}
	if mt := gjson.GetBytes(body, "max_tokens").Int(); mt != captioner.DefaultMaxOutputTokens {
		t.Errorf("Expected max_tokens %d, got %d", captioner.DefaultMaxOutputTokens, mt)
	}
	firstImageURL := gjson.GetBytes(body, "messages.0.content.1.image_url.url").String()

	// Changing prompt and token limit must only change those fields.
	if _, err := o.Caption(t.Context(), captioner.Request{
		Image:           image,
		MIME:            "image/png",
		Prompt:          "Make it a funny caption.",
		MaxOutputTokens: 55,
	}); err != nil {
		t.Fatalf("Unexpected error %s", err)
	}

	if text := gjson.GetBytes(body, "messages.0.content.0.text").String(); text != "Make it a funny caption." {
		t.Errorf("Expected overridden prompt, got %q", text)
	}
	if mt := gjson.GetBytes(body, "max_tokens").Int(); mt != 55 {
		t.Errorf("Expected max_tokens 55, got %d", mt)
	}
	if url := gjson.GetBytes(body, "messages.0.content.1.image_url.url").String(); url != firstImageURL {
		t.Errorf("Image part changed when only prompt and max_tokens should have")
	}
	if n := gjson.GetBytes(body, "messages.#").Int(); n != 1 {
		t.Errorf("Expected 1 message, got %d", n)
	}
}

func TestConcurrentCaptions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, completionBody("A bird on a wire."))
	}))
	t.Cleanup(srv.Close)

	// Each in-flight call owns its captioner, including the limiter.
	// Run under -race.
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			o, err := Init("test-key", "", srv.Client(), option.WithBaseURL(srv.URL+"/"))
			if err != nil {
				t.Errorf("Unexpected error %s", err)
				return
			}
			got, err := o.Caption(t.Context(), captioner.Request{Image: []byte{1}, MIME: "image/png"})
			if err != nil {
				t.Errorf("Unexpected error %s", err)
				return
			}
			if want := "A bird on a wire."; got != want {
				t.Errorf("Caption = %q, want %q", got, want)
			}
		}()
	}
	wg.Wait()
}

func TestCaptionCanceled(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	o := newTestCaptioner(t, func(w http.ResponseWriter, req *http.Request) {
		close(started)
		<-release
	})
	// Registered after newTestCaptioner so this runs before srv.Close:
	// cleanups run LIFO, and Close waits for the handler to return.
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithCancel(t.Context())
	go func() {
		<-started
		cancel()
	}()

	_, err := o.Caption(ctx, captioner.Request{Image: []byte{1}, MIME: "image/png"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestInitMissingAPIKey(t *testing.T) {
	t.Setenv(EnvAPIKey, "")

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	_, err := Init("", "", srv.Client(), option.WithBaseURL(srv.URL+"/"))
	if err == nil {
		t.Fatal("Expected an error with no API key available")
	}
	if !errors.Is(err, captioner.ErrNoAPIKey) {
		t.Errorf("Expected captioner.ErrNoAPIKey, got %v", err)
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("Expected no network calls, server saw %d", n)
	}
}

func TestResolveAPIKey(t *testing.T) {
	env := func(vals map[string]string) func(string) string {
		return func(k string) string { return vals[k] }
	}

	t.Run("explicit wins", func(t *testing.T) {
		key, err := resolveAPIKey("sk-explicit", env(map[string]string{EnvAPIKey: "sk-env"}))
		if err != nil {
			t.Fatalf("Unexpected error %s", err)
		}
		if key != "sk-explicit" {
			t.Errorf("Expected explicit key, got %q", key)
		}
	})

	t.Run("environment fallback", func(t *testing.T) {
		key, err := resolveAPIKey("", env(map[string]string{EnvAPIKey: "sk-env"}))
		if err != nil {
			t.Fatalf("Unexpected error %s", err)
		}
		if key != "sk-env" {
			t.Errorf("Expected env key, got %q", key)
		}
	})

	t.Run("neither", func(t *testing.T) {
		_, err := resolveAPIKey("", env(nil))
		if !errors.Is(err, captioner.ErrNoAPIKey) {
			t.Errorf("Expected captioner.ErrNoAPIKey, got %v", err)
		}
		if err != nil && !strings.Contains(err.Error(), EnvAPIKey) {
			t.Errorf("Error should name %s, got %q", EnvAPIKey, err)
		}
	})
}
