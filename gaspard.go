// Package gaspard captions local image files using a vision-capable
// LLM. The usual entry point is Caption, a single-shot convenience
// call against the OpenAI API; Init selects between the supported
// backends for callers that want to reuse one.
package gaspard

import (
	"fmt"
	"net/http"
	"time"

	"github.com/mbales/gaspard/captioner"
	"github.com/mbales/gaspard/internal/llama"
	"github.com/mbales/gaspard/internal/ollama"
	"github.com/mbales/gaspard/internal/openai"
)

// DefaultTimeout bounds the full HTTP round trip when the caller does
// not supply their own client. The transports underneath set no
// deadline of their own, so an explicit one is used rather than
// inheriting "wait forever".
const DefaultTimeout = 30 * time.Second

type InitOptions struct {
	OpenAI bool   // use the hosted OpenAI API
	APIKey string // optional, falls back to the OPENAI_API_KEY environment variable

	OllamaServer string // address of running ollama server, typically http://localhost:11434
	LlamaServer  string // address of running llama server, typically http://localhost:8080
	LlamaSeed    int

	Model string // override the backend's default model

	HttpClient *http.Client // if nil uses a client with DefaultTimeout
}

type Gaspard struct {
	captioner.Captioner
}

// Init selects and constructs the caption backend. Exactly one of
// OpenAI, OllamaServer or LlamaServer must be set.
func Init(gio InitOptions) (*Gaspard, error) {
	g := &Gaspard{}

	httpClient := gio.HttpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}

	var n int
	if gio.OpenAI {
		n++
	}
	if gio.OllamaServer != "" {
		n++
	}
	if gio.LlamaServer != "" {
		n++
	}
	switch n {
	case 0:
		return nil, fmt.Errorf("no backend selected")
	case 1:
		// no-op
	default:
		return nil, fmt.Errorf("multiple backends selected, only one allowed")
	}

	var err error
	if gio.OpenAI {
		g.Captioner, err = openai.Init(gio.APIKey, gio.Model, httpClient)
		if err != nil {
			return nil, err
		}
	} else if gio.OllamaServer != "" {
		g.Captioner = ollama.Init(gio.Model, gio.OllamaServer, httpClient)
	} else if gio.LlamaServer != "" {
		g.Captioner = llama.Init(gio.LlamaServer, gio.LlamaSeed, httpClient)
	}

	return g, nil
}
