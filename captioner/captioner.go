// Package captioner defines the interface implemented by the caption
// backends.
package captioner

import (
	"context"
	"errors"
)

// DefaultPrompt is the instruction used when a Request does not carry
// one of its own.
const DefaultPrompt = "Write a concise, vivid caption for this image (1 sentence)."

// DefaultMaxOutputTokens bounds the generated caption length when a
// Request does not set a limit.
const DefaultMaxOutputTokens = 80

// ErrNoAPIKey is returned by backends that need a credential when none
// was passed explicitly and none was found in the environment. It is a
// configuration failure and is reported before any network I/O happens.
var ErrNoAPIKey = errors.New("missing API key")

// Request carries one image and the generation parameters for a single
// caption call. Requests are built fresh per call and never reused.
type Request struct {
	Image []byte // full contents of the image file
	MIME  string // image MIME type, e.g. "image/jpeg"

	Prompt          string // caption instruction, DefaultPrompt if empty
	MaxOutputTokens int    // upper bound on generated tokens, DefaultMaxOutputTokens if zero
}

// Normalize returns a copy of r with the documented defaults applied.
func (r Request) Normalize() Request {
	if r.Prompt == "" {
		r.Prompt = DefaultPrompt
	}
	if r.MaxOutputTokens <= 0 {
		r.MaxOutputTokens = DefaultMaxOutputTokens
	}
	return r
}

// Captioner captions an image using a specific LLM.
type Captioner interface {
	// Name returns the name of the backing LLM, e.g. "openai" or "ollama"
	Name() string

	// Model returns the model identifier requests are sent to.
	Model() string

	// Caption returns a short English caption for the image in req. The
	// returned text has leading and trailing whitespace removed; a
	// response with no generated text yields "" and a nil error. The
	// provided ctx is used as a parent context for the request to the
	// LLM server.
	Caption(ctx context.Context, req Request) (string, error)

	// IsHealthy returns whether the LLM server is healthy.
	IsHealthy() bool
}
