package gaspard

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/mbales/gaspard/captioner"
	"github.com/mbales/gaspard/dataurl"
)

// CaptionOptions tunes a single Caption call. The zero value selects
// the documented defaults.
type CaptionOptions struct {
	Prompt          string       // default captioner.DefaultPrompt
	Model           string       // default "gpt-4.1-mini"
	MaxOutputTokens int          // default captioner.DefaultMaxOutputTokens
	APIKey          string       // default: the OPENAI_API_KEY environment variable
	HTTPClient      *http.Client // default: a client with DefaultTimeout
}

// Caption generates a short caption for the image at imagePath using
// the OpenAI API. It resolves the API key first (failing with
// captioner.ErrNoAPIKey before any I/O), expands and absolutizes the
// path, encodes the image as a data URL and performs one network
// round trip. The returned text is trimmed; a response with no text
// yields "" and a nil error.
func Caption(ctx context.Context, imagePath string, opts CaptionOptions) (string, error) {
	g, err := Init(InitOptions{
		OpenAI:     true,
		APIKey:     opts.APIKey,
		Model:      opts.Model,
		HttpClient: opts.HTTPClient,
	})
	if err != nil {
		return "", err
	}

	return g.CaptionFile(ctx, imagePath, opts.Prompt, opts.MaxOutputTokens)
}

// CaptionFile captions the image file at imagePath with the configured
// backend. An empty prompt and a zero maxOutputTokens select the
// defaults from the captioner package.
func (g *Gaspard) CaptionFile(ctx context.Context, imagePath, prompt string, maxOutputTokens int) (string, error) {
	path, err := expandPath(imagePath)
	if err != nil {
		return "", err
	}

	img, mime, err := dataurl.ReadFile(path)
	if err != nil {
		return "", err
	}

	return g.Caption(ctx, captioner.Request{
		Image:           img,
		MIME:            mime,
		Prompt:          prompt,
		MaxOutputTokens: maxOutputTokens,
	})
}

// expandPath expands a leading ~ to the current user's home directory
// and resolves the result to an absolute path. The ~user form is
// rejected rather than silently treated as a literal path component.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		if path != "~" && !strings.HasPrefix(path, "~/") {
			return "", fmt.Errorf("cannot expand home directory of another user: %s", path)
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Abs(path)
}
