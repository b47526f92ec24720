package openai

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mbales/gaspard/captioner"
	"github.com/mbales/gaspard/dataurl"

	oagc "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultModel = "gpt-4.1-mini"

// EnvAPIKey is the environment variable consulted when no explicit API
// key is supplied.
const EnvAPIKey = "OPENAI_API_KEY"

type openai struct {
	oac   *oagc.Client
	model string

	rl *rateLimiter // For requests to the OpenAI API
}

var _ captioner.Captioner = &openai{}

// resolveAPIKey returns explicit if non-empty, otherwise the value of
// EnvAPIKey via getenv. getenv is injectable so tests can pin the
// fallback without touching process state; nil means os.Getenv.
func resolveAPIKey(explicit string, getenv func(string) string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	if key := getenv(EnvAPIKey); key != "" {
		return key, nil
	}
	return "", fmt.Errorf("%w: pass one explicitly or set %s", captioner.ErrNoAPIKey, EnvAPIKey)
}

// Init creates an OpenAI backed captioner. apiKey may be empty, in
// which case the EnvAPIKey environment variable is used; if neither is
// available Init fails with captioner.ErrNoAPIKey before any request is
// made. An empty model selects the default vision-capable model. Extra
// opts are applied last, tests use this to point the client at a fake
// server.
func Init(apiKey, model string, httpClient *http.Client, opts ...option.RequestOption) (*openai, error) {
	key, err := resolveAPIKey(apiKey, nil)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = defaultModel
	}

	ro := append([]option.RequestOption{
		option.WithAPIKey(key),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0), // failures surface to the caller, no local retry
	}, opts...)

	return &openai{
		oac:   oagc.NewClient(ro...),
		model: model,
		rl:    newRateLimiter(20, time.Minute),
	}, nil
}

func (o *openai) Name() string { return "openai" }

func (o *openai) Model() string { return o.model }

func (o *openai) IsHealthy() bool {
	// The hosted API has no health endpoint worth probing.
	return true
}

// Caption sends one chat completion request carrying the prompt text
// and the image as a data URL, and returns the trimmed response text.
func (o *openai) Caption(ctx context.Context, req captioner.Request) (string, error) {
	// Rate limit use of the OpenAI API
	if err := o.rl.Acquire(ctx); err != nil {
		return "", err
	}

	req = req.Normalize()

	// One user message with two content parts, prompt first then image.
	ccp := oagc.ChatCompletionNewParams{
		Model: oagc.F(oagc.ChatModel(o.model)),
		Messages: oagc.F([]oagc.ChatCompletionMessageParamUnion{
			oagc.UserMessageParts(
				oagc.TextPart(req.Prompt),
				oagc.ImagePart(dataurl.Encode(req.MIME, req.Image)),
			),
		}),
		MaxTokens: oagc.Int(int64(req.MaxOutputTokens)),
	}
	resp, err := o.oac.Chat.Completions.New(ctx, ccp)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		// No generated text is not an error, the caller gets "".
		return "", nil
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
