package ollama

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/mbales/gaspard/captioner"
)

const defaultModel = "llava"

type ollama struct {
	model   string
	srvAddr string

	client *http.Client
}

var _ captioner.Captioner = &ollama{}

// Init creates a captioner backed by an ollama server at srvAddr. An
// empty model selects llava.
func Init(model, srvAddr string, httpClient *http.Client) *ollama {
	if model == "" {
		model = defaultModel
	}
	return &ollama{
		model:   model,
		srvAddr: srvAddr,
		client:  httpClient,
	}
}

func (o *ollama) Name() string { return "ollama" }

func (o *ollama) Model() string { return o.model }

func (o *ollama) IsHealthy() bool {
	resp, err := o.client.Get(o.srvAddr)
	if err != nil {
		return false
	}
	resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"` // base64 encoded image bytes
}

type chatResponse struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// Caption sends a non-streaming /api/chat request with the image
// attached to the user message and returns the trimmed reply.
func (o *ollama) Caption(ctx context.Context, req captioner.Request) (string, error) {
	req = req.Normalize()

	creq := chatRequest{
		Model: o.model,
		Messages: []chatMessage{
			{
				Role:    "user",
				Content: req.Prompt,
				Images:  []string{base64.StdEncoding.EncodeToString(req.Image)},
			},
		},
		Stream: false,
		Options: map[string]any{
			"num_predict": req.MaxOutputTokens,
		},
	}
	body, err := json.Marshal(&creq)
	if err != nil {
		return "", err
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.srvAddr+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	hreq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(hreq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama: unexpected status %s", resp.Status)
	}

	var cresp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cresp); err != nil {
		return "", err
	}

	return strings.TrimSpace(cresp.Message.Content), nil
}
