package llama

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

const (
	imagePreamble = `A chat between a curious human and an artificial intelligence assistant. The assistant gives helpful, detailed, and polite answers to the human's questions.
USER:`
	imageSuffix = `
ASSISTANT:`
)

type jsonmap map[string]any

// Sampling parameters sent with every completion request. Generation
// length and seed are filled in per request.
var defaultparams = jsonmap{
	"n_probs":        0,
	"temperature":    0.7,
	"stop":           []string{"</s>", "USER:"},
	"repeat_last_n":  256,
	"repeat_penalty": 1.18,
	"top_k":          40,
	"top_p":          0.5,
	"cache_prompt":   true,
	"slot_id":        -1,
}

type llama struct {
	srvAddr string
	seed    int

	client *http.Client
}

var _ captioner.Captioner = &llama{}

// Init creates a captioner backed by a llama.cpp server at srvAddr.
func Init(srvAddr string, seed int, httpClient *http.Client) *llama {
	return &llama{
		srvAddr: srvAddr,
		seed:    seed,
		client:  httpClient,
	}
}

func (l *llama) Name() string { return "llama" }

// Model reports "default", the server runs whichever model it was
// launched with and does not take one per request.
func (l *llama) Model() string { return "default" }

func (l *llama) IsHealthy() bool {
	resp, err := l.client.Get(l.srvAddr)
	if err != nil {
		return false
	}
	resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// Caption wraps the prompt in the llava chat template with the image
// bound to slot 10 and issues one non-streaming completion request.
func (l *llama) Caption(ctx context.Context, req captioner.Request) (string, error) {
	req = req.Normalize()

	imb64 := base64.StdEncoding.EncodeToString(req.Image)
	data := jsonmap{
		"prompt":    imagePreamble + "[img-10]" + req.Prompt + imageSuffix,
		"n_predict": req.MaxOutputTokens,
		"seed":      l.seed,
		"stream":    false,
		"image_data": []jsonmap{
			{"data": imb64, "id": 10},
		},
	}
	for k, v := range defaultparams {
		data[k] = v
	}

	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(&data); err != nil {
		return "", err
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, l.srvAddr+"/completion", buf)
	if err != nil {
		return "", err
	}
	hreq.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(hreq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llama: unexpected status %s", resp.Status)
	}

	respbody := struct {
		Content string `json:"content"`
		Stop    bool   `json:"stop"`
	}{}
	if err := json.NewDecoder(resp.Body).Decode(&respbody); err != nil {
		return "", err
	}

	return strings.TrimSpace(respbody.Content), nil
}
