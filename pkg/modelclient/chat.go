package modelclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Chatter answers a question given retrieved context, backing Insight's
// built-in "chat" insight. Adapted from the teacher's rag.Service, whose
// ChatService call this mirrors in shape (message, context, system
// prompt in; reply, tokens used, model out) over HTTP rather than the
// teacher's ml/proto gRPC client, for the same reason Embedder is HTTP:
// no ml-worker protobuf package is present in this tree.
type Chatter interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// ChatRequest mirrors the teacher's mlpb.ChatRequest fields.
type ChatRequest struct {
	Message      string
	Context      []string
	SystemPrompt string
	Temperature  float32
	Model        string
	MaxTokens    int32
}

// ChatResponse mirrors the teacher's mlpb.ChatResponse fields.
type ChatResponse struct {
	Text       string
	TokensUsed int32
	Model      string
}

// OllamaChatter implements Chatter against an Ollama-compatible HTTP
// chat/generate endpoint.
type OllamaChatter struct {
	baseURL string
	client  *http.Client
}

// NewOllamaChatter builds a client for baseURL.
func NewOllamaChatter(baseURL string) *OllamaChatter {
	return &OllamaChatter{baseURL: baseURL, client: &http.Client{Timeout: 60 * time.Second}}
}

type ollamaChatRequest struct {
	Model   string               `json:"model"`
	Prompt  string               `json:"prompt"`
	System  string               `json:"system,omitempty"`
	Options ollamaChatReqOptions `json:"options,omitempty"`
	Stream  bool                 `json:"stream"`
}

type ollamaChatReqOptions struct {
	Temperature float32 `json:"temperature,omitempty"`
	NumPredict  int32   `json:"num_predict,omitempty"`
}

type ollamaChatResponse struct {
	Response        string `json:"response"`
	Model           string `json:"model"`
	EvalCount       int32  `json:"eval_count"`
	PromptEvalCount int32  `json:"prompt_eval_count"`
}

func (c *OllamaChatter) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	prompt := buildPrompt(req)

	body, err := json.Marshal(ollamaChatRequest{
		Model:   req.Model,
		Prompt:  prompt,
		System:  req.SystemPrompt,
		Options: ollamaChatReqOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens},
	})
	if err != nil {
		return ChatResponse{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return ChatResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("modelclient: chat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ChatResponse{}, fmt.Errorf("modelclient: chat: status %d", resp.StatusCode)
	}

	var result ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return ChatResponse{}, fmt.Errorf("modelclient: decode: %w", err)
	}

	return ChatResponse{
		Text:       result.Response,
		TokensUsed: result.EvalCount + result.PromptEvalCount,
		Model:      result.Model,
	}, nil
}

// buildPrompt folds retrieved context into one prompt string, the same
// concatenation the teacher's rag.buildContextParts feeds to ChatService.
func buildPrompt(req ChatRequest) string {
	var b bytes.Buffer
	for _, part := range req.Context {
		b.WriteString(part)
		b.WriteString("\n\n")
	}
	b.WriteString("Question: ")
	b.WriteString(req.Message)
	return b.String()
}
