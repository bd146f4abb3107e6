package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultKindoBaseURL est l'endpoint OpenAI-compatible de Kindo
const DefaultKindoBaseURL = "https://llm.kindo.ai/v1"

// KindoClient appelle l'API chat completions de Kindo
type KindoClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	retry      RetryConfig
}

// NewKindoClient crée un client Kindo. baseURL vide = DefaultKindoBaseURL.
func NewKindoClient(baseURL, apiKey string, timeout time.Duration) *KindoClient {
	if baseURL == "" {
		baseURL = DefaultKindoBaseURL
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &KindoClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		retry:      DefaultRetryConfig(),
	}
}

// WithRetry remplace la politique de retry HTTP
func (c *KindoClient) WithRetry(cfg RetryConfig) *KindoClient {
	c.retry = cfg
	return c
}

type chatCompletionRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Generate envoie la conversation au modèle et retourne le contenu du premier choix
func (c *KindoClient) Generate(ctx context.Context, model string, messages []Message, maxTokens int) (string, error) {
	payload, err := json.Marshal(chatCompletionRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode chat request: %w", err)
	}

	body, err := doWithRetry(ctx, c.httpClient, "kindo", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("api-key", c.apiKey)
		return req, nil
	}, c.retry)
	if err != nil {
		return "", err
	}

	var resp chatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("kindo: invalid response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", &ServiceError{Provider: "kindo", StatusCode: http.StatusOK, Body: "no choices in response"}
	}

	return resp.Choices[0].Message.Content, nil
}
