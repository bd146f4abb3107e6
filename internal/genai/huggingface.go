package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultHuggingFaceBaseURL est la base de l'API d'inférence Hugging Face
const DefaultHuggingFaceBaseURL = "https://api-inference.huggingface.co/models"

// HuggingFaceClient génère des images via l'API d'inférence Hugging Face
type HuggingFaceClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	retry      RetryConfig
}

func NewHuggingFaceClient(baseURL, apiKey string, timeout time.Duration) *HuggingFaceClient {
	if baseURL == "" {
		baseURL = DefaultHuggingFaceBaseURL
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &HuggingFaceClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		retry:      DefaultRetryConfig(),
	}
}

// WithRetry remplace la politique de retry HTTP
func (c *HuggingFaceClient) WithRetry(cfg RetryConfig) *HuggingFaceClient {
	c.retry = cfg
	return c
}

// GenerateImage retourne les octets bruts de l'image produite par model
func (c *HuggingFaceClient) GenerateImage(ctx context.Context, prompt, model string) ([]byte, error) {
	if model == "" {
		return nil, fmt.Errorf("huggingface: model is required")
	}

	payload, err := json.Marshal(map[string]string{"inputs": prompt})
	if err != nil {
		return nil, fmt.Errorf("failed to encode image request: %w", err)
	}

	// Les identifiants de modèle contiennent un "/" qui doit rester littéral
	endpoint := c.baseURL + "/" + escapeModelPath(model)

	body, err := doWithRetry(ctx, c.httpClient, "huggingface", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		return req, nil
	}, c.retry)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, &ServiceError{Provider: "huggingface", StatusCode: http.StatusOK, Body: "empty image"}
	}

	return body, nil
}

func escapeModelPath(model string) string {
	parts := strings.Split(strings.Trim(model, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
