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

// DefaultUnrealSpeechURL est l'endpoint de synthèse en flux d'UnrealSpeech
const DefaultUnrealSpeechURL = "https://api.v7.unrealspeech.com/stream"

// UnrealSpeechOptions paramètre la voix de narration
type UnrealSpeechOptions struct {
	VoiceID string
	Bitrate string
	Speed   string
	Pitch   string
	Codec   string
}

// DefaultUnrealSpeechOptions retourne la voix utilisée pour les slides
func DefaultUnrealSpeechOptions() UnrealSpeechOptions {
	return UnrealSpeechOptions{
		VoiceID: "Will",
		Bitrate: "192k",
		Speed:   "0",
		Pitch:   "0.92",
		Codec:   "libmp3lame",
	}
}

// UnrealSpeechClient narre un texte en MP3 via UnrealSpeech
type UnrealSpeechClient struct {
	endpoint   string
	apiKey     string
	options    UnrealSpeechOptions
	httpClient *http.Client
	retry      RetryConfig
}

func NewUnrealSpeechClient(endpoint, apiKey string, options UnrealSpeechOptions, timeout time.Duration) *UnrealSpeechClient {
	if endpoint == "" {
		endpoint = DefaultUnrealSpeechURL
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	defaults := DefaultUnrealSpeechOptions()
	if options.VoiceID == "" {
		options.VoiceID = defaults.VoiceID
	}
	if options.Bitrate == "" {
		options.Bitrate = defaults.Bitrate
	}
	if options.Speed == "" {
		options.Speed = defaults.Speed
	}
	if options.Pitch == "" {
		options.Pitch = defaults.Pitch
	}
	if options.Codec == "" {
		options.Codec = defaults.Codec
	}
	return &UnrealSpeechClient{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		options:    options,
		httpClient: &http.Client{Timeout: timeout},
		retry:      DefaultRetryConfig(),
	}
}

// WithRetry remplace la politique de retry HTTP
func (c *UnrealSpeechClient) WithRetry(cfg RetryConfig) *UnrealSpeechClient {
	c.retry = cfg
	return c
}

type unrealSpeechRequest struct {
	Text    string `json:"Text"`
	VoiceID string `json:"VoiceId"`
	Bitrate string `json:"Bitrate"`
	Speed   string `json:"Speed"`
	Pitch   string `json:"Pitch"`
	Codec   string `json:"Codec"`
}

// Narrate retourne l'audio MP3 du texte
func (c *UnrealSpeechClient) Narrate(ctx context.Context, text string) ([]byte, error) {
	payload, err := json.Marshal(unrealSpeechRequest{
		Text:    text,
		VoiceID: c.options.VoiceID,
		Bitrate: c.options.Bitrate,
		Speed:   c.options.Speed,
		Pitch:   c.options.Pitch,
		Codec:   c.options.Codec,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode narration request: %w", err)
	}

	body, err := doWithRetry(ctx, c.httpClient, "unrealspeech", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
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
		return nil, &ServiceError{Provider: "unrealspeech", StatusCode: http.StatusOK, Body: "empty audio"}
	}

	return body, nil
}
