package genai

import (
	"context"
	"fmt"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"google.golang.org/api/option"
)

type synthesizeFunc func(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest) (*texttospeechpb.SynthesizeSpeechResponse, error)

// GoogleTTSClient narre un texte en MP3 via Google Cloud Text-to-Speech
type GoogleTTSClient struct {
	synthesize   synthesizeFunc
	close        func() error
	languageCode string
	voiceName    string
}

// NewGoogleTTSClient crée le client gRPC. Sans fichier de credentials, les
// Application Default Credentials (GOOGLE_APPLICATION_CREDENTIALS) sont utilisées.
func NewGoogleTTSClient(ctx context.Context, credentialsFile, languageCode, voiceName string) (*GoogleTTSClient, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := texttospeech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create text-to-speech client: %w", err)
	}

	return newGoogleTTSClient(func(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest) (*texttospeechpb.SynthesizeSpeechResponse, error) {
		return client.SynthesizeSpeech(ctx, req)
	}, client.Close, languageCode, voiceName), nil
}

func newGoogleTTSClient(synth synthesizeFunc, closeFn func() error, languageCode, voiceName string) *GoogleTTSClient {
	if languageCode == "" {
		languageCode = "en-US"
	}
	return &GoogleTTSClient{
		synthesize:   synth,
		close:        closeFn,
		languageCode: languageCode,
		voiceName:    voiceName,
	}
}

// Narrate retourne l'audio MP3 du texte
func (c *GoogleTTSClient) Narrate(ctx context.Context, text string) ([]byte, error) {
	req := &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: c.languageCode,
			Name:         c.voiceName,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding: texttospeechpb.AudioEncoding_MP3,
		},
	}

	resp, err := c.synthesize(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("google tts: %w", err)
	}
	if len(resp.GetAudioContent()) == 0 {
		return nil, &ServiceError{Provider: "google-tts", Body: "empty audio"}
	}
	return resp.GetAudioContent(), nil
}

// Close libère la connexion gRPC
func (c *GoogleTTSClient) Close() error {
	if c.close == nil {
		return nil
	}
	return c.close()
}
