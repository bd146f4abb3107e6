// Package genai regroupe les clients des services de génération (texte, image, narration).
package genai

import (
	"context"
	"fmt"
	"strings"
)

// RoleUser est le seul rôle envoyé: chaque appel est une question unique au modèle
const RoleUser = "user"

// Message est un message de conversation envoyé au modèle de texte
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UserMessage construit un message utilisateur
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// TextGenerator génère du texte à partir d'une conversation
type TextGenerator interface {
	Generate(ctx context.Context, model string, messages []Message, maxTokens int) (string, error)
}

// ImageGenerator génère une image à partir d'un prompt
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt, model string) ([]byte, error)
}

// Narrator synthétise un texte en audio
type Narrator interface {
	Narrate(ctx context.Context, text string) ([]byte, error)
}

// ServiceError décrit une réponse en erreur d'un service de génération
type ServiceError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: status=%d body=%s", e.Provider, e.StatusCode, snippet(e.Body, 500))
}

func snippet(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
