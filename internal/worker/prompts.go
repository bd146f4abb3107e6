package worker

import (
	"fmt"
	"strings"

	"github.com/Open-Course-Factory/ocf-coursegen/pkg/models"
)

// KnowledgePrompt demande au modèle spécialisé les informations de fond sur le sujet
func KnowledgePrompt(topic string) string {
	return fmt.Sprintf(
		"Give detailed background information and the key concepts related to this topic: %s. Dont give any excess output.",
		strings.TrimSpace(topic),
	)
}

// LessonPrompt construit la consigne de rédaction du cours adaptée au profil du lecteur
func LessonPrompt(topic, knowledge string, profile models.UserProfile) string {
	var reader string
	switch {
	case profile.WorkingProfessional:
		reader = "The reader is a working professional in the field so the article should be detailed and informative."
	case profile.Age > 0 && profile.Age < 18:
		reader = fmt.Sprintf("The reader is %d years old so the article should use simple words and concrete examples.", profile.Age)
	case profile.Age > 0:
		reader = fmt.Sprintf("The reader is %d years old and is not a professional in the field so the article should be clear and progressive.", profile.Age)
	default:
		reader = "The reader is a curious learner so the article should be clear and progressive."
	}

	return fmt.Sprintf(
		"User question: %s Generate a well designed course as paragraphs (word limit on each paragraph is 20) on topic. "+
			"Strictly use only the following information as reference: Knowledge Source: %s. %s "+
			"Avoid special characters like '*' or '#', keep it plain text with basic formatting and separate paragraphs with a blank line.",
		strings.TrimSpace(topic), strings.TrimSpace(knowledge), reader,
	)
}
