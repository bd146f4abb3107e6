// Package enricher complète une slide avec une image et une narration générées.
package enricher

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Open-Course-Factory/ocf-coursegen/internal/genai"
	"github.com/Open-Course-Factory/ocf-coursegen/pkg/models"
)

const (
	// DefaultNarrationMaxRunes borne le texte envoyé au service de narration
	DefaultNarrationMaxRunes = 1000
	imagePromptMaxTokens     = 100
)

// MediaUploader publie un média de cours et retourne son URL durable
type MediaUploader interface {
	UploadCourseMedia(ctx context.Context, jobID, name string, r io.Reader) (string, error)
}

// Config regroupe les paramètres de l'enrichissement
type Config struct {
	GeneralModel        string
	ImageModel          string
	PlaceholderImageURL string
	WorkspaceBase       string
	NarrationMaxRunes   int
}

// Enricher produit des slides complètes. Aucune étape ne fait échouer la slide:
// chaque échec retombe sur une valeur par défaut.
type Enricher struct {
	text     genai.TextGenerator
	image    genai.ImageGenerator
	narrator genai.Narrator
	media    MediaUploader
	cfg      Config
	logger   *zap.Logger
}

// New crée un Enricher. narrator peut être nil (narration désactivée).
func New(text genai.TextGenerator, image genai.ImageGenerator, narrator genai.Narrator, media MediaUploader, cfg Config, logger *zap.Logger) *Enricher {
	if cfg.NarrationMaxRunes <= 0 {
		cfg.NarrationMaxRunes = DefaultNarrationMaxRunes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{
		text:     text,
		image:    image,
		narrator: narrator,
		media:    media,
		cfg:      cfg,
		logger:   logger.Named("enricher"),
	}
}

// Enrich construit la slide slideNumber (1-based) du job à partir de son texte
func (e *Enricher) Enrich(ctx context.Context, jobID string, slideNumber int, text string) models.Slide {
	log := e.logger.With(zap.String("job_id", jobID), zap.Int("slide", slideNumber))

	slide := models.Slide{
		JobID:       jobID,
		SlideNumber: slideNumber,
		Content:     text,
		Images:      models.StringSlice{e.cfg.PlaceholderImageURL},
	}

	ws, err := NewWorkspace(e.cfg.WorkspaceBase, jobID, e.logger)
	if err != nil {
		log.Warn("workspace unavailable, slide keeps fallback media", zap.Error(err))
		return slide
	}

	if prompt, ok := e.imagePrompt(ctx, text, log); ok {
		if url, ok := e.imageURL(ctx, ws, jobID, slideNumber, prompt, log); ok {
			slide.Images = models.StringSlice{url}
		}
	}

	if url, ok := e.audioURL(ctx, ws, jobID, slideNumber, text, log); ok {
		slide.Audio = url
	}

	return slide
}

// ReleaseWorkspace supprime le répertoire temporaire du job une fois toutes ses slides traitées
func (e *Enricher) ReleaseWorkspace(jobID string) {
	ws, err := NewWorkspace(e.cfg.WorkspaceBase, jobID, e.logger)
	if err != nil {
		return
	}
	if err := ws.Cleanup(); err != nil {
		e.logger.Warn("failed to cleanup job workspace", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (e *Enricher) imagePrompt(ctx context.Context, text string, log *zap.Logger) (string, bool) {
	prompt, err := e.text.Generate(ctx, e.cfg.GeneralModel, []genai.Message{
		genai.UserMessage(ImagePromptInstruction(text)),
	}, imagePromptMaxTokens)
	if err != nil {
		log.Warn("image prompt generation failed", zap.Error(err))
		return "", false
	}

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		log.Warn("image prompt generation returned empty text")
		return "", false
	}
	return prompt, true
}

func (e *Enricher) imageURL(ctx context.Context, ws *Workspace, jobID string, slideNumber int, prompt string, log *zap.Logger) (string, bool) {
	data, err := e.image.GenerateImage(ctx, prompt, e.cfg.ImageModel)
	if err != nil || len(data) == 0 {
		log.Warn("image generation failed, using placeholder", zap.Error(err))
		return "", false
	}

	name := fmt.Sprintf("slide-%d.png", slideNumber)
	url, err := e.publish(ctx, ws, jobID, name, name, data)
	if err != nil {
		log.Warn("image upload failed, using placeholder", zap.Error(err))
		return "", false
	}
	return url, true
}

func (e *Enricher) audioURL(ctx context.Context, ws *Workspace, jobID string, slideNumber int, text string, log *zap.Logger) (string, bool) {
	if e.narrator == nil {
		return "", false
	}

	data, err := e.narrator.Narrate(ctx, TruncateRunes(text, e.cfg.NarrationMaxRunes))
	if err != nil || len(data) == 0 {
		log.Warn("narration failed, slide has no audio", zap.Error(err))
		return "", false
	}

	id := uuid.NewString()
	url, err := e.publish(ctx, ws, jobID, id+".mp3", fmt.Sprintf("slide-%d-%s.mp3", slideNumber, id), data)
	if err != nil {
		log.Warn("audio upload failed, slide has no audio", zap.Error(err))
		return "", false
	}
	return url, true
}

// publish passe par un fichier temporaire du workspace, supprimé quelle que soit l'issue de l'upload
func (e *Enricher) publish(ctx context.Context, ws *Workspace, jobID, tempName, mediaName string, data []byte) (string, error) {
	path, release, err := ws.WriteTemp(tempName, data)
	defer release()
	if err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to reopen temp file: %w", err)
	}
	defer f.Close()

	return e.media.UploadCourseMedia(ctx, jobID, mediaName, f)
}

// ImagePromptInstruction demande au modèle une description visuelle courte de la slide
func ImagePromptInstruction(slideText string) string {
	return "Describe in one short sentence a simple illustration for an educational slide about the following text. " +
		"Return only the visual description, no preamble. Text: " + slideText
}

// TruncateRunes coupe s à max runes sans casser de caractère multi-octets
func TruncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == max {
			return s[:i]
		}
		count++
	}
	return s
}
