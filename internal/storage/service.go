package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/Open-Course-Factory/ocf-coursegen/pkg/storage"
)

// ErrMediaNotFound signale un média absent du stockage
var ErrMediaNotFound = errors.New("media not found")

// ErrInvalidMediaName signale un nom qui sortirait du dossier du cours
var ErrInvalidMediaName = errors.New("invalid media name")

// MediaService range les médias générés sous courses/{job_id}/ et renvoie leur URL publique
type MediaService struct {
	storage storage.Storage
}

func NewMediaService(storage storage.Storage) *MediaService {
	return &MediaService{
		storage: storage,
	}
}

// CourseMediaKey construit la clé de stockage d'un média de cours
func CourseMediaKey(jobID, name string) string {
	return fmt.Sprintf("courses/%s/%s", jobID, name)
}

// UploadCourseMedia upload un média de slide et retourne son URL durable.
// Un objet dont l'URL ne peut être résolue est supprimé: aucune slide ne pourrait le référencer.
func (s *MediaService) UploadCourseMedia(ctx context.Context, jobID, name string, content io.Reader) (string, error) {
	if err := validateMediaName(name); err != nil {
		return "", err
	}

	key := CourseMediaKey(jobID, name)
	if err := s.storage.Upload(ctx, key, content); err != nil {
		return "", fmt.Errorf("failed to upload media %s: %w", key, err)
	}

	url, err := s.storage.GetURL(ctx, key)
	if err != nil {
		err = fmt.Errorf("failed to resolve URL for %s: %w", key, err)
		if derr := s.storage.Delete(context.WithoutCancel(ctx), key); derr != nil {
			return "", errors.Join(err, fmt.Errorf("failed to remove unreachable media %s: %w", key, derr))
		}
		return "", err
	}
	return url, nil
}

// ListCourseMedia liste les noms des médias d'un cours
func (s *MediaService) ListCourseMedia(ctx context.Context, jobID string) ([]string, error) {
	prefix := CourseMediaKey(jobID, "")
	files, err := s.storage.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, file := range files {
		if name, ok := strings.CutPrefix(file, prefix); ok && name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// DownloadCourseMedia ouvre un média de cours. Utile quand le backend n'est pas public.
func (s *MediaService) DownloadCourseMedia(ctx context.Context, jobID, name string) (io.Reader, error) {
	if err := validateMediaName(name); err != nil {
		return nil, err
	}

	key := CourseMediaKey(jobID, name)
	exists, err := s.storage.Exists(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to check media %s: %w", key, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrMediaNotFound, key)
	}
	return s.storage.Download(ctx, key)
}

// validateMediaName refuse les noms qui sortiraient du dossier du cours
func validateMediaName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidMediaName)
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, "/\\") || path.Base(name) != name {
		return fmt.Errorf("%w: %s", ErrInvalidMediaName, name)
	}
	return nil
}
