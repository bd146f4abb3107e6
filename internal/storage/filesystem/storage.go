package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/Open-Course-Factory/ocf-coursegen/pkg/storage"
)

const uploadTempPrefix = ".upload-"

type filesystemStorage struct {
	basePath  string
	publicURL string
}

// NewFilesystemStorage crée un storage local. publicURL est la base HTTP sous laquelle
// basePath est servi (route /media de l'API); vide, GetURL renvoie le chemin relatif.
func NewFilesystemStorage(basePath, publicURL string) (storage.Storage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory %s: %w", basePath, err)
	}

	return &filesystemStorage{
		basePath:  basePath,
		publicURL: publicURL,
	}, nil
}

// resolve construit le chemin absolu et refuse toute sortie de basePath
func (s *filesystemStorage) resolve(path string) (string, error) {
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(path))
	base := filepath.Clean(s.basePath)
	if fullPath != base && !strings.HasPrefix(fullPath, base+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal not allowed: %s", path)
	}
	return fullPath, nil
}

func (s *filesystemStorage) Upload(ctx context.Context, path string, data io.Reader) error {
	fullPath, err := s.resolve(path)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("failed to create directories for %s: %w", fullPath, err)
	}

	// Écriture dans un fichier temporaire puis rename: un lecteur ne voit jamais un média partiel
	tmp, err := os.CreateTemp(filepath.Dir(fullPath), uploadTempPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", fullPath, err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write data to %s: %w", fullPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", fullPath, err)
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move data to %s: %w", fullPath, err)
	}

	return nil
}

func (s *filesystemStorage) Download(ctx context.Context, path string) (io.Reader, error) {
	fullPath, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	// *os.File: le handler HTTP le ferme après l'envoi
	file, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open media %s: %w", path, err)
	}
	return file, nil
}

func (s *filesystemStorage) Exists(ctx context.Context, path string) (bool, error) {
	fullPath, err := s.resolve(path)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(fullPath)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, iofs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("failed to stat media %s: %w", path, err)
	}
}

func (s *filesystemStorage) Delete(ctx context.Context, path string) error {
	fullPath, err := s.resolve(path)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !errors.Is(err, iofs.ErrNotExist) {
		return fmt.Errorf("failed to delete media %s: %w", path, err)
	}
	return nil
}

// List parcourt seulement le répertoire qui contient le préfixe et ignore les uploads en cours
func (s *filesystemStorage) List(ctx context.Context, prefix string) ([]string, error) {
	prefix = strings.TrimPrefix(filepath.ToSlash(prefix), "/")

	root, err := s.resolve(path.Dir(prefix + "x"))
	if err != nil {
		return nil, err
	}

	var keys []string
	err = filepath.WalkDir(root, func(p string, d iofs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, iofs.ErrNotExist) {
				return iofs.SkipAll
			}
			return walkErr
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), uploadTempPrefix) {
			return nil
		}

		rel, err := filepath.Rel(s.basePath, p)
		if err != nil {
			return err
		}
		if key := filepath.ToSlash(rel); strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list media under %s: %w", prefix, err)
	}
	return keys, nil
}

func (s *filesystemStorage) GetURL(ctx context.Context, path string) (string, error) {
	key := strings.TrimPrefix(filepath.ToSlash(path), "/")
	if s.publicURL == "" {
		return key, nil
	}
	return storage.JoinURL(s.publicURL, key), nil
}
