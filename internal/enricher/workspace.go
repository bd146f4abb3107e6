package enricher

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Workspace est le répertoire de travail temporaire d'un job
type Workspace struct {
	jobID  string
	path   string
	logger *zap.Logger
}

// NewWorkspace crée (ou réutilise) le répertoire <basePath>/<jobID>
func NewWorkspace(basePath, jobID string, logger *zap.Logger) (*Workspace, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, fmt.Errorf("invalid job id for workspace: %q", jobID)
	}
	if err := ensureBaseDirectory(basePath); err != nil {
		return nil, fmt.Errorf("failed to ensure base directory: %w", err)
	}

	workspacePath := filepath.Join(basePath, jobID)
	if err := os.MkdirAll(workspacePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace directory: %w", err)
	}

	return &Workspace{
		jobID:  jobID,
		path:   workspacePath,
		logger: logger,
	}, nil
}

// ensureBaseDirectory s'assure que le répertoire de base existe et est inscriptible
func ensureBaseDirectory(basePath string) error {
	if info, err := os.Stat(basePath); err == nil {
		if !info.IsDir() {
			return fmt.Errorf("base path %s exists but is not a directory", basePath)
		}
		if info.Mode().Perm()&0200 == 0 {
			return fmt.Errorf("base path %s is not writable", basePath)
		}
		return nil
	}

	if err := os.MkdirAll(basePath, 0755); err != nil {
		return fmt.Errorf("failed to create base directory %s: %w", basePath, err)
	}
	return nil
}

// Path retourne le chemin absolu du workspace
func (w *Workspace) Path() string {
	return w.path
}

// WriteTemp écrit data dans un fichier du workspace. La fonction de release retournée
// supprime le fichier et doit être appelée sur tous les chemins de sortie.
func (w *Workspace) WriteTemp(filename string, data []byte) (string, func(), error) {
	if filename == "" || strings.Contains(filename, "..") || strings.ContainsAny(filename, `/\`) {
		return "", func() {}, fmt.Errorf("invalid filename: %s", filename)
	}

	filePath := filepath.Join(w.path, filename)
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		removeQuietly(filePath, w.logger)
		return "", func() {}, fmt.Errorf("failed to write temp file %s: %w", filePath, err)
	}

	return filePath, func() { removeQuietly(filePath, w.logger) }, nil
}

// Cleanup supprime le workspace et son contenu
func (w *Workspace) Cleanup() error {
	if w.path == "" || w.path == "/" {
		return fmt.Errorf("invalid workspace path for cleanup: %s", w.path)
	}
	if filepath.Base(w.path) != w.jobID {
		return fmt.Errorf("workspace path doesn't end with job ID, refusing cleanup: %s", w.path)
	}

	if err := os.RemoveAll(w.path); err != nil {
		return fmt.Errorf("failed to cleanup workspace %s: %w", w.path, err)
	}
	return nil
}

// removeQuietly supprime un fichier local: absent n'est pas une erreur, les autres erreurs sont seulement loggées
func removeQuietly(path string, logger *zap.Logger) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to remove temp file", zap.String("path", path), zap.Error(err))
	}
}

// WorkspaceManager gère les workspaces de tous les jobs
type WorkspaceManager struct {
	basePath string
	logger   *zap.Logger
}

// NewWorkspaceManager crée un nouveau gestionnaire de workspaces
func NewWorkspaceManager(basePath string, logger *zap.Logger) (*WorkspaceManager, error) {
	if err := ensureBaseDirectory(basePath); err != nil {
		return nil, fmt.Errorf("failed to initialize workspace manager: %w", err)
	}
	return &WorkspaceManager{basePath: basePath, logger: logger}, nil
}

// CleanupOldWorkspaces supprime les workspaces orphelins (crash, arrêt brutal) plus vieux que maxAge
func (wm *WorkspaceManager) CleanupOldWorkspaces(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(wm.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read workspace directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	cleaned := 0

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := uuid.Parse(entry.Name()); err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}

		ws := &Workspace{jobID: entry.Name(), path: filepath.Join(wm.basePath, entry.Name()), logger: wm.logger}
		if err := ws.Cleanup(); err != nil {
			wm.logger.Warn("failed to cleanup old workspace", zap.String("path", ws.path), zap.Error(err))
			continue
		}
		cleaned++
	}

	return cleaned, nil
}
