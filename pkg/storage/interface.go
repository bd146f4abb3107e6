package storage

import (
	"context"
	"io"
	"path/filepath"
	"strings"
)

// Storage définit l'interface pour le stockage des médias générés
type Storage interface {
	// Upload un fichier vers le storage
	Upload(ctx context.Context, path string, data io.Reader) error

	// Download un fichier depuis le storage
	Download(ctx context.Context, path string) (io.Reader, error)

	// Exists vérifie si un fichier existe
	Exists(ctx context.Context, path string) (bool, error)

	// Delete supprime un fichier
	Delete(ctx context.Context, path string) error

	// List liste les fichiers avec un préfixe donné
	List(ctx context.Context, prefix string) ([]string, error)

	// GetURL retourne l'URL publique et durable d'un fichier
	GetURL(ctx context.Context, path string) (string, error)
}

// StorageConfig contient la configuration du storage
type StorageConfig struct {
	Type      string // "filesystem", "garage" ou "gcs"
	BasePath  string // Pour filesystem
	PublicURL string // Base des URLs publiques (tous backends)
	Endpoint  string // Pour S3/Garage
	AccessKey string
	SecretKey string
	Bucket    string // Garage ou GCS
	Region    string

	CredentialsFile string // Pour GCS, vide = Application Default Credentials
}

// ContentType détermine le content-type d'un média à partir de son extension
func ContentType(key string) string {
	switch strings.ToLower(filepath.Ext(key)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".svg":
		return "image/svg+xml"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".ogg":
		return "audio/ogg"
	case ".json":
		return "application/json"
	case ".txt":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}

// JoinURL concatène une base publique et une clé sans doubler les "/"
func JoinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}
