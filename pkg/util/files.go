package util

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnsureDir creates a directory if it doesn't exist
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// RemoveFiles removes every path and reports the ones that failed.
// Missing files are not failures.
func RemoveFiles(paths ...string) map[string]error {
	failed := make(map[string]error)
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			failed[path] = err
		}
	}
	return failed
}

// GetExtension returns the lower-cased file extension
func GetExtension(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

var mimeExtensions = map[string]string{
	"image/png":   ".png",
	"image/jpeg":  ".jpg",
	"image/jpg":   ".jpg",
	"image/webp":  ".webp",
	"image/gif":   ".gif",
	"image/bmp":   ".bmp",
	"audio/wav":   ".wav",
	"audio/x-wav": ".wav",
	"audio/mpeg":  ".mp3",
	"video/mp4":   ".mp4",
}

// ExtensionForMime maps a content type to a file extension ffmpeg can sniff.
func ExtensionForMime(mime string) (string, error) {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	ext, ok := mimeExtensions[mime]
	if !ok {
		return "", fmt.Errorf("unsupported content type %q", mime)
	}
	return ext, nil
}

// MimeForExtension is the inverse of ExtensionForMime for image and audio files.
func MimeForExtension(path string) (string, error) {
	switch GetExtension(path) {
	case ".png":
		return "image/png", nil
	case ".jpg", ".jpeg":
		return "image/jpeg", nil
	case ".webp":
		return "image/webp", nil
	case ".gif":
		return "image/gif", nil
	case ".bmp":
		return "image/bmp", nil
	case ".wav":
		return "audio/wav", nil
	case ".mp3":
		return "audio/mpeg", nil
	}
	return "", fmt.Errorf("unsupported file type %q", filepath.Ext(path))
}
