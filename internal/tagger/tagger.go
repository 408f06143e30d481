// Package tagger writes cover art into mp3 files and detects existing covers.
package tagger

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/bogem/id3v2/v2"
	"github.com/dhowden/tag"
	"go.uber.org/zap"
)

// ErrNoImage is returned when neither a cover nor a default cover is available.
var ErrNoImage = errors.New("tagger: no cover image")

const (
	coverDescription = "Front cover"
	fallbackMIME     = "image/jpeg"
)

type ID3 struct {
	defaultCover []byte
	logger       *zap.Logger
}

// New returns a tagger that falls back to defaultCover when no image is passed.
func New(defaultCover []byte, logger *zap.Logger) *ID3 {
	return &ID3{defaultCover: defaultCover, logger: logger}
}

// LoadDefaultCover reads the configured default cover; an empty path yields no cover.
func LoadDefaultCover(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read default cover: %w", err)
	}
	return data, nil
}

// ApplyCoverArt replaces the front cover of the mp3 at path.
func (t *ID3) ApplyCoverArt(path string, image []byte) error {
	if len(image) == 0 {
		image = t.defaultCover
	}
	if len(image) == 0 {
		return ErrNoImage
	}

	file, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("failed to open tag of %s: %w", path, err)
	}
	defer file.Close()

	file.DeleteFrames(file.CommonID("Attached picture"))
	file.AddAttachedPicture(id3v2.PictureFrame{
		Encoding:    id3v2.EncodingUTF8,
		MimeType:    mimeType(image),
		PictureType: id3v2.PTFrontCover,
		Description: coverDescription,
		Picture:     image,
	})

	if err := file.Save(); err != nil {
		return fmt.Errorf("failed to save tag of %s: %w", path, err)
	}

	t.logger.Debug("Applied cover art", zap.String("path", path), zap.Int("bytes", len(image)))
	return nil
}

// HasCover reports whether the file at path carries an embedded picture.
func (t *ID3) HasCover(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return false
	}
	return m.Picture() != nil
}

func mimeType(image []byte) string {
	detected := http.DetectContentType(image)
	if strings.HasPrefix(detected, "image/") {
		return detected
	}
	return fallbackMIME
}
