// Package acquire obtains substitute audio for tracks by searching a video platform with yt-dlp.
package acquire

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"trackwatch/pkg/naming"
)

const (
	// DefaultBinary is looked up in PATH when no explicit path is configured
	DefaultBinary = "yt-dlp"
	// DefaultTimeout bounds a single track search and download
	DefaultTimeout = 5 * time.Minute
	// AudioExt is the extension of produced files
	AudioExt = ".mp3"

	dirPermission = 0o755
	maxStderrLen  = 512
)

// Item is one search. FileName is the output base name without extension; empty means derived from Query.
type Item struct {
	Query    string
	FileName string
}

type Config struct {
	Binary  string
	Timeout time.Duration
}

// YtDlp runs one yt-dlp search per track name and extracts mp3 audio.
type YtDlp struct {
	config Config
	logger *zap.Logger
}

func NewYtDlp(config Config, logger *zap.Logger) *YtDlp {
	if config.Binary == "" {
		config.Binary = DefaultBinary
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	return &YtDlp{config: config, logger: logger}
}

// Acquire downloads audio for every item into outputDir and returns the number of mp3 files produced.
// Failures of single items are collected; the remaining items are still attempted.
func (y *YtDlp) Acquire(ctx context.Context, items []Item, outputDir string) (int, error) {
	if err := os.MkdirAll(outputDir, dirPermission); err != nil {
		return 0, fmt.Errorf("failed to create output directory: %w", err)
	}

	var errs []error
	for _, item := range items {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := y.fetch(ctx, item, outputDir); err != nil {
			y.logger.Warn("Failed to acquire track", zap.String("track", item.Query), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", item.Query, err))
		}
	}

	count, err := countAudio(outputDir)
	if err != nil {
		errs = append(errs, err)
	}

	y.logger.Info("Acquisition finished",
		zap.Int("requested", len(items)),
		zap.Int("produced", count))
	return count, errors.Join(errs...)
}

func (y *YtDlp) fetch(ctx context.Context, item Item, outputDir string) error {
	ctx, cancel := context.WithTimeout(ctx, y.config.Timeout)
	defer cancel()

	fileName := item.FileName
	if fileName == "" {
		fileName = item.Query
	}
	// yt-dlp expands %(...)s fields in the output template.
	base := strings.ReplaceAll(naming.FileName(fileName, ""), "%", "%%")
	template := filepath.Join(outputDir, base) + ".%(ext)s"
	//nolint:gosec // the binary is operator configured
	cmd := exec.CommandContext(ctx, y.config.Binary,
		"--no-playlist",
		"--quiet",
		"-x",
		"--audio-format", "mp3",
		"-o", template,
		"ytsearch1:"+item.Query,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if len(detail) > maxStderrLen {
			detail = detail[:maxStderrLen]
		}
		if detail != "" {
			return fmt.Errorf("yt-dlp failed: %w: %s", err, detail)
		}
		return fmt.Errorf("yt-dlp failed: %w", err)
	}
	return nil
}

// AudioFiles lists the mp3 files of dir in name order.
func AudioFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.Type().IsRegular() && strings.EqualFold(filepath.Ext(entry.Name()), AudioExt) {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	return files, nil
}

func countAudio(dir string) (int, error) {
	files, err := AudioFiles(dir)
	if err != nil {
		return 0, err
	}
	return len(files), nil
}
