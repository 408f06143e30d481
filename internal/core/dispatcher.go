package core

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"trackwatch/internal/archive"
	"trackwatch/internal/chat"
	"trackwatch/internal/i18n"
	"trackwatch/pkg/text"
)

const (
	notificationSent    = "sent"
	notificationFailed  = "failed"
	notificationSkipped = "skipped"
)

// Notification is one scan report addressed to a chat.
type Notification struct {
	ChatID        string
	PlaylistTitle string
	Tracks        []string
	Archive       *archive.Archive
	Kind          Action
}

// Dispatcher composes scan reports and sends them to the chat.
type Dispatcher struct {
	notifier   chat.Notifier
	localizer  *i18n.Localizer
	metrics    MetricsRecorder
	logger     *zap.Logger
	chunkLimit int
}

// NewDispatcher creates a dispatcher. A nil notifier only logs reports.
func NewDispatcher(notifier chat.Notifier, localizer *i18n.Localizer, metrics MetricsRecorder, logger *zap.Logger) *Dispatcher {
	if localizer == nil {
		localizer = i18n.NewLocalizer(i18n.DefaultLanguage)
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}

	return &Dispatcher{
		notifier:   notifier,
		localizer:  localizer,
		metrics:    metrics,
		logger:     logger,
		chunkLimit: text.MaxMessageLength,
	}
}

// Report sends the message chunks and then every archive volume.
// The archive is cleaned up exactly once whatever the send result.
func (d *Dispatcher) Report(ctx context.Context, n Notification) error {
	if n.Archive != nil {
		defer func() {
			if err := n.Archive.Cleanup(); err != nil {
				d.logger.Warn("Failed to clean up archive", zap.String("staging_dir", n.Archive.StagingDir), zap.Error(err))
			}
		}()
	}

	volumes := 0
	if n.Archive != nil {
		volumes = len(n.Archive.Volumes)
	}

	if len(n.Tracks) == 0 && volumes == 0 {
		d.logger.Info("Nothing new to report", zap.String("playlist", n.PlaylistTitle))
		return nil
	}

	if d.notifier == nil {
		d.logger.Info("Chat disabled, report logged only",
			zap.String("playlist", n.PlaylistTitle),
			zap.Strings("tracks", n.Tracks),
			zap.Int("volumes", volumes))
		d.metrics.RecordNotification(notificationSkipped)
		return nil
	}

	if err := d.send(ctx, n); err != nil {
		d.metrics.RecordNotification(notificationFailed)
		return err
	}

	d.metrics.RecordNotification(notificationSent)
	d.logger.Info("Report sent",
		zap.String("playlist", n.PlaylistTitle),
		zap.Int("tracks", len(n.Tracks)),
		zap.Int("volumes", volumes))
	return nil
}

func (d *Dispatcher) send(ctx context.Context, n Notification) error {
	chunks := text.Chunk(d.Compose(n), d.chunkLimit)
	for i, chunk := range chunks {
		if _, err := d.notifier.SendText(ctx, n.ChatID, chunk); err != nil {
			return fmt.Errorf("failed to send message chunk %d/%d: %w", i+1, len(chunks), err)
		}
	}

	if n.Archive == nil {
		return nil
	}
	for i, volume := range n.Archive.Volumes {
		if err := d.notifier.SendFile(ctx, n.ChatID, volume, d.volumeCaption(i, len(n.Archive.Volumes))); err != nil {
			return fmt.Errorf("failed to send archive volume %s (%d/%d): %w",
				filepath.Base(volume), i+1, len(n.Archive.Volumes), err)
		}
	}
	return nil
}

// volumeCaption numbers the volumes of a split archive. A single volume goes without caption.
func (d *Dispatcher) volumeCaption(index, total int) string {
	if total < 2 {
		return ""
	}
	return d.localizer.T("archive.volume", index+1, total)
}

// Compose builds the report text: a header line followed by one track per line.
func (d *Dispatcher) Compose(n Notification) string {
	key := "report.unavailable_header"
	switch n.Kind {
	case ActionDownload:
		key = "report.download_header"
	case ActionBackup:
		key = "report.backup_header"
	}

	var b strings.Builder
	b.WriteString(d.localizer.T(key, n.PlaylistTitle, len(n.Tracks)))
	for _, track := range n.Tracks {
		b.WriteByte('\n')
		b.WriteString(track)
	}
	return b.String()
}
