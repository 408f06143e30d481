// Package telegram provides Telegram Bot API integration using go-telegram/bot library.
package telegram

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"

	"trackwatch/internal/chat"
	"trackwatch/internal/flood"
)

// Config holds Telegram-specific configuration
type Config struct {
	BotToken            string
	Enabled             bool
	FloodLimitPerMinute int    // Outgoing messages per chat and minute
	ServerURL           string // Bot API server, empty for the public one
}

// Frontend implements chat.Notifier for Telegram
type Frontend struct {
	config    *Config
	logger    *zap.Logger
	bot       *bot.Bot
	floodgate *flood.Floodgate
}

var _ chat.Notifier = (*Frontend)(nil)

// NewFrontend creates a new Telegram frontend
func NewFrontend(config *Config, logger *zap.Logger) *Frontend {
	return &Frontend{
		config:    config,
		logger:    logger,
		floodgate: flood.New(config.FloodLimitPerMinute, flood.DefaultWindow),
	}
}

// Start creates the bot client and verifies the token
func (f *Frontend) Start(ctx context.Context) error {
	if !f.config.Enabled {
		f.logger.Info("Telegram frontend is disabled, skipping initialization")
		return nil
	}

	opts := []bot.Option{bot.WithSkipGetMe()}
	if f.config.ServerURL != "" {
		opts = append(opts, bot.WithServerURL(f.config.ServerURL))
	}

	b, err := bot.New(f.config.BotToken, opts...)
	if err != nil {
		return fmt.Errorf("failed to create telegram bot: %w", err)
	}

	me, err := b.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify telegram bot token: %w", err)
	}

	f.bot = b
	f.logger.Info("Telegram frontend started", zap.String("bot", me.Username))
	return nil
}

// Stop releases the floodgate
func (f *Frontend) Stop() {
	f.floodgate.Stop()
}

// SendText sends a text message to the specified chat
func (f *Frontend) SendText(ctx context.Context, chatID, text string) (string, error) {
	if !f.config.Enabled || f.bot == nil {
		return "", chat.ErrDisabled
	}

	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid chat ID: %w", err)
	}

	if err := f.floodgate.Wait(ctx, chatID); err != nil {
		return "", err
	}

	disabled := true
	msg, err := f.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:             chatIDInt,
		Text:               text,
		LinkPreviewOptions: &models.LinkPreviewOptions{IsDisabled: &disabled},
	})
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}

	return strconv.Itoa(msg.ID), nil
}

// SendFile uploads a file to the specified chat as a document
func (f *Frontend) SendFile(ctx context.Context, chatID, path, caption string) error {
	if !f.config.Enabled || f.bot == nil {
		return chat.ErrDisabled
	}

	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	if err := f.floodgate.Wait(ctx, chatID); err != nil {
		return err
	}

	_, err = f.bot.SendDocument(ctx, &bot.SendDocumentParams{
		ChatID:   chatIDInt,
		Document: &models.InputFileUpload{Filename: filepath.Base(path), Data: file},
		Caption:  caption,
	})
	if err != nil {
		return fmt.Errorf("failed to send document: %w", err)
	}

	f.logger.Debug("Sent document", zap.String("chat_id", chatID), zap.String("file", filepath.Base(path)))
	return nil
}
