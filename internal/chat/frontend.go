// Package chat defines the outbound interface of chat integrations used for scan reports.
package chat

import (
	"context"
	"errors"
)

// ErrDisabled is returned by frontends that are configured off.
var ErrDisabled = errors.New("chat frontend is disabled")

// Notifier sends report messages and files to a chat.
type Notifier interface {
	// SendText sends one message and returns its id
	SendText(ctx context.Context, chatID string, text string) (string, error)

	// SendFile uploads the file at path as a document, with an optional caption
	SendFile(ctx context.Context, chatID, path, caption string) error
}
