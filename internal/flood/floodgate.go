// Package flood throttles outbound chat messages to stay below per-chat rate limits.
package flood

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultWindow is the sliding window length
	DefaultWindow = 60 * time.Second
	// DefaultLimit is the number of messages per chat and window; Telegram allows about 20 per minute in groups
	DefaultLimit = 20
	// cleanupInterval is how often expired entries are removed
	cleanupInterval = 10 * time.Minute
	// idleTimeout is how long before an idle chat entry is removed
	idleTimeout = 10 * time.Minute
)

// Floodgate is a per-chat sliding window limiter for outgoing messages.
type Floodgate struct {
	limit       int
	window      time.Duration
	entries     map[string]*chatEntry // Key: chatID
	mutex       sync.Mutex
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// chatEntry tracks send timestamps for one chat
type chatEntry struct {
	timestamps []time.Time
	lastSeen   time.Time
}

// New creates a Floodgate allowing limit sends per chat within window.
func New(limit int, window time.Duration) *Floodgate {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}

	fg := &Floodgate{
		limit:       limit,
		window:      window,
		entries:     make(map[string]*chatEntry),
		stopCleanup: make(chan struct{}),
	}

	go fg.cleanup()

	return fg
}

// Stop stops the background cleanup goroutine
func (fg *Floodgate) Stop() {
	fg.stopOnce.Do(func() { close(fg.stopCleanup) })
}

// Allow records a send for chatID if the window has room and reports whether it did.
func (fg *Floodgate) Allow(chatID string) bool {
	return fg.reserve(chatID, time.Now()) == 0
}

// Wait blocks until a send to chatID is allowed or ctx is done.
func (fg *Floodgate) Wait(ctx context.Context, chatID string) error {
	for {
		delay := fg.reserve(chatID, time.Now())
		if delay == 0 {
			return nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve records a send and returns zero, or returns how long until the oldest send leaves the window.
func (fg *Floodgate) reserve(chatID string, now time.Time) time.Duration {
	fg.mutex.Lock()
	defer fg.mutex.Unlock()

	entry, exists := fg.entries[chatID]
	if !exists {
		entry = &chatEntry{timestamps: make([]time.Time, 0, fg.limit+1)}
		fg.entries[chatID] = entry
	}
	entry.lastSeen = now

	windowStart := now.Add(-fg.window)
	valid := entry.timestamps[:0]
	for _, ts := range entry.timestamps {
		if ts.After(windowStart) {
			valid = append(valid, ts)
		}
	}
	entry.timestamps = valid

	if len(entry.timestamps) >= fg.limit {
		wait := entry.timestamps[0].Add(fg.window).Sub(now)
		if wait <= 0 {
			wait = time.Millisecond
		}
		return wait
	}

	entry.timestamps = append(entry.timestamps, now)
	return 0
}

// cleanup removes idle chat entries
func (fg *Floodgate) cleanup() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fg.performCleanup()
		case <-fg.stopCleanup:
			return
		}
	}
}

func (fg *Floodgate) performCleanup() {
	fg.mutex.Lock()
	defer fg.mutex.Unlock()

	cutoff := time.Now().Add(-idleTimeout)
	for key, entry := range fg.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(fg.entries, key)
		}
	}
}

// GetStats returns statistics about the floodgate for monitoring/debugging
func (fg *Floodgate) GetStats() Stats {
	fg.mutex.Lock()
	defer fg.mutex.Unlock()

	return Stats{
		ActiveChats:   len(fg.entries),
		Limit:         fg.limit,
		WindowSeconds: fg.window.Seconds(),
	}
}

// Stats contains floodgate statistics
type Stats struct {
	ActiveChats   int     `json:"active_chats"`
	Limit         int     `json:"limit"`
	WindowSeconds float64 `json:"window_seconds"`
}
