package core

import (
	"errors"
	"fmt"
	"time"

	"trackwatch/internal/i18n"
)

const (
	// DefaultMaxConcurrentScans bounds how many playlists are scanned at once
	DefaultMaxConcurrentScans = 4
	// DefaultPreferredBitrate is tried first when downloading available tracks
	DefaultPreferredBitrate = 320
	// DefaultFallbackBitrate is used when the preferred bitrate is rejected
	DefaultFallbackBitrate = 192
	// DefaultRetryMaxAttempts is the attempt budget of one remote call
	DefaultRetryMaxAttempts = 10
	// DefaultRetryDelay is the pause between transient failures
	DefaultRetryDelay = 3 * time.Second
	// DefaultRequestTimeout bounds one HTTP request to the streaming service
	DefaultRequestTimeout = 30 * time.Second
	// DefaultRequestsPerSecond limits calls to the streaming service
	DefaultRequestsPerSecond = 5.0
	// DefaultFloodLimitPerMinute limits outgoing chat messages per chat
	DefaultFloodLimitPerMinute = 20
	// DefaultVolumeSizeBytes keeps archive volumes below the bot upload limit
	DefaultVolumeSizeBytes = 49 * 1024 * 1024
	// DefaultAcquireTimeout bounds one yt-dlp run
	DefaultAcquireTimeout = 5 * time.Minute
)

// ErrUnknownProfile is returned when no profile is configured for a username.
var ErrUnknownProfile = errors.New("unknown profile")

type Config struct {
	Profiles map[string]Profile
	Yandex   YandexConfig
	Telegram TelegramConfig
	Acquire  AcquireConfig
	Storage  StorageConfig
	Retry    RetryConfig
	Server   ServerConfig
	Log      LogConfig
	App      AppConfig
}

// Profile is the per-user section of the config file.
type Profile struct {
	Token     string  `mapstructure:"token"`
	OwnerName string  `mapstructure:"owner-name"`
	ChatID    string  `mapstructure:"chat-id"`
	Playlists []int64 `mapstructure:"playlists"`
}

type YandexConfig struct {
	BaseURL           string
	RequestTimeout    time.Duration
	RequestsPerSecond float64
}

type TelegramConfig struct {
	BotToken            string
	Enabled             bool
	FloodLimitPerMinute int
}

type AcquireConfig struct {
	YtDlpPath    string
	Timeout      time.Duration
	DefaultCover string
}

type StorageConfig struct {
	DataDir         string
	VolumeSizeBytes int64
}

type RetryConfig struct {
	MaxAttempts int
	Delay       time.Duration
}

type ServerConfig struct {
	Addr           string // empty disables the metrics server
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	PushgatewayURL string
}

type LogConfig struct {
	Level  string
	Format string
}

type AppConfig struct {
	Language           string
	MaxConcurrentScans int
	PreferredBitrate   int
	FallbackBitrate    int
}

func DefaultConfig() *Config {
	return &Config{
		Profiles: map[string]Profile{},
		Yandex: YandexConfig{
			RequestTimeout:    DefaultRequestTimeout,
			RequestsPerSecond: DefaultRequestsPerSecond,
		},
		Telegram: TelegramConfig{
			Enabled:             true,
			FloodLimitPerMinute: DefaultFloodLimitPerMinute,
		},
		Acquire: AcquireConfig{
			YtDlpPath: "yt-dlp",
			Timeout:   DefaultAcquireTimeout,
		},
		Storage: StorageConfig{
			DataDir:         "./data",
			VolumeSizeBytes: DefaultVolumeSizeBytes,
		},
		Retry: RetryConfig{
			MaxAttempts: DefaultRetryMaxAttempts,
			Delay:       DefaultRetryDelay,
		},
		Server: ServerConfig{
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		App: AppConfig{
			Language:           i18n.DefaultLanguage,
			MaxConcurrentScans: DefaultMaxConcurrentScans,
			PreferredBitrate:   DefaultPreferredBitrate,
			FallbackBitrate:    DefaultFallbackBitrate,
		},
	}
}

// Profile returns the profile configured for username.
func (c *Config) Profile(username string) (Profile, error) {
	profile, ok := c.Profiles[username]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s", ErrUnknownProfile, username)
	}
	return profile, nil
}

// Validate checks a profile before any scan is started.
func (p Profile) Validate() error {
	if p.Token == "" {
		return errors.New("profile token is required")
	}
	if p.OwnerName == "" {
		return errors.New("profile owner-name is required")
	}
	return nil
}
