// Package main provides the trackwatch CLI application entry point.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"trackwatch/internal/core"
	"trackwatch/internal/i18n"
)

const envPrefix = "TRACKWATCH"

var (
	cfgFile   string
	envFile   string
	config    *core.Config
	configErr error
	logger    *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "trackwatch",
	Short: "trackwatch - playlist unavailability watcher",
	Long: `trackwatch scans Yandex Music playlists for tracks that became unavailable,
remembers them per user and reports new ones to a Telegram chat, optionally with
substitute audio or a full backup of the playlist attached.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "YAML config file holding the user profiles")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json, console)")
	rootCmd.PersistentFlags().String("data-dir", "./data", "Directory of the ledger databases and staging files")
	rootCmd.PersistentFlags().String("metrics-addr", "", "Address of the metrics server, empty disables it")
	rootCmd.PersistentFlags().String("pushgateway-url", "", "Prometheus Pushgateway receiving the run metrics")
	rootCmd.PersistentFlags().Bool("telegram-enabled", true, "Send reports to Telegram")
	rootCmd.PersistentFlags().String("telegram-bot-token", "", "Telegram bot token")
	rootCmd.PersistentFlags().Int("flood-limit-per-minute", core.DefaultFloodLimitPerMinute, "Maximum messages per chat per minute")
	rootCmd.PersistentFlags().String("yandex-base-url", "", "Yandex Music API base URL")
	rootCmd.PersistentFlags().Duration("request-timeout", core.DefaultRequestTimeout, "Timeout of one Yandex Music request")
	rootCmd.PersistentFlags().Float64("requests-per-second", core.DefaultRequestsPerSecond, "Yandex Music request rate limit")
	rootCmd.PersistentFlags().Int("retry-max-attempts", core.DefaultRetryMaxAttempts, "Attempt budget of one remote call")
	rootCmd.PersistentFlags().Duration("retry-delay", core.DefaultRetryDelay, "Pause between transient failures")
	rootCmd.PersistentFlags().String("ytdlp-path", "yt-dlp", "yt-dlp binary used for substitute audio")
	rootCmd.PersistentFlags().Duration("ytdlp-timeout", core.DefaultAcquireTimeout, "Timeout of one yt-dlp run")
	rootCmd.PersistentFlags().String("default-cover", "", "Image embedded into files without a cover")
	rootCmd.PersistentFlags().Int64("volume-size-bytes", core.DefaultVolumeSizeBytes, "Maximum size of one archive volume")
	rootCmd.PersistentFlags().Int("max-concurrent-scans", core.DefaultMaxConcurrentScans, "Playlists scanned at once")
	rootCmd.PersistentFlags().Int("preferred-bitrate", core.DefaultPreferredBitrate, "Bitrate tried first by backups (kbps)")
	rootCmd.PersistentFlags().Int("fallback-bitrate", core.DefaultFallbackBitrate, "Bitrate used when the preferred one is rejected (kbps)")
	supportedLangs := strings.Join(i18n.GetSupportedLanguages(), ", ")
	rootCmd.PersistentFlags().String("language", i18n.DefaultLanguage, fmt.Sprintf("Report language (%s)", supportedLangs))

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bind flags: %v\n", err)
		os.Exit(1)
	}

	rootCmd.AddCommand(
		newScanCommand(core.ActionUnavailable, "Report newly unavailable tracks"),
		newScanCommand(core.ActionDownload, "Report newly unavailable tracks with substitute audio attached"),
		newScanCommand(core.ActionBackup, "Download the available tracks of the playlists"),
		envExampleCmd,
	)
}

func initConfig() {
	if err := gotenv.Load(envFile); err != nil {
		// A missing .env file is fine
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Error loading %s: %v\n", envFile, err)
		}
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			configErr = fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
		}
	}

	cfg, err := buildConfig(viper.GetViper())
	if err != nil && configErr == nil {
		configErr = err
	}
	config = cfg
	logger = buildLogger(config.Log.Level, config.Log.Format)
}

func buildConfig(v *viper.Viper) (*core.Config, error) {
	cfg := core.DefaultConfig()

	configureYandex(cfg, v)
	configureTelegram(cfg, v)
	configureAcquire(cfg, v)
	configureStorage(cfg, v)
	configureServer(cfg, v)
	configureApp(cfg, v)

	if err := v.UnmarshalKey("profiles", &cfg.Profiles); err != nil {
		return cfg, fmt.Errorf("failed to parse profiles: %w", err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]core.Profile{}
	}

	return cfg, nil
}

func configureYandex(cfg *core.Config, v *viper.Viper) {
	cfg.Yandex.BaseURL = v.GetString("yandex-base-url")
	cfg.Yandex.RequestTimeout = positiveDuration(v.GetDuration("request-timeout"), core.DefaultRequestTimeout)
	cfg.Yandex.RequestsPerSecond = v.GetFloat64("requests-per-second")
	if cfg.Yandex.RequestsPerSecond <= 0 {
		cfg.Yandex.RequestsPerSecond = core.DefaultRequestsPerSecond
	}
	cfg.Retry.MaxAttempts = v.GetInt("retry-max-attempts")
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = core.DefaultRetryMaxAttempts
	}
	cfg.Retry.Delay = v.GetDuration("retry-delay")
	if cfg.Retry.Delay < 0 {
		cfg.Retry.Delay = core.DefaultRetryDelay
	}
}

func configureTelegram(cfg *core.Config, v *viper.Viper) {
	cfg.Telegram.Enabled = v.GetBool("telegram-enabled")
	cfg.Telegram.BotToken = v.GetString("telegram-bot-token")
	cfg.Telegram.FloodLimitPerMinute = v.GetInt("flood-limit-per-minute")
	if cfg.Telegram.FloodLimitPerMinute <= 0 {
		cfg.Telegram.FloodLimitPerMinute = core.DefaultFloodLimitPerMinute
	}
}

func configureAcquire(cfg *core.Config, v *viper.Viper) {
	if path := v.GetString("ytdlp-path"); path != "" {
		cfg.Acquire.YtDlpPath = path
	}
	cfg.Acquire.Timeout = positiveDuration(v.GetDuration("ytdlp-timeout"), core.DefaultAcquireTimeout)
	cfg.Acquire.DefaultCover = v.GetString("default-cover")
}

func configureStorage(cfg *core.Config, v *viper.Viper) {
	if dir := v.GetString("data-dir"); dir != "" {
		cfg.Storage.DataDir = dir
	}
	cfg.Storage.VolumeSizeBytes = v.GetInt64("volume-size-bytes")
	if cfg.Storage.VolumeSizeBytes <= 0 {
		cfg.Storage.VolumeSizeBytes = core.DefaultVolumeSizeBytes
	}
}

func configureServer(cfg *core.Config, v *viper.Viper) {
	cfg.Server.Addr = v.GetString("metrics-addr")
	cfg.Server.PushgatewayURL = v.GetString("pushgateway-url")
	if level := v.GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if format := v.GetString("log-format"); format != "" {
		cfg.Log.Format = format
	}
}

func configureApp(cfg *core.Config, v *viper.Viper) {
	cfg.App.MaxConcurrentScans = v.GetInt("max-concurrent-scans")
	if cfg.App.MaxConcurrentScans <= 0 {
		cfg.App.MaxConcurrentScans = core.DefaultMaxConcurrentScans
	}
	cfg.App.PreferredBitrate = v.GetInt("preferred-bitrate")
	if cfg.App.PreferredBitrate <= 0 {
		cfg.App.PreferredBitrate = core.DefaultPreferredBitrate
	}
	cfg.App.FallbackBitrate = v.GetInt("fallback-bitrate")
	if cfg.App.FallbackBitrate <= 0 {
		cfg.App.FallbackBitrate = core.DefaultFallbackBitrate
	}

	cfg.App.Language = v.GetString("language")
	if cfg.App.Language == "" {
		cfg.App.Language = i18n.DefaultLanguage
	}
	if !i18n.IsSupported(cfg.App.Language) {
		fmt.Fprintf(os.Stderr, "Warning: Unsupported language '%s', falling back to '%s'. Supported languages: %s\n",
			cfg.App.Language, i18n.DefaultLanguage, strings.Join(i18n.GetSupportedLanguages(), ", "))
		cfg.App.Language = i18n.DefaultLanguage
	}
}

func positiveDuration(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

func buildLogger(level, format string) *zap.Logger {
	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	if format == "console" {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	builtLogger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("Failed to build logger: %v", err))
	}

	return builtLogger
}

func validateConfig(profile core.Profile) error {
	if err := profile.Validate(); err != nil {
		return err
	}

	if config.Telegram.Enabled {
		if config.Telegram.BotToken == "" {
			return errors.New("telegram bot token is required when Telegram is enabled")
		}
		if profile.ChatID == "" {
			return errors.New("profile chat-id is required when Telegram is enabled")
		}
	}

	if config.App.FallbackBitrate > config.App.PreferredBitrate {
		return fmt.Errorf("fallback bitrate %d must not exceed preferred bitrate %d",
			config.App.FallbackBitrate, config.App.PreferredBitrate)
	}

	return nil
}
