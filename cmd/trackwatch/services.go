package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trackwatch/internal/acquire"
	"trackwatch/internal/chat"
	"trackwatch/internal/chat/telegram"
	"trackwatch/internal/core"
	httpserver "trackwatch/internal/http"
	"trackwatch/internal/i18n"
	"trackwatch/internal/ledger"
	"trackwatch/internal/retry"
	"trackwatch/internal/tagger"
	"trackwatch/internal/yandex"
)

const stagingDirName = "staging"

func newScanCommand(action core.Action, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   string(action),
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScan(cmd, action)
		},
	}

	cmd.Flags().String("username", "", "Profile to scan (key under profiles in the config file)")
	cmd.Flags().Int64Slice("playlists", nil, "Playlist ids to scan, defaults to the profile's playlists")
	_ = cmd.MarkFlagRequired("username")

	return cmd
}

func runScan(cmd *cobra.Command, action core.Action) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	defer func() { _ = logger.Sync() }()

	if configErr != nil {
		return configErr
	}

	username, _ := cmd.Flags().GetString("username")
	playlists, _ := cmd.Flags().GetInt64Slice("playlists")

	// viper lowercases map keys
	profile, err := config.Profile(strings.ToLower(username))
	if err != nil {
		return err
	}
	if err := validateConfig(profile); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if len(playlists) == 0 && len(profile.Playlists) == 0 {
		return fmt.Errorf("no playlists configured for %s", username)
	}

	logger.Info("Starting trackwatch",
		zap.String("action", string(action)),
		zap.String("username", username),
		zap.Bool("telegram_enabled", config.Telegram.Enabled),
		zap.String("language", config.App.Language))

	svcs, err := initializeServices(ctx, profile)
	if err != nil {
		return err
	}
	defer svcs.stop()

	runServices(ctx, svcs, core.RunRequest{
		Action:    action,
		Username:  username,
		Profile:   profile,
		Playlists: playlists,
	})
	return nil
}

type services struct {
	runner     *core.Runner
	metrics    *httpserver.Metrics
	httpServer *httpserver.Server
	telegram   *telegram.Frontend
}

func (s *services) stop() {
	if s.telegram != nil {
		s.telegram.Stop()
	}
}

func initializeServices(ctx context.Context, profile core.Profile) (*services, error) {
	metrics := httpserver.NewMetrics()

	defaultCover, err := tagger.LoadDefaultCover(config.Acquire.DefaultCover)
	if err != nil {
		return nil, err
	}

	music := yandex.NewClient(yandex.Config{
		Token:             profile.Token,
		BaseURL:           config.Yandex.BaseURL,
		Timeout:           config.Yandex.RequestTimeout,
		RequestsPerSecond: config.Yandex.RequestsPerSecond,
	}, logger.Named("yandex"))

	caller := retry.New(logger.Named("retry"),
		retry.WithMaxAttempts(config.Retry.MaxAttempts),
		retry.WithDelay(config.Retry.Delay),
		retry.WithClassifier(yandex.Classify),
		retry.WithObserver(metrics.RecordRemoteCall))

	svcs := &services{metrics: metrics}

	var notifier chat.Notifier
	if config.Telegram.Enabled {
		frontend := telegram.NewFrontend(&telegram.Config{
			BotToken:            config.Telegram.BotToken,
			Enabled:             config.Telegram.Enabled,
			FloodLimitPerMinute: config.Telegram.FloodLimitPerMinute,
		}, logger.Named("telegram"))
		if err := frontend.Start(ctx); err != nil {
			return nil, fmt.Errorf("failed to start Telegram: %w", err)
		}
		svcs.telegram = frontend
		notifier = frontend
	} else {
		logger.Info("Telegram disabled, reports are only logged")
	}

	dispatcher := core.NewDispatcher(notifier, i18n.NewLocalizer(config.App.Language), metrics,
		logger.Named("dispatcher"))

	scanner := core.NewScanner(core.ScannerDeps{
		Music: music,
		Acquirer: acquire.NewYtDlp(acquire.Config{
			Binary:  config.Acquire.YtDlpPath,
			Timeout: config.Acquire.Timeout,
		}, logger.Named("acquire")),
		Tagger:     tagger.New(defaultCover, logger.Named("tagger")),
		Caller:     caller,
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Config: core.ScannerConfig{
			StagingRoot:      filepath.Join(config.Storage.DataDir, stagingDirName),
			VolumeSizeBytes:  config.Storage.VolumeSizeBytes,
			PreferredBitrate: config.App.PreferredBitrate,
			FallbackBitrate:  config.App.FallbackBitrate,
		},
	}, logger.Named("scanner"))

	if err := os.MkdirAll(filepath.Join(config.Storage.DataDir, stagingDirName), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	openLedger := func(ctx context.Context, userKey string) (core.Ledger, error) {
		l, err := ledger.Open(ctx, ledger.Config{Dir: config.Storage.DataDir, UserKey: userKey})
		if err != nil {
			return nil, err
		}
		return l, nil
	}

	svcs.runner = core.NewRunner(scanner, openLedger, config.App.MaxConcurrentScans, metrics, logger.Named("runner"))
	if config.Server.Addr != "" {
		svcs.httpServer = httpserver.NewServer(&config.Server, metrics, logger.Named("http"))
	}

	return svcs, nil
}

// runServices runs the scans next to the optional metrics server and pushes the run metrics afterwards.
func runServices(ctx context.Context, svcs *services, req core.RunRequest) {
	g, gCtx := errgroup.WithContext(ctx)
	serverCtx, stopServer := context.WithCancel(gCtx)
	defer stopServer()

	if svcs.httpServer != nil {
		g.Go(func() error {
			return svcs.httpServer.Start(serverCtx)
		})
		logger.Info("Metrics server started", zap.String("addr", config.Server.Addr))
	}

	var results []core.ScanResult
	g.Go(func() error {
		defer stopServer()
		results = svcs.runner.Run(gCtx, req)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Metrics server stopped with error", zap.Error(err))
	}

	logSummary(results)

	if config.Server.PushgatewayURL != "" {
		if err := svcs.metrics.Push(context.WithoutCancel(ctx), config.Server.PushgatewayURL, req.Username); err != nil {
			logger.Warn("Failed to push metrics", zap.Error(err))
		}
	}
}

func logSummary(results []core.ScanResult) {
	failed := 0
	for _, result := range results {
		if result.Err != nil {
			failed++
			logger.Error("Playlist scan failed", zap.Int64("playlist_id", result.PlaylistID), zap.Error(result.Err))
			continue
		}
		report := result.Report
		logger.Info("Playlist scanned",
			zap.Int64("playlist_id", result.PlaylistID),
			zap.String("playlist", report.Title),
			zap.String("outcome", string(report.Outcome)),
			zap.Int("unavailable", len(report.UnavailableTracks)),
			zap.Int("new_unavailable", len(report.NewUnavailable)),
			zap.Int("downloaded", len(report.Downloaded)),
			zap.Int("unresolved", len(report.Unresolved)),
			zap.Int("archive_volumes", report.ArchiveVolumes),
			zap.Int("ledger_entries", report.LedgerEntries))
	}

	logger.Info("trackwatch finished", zap.Int("playlists", len(results)), zap.Int("failed", failed))
}
