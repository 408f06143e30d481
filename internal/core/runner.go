package core

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	scanStatusDone     = "done"
	scanStatusNoTracks = "no_tracks"
	scanStatusFailed   = "failed"
)

// RunRequest selects the playlists of one profile to scan.
type RunRequest struct {
	Action    Action
	Username  string
	Profile   Profile
	Playlists []int64
}

// ScanResult is the outcome of one playlist scan.
type ScanResult struct {
	PlaylistID int64
	Report     *ScanReport
	Err        error
}

// Runner scans playlists concurrently. Each scan opens its own ledger handle.
type Runner struct {
	scanner       *Scanner
	openLedger    LedgerOpener
	metrics       MetricsRecorder
	logger        *zap.Logger
	maxConcurrent int
}

func NewRunner(scanner *Scanner, openLedger LedgerOpener, maxConcurrent int, metrics MetricsRecorder, logger *zap.Logger) *Runner {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentScans
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}

	return &Runner{
		scanner:       scanner,
		openLedger:    openLedger,
		metrics:       metrics,
		logger:        logger,
		maxConcurrent: maxConcurrent,
	}
}

// Run scans every requested playlist once and returns the results in request order.
// A failing scan never cancels its siblings.
func (r *Runner) Run(ctx context.Context, req RunRequest) []ScanResult {
	playlists := req.Playlists
	if len(playlists) == 0 {
		playlists = req.Profile.Playlists
	}
	playlists = uniquePlaylists(playlists)

	results := make([]ScanResult, len(playlists))

	var g errgroup.Group
	g.SetLimit(r.maxConcurrent)
	for i, playlistID := range playlists {
		g.Go(func() error {
			results[i] = r.scanOne(ctx, req, playlistID)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (r *Runner) scanOne(ctx context.Context, req RunRequest, playlistID int64) ScanResult {
	start := time.Now()
	logger := r.logger.With(zap.Int64("playlist_id", playlistID), zap.String("action", string(req.Action)))
	result := ScanResult{PlaylistID: playlistID}

	scanReq := ScanRequest{
		Action:     req.Action,
		Owner:      req.Profile.OwnerName,
		PlaylistID: playlistID,
		ChatID:     req.Profile.ChatID,
	}

	if req.Action != ActionBackup {
		ledger, err := r.openLedger(ctx, req.Username)
		if err != nil {
			logger.Error("Failed to open ledger", zap.Error(err))
			r.metrics.RecordScan(string(req.Action), scanStatusFailed)
			result.Err = err
			return result
		}
		defer func() {
			if err := ledger.Close(); err != nil {
				logger.Warn("Failed to close ledger", zap.Error(err))
			}
		}()
		scanReq.Ledger = ledger
	}

	logger.Info("Scanning playlist", zap.String("owner", req.Profile.OwnerName))
	report, err := r.scanner.Scan(ctx, scanReq)
	result.Report = report
	result.Err = err

	status := scanStatusDone
	switch {
	case err != nil:
		status = scanStatusFailed
		logger.Error("Scan failed", zap.Error(err))
	case report.Outcome == ScanOutcomeNoTracks:
		status = scanStatusNoTracks
	}

	r.metrics.RecordScan(string(req.Action), status)
	r.metrics.ObserveScanDuration(string(req.Action), time.Since(start).Seconds())
	fields := []zap.Field{zap.String("status", status), zap.Duration("duration", time.Since(start))}
	if report != nil && scanReq.Ledger != nil {
		fields = append(fields, zap.Int("ledger_entries", report.LedgerEntries))
	}
	logger.Info("Scan finished", fields...)

	return result
}

// uniquePlaylists drops repeated ids, keeping the first occurrence. An album is scanned at most once per run.
func uniquePlaylists(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	unique := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	return unique
}
