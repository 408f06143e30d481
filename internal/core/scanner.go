package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"trackwatch/internal/acquire"
	"trackwatch/internal/archive"
	"trackwatch/internal/retry"
	"trackwatch/internal/store"
	"trackwatch/pkg/naming"
)

const (
	opFetchPlaylist = "fetch_playlist"
	opFetchTrack    = "fetch_track"
	opFetchCover    = "fetch_cover"
	opDownloadAudio = "download_audio"

	unavailableSeen = "seen"
	unavailableNew  = "new"

	audioDirName      = "audio"
	seenFalsePositive = 0.001
)

// ScannerConfig holds the static settings of all scans.
type ScannerConfig struct {
	StagingRoot      string
	VolumeSizeBytes  int64
	PreferredBitrate int
	FallbackBitrate  int
}

// ScannerDeps are the collaborators of a Scanner. Acquirer and Tagger may be nil.
type ScannerDeps struct {
	Music      MusicService
	Acquirer   Acquirer
	Tagger     Tagger
	Caller     *retry.Caller
	Dispatcher *Dispatcher
	Metrics    MetricsRecorder
	Config     ScannerConfig
}

// ScanRequest selects one playlist scan. Ledger is unused by backups.
type ScanRequest struct {
	Action     Action
	Owner      string
	PlaylistID int64
	ChatID     string
	Ledger     Ledger
}

// Scanner walks a playlist, deduplicates unavailable tracks against the ledger and reports them.
type Scanner struct {
	deps   ScannerDeps
	logger *zap.Logger
}

func NewScanner(deps ScannerDeps, logger *zap.Logger) *Scanner {
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	if deps.Caller == nil {
		deps.Caller = retry.New(logger)
	}
	if deps.Config.PreferredBitrate <= 0 {
		deps.Config.PreferredBitrate = DefaultPreferredBitrate
	}
	if deps.Config.FallbackBitrate <= 0 {
		deps.Config.FallbackBitrate = DefaultFallbackBitrate
	}
	if deps.Config.StagingRoot == "" {
		deps.Config.StagingRoot = os.TempDir()
	}

	return &Scanner{deps: deps, logger: logger}
}

// Scan runs one playlist through fetch, partition, record, acquire and report.
// Only ledger failures are returned as errors; remote failures degrade the report.
func (s *Scanner) Scan(ctx context.Context, req ScanRequest) (*ScanReport, error) {
	if !req.Action.Valid() {
		return nil, fmt.Errorf("unknown action %q", req.Action)
	}

	logger := s.logger.With(zap.Int64("playlist_id", req.PlaylistID), zap.String("action", string(req.Action)))
	report := &ScanReport{PlaylistID: req.PlaylistID, Outcome: ScanOutcomeDone}

	playlist := retry.Call(ctx, s.deps.Caller, opFetchPlaylist, func(ctx context.Context) (*Playlist, error) {
		return s.deps.Music.FetchPlaylist(ctx, req.Owner, req.PlaylistID)
	})
	if !playlist.Ok() || playlist.Value == nil || len(playlist.Value.Tracks) == 0 {
		report.Outcome = ScanOutcomeNoTracks
		logger.Info("Playlist has no tracks, skipping",
			zap.String("status", playlist.Status.String()),
			zap.Error(playlist.Err))
		return report, nil
	}
	report.Title = playlist.Value.Title
	logger = logger.With(zap.String("playlist", report.Title))

	unavailable := s.fetchTracks(ctx, logger, playlist.Value, req.Action != ActionBackup, report)
	logger.Info("Fetching done",
		zap.Int("tracks", len(playlist.Value.Tracks)),
		zap.Int("unavailable", len(report.UnavailableTracks)),
		zap.Int("available", len(report.AvailableTracks)),
		zap.Int("unresolved", len(report.Unresolved)))

	if req.Action == ActionBackup {
		s.backup(ctx, logger, req, report)
		return report, nil
	}

	if err := s.partition(ctx, logger, req, report); err != nil {
		return report, err
	}
	if count, err := req.Ledger.Count(ctx); err != nil {
		logger.Warn("Failed to count ledger entries", zap.Error(err))
	} else {
		report.LedgerEntries = count
	}
	s.deps.Metrics.RecordUnavailable(unavailableSeen, len(report.UnavailableTracks))
	s.deps.Metrics.RecordUnavailable(unavailableNew, len(report.NewUnavailable))
	logger.Info("New unavailable tracks recorded", zap.Int("new", len(report.NewUnavailable)))

	var packed *archive.Archive
	if req.Action == ActionDownload && len(report.NewUnavailable) > 0 {
		packed = s.acquire(ctx, logger, report, unavailable)
	}

	names := make([]string, 0, len(report.NewUnavailable))
	for _, track := range report.NewUnavailable {
		names = append(names, track.Name)
	}
	s.notify(ctx, logger, Notification{
		ChatID:        req.ChatID,
		PlaylistTitle: report.Title,
		Tracks:        names,
		Archive:       packed,
		Kind:          req.Action,
	})

	return report, nil
}

// fetchTracks resolves every playlist entry once and collects either the unavailable or the available tracks.
func (s *Scanner) fetchTracks(ctx context.Context, logger *zap.Logger, playlist *Playlist,
	searchUnavailable bool, report *ScanReport,
) map[int64]*Track {
	seen := store.NewSeenSet(len(playlist.Tracks), seenFalsePositive)
	unavailable := make(map[int64]*Track)

	for _, ref := range playlist.Tracks {
		if !seen.Add(ref.ID) {
			logger.Debug("Skipping repeated playlist entry", zap.Int64("track_id", ref.ID))
			continue
		}

		trackID := ref.ID
		outcome := retry.Call(ctx, s.deps.Caller, opFetchTrack, func(ctx context.Context) (*Track, error) {
			return s.deps.Music.FetchTrack(ctx, trackID)
		})
		if !outcome.Ok() || outcome.Value == nil {
			logger.Warn("Track detail unresolved, skipping",
				zap.Int64("track_id", trackID),
				zap.String("status", outcome.Status.String()),
				zap.Error(outcome.Err))
			report.Unresolved = append(report.Unresolved, trackID)
			continue
		}

		track := outcome.Value
		if track.ID == 0 {
			track.ID = trackID
		}

		switch {
		case searchUnavailable && !track.Available:
			report.UnavailableTracks = append(report.UnavailableTracks, TrackName{Name: track.DisplayName(), ID: track.ID})
			unavailable[track.ID] = track
		case !searchUnavailable && track.Available:
			report.AvailableTracks = append(report.AvailableTracks, *track)
		}
	}

	return unavailable
}

// partition keeps the unavailable tracks the ledger does not know yet and records them before anything is sent.
func (s *Scanner) partition(ctx context.Context, logger *zap.Logger, req ScanRequest, report *ScanReport) error {
	if req.Ledger == nil {
		return errors.New("ledger is required for unavailable scans")
	}
	if len(report.UnavailableTracks) == 0 {
		return nil
	}

	recorded, err := req.Ledger.TrackIDsForAlbum(ctx, req.PlaylistID)
	if err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}

	known := store.NewSeenSet(len(recorded)+len(report.UnavailableTracks), seenFalsePositive)
	known.Load(recorded)
	logger.Debug("Ledger loaded", zap.Int("recorded", known.Size()))

	entries := make([]LedgerEntry, 0, len(report.UnavailableTracks))
	for _, track := range report.UnavailableTracks {
		if known.Has(track.ID) {
			continue
		}
		report.NewUnavailable = append(report.NewUnavailable, track)
		entries = append(entries, LedgerEntry{
			Title:    track.Name,
			TrackID:  track.ID,
			AlbumID:  req.PlaylistID,
			Notified: false,
		})
	}

	if len(entries) == 0 {
		return nil
	}
	if err := req.Ledger.RecordBatch(ctx, entries); err != nil {
		return fmt.Errorf("failed to record unavailable tracks: %w", err)
	}
	return nil
}

// acquire fetches substitutes for the new tracks, tags them and packs them. Failures leave the report without archive.
func (s *Scanner) acquire(ctx context.Context, logger *zap.Logger, report *ScanReport, tracks map[int64]*Track) *archive.Archive {
	if s.deps.Acquirer == nil {
		logger.Warn("No acquirer configured, skipping substitutes")
		return nil
	}

	staging, err := archive.NewStagingDir(s.deps.Config.StagingRoot)
	if err != nil {
		logger.Error("Failed to prepare staging directory", zap.Error(err))
		return nil
	}
	audioDir := filepath.Join(staging, audioDirName)

	items := make([]acquire.Item, 0, len(report.NewUnavailable))
	byFile := make(map[string]TrackName, len(report.NewUnavailable))
	used := make(map[string]struct{}, len(report.NewUnavailable))
	for _, track := range report.NewUnavailable {
		base := uniqueFileName(used, track.Name, track.ID)
		items = append(items, acquire.Item{Query: track.Name, FileName: base})
		byFile[base] = track
	}

	count, err := s.deps.Acquirer.Acquire(ctx, items, audioDir)
	if err != nil {
		logger.Warn("Acquisition finished with errors", zap.Int("produced", count), zap.Error(err))
	}
	if count == 0 {
		removeStaging(logger, staging)
		return nil
	}

	files, err := acquire.AudioFiles(audioDir)
	if err != nil || len(files) == 0 {
		logger.Error("Failed to list acquired files", zap.Error(err))
		removeStaging(logger, staging)
		return nil
	}
	for _, file := range files {
		base := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		track, ok := byFile[base]
		if !ok {
			track = TrackName{Name: base}
		}
		s.applyCover(ctx, logger, file, tracks[track.ID])
		report.Downloaded = append(report.Downloaded, track)
	}

	return s.pack(logger, files, staging, report)
}

// backup downloads the available tracks at the preferred bitrate, falling back once when it is rejected.
func (s *Scanner) backup(ctx context.Context, logger *zap.Logger, req ScanRequest, report *ScanReport) {
	if len(report.AvailableTracks) == 0 {
		logger.Info("No available tracks to back up")
		return
	}

	staging, err := archive.NewStagingDir(s.deps.Config.StagingRoot)
	if err != nil {
		logger.Error("Failed to prepare staging directory", zap.Error(err))
		return
	}
	audioDir := filepath.Join(staging, audioDirName)
	if err := os.MkdirAll(audioDir, 0o755); err != nil {
		logger.Error("Failed to prepare audio directory", zap.Error(err))
		removeStaging(logger, staging)
		return
	}

	used := make(map[string]struct{}, len(report.AvailableTracks))
	var files []string
	for i := range report.AvailableTracks {
		track := &report.AvailableTracks[i]
		base := uniqueFileName(used, track.DisplayName(), track.ID)
		path := filepath.Join(audioDir, base+acquire.AudioExt)

		if !s.download(ctx, logger, track, path) {
			_ = os.Remove(path)
			continue
		}
		s.applyCover(ctx, logger, path, track)
		files = append(files, path)
		report.Downloaded = append(report.Downloaded, TrackName{Name: track.DisplayName(), ID: track.ID})
	}

	if len(files) == 0 {
		removeStaging(logger, staging)
		return
	}

	names := make([]string, 0, len(report.Downloaded))
	for _, track := range report.Downloaded {
		names = append(names, track.Name)
	}
	s.notify(ctx, logger, Notification{
		ChatID:        req.ChatID,
		PlaylistTitle: report.Title,
		Tracks:        names,
		Archive:       s.pack(logger, files, staging, report),
		Kind:          ActionBackup,
	})
}

func (s *Scanner) download(ctx context.Context, logger *zap.Logger, track *Track, path string) bool {
	for _, bitrate := range []int{s.deps.Config.PreferredBitrate, s.deps.Config.FallbackBitrate} {
		outcome := retry.Call(ctx, s.deps.Caller, opDownloadAudio, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.deps.Music.DownloadAudio(ctx, track, path, bitrate)
		})
		switch outcome.Status {
		case retry.StatusSucceeded:
			return true
		case retry.StatusRejected:
			logger.Info("Bitrate rejected, trying fallback",
				zap.Int64("track_id", track.ID),
				zap.Int("bitrate_kbps", bitrate))
			continue
		default:
			logger.Warn("Download gave up", zap.Int64("track_id", track.ID), zap.Error(outcome.Err))
			return false
		}
	}

	logger.Warn("No supported bitrate for track", zap.Int64("track_id", track.ID))
	return false
}

// applyCover embeds the track cover, or the default cover, into files without one.
func (s *Scanner) applyCover(ctx context.Context, logger *zap.Logger, path string, track *Track) {
	if s.deps.Tagger == nil || s.deps.Tagger.HasCover(path) {
		return
	}

	var image []byte
	if track != nil && track.CoverURI != "" {
		cover := retry.Call(ctx, s.deps.Caller, opFetchCover, func(ctx context.Context) ([]byte, error) {
			return s.deps.Music.FetchCover(ctx, track)
		})
		if cover.Ok() {
			image = cover.Value
		}
	}

	if err := s.deps.Tagger.ApplyCoverArt(path, image); err != nil {
		logger.Debug("Cover art not applied", zap.String("path", path), zap.Error(err))
	}
}

func (s *Scanner) pack(logger *zap.Logger, files []string, staging string, report *ScanReport) *archive.Archive {
	packed, err := archive.Pack(files, staging, naming.FileName(report.Title, ""), s.deps.Config.VolumeSizeBytes)
	if err != nil {
		logger.Error("Failed to pack archive", zap.Error(err))
		removeStaging(logger, staging)
		return nil
	}
	report.ArchiveVolumes = len(packed.Volumes)
	return packed
}

func (s *Scanner) notify(ctx context.Context, logger *zap.Logger, n Notification) {
	if s.deps.Dispatcher == nil {
		if n.Archive != nil {
			_ = n.Archive.Cleanup()
		}
		return
	}
	if err := s.deps.Dispatcher.Report(ctx, n); err != nil {
		logger.Error("Failed to send report", zap.Error(err))
	}
}

func removeStaging(logger *zap.Logger, dir string) {
	if err := os.RemoveAll(dir); err != nil {
		logger.Warn("Failed to remove staging directory", zap.String("dir", dir), zap.Error(err))
	}
}

// uniqueFileName returns the file base of name, suffixed with the track id when another track already took it.
func uniqueFileName(used map[string]struct{}, name string, trackID int64) string {
	base := naming.FileName(name, "")
	if _, taken := used[base]; taken {
		base = naming.FileName(name+" "+strconv.FormatInt(trackID, 10), "")
	}
	used[base] = struct{}{}
	return base
}
