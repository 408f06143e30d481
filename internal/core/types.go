package core

import (
	"context"

	"trackwatch/internal/acquire"
	"trackwatch/pkg/naming"
)

type Action string

const (
	// ActionUnavailable reports newly unavailable tracks
	ActionUnavailable Action = "unavailable"
	// ActionDownload reports newly unavailable tracks and acquires substitute audio for them
	ActionDownload Action = "download"
	// ActionBackup downloads the available tracks of a playlist from the streaming service
	ActionBackup Action = "backup"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionUnavailable, ActionDownload, ActionBackup:
		return true
	default:
		return false
	}
}

type Track struct {
	ID        int64
	Title     string
	Artists   []string
	Version   string
	Available bool
	AlbumID   int64
	CoverURI  string
}

// DisplayName returns "<artists> - <title> (<version>)".
func (t *Track) DisplayName() string {
	return naming.DisplayName(t.Title, t.Artists, t.Version)
}

// TrackRef is a playlist entry before its detail has been fetched.
type TrackRef struct {
	ID      int64
	AlbumID int64
}

type Playlist struct {
	ID     int64
	Owner  string
	Title  string
	Tracks []TrackRef
}

// TrackName pairs a display name with the track id it was built from.
type TrackName struct {
	Name string
	ID   int64
}

type LedgerEntry struct {
	Title    string
	TrackID  int64
	AlbumID  int64
	Notified bool
}

type ScanOutcome string

const (
	// ScanOutcomeDone means the scan went through every step
	ScanOutcomeDone ScanOutcome = "done"
	// ScanOutcomeNoTracks means the playlist was empty or could not be fetched
	ScanOutcomeNoTracks ScanOutcome = "no_tracks"
)

// ScanReport is the result of scanning one playlist.
type ScanReport struct {
	PlaylistID        int64
	Title             string
	Outcome           ScanOutcome
	UnavailableTracks []TrackName
	NewUnavailable    []TrackName
	AvailableTracks   []Track
	Downloaded        []TrackName
	Unresolved        []int64
	ArchiveVolumes    int
	// LedgerEntries is the size of the user's ledger after the scan, 0 for backups
	LedgerEntries int
}

type MusicService interface {
	FetchPlaylist(ctx context.Context, owner string, playlistID int64) (*Playlist, error)
	FetchTrack(ctx context.Context, trackID int64) (*Track, error)
	DownloadAudio(ctx context.Context, track *Track, path string, bitrateKbps int) error
	FetchCover(ctx context.Context, track *Track) ([]byte, error)
}

type Ledger interface {
	TrackIDsForAlbum(ctx context.Context, albumID int64) (map[int64]struct{}, error)
	RecordBatch(ctx context.Context, entries []LedgerEntry) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// LedgerOpener opens the ledger partition of one user.
type LedgerOpener func(ctx context.Context, userKey string) (Ledger, error)

type Acquirer interface {
	Acquire(ctx context.Context, items []acquire.Item, outputDir string) (int, error)
}

type Tagger interface {
	ApplyCoverArt(path string, image []byte) error
	HasCover(path string) bool
}

type MetricsRecorder interface {
	RecordScan(action, status string)
	RecordUnavailable(kind string, count int)
	RecordNotification(status string)
	ObserveScanDuration(action string, seconds float64)
}

type noopMetrics struct{}

func (noopMetrics) RecordScan(string, string) {}

func (noopMetrics) RecordUnavailable(string, int) {}

func (noopMetrics) RecordNotification(string) {}

func (noopMetrics) ObserveScanDuration(string, float64) {}
