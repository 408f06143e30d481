package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"trackwatch/internal/acquire"
	"trackwatch/internal/retry"
	"trackwatch/pkg/naming"
)

var (
	errTransient = errors.New("timed out")
	errRejected  = errors.New("bitrate unavailable")
	errBroken    = errors.New("broken")
)

func testClassifier(err error) retry.Kind {
	switch {
	case errors.Is(err, errTransient):
		return retry.KindTransient
	case errors.Is(err, errRejected):
		return retry.KindNonRetriable
	default:
		return retry.KindUnclassified
	}
}

func testCaller() *retry.Caller {
	return retry.New(zap.NewNop(),
		retry.WithDelay(0),
		retry.WithMaxAttempts(3),
		retry.WithClassifier(testClassifier))
}

// mockMusic serves playlists and tracks from memory
type mockMusic struct {
	mu          sync.Mutex
	playlists   map[int64]*Playlist
	playlistErr error
	tracks      map[int64]*Track
	trackErrs   map[int64]error
	trackCalls  map[int64]int
	covers      map[int64][]byte
	rejectAbove int
	downloads   []int
}

func newMockMusic() *mockMusic {
	return &mockMusic{
		playlists:  make(map[int64]*Playlist),
		tracks:     make(map[int64]*Track),
		trackErrs:  make(map[int64]error),
		trackCalls: make(map[int64]int),
		covers:     make(map[int64][]byte),
	}
}

func (m *mockMusic) addPlaylist(id int64, title string, tracks ...*Track) {
	playlist := &Playlist{ID: id, Title: title}
	for _, track := range tracks {
		playlist.Tracks = append(playlist.Tracks, TrackRef{ID: track.ID})
		m.tracks[track.ID] = track
	}
	m.playlists[id] = playlist
}

func (m *mockMusic) FetchPlaylist(_ context.Context, _ string, playlistID int64) (*Playlist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.playlistErr != nil {
		return nil, m.playlistErr
	}
	playlist, ok := m.playlists[playlistID]
	if !ok {
		return &Playlist{ID: playlistID}, nil
	}
	return playlist, nil
}

func (m *mockMusic) FetchTrack(_ context.Context, trackID int64) (*Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trackCalls[trackID]++
	if err := m.trackErrs[trackID]; err != nil {
		return nil, err
	}
	track := *m.tracks[trackID]
	return &track, nil
}

func (m *mockMusic) DownloadAudio(_ context.Context, _ *Track, path string, bitrateKbps int) error {
	m.mu.Lock()
	m.downloads = append(m.downloads, bitrateKbps)
	m.mu.Unlock()
	if m.rejectAbove > 0 && bitrateKbps > m.rejectAbove {
		return errRejected
	}
	return os.WriteFile(path, []byte("audio"), 0o600)
}

func (m *mockMusic) FetchCover(_ context.Context, track *Track) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cover, ok := m.covers[track.ID]; ok {
		return cover, nil
	}
	return nil, errRejected
}

// mockLedger is an in-memory ledger shared by all handles of a test
type mockLedger struct {
	mu        sync.Mutex
	rows      []LedgerEntry
	batches   [][]LedgerEntry
	reads     int
	readErr   error
	recordErr error
	closed    int
}

func (l *mockLedger) TrackIDsForAlbum(_ context.Context, albumID int64) (map[int64]struct{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reads++
	if l.readErr != nil {
		return nil, l.readErr
	}
	ids := make(map[int64]struct{})
	for _, row := range l.rows {
		if row.AlbumID == albumID {
			ids[row.TrackID] = struct{}{}
		}
	}
	return ids, nil
}

func (l *mockLedger) RecordBatch(_ context.Context, entries []LedgerEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.recordErr != nil {
		return l.recordErr
	}
	l.batches = append(l.batches, entries)
	l.rows = append(l.rows, entries...)
	return nil
}

func (l *mockLedger) Count(context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rows), nil
}

func (l *mockLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed++
	return nil
}

func (l *mockLedger) seed(albumID int64, trackIDs ...int64) {
	for _, id := range trackIDs {
		l.rows = append(l.rows, LedgerEntry{TrackID: id, AlbumID: albumID})
	}
}

// mockNotifier records sent texts and files
type mockNotifier struct {
	mu         sync.Mutex
	texts      []string
	files      []string
	captions   []string
	failTextAt int // 1-based, 0 never fails
	fileErr    error
}

func (n *mockNotifier) SendText(_ context.Context, _ string, text string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failTextAt > 0 && len(n.texts)+1 == n.failTextAt {
		return "", errBroken
	}
	n.texts = append(n.texts, text)
	return "1", nil
}

func (n *mockNotifier) SendFile(_ context.Context, _, path, caption string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fileErr != nil {
		return n.fileErr
	}
	if _, err := os.Stat(path); err != nil {
		return err
	}
	n.files = append(n.files, filepath.Base(path))
	n.captions = append(n.captions, caption)
	return nil
}

// mockAcquirer writes one mp3 per item
type mockAcquirer struct {
	calls [][]acquire.Item
	err   error
}

func (a *mockAcquirer) Acquire(_ context.Context, items []acquire.Item, outputDir string) (int, error) {
	a.calls = append(a.calls, items)
	if a.err != nil {
		return 0, a.err
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return 0, err
	}
	for _, item := range items {
		path := filepath.Join(outputDir, naming.FileName(item.FileName, "mp3"))
		if err := os.WriteFile(path, []byte("substitute:"+item.Query), 0o600); err != nil {
			return 0, err
		}
	}
	return len(items), nil
}

// mockTagger records applied covers
type mockTagger struct {
	mu      sync.Mutex
	applied map[string][]byte
}

func (t *mockTagger) ApplyCoverArt(path string, image []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.applied == nil {
		t.applied = make(map[string][]byte)
	}
	t.applied[filepath.Base(path)] = image
	return nil
}

func (t *mockTagger) HasCover(string) bool {
	return false
}

// mockMetrics counts recorded scans
type mockMetrics struct {
	mu      sync.Mutex
	scans   map[string]int
	unavail map[string]int
	notify  map[string]int
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{scans: map[string]int{}, unavail: map[string]int{}, notify: map[string]int{}}
}

func (m *mockMetrics) RecordScan(action, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scans[action+":"+status]++
}

func (m *mockMetrics) RecordUnavailable(kind string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavail[kind] += count
}

func (m *mockMetrics) RecordNotification(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notify[status]++
}

func (m *mockMetrics) ObserveScanDuration(string, float64) {}
