package yandex

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"trackwatch/internal/core"
	"trackwatch/internal/retry"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(Config{
		Token:             "secret",
		BaseURL:           server.URL,
		Timeout:           2 * time.Second,
		RequestsPerSecond: 1000,
	}, zap.NewNop())
	client.scheme = "http"
	return client, server
}

func TestNewClient_Defaults(t *testing.T) {
	client := NewClient(Config{Token: "x"}, zap.NewNop())

	if client.config.BaseURL != DefaultBaseURL {
		t.Errorf("Expected base url %s, got %s", DefaultBaseURL, client.config.BaseURL)
	}
	if client.config.Timeout != DefaultTimeout {
		t.Errorf("Expected timeout %v, got %v", DefaultTimeout, client.config.Timeout)
	}
	if client.config.RequestsPerSecond != DefaultRequestsPerSecond {
		t.Errorf("Expected rate %v, got %v", DefaultRequestsPerSecond, client.config.RequestsPerSecond)
	}
}

func TestFetchPlaylist(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/users/alice/playlists/42", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "OAuth secret" {
			t.Errorf("Expected OAuth authorization header, got %q", got)
		}
		fmt.Fprint(w, `{"result":{"title":"Favorites","tracks":[
			{"id":1,"track":{"id":"1","albums":[{"id":42}]}},
			{"id":"7:42"},
			{"track":{"id":"9"}},
			{"id":0}
		]}}`)
	})
	client, _ := newTestClient(t, mux)

	playlist, err := client.FetchPlaylist(context.Background(), "alice", 42)
	if err != nil {
		t.Fatalf("FetchPlaylist failed: %v", err)
	}

	if playlist.Title != "Favorites" {
		t.Errorf("Expected title Favorites, got %q", playlist.Title)
	}
	want := []core.TrackRef{{ID: 1, AlbumID: 42}, {ID: 7}, {ID: 9}}
	if len(playlist.Tracks) != len(want) {
		t.Fatalf("Expected %d tracks, got %d: %+v", len(want), len(playlist.Tracks), playlist.Tracks)
	}
	for i, ref := range want {
		if playlist.Tracks[i] != ref {
			t.Errorf("Track %d: expected %+v, got %+v", i, ref, playlist.Tracks[i])
		}
	}
}

func TestFetchPlaylist_EscapesOwner(t *testing.T) {
	var gotPath string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		fmt.Fprint(w, `{"result":{"title":"Mixed","tracks":[{"id":1}]}}`)
	}))

	if _, err := client.FetchPlaylist(context.Background(), "john doe/x?y", 7); err != nil {
		t.Fatalf("FetchPlaylist failed: %v", err)
	}
	if gotPath != "/users/john%20doe%2Fx%3Fy/playlists/7" {
		t.Errorf("Expected escaped owner in path, got %q", gotPath)
	}
}

func TestFetchTrack(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/tracks/9", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"result":[{"id":"9","title":"Song","version":"Live","available":false,
			"coverUri":"avatars.example/get/%%","artists":[{"name":"A"},{"name":"B"}],"albums":[{"id":"42"}]}]}`)
	})
	client, _ := newTestClient(t, mux)

	track, err := client.FetchTrack(context.Background(), 9)
	if err != nil {
		t.Fatalf("FetchTrack failed: %v", err)
	}

	if track.ID != 9 || track.AlbumID != 42 || track.Available {
		t.Errorf("Unexpected track: %+v", track)
	}
	if got := track.DisplayName(); got != "A, B - Song (Live)" {
		t.Errorf("Expected display name %q, got %q", "A, B - Song (Live)", got)
	}
}

func TestFetchTrack_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantErr  error
		wantKind retry.Kind
	}{
		{"not found", http.StatusNotFound, `{}`, ErrNotFound, retry.KindUnclassified},
		{"empty result", http.StatusOK, `{"result":[]}`, ErrNotFound, retry.KindUnclassified},
		{"throttled", http.StatusTooManyRequests, `slow down`, ErrTimeout, retry.KindTransient},
		{"server error", http.StatusBadGateway, `bad gateway`, ErrTimeout, retry.KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))

			_, err := client.FetchTrack(context.Background(), 1)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Expected %v, got %v", tt.wantErr, err)
			}
			if kind := Classify(err); kind != tt.wantKind {
				t.Errorf("Expected kind %v, got %v", tt.wantKind, kind)
			}
		})
	}
}

func TestFetchTrack_TimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(Config{BaseURL: server.URL, Timeout: 50 * time.Millisecond, RequestsPerSecond: 1000}, zap.NewNop())

	_, err := client.FetchTrack(context.Background(), 1)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}
	if Classify(err) != retry.KindTransient {
		t.Error("Timeouts should be transient")
	}
}

func TestDownloadAudio(t *testing.T) {
	var serverURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/tracks/9/download-info", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"result":[
			{"codec":"aac","bitrateInKbps":320,"downloadInfoUrl":"%[1]s/wrong"},
			{"codec":"mp3","bitrateInKbps":192,"downloadInfoUrl":"%[1]s/wrong"},
			{"codec":"mp3","bitrateInKbps":320,"downloadInfoUrl":"%[1]s/info"}
		]}`, serverURL)
	})
	mux.HandleFunc("/info", func(w http.ResponseWriter, _ *http.Request) {
		host := strings.TrimPrefix(serverURL, "http://")
		fmt.Fprintf(w, `<?xml version="1.0" encoding="utf-8"?>
<download-info><host>%s</host><path>/music/abc</path><ts>0005</ts><region>-1</region><s>salt</s></download-info>`, host)
	})
	mux.HandleFunc("/get-mp3/", func(w http.ResponseWriter, r *http.Request) {
		want := "/get-mp3/" + sign("/music/abc", "salt") + "/0005/music/abc"
		if r.URL.Path != want {
			t.Errorf("Expected path %s, got %s", want, r.URL.Path)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, "ID3audio")
	})
	client, server := newTestClient(t, mux)
	serverURL = server.URL

	path := filepath.Join(t.TempDir(), "song.mp3")
	if err := client.DownloadAudio(context.Background(), &core.Track{ID: 9}, path, 320); err != nil {
		t.Fatalf("DownloadAudio failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read download: %v", err)
	}
	if string(data) != "ID3audio" {
		t.Errorf("Unexpected file content %q", data)
	}
}

func TestDownloadAudio_BitrateUnavailable(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"result":[{"codec":"mp3","bitrateInKbps":192,"downloadInfoUrl":"x"}]}`)
	}))

	path := filepath.Join(t.TempDir(), "song.mp3")
	err := client.DownloadAudio(context.Background(), &core.Track{ID: 9}, path, 320)
	if !errors.Is(err, ErrBitrateUnavailable) {
		t.Fatalf("Expected ErrBitrateUnavailable, got %v", err)
	}
	if Classify(err) != retry.KindNonRetriable {
		t.Error("Unsupported bitrate should be non-retriable")
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("No file should be created for an unavailable bitrate")
	}
}

func TestFetchCover(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/get/"+CoverSize, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "jpegbytes")
	})
	client, server := newTestClient(t, mux)
	host := strings.TrimPrefix(server.URL, "http://")

	data, err := client.FetchCover(context.Background(), &core.Track{ID: 1, CoverURI: host + "/get/%%"})
	if err != nil {
		t.Fatalf("FetchCover failed: %v", err)
	}
	if string(data) != "jpegbytes" {
		t.Errorf("Unexpected cover %q", data)
	}

	_, err = client.FetchCover(context.Background(), &core.Track{ID: 2})
	if !errors.Is(err, ErrNoCover) {
		t.Errorf("Expected ErrNoCover, got %v", err)
	}
}

func TestSign(t *testing.T) {
	// md5("XGRlBW9FXlekgbPrRHuSiA" + "music/abc" + "salt") is stable for a given input.
	first := sign("/music/abc", "salt")
	if len(first) != 32 {
		t.Fatalf("Expected hex md5, got %q", first)
	}
	if sign("music/abc", "salt") != first {
		t.Error("Leading slash of path should not change the signature")
	}
	if sign("/music/abc", "other") == first {
		t.Error("Signature should depend on s")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want retry.Kind
	}{
		{fmt.Errorf("wrap: %w", ErrTimeout), retry.KindTransient},
		{fmt.Errorf("wrap: %w", ErrBitrateUnavailable), retry.KindNonRetriable},
		{ErrNoCover, retry.KindNonRetriable},
		{ErrNotFound, retry.KindUnclassified},
		{errors.New("boom"), retry.KindUnclassified},
	}

	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
