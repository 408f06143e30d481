// Package yandex provides the Yandex Music API calls needed to scan playlists and download tracks.
package yandex

import (
	"context"
	"crypto/md5" //nolint:gosec // the storage signature is defined as md5
	"encoding/hex"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"trackwatch/internal/core"
	"trackwatch/internal/retry"
)

const (
	// DefaultBaseURL is the public API endpoint
	DefaultBaseURL = "https://api.music.yandex.net"
	// DefaultTimeout bounds a single HTTP request
	DefaultTimeout = 30 * time.Second
	// DefaultRequestsPerSecond limits calls to the API
	DefaultRequestsPerSecond = 5.0
	// CoverSize is the requested cover resolution
	CoverSize = "400x400"
	// CodecMP3 is the only codec DownloadAudio accepts
	CodecMP3 = "mp3"

	signSalt        = "XGRlBW9FXlekgbPrRHuSiA"
	filePermission  = 0o644
	maxErrorBodyLen = 512
)

var (
	// ErrTimeout marks timeout-class failures: request timeouts, throttling and server errors
	ErrTimeout = errors.New("yandex: request timed out")
	// ErrBitrateUnavailable is returned when a track has no mp3 stream at the requested bitrate
	ErrBitrateUnavailable = errors.New("yandex: requested bitrate unavailable")
	// ErrNotFound is returned for unknown playlists and tracks
	ErrNotFound = errors.New("yandex: not found")
	// ErrNoCover is returned when a track has no cover image
	ErrNoCover = errors.New("yandex: track has no cover")
)

type Config struct {
	Token             string
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
}

type Client struct {
	config  Config
	logger  *zap.Logger
	http    *http.Client
	limiter *rate.Limiter
	scheme  string
}

func NewClient(config Config, logger *zap.Logger) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = DefaultRequestsPerSecond
	}

	// Yandex expects "Authorization: OAuth <token>".
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: config.Token, TokenType: "OAuth"})
	httpClient := &http.Client{
		Timeout:   config.Timeout,
		Transport: &oauth2.Transport{Source: source, Base: http.DefaultTransport},
	}

	return &Client{
		config:  config,
		logger:  logger,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1),
		scheme:  "https",
	}
}

// Classify maps client errors onto retry kinds.
func Classify(err error) retry.Kind {
	switch {
	case errors.Is(err, ErrBitrateUnavailable), errors.Is(err, ErrNoCover):
		return retry.KindNonRetriable
	case errors.Is(err, ErrTimeout):
		return retry.KindTransient
	default:
		return retry.KindUnclassified
	}
}

// FetchPlaylist returns the playlist kind of owner with its track references.
func (c *Client) FetchPlaylist(ctx context.Context, owner string, playlistID int64) (*core.Playlist, error) {
	path := fmt.Sprintf("/users/%s/playlists/%d", url.PathEscape(owner), playlistID)

	var result playlistResult
	if err := c.getResult(ctx, c.config.BaseURL+path, &result); err != nil {
		return nil, fmt.Errorf("failed to fetch playlist %d: %w", playlistID, err)
	}

	playlist := &core.Playlist{
		ID:     playlistID,
		Owner:  owner,
		Title:  result.Title,
		Tracks: make([]core.TrackRef, 0, len(result.Tracks)),
	}
	for _, item := range result.Tracks {
		ref := core.TrackRef{ID: int64(item.ID)}
		if item.Track != nil {
			if ref.ID == 0 {
				ref.ID = int64(item.Track.ID)
			}
			if len(item.Track.Albums) > 0 {
				ref.AlbumID = int64(item.Track.Albums[0].ID)
			}
		}
		if ref.ID == 0 {
			c.logger.Debug("Skipping playlist item without track id", zap.Int64("playlist_id", playlistID))
			continue
		}
		playlist.Tracks = append(playlist.Tracks, ref)
	}

	return playlist, nil
}

// FetchTrack returns the current detail of one track.
func (c *Client) FetchTrack(ctx context.Context, trackID int64) (*core.Track, error) {
	var result []trackResult
	if err := c.getResult(ctx, fmt.Sprintf("%s/tracks/%d", c.config.BaseURL, trackID), &result); err != nil {
		return nil, fmt.Errorf("failed to fetch track %d: %w", trackID, err)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("track %d: %w", trackID, ErrNotFound)
	}

	return result[0].toCore(), nil
}

// DownloadAudio stores the mp3 stream of track at the given bitrate into path.
func (c *Client) DownloadAudio(ctx context.Context, track *core.Track, path string, bitrateKbps int) error {
	var infos []downloadInfo
	if err := c.getResult(ctx, fmt.Sprintf("%s/tracks/%d/download-info", c.config.BaseURL, track.ID), &infos); err != nil {
		return fmt.Errorf("failed to fetch download info for track %d: %w", track.ID, err)
	}

	var selected *downloadInfo
	for i := range infos {
		if infos[i].Codec == CodecMP3 && infos[i].BitrateInKbps == bitrateKbps {
			selected = &infos[i]
			break
		}
	}
	if selected == nil {
		return fmt.Errorf("track %d at %d kbps: %w", track.ID, bitrateKbps, ErrBitrateUnavailable)
	}

	directURL, err := c.resolveDirectURL(ctx, selected.DownloadInfoURL)
	if err != nil {
		return fmt.Errorf("failed to resolve download url for track %d: %w", track.ID, err)
	}

	body, err := c.get(ctx, directURL)
	if err != nil {
		return fmt.Errorf("failed to download track %d: %w", track.ID, err)
	}
	defer body.Close()

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePermission)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := io.Copy(file, body); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return fmt.Errorf("failed to write track %d: %w", track.ID, classifyTransport(err))
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}

	c.logger.Debug("Downloaded track",
		zap.Int64("track_id", track.ID),
		zap.Int("bitrate_kbps", bitrateKbps),
		zap.String("path", path))
	return nil
}

// FetchCover returns the cover image bytes of track.
func (c *Client) FetchCover(ctx context.Context, track *core.Track) ([]byte, error) {
	if track.CoverURI == "" {
		return nil, fmt.Errorf("track %d: %w", track.ID, ErrNoCover)
	}

	coverURL := c.scheme + "://" + strings.ReplaceAll(track.CoverURI, "%%", CoverSize)
	body, err := c.get(ctx, coverURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch cover of track %d: %w", track.ID, err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read cover of track %d: %w", track.ID, classifyTransport(err))
	}
	return data, nil
}

func (c *Client) resolveDirectURL(ctx context.Context, infoURL string) (string, error) {
	body, err := c.get(ctx, infoURL)
	if err != nil {
		return "", err
	}
	defer body.Close()

	var info storageInfo
	if err := xml.NewDecoder(body).Decode(&info); err != nil {
		return "", fmt.Errorf("failed to decode storage info: %w", err)
	}
	if info.Host == "" || info.Path == "" {
		return "", fmt.Errorf("incomplete storage info")
	}

	return c.scheme + "://" + info.Host + "/get-mp3/" + sign(info.Path, info.S) + "/" + info.TS + info.Path, nil
}

func sign(path, s string) string {
	sum := md5.Sum([]byte(signSalt + strings.TrimPrefix(path, "/") + s)) //nolint:gosec // storage signature
	return hex.EncodeToString(sum[:])
}

func (c *Client) getResult(ctx context.Context, endpoint string, out any) error {
	body, err := c.get(ctx, endpoint)
	if err != nil {
		return err
	}
	defer body.Close()

	envelope := struct {
		Result json.RawMessage `json:"result"`
	}{}
	if err := json.NewDecoder(body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", classifyTransport(err))
	}
	if len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return ErrNotFound
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, endpoint string) (io.ReadCloser, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}

	if resp.StatusCode == http.StatusOK {
		return resp.Body, nil
	}
	defer resp.Body.Close()

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
	statusErr := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %w", ErrNotFound, statusErr)
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: %w", ErrTimeout, statusErr)
	default:
		return nil, statusErr
	}
}

func classifyTransport(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}

// flexID accepts ids encoded as JSON numbers or strings such as "123" and "123:456".
type flexID int64

func (f *flexID) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		*f = 0
		return nil
	}
	if i := strings.IndexByte(raw, ':'); i >= 0 {
		raw = raw[:i]
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %q: %w", raw, err)
	}
	*f = flexID(id)
	return nil
}

type playlistResult struct {
	Title  string `json:"title"`
	Tracks []struct {
		ID    flexID       `json:"id"`
		Track *trackResult `json:"track"`
	} `json:"tracks"`
}

type trackResult struct {
	ID        flexID `json:"id"`
	Title     string `json:"title"`
	Version   string `json:"version"`
	Available bool   `json:"available"`
	CoverURI  string `json:"coverUri"`
	Artists   []struct {
		Name string `json:"name"`
	} `json:"artists"`
	Albums []struct {
		ID flexID `json:"id"`
	} `json:"albums"`
}

func (t *trackResult) toCore() *core.Track {
	track := &core.Track{
		ID:        int64(t.ID),
		Title:     t.Title,
		Version:   t.Version,
		Available: t.Available,
		CoverURI:  t.CoverURI,
		Artists:   make([]string, 0, len(t.Artists)),
	}
	for _, artist := range t.Artists {
		track.Artists = append(track.Artists, artist.Name)
	}
	if len(t.Albums) > 0 {
		track.AlbumID = int64(t.Albums[0].ID)
	}
	return track
}

type downloadInfo struct {
	Codec           string `json:"codec"`
	BitrateInKbps   int    `json:"bitrateInKbps"`
	DownloadInfoURL string `json:"downloadInfoUrl"`
}

type storageInfo struct {
	XMLName xml.Name `xml:"download-info"`
	Host    string   `xml:"host"`
	Path    string   `xml:"path"`
	TS      string   `xml:"ts"`
	S       string   `xml:"s"`
}
