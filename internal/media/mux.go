// Package media talks to the Mux video API: direct uploads, asset lookups,
// and the public stream and image hosts.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"vidtube/internal/retry"
)

var ErrNotConfigured = errors.New("mux credentials are not configured")

const (
	StatusWaiting   = "waiting"
	StatusPreparing = "preparing"
	StatusReady     = "ready"
	StatusErrored   = "errored"
)

const maxTranscriptBytes = 4 << 20

type Config struct {
	TokenID     string
	TokenSecret string
	// CORSOrigin is echoed on direct uploads so browsers may PUT to them.
	CORSOrigin string
	APIURL     string
	StreamURL  string
	ImageURL   string
	HTTPClient *http.Client
	Retry      retry.Config
}

type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
}

func New(cfg Config) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.mux.com"
	}
	if cfg.StreamURL == "" {
		cfg.StreamURL = "https://stream.mux.com"
	}
	if cfg.ImageURL == "" {
		cfg.ImageURL = "https://image.mux.com"
	}
	if cfg.CORSOrigin == "" {
		cfg.CORSOrigin = "*"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		cfg:  cfg,
		http: client,
		// Mux allows 5 mutating requests per second per environment.
		limiter: rate.NewLimiter(rate.Limit(5), 5),
	}
}

func (c *Client) Configured() bool {
	return c.cfg.TokenID != "" && c.cfg.TokenSecret != ""
}

type Upload struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Status  string `json:"status"`
	AssetID string `json:"asset_id"`
}

type PlaybackID struct {
	ID     string `json:"id"`
	Policy string `json:"policy"`
}

type Track struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	TextType     string `json:"text_type"`
	Status       string `json:"status"`
	LanguageCode string `json:"language_code"`
}

type Asset struct {
	ID          string       `json:"id"`
	Status      string       `json:"status"`
	UploadID    string       `json:"upload_id"`
	Passthrough string       `json:"passthrough"`
	PlaybackIDs []PlaybackID `json:"playback_ids"`
	// Duration is in seconds.
	Duration float64 `json:"duration"`
	Tracks   []Track `json:"tracks"`
}

// PlaybackID returns the first playback id, or "" before the asset is ready.
func (a Asset) PlaybackID() string {
	if len(a.PlaybackIDs) == 0 {
		return ""
	}
	return a.PlaybackIDs[0].ID
}

// DurationMillis rounds the asset duration to whole milliseconds.
func (a Asset) DurationMillis() int {
	return int(a.Duration*1000 + 0.5)
}

// CreateUpload opens a direct upload whose asset gets public playback and
// generated English subtitles. passthrough comes back on every asset event.
func (c *Client) CreateUpload(ctx context.Context, passthrough string) (Upload, error) {
	body := map[string]any{
		"cors_origin": c.cfg.CORSOrigin,
		"new_asset_settings": map[string]any{
			"passthrough":     passthrough,
			"playback_policy": []string{"public"},
			"input": []map[string]any{{
				"generated_subtitles": []map[string]string{{"language_code": "en", "name": "English"}},
			}},
		},
	}
	var upload Upload
	if err := c.call(ctx, http.MethodPost, "/video/v1/uploads", body, &upload); err != nil {
		return Upload{}, fmt.Errorf("create upload: %w", err)
	}
	return upload, nil
}

func (c *Client) GetUpload(ctx context.Context, uploadID string) (Upload, error) {
	var upload Upload
	if err := c.call(ctx, http.MethodGet, "/video/v1/uploads/"+uploadID, nil, &upload); err != nil {
		return Upload{}, fmt.Errorf("get upload %s: %w", uploadID, err)
	}
	return upload, nil
}

func (c *Client) GetAsset(ctx context.Context, assetID string) (Asset, error) {
	var asset Asset
	if err := c.call(ctx, http.MethodGet, "/video/v1/assets/"+assetID, nil, &asset); err != nil {
		return Asset{}, fmt.Errorf("get asset %s: %w", assetID, err)
	}
	return asset, nil
}

func (c *Client) DeleteAsset(ctx context.Context, assetID string) error {
	if err := c.call(ctx, http.MethodDelete, "/video/v1/assets/"+assetID, nil, nil); err != nil {
		return fmt.Errorf("delete asset %s: %w", assetID, err)
	}
	return nil
}

func (c *Client) ThumbnailURL(playbackID string) string {
	return c.cfg.ImageURL + "/" + playbackID + "/thumbnail.jpg"
}

func (c *Client) PreviewURL(playbackID string) string {
	return c.cfg.ImageURL + "/" + playbackID + "/animated.gif"
}

func (c *Client) TranscriptURL(playbackID, trackID string) string {
	return c.cfg.StreamURL + "/" + playbackID + "/text/" + trackID + ".txt"
}

// FetchTranscript downloads the plain text rendition of a subtitle track.
func (c *Client) FetchTranscript(ctx context.Context, playbackID, trackID string) (string, error) {
	if playbackID == "" || trackID == "" {
		return "", retry.Fatal(errors.New("video has no transcript track"))
	}
	var text string
	err := retry.Do(ctx, c.cfg.Retry, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.TranscriptURL(playbackID, trackID), nil)
		if err != nil {
			return retry.Fatal(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return retry.Transient(fmt.Errorf("fetch transcript: %w", err))
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxTranscriptBytes))
		if err != nil {
			return retry.Transient(fmt.Errorf("read transcript: %w", err))
		}
		if resp.StatusCode != http.StatusOK {
			return retry.ClassifyStatus(resp.StatusCode, fmt.Errorf("fetch transcript: status %d", resp.StatusCode))
		}
		text = strings.TrimSpace(string(data))
		return nil
	})
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", retry.Fatal(errors.New("transcript is empty"))
	}
	return text, nil
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Type     string   `json:"type"`
		Messages []string `json:"messages"`
	} `json:"error"`
}

func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	if !c.Configured() {
		return retry.Fatal(ErrNotConfigured)
	}
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return retry.Fatal(fmt.Errorf("encode request: %w", err))
		}
	}
	return retry.Do(ctx, c.cfg.Retry, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.cfg.APIURL+path, body)
		if err != nil {
			return retry.Fatal(err)
		}
		req.SetBasicAuth(c.cfg.TokenID, c.cfg.TokenSecret)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return retry.Transient(err)
		}
		defer resp.Body.Close()
		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return retry.Transient(err)
		}

		if resp.StatusCode >= 300 {
			msg := fmt.Sprintf("status %d", resp.StatusCode)
			var env envelope
			if json.Unmarshal(raw, &env) == nil && env.Error != nil && len(env.Error.Messages) > 0 {
				msg += ": " + strings.Join(env.Error.Messages, "; ")
			}
			return retry.ClassifyStatus(resp.StatusCode, errors.New(msg))
		}
		if out == nil || len(raw) == 0 {
			return nil
		}
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return retry.Fatal(fmt.Errorf("decode response: %w", err))
		}
		if err := json.Unmarshal(env.Data, out); err != nil {
			return retry.Fatal(fmt.Errorf("decode data: %w", err))
		}
		return nil
	})
}
