package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	logx "postflow/pkg/logx"
)

// ClientConfig configures the HTTP publishing client.
type ClientConfig struct {
	BaseURL    string
	Token      string
	RatePerSec int
	Timeout    time.Duration
}

// Client talks to the remote publishing API. It implements Publisher
// and Analytics. All requests share one rate limiter so a large queue
// cannot hammer the service.
type Client struct {
	base  string
	token string
	hc    *http.Client
	lim   *rate.Limiter
	log   logx.Logger
}

func NewClient(cfg ClientConfig, log logx.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("publisher.base_url is required")
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 2
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		base:  base,
		token: cfg.Token,
		hc:    &http.Client{Timeout: timeout},
		lim:   rate.NewLimiter(rate.Limit(rps), rps),
		log:   log,
	}, nil
}

type uploadRequest struct {
	Destination string `json:"destination"`
	MediaRef    string `json:"media_ref"`
}

type uploadResponse struct {
	Handle string `json:"handle"`
}

func (c *Client) UploadMedia(ctx context.Context, dest Destination, mediaRef string) (MediaHandle, error) {
	var out uploadResponse
	err := c.do(ctx, http.MethodPost, "/v1/media", uploadRequest{
		Destination: dest.ID,
		MediaRef:    mediaRef,
	}, &out)
	if err != nil {
		return "", &PublishError{Op: "upload", Message: err.Error()}
	}
	return MediaHandle(out.Handle), nil
}

type createPostRequest struct {
	Destination string `json:"destination"`
	Caption     string `json:"caption"`
	MediaHandle string `json:"media_handle"`
	PublishAt   string `json:"publish_at,omitempty"` // RFC3339; empty = publish now
	PlaceID     string `json:"place_id,omitempty"`
}

type createPostResponse struct {
	PostID string `json:"post_id"`
}

func (c *Client) CreatePost(ctx context.Context, dest Destination, caption string, media MediaHandle, at *time.Time, placeID string) (string, error) {
	req := createPostRequest{
		Destination: dest.ID,
		Caption:     caption,
		MediaHandle: string(media),
		PlaceID:     placeID,
	}
	if at != nil {
		req.PublishAt = at.Format(time.RFC3339)
	}
	var out createPostResponse
	if err := c.do(ctx, http.MethodPost, "/v1/posts", req, &out); err != nil {
		return "", &PublishError{Op: "create_post", Message: err.Error()}
	}
	return out.PostID, nil
}

type hourlyResponse struct {
	Weights []float64 `json:"weights"`
}

func (c *Client) HourlyEngagement(ctx context.Context, dest Destination) ([24]float64, error) {
	var weights [24]float64
	var out hourlyResponse
	path := "/v1/insights/hourly?destination=" + url.QueryEscape(dest.ID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return weights, &PublishError{Op: "insights", Message: err.Error()}
	}
	if len(out.Weights) != 24 {
		return weights, &PublishError{Op: "insights", Message: fmt.Sprintf("expected 24 hourly weights, got %d", len(out.Weights))}
	}
	copy(weights[:], out.Weights)
	return weights, nil
}

type apiError struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.lim.Wait(ctx); err != nil {
		return err
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	c.log.Debug("api request", logx.String("method", method), logx.String("path", path),
		logx.Int("status", resp.StatusCode), logx.Duration("took", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Surface the remote message verbatim; auth classification depends on it.
		var ae apiError
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(b, &ae) == nil && ae.Error != "" {
			return fmt.Errorf("%s", ae.Error)
		}
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
