package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cinegrid/internal/cine"
	"cinegrid/internal/config"
	"cinegrid/internal/logging"
)

// HTTPDoer describes the HTTP client used by Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures a Client.
type Options struct {
	FastPathBaseURL     string
	HighFidelityBaseURL string
	AuthToken           string
	Timeout             time.Duration
	HTTP                HTTPDoer
	Logger              *slog.Logger
}

// Client fetches frames for both playback strategies.
type Client struct {
	fastBase  string
	hifiBase  string
	authToken string
	// trusted holds the scheme://host origins that may receive authToken.
	trusted map[string]struct{}
	http    HTTPDoer
	logger  *slog.Logger
}

// New constructs a Client.
func New(opts Options) (*Client, error) {
	fastBase := strings.TrimRight(strings.TrimSpace(opts.FastPathBaseURL), "/")
	hifiBase := strings.TrimRight(strings.TrimSpace(opts.HighFidelityBaseURL), "/")
	if fastBase == "" || hifiBase == "" {
		return nil, errors.New("source: fast path and high-fidelity base URLs are required")
	}
	doer := opts.HTTP
	if doer == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		doer = &http.Client{Timeout: timeout}
	}
	trusted := make(map[string]struct{}, 2)
	for _, base := range []string{fastBase, hifiBase} {
		u, err := url.Parse(base)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("source: invalid base URL %q", base)
		}
		trusted[origin(u)] = struct{}{}
	}
	return &Client{
		fastBase:  fastBase,
		hifiBase:  hifiBase,
		authToken: strings.TrimSpace(opts.AuthToken),
		trusted:   trusted,
		http:      doer,
		logger:    logging.NewComponentLogger(opts.Logger, "source"),
	}, nil
}

// NewFromConfig builds a Client from the [sources] section.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("source: config is required")
	}
	return New(Options{
		FastPathBaseURL:     cfg.Sources.FastPathBaseURL,
		HighFidelityBaseURL: cfg.Sources.HighFidelityBaseURL,
		AuthToken:           cfg.Sources.AuthToken,
		Timeout:             cfg.RequestTimeout(),
		Logger:              logger,
	})
}

// CineURL returns the fast-path artifact location for inst.
func (c *Client) CineURL(inst cine.Instance) string {
	if u := strings.TrimSpace(inst.CineURL); u != "" {
		return u
	}
	return fmt.Sprintf("%s/instances/%s/cine", c.fastBase, url.PathEscape(inst.Key()))
}

// FrameURL returns the DICOMweb location of frame index (0-based) of inst.
func (c *Client) FrameURL(inst cine.Instance, index int) (string, error) {
	study := strings.TrimSpace(inst.StudyUID)
	series := strings.TrimSpace(inst.SeriesUID)
	sop := strings.TrimSpace(inst.SOPInstanceUID)
	if study == "" || series == "" || sop == "" {
		return "", fmt.Errorf("instance %s: study, series and SOP instance UIDs are required for frame requests", inst.Key())
	}
	if index < 0 || index >= inst.NumberOfFrames {
		return "", fmt.Errorf("instance %s: frame %d out of range", inst.Key(), index)
	}
	return fmt.Sprintf("%s/studies/%s/series/%s/instances/%s/frames/%d",
		c.hifiBase, url.PathEscape(study), url.PathEscape(series), url.PathEscape(sop), index+1), nil
}

func (c *Client) get(ctx context.Context, target, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", accept)
	if c.authToken != "" && c.trustedTarget(req.URL) {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", target, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		msg := strings.TrimSpace(string(snippet))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &StatusError{URL: target, Code: resp.StatusCode, Message: msg}
	}
	return resp, nil
}

// trustedTarget reports whether u shares an origin with a configured base.
// Per-instance cine URLs may point anywhere; only the configured sources
// see the credential.
func (c *Client) trustedTarget(u *url.URL) bool {
	_, ok := c.trusted[origin(u)]
	return ok
}

func origin(u *url.URL) string {
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

// StatusError reports a non-success HTTP response from a frame source.
type StatusError struct {
	URL     string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("get %s: status %d: %s", e.URL, e.Code, e.Message)
}
