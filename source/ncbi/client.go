package ncbi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/mladen5000/strain-ahsp/errkind"
	"github.com/mladen5000/strain-ahsp/resource"
	"github.com/mladen5000/strain-ahsp/source"
)

const (
	// DefaultBaseURL is the E-utilities endpoint.
	DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

	// DefaultTimeout bounds a single request, body included.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxGenomeBytes bounds a compressed genome download.
	DefaultMaxGenomeBytes = 2 << 30

	maxResponseBytes = 64 << 20

	sourceName = "ncbi"
	userAgent  = "strain-ahsp (+https://github.com/mladen5000/strain-ahsp)"
)

// ErrNoFTPPath is returned for assemblies without a download location.
var ErrNoFTPPath = errors.New("ncbi: assembly has no ftp path")

// Options configures a Client.
type Options struct {
	// BaseURL of the E-utilities. Defaults to DefaultBaseURL.
	BaseURL string

	// APIKey raises the request budget from 3 to 10 per second.
	APIKey *string

	// HTTPClient defaults to a client without a global timeout; Timeout
	// applies per request instead.
	HTTPClient *http.Client

	// Timeout bounds each request. Defaults to DefaultTimeout.
	Timeout time.Duration

	// RequestsPerSecond overrides the E-utility rate limit.
	RequestsPerSecond float64

	// Tool and Email identify the caller to NCBI.
	Tool  string
	Email string

	// MaxGenomeBytes bounds a genome download. Defaults to DefaultMaxGenomeBytes.
	MaxGenomeBytes int64

	// Resources throttles download throughput. Optional.
	Resources *resource.Controller
}

// Client is an NCBI genome source. It is safe for concurrent use.
type Client struct {
	opts    Options
	http    *http.Client
	limiter *rate.Limiter
}

var _ source.Source = (*Client)(nil)

// New returns a Client.
func New(optFns ...func(*Options)) (*Client, error) {
	o := Options{
		BaseURL:        DefaultBaseURL,
		Timeout:        DefaultTimeout,
		MaxGenomeBytes: DefaultMaxGenomeBytes,
	}
	for _, fn := range optFns {
		fn(&o)
	}
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	if _, err := url.Parse(o.BaseURL); err != nil || o.BaseURL == "" {
		return nil, errkind.New(errkind.InvalidParameters, "ncbi.new", "base url "+o.BaseURL, err)
	}
	if o.Timeout <= 0 {
		return nil, errkind.New(errkind.InvalidParameters, "ncbi.new", "timeout must be positive", nil)
	}
	if o.APIKey != nil && strings.TrimSpace(*o.APIKey) == "" {
		o.APIKey = nil
	}
	if o.RequestsPerSecond <= 0 {
		o.RequestsPerSecond = 3
		if o.APIKey != nil {
			o.RequestsPerSecond = 10
		}
	}
	if o.MaxGenomeBytes <= 0 {
		o.MaxGenomeBytes = DefaultMaxGenomeBytes
	}
	hc := o.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		opts:    o,
		http:    hc,
		limiter: rate.NewLimiter(rate.Limit(o.RequestsPerSecond), 1),
	}, nil
}

// Name implements source.Source.
func (c *Client) Name() string { return sourceName }

// eutil calls an E-utility endpoint such as "esearch.fcgi".
func (c *Client) eutil(ctx context.Context, op, endpoint string, params url.Values) ([]byte, error) {
	if c.opts.APIKey != nil {
		params.Set("api_key", *c.opts.APIKey)
	}
	if c.opts.Tool != "" {
		params.Set("tool", c.opts.Tool)
	}
	if c.opts.Email != "" {
		params.Set("email", c.opts.Email)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errkind.New(errkind.Network, op, "rate limit", err)
	}
	return c.get(ctx, op, c.opts.BaseURL+"/"+endpoint+"?"+params.Encode(), maxResponseBytes, false)
}

// get performs one GET under the per-request timeout and returns the body.
func (c *Client) get(ctx context.Context, op, rawURL string, limit int64, throttle bool) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errkind.New(errkind.InvalidParameters, op, rawURL, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errkind.New(errkind.Network, op, redact(rawURL), err)
	}
	defer resp.Body.Close()

	if err := statusError(op, resp); err != nil {
		return nil, err
	}

	var body io.Reader = io.LimitReader(resp.Body, limit+1)
	if throttle {
		body = resource.NewRateLimitedReader(ctx, body, c.opts.Resources)
	}
	var buf bytes.Buffer
	if resp.ContentLength > 0 && resp.ContentLength <= limit {
		buf.Grow(int(resp.ContentLength))
	}
	if _, err := buf.ReadFrom(body); err != nil {
		return nil, errkind.New(errkind.Network, op, "reading response", err)
	}
	if int64(buf.Len()) > limit {
		return nil, errkind.New(errkind.ProviderProtocol, op,
			fmt.Sprintf("response exceeds %d bytes", limit), nil)
	}
	return buf.Bytes(), nil
}

func statusError(op string, resp *http.Response) error {
	code := resp.StatusCode
	if code >= 200 && code < 300 {
		return nil
	}
	detail := fmt.Sprintf("%s: status %d", redact(resp.Request.URL.String()), code)
	switch {
	case code == http.StatusNotFound:
		return errkind.New(errkind.NotFound, op, detail, nil)
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500:
		return errkind.New(errkind.Network, op, detail, nil)
	default:
		return errkind.New(errkind.ProviderProtocol, op, detail, nil)
	}
}

// redact drops the API key from URLs that end up in errors and logs.
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	if q.Has("api_key") {
		q.Set("api_key", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
