package inlabs

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yourorg/procurement-sync/internal/fetch"
)

var (
	// ErrNotPublished means no bundle exists for the date and section.
	ErrNotPublished = errors.New("inlabs: edition not published")
	// ErrSessionExpired means the portal answered with a page instead of an
	// archive, which it does when the session cookie is no longer valid.
	ErrSessionExpired = errors.New("inlabs: session expired")
)

const (
	pipeline      = "inlabs"
	sessionCookie = "inlabs_session_cookie"
	dateLayout    = "2006-01-02"
)

// Bundle is a downloaded edition archive (zip of XML articles).
type Bundle []byte

// Fetcher downloads one section of one edition.
type Fetcher interface {
	FetchEdition(ctx context.Context, date time.Time, section string) (Bundle, error)
}

type HTTPConfig struct {
	BaseURL string
	// Session is the value of the portal's session cookie.
	Session    string
	Timeout    time.Duration
	MaxRetries int
	Backoff    fetch.Backoff
	RateLimit  float64
	Transport  http.RoundTripper

	sleep func(ctx context.Context, d time.Duration) error
}

// HTTPFetcher downloads bundles from the INLABS portal.
type HTTPFetcher struct {
	client *fetch.Client
}

func NewHTTPFetcher(cfg HTTPConfig, log *zap.Logger) *HTTPFetcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://inlabs.in.gov.br"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.Backoff.Strategy == "" {
		cfg.Backoff = fetch.Backoff{Strategy: fetch.Fixed, Base: 5 * time.Second}
	}
	headers := map[string]string{"origem": "736372697074"}
	if cfg.Session != "" {
		headers["Cookie"] = (&http.Cookie{Name: sessionCookie, Value: cfg.Session}).String()
	}
	return &HTTPFetcher{client: fetch.New(fetch.Config{
		Pipeline:   pipeline,
		BaseURL:    cfg.BaseURL,
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
		Backoff:    cfg.Backoff,
		RateLimit:  cfg.RateLimit,
		Headers:    headers,
		Accept:     "application/zip, */*",
		Transport:  cfg.Transport,
		Sleep:      cfg.sleep,
	}, log)}
}

// URL is the download address of one section bundle.
func (f *HTTPFetcher) URL(date time.Time, section string) string {
	d := date.Format(dateLayout)
	return f.client.URL("index.php", url.Values{"p": {d}, "dl": {d + "-" + strings.ToUpper(section) + ".zip"}})
}

func (f *HTTPFetcher) FetchEdition(ctx context.Context, date time.Time, section string) (Bundle, error) {
	target := f.URL(date, section)
	resp, err := f.client.Get(ctx, target)
	switch {
	case err != nil:
		return nil, err
	case resp.Status == http.StatusNotFound:
		return nil, ErrNotPublished
	case resp.Status >= 400:
		return nil, &fetch.StatusError{StatusCode: resp.Status, URL: target}
	case !isZip(resp.Body):
		return nil, ErrSessionExpired
	default:
		return Bundle(resp.Body), nil
	}
}

func isZip(b []byte) bool {
	if len(b) < 4 || b[0] != 'P' || b[1] != 'K' {
		return false
	}
	// Local file header, or the end record of an empty archive.
	return (b[2] == 3 && b[3] == 4) || (b[2] == 5 && b[3] == 6)
}
