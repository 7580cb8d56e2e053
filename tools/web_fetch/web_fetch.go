package web_fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mohammad-safakhou/deepresearch/internal/helpers"
	"github.com/mohammad-safakhou/deepresearch/models"
	"github.com/mohammad-safakhou/deepresearch/tools/web_fetch/chromedp"
	"github.com/mohammad-safakhou/deepresearch/tools/web_fetch/httpfetch"
	fetchmodels "github.com/mohammad-safakhou/deepresearch/tools/web_fetch/models"
)

const (
	DefaultTimeout   = 15 * time.Second
	MaxCharsDefault  = 10000
	DefaultUserAgent = "deepresearch/1.0 (+https://github.com/mohammad-safakhou/deepresearch)"
)

var (
	ErrUnsupportedFetcher = errors.New("unsupported fetcher type")
	// ErrEmptyPage is returned when a page was fetched but yielded no text.
	ErrEmptyPage = errors.New("page has no readable text")
)

type WebFetcher interface {
	Exec(ctx context.Context, url string) (fetchmodels.Result, error)
}

type FetcherType string

const (
	ChromedpFetcherType FetcherType = "chromedp"
	HTTPFetcherType     FetcherType = "http"
)

type Config struct {
	Type      FetcherType
	Timeout   time.Duration
	MaxChars  int
	UserAgent string
}

func NewWebFetcher(cfg Config) (WebFetcher, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = MaxCharsDefault
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	switch cfg.Type {
	case ChromedpFetcherType:
		return chromedp.Fetch{Timeout: cfg.Timeout, MaxChars: cfg.MaxChars, UserAgent: cfg.UserAgent}, nil
	case HTTPFetcherType, "":
		return httpfetch.Fetch{
			Client:    &http.Client{Timeout: cfg.Timeout},
			Timeout:   cfg.Timeout,
			MaxChars:  cfg.MaxChars,
			UserAgent: cfg.UserAgent,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFetcher, cfg.Type)
	}
}

// DocumentFetcher adapts a WebFetcher to the document shape the research
// pipelines consume.
type DocumentFetcher struct {
	fetcher WebFetcher
}

func NewDocumentFetcher(f WebFetcher) *DocumentFetcher {
	return &DocumentFetcher{fetcher: f}
}

func (d *DocumentFetcher) Fetch(ctx context.Context, url string) (models.Document, error) {
	res, err := d.fetcher.Exec(ctx, url)
	if err != nil {
		return models.Document{}, err
	}
	if !res.OK() {
		return models.Document{}, fmt.Errorf("%w: %s (status %d)", ErrEmptyPage, url, res.Status)
	}
	return ToDocument(res), nil
}

// ToDocument converts a fetched page into web evidence.
func ToDocument(res fetchmodels.Result) models.Document {
	id, err := helpers.URLFingerprint(res.URL)
	if err != nil {
		id = res.HTMLHash
	}
	meta := map[string]string{}
	if res.Byline != "" {
		meta["byline"] = res.Byline
	}
	if res.SiteName != "" {
		meta["site"] = res.SiteName
	}
	if len(meta) == 0 {
		meta = nil
	}
	title := res.Title
	if title == "" {
		title = res.URL
	}
	return models.Document{
		ID:       id,
		Title:    title,
		URL:      res.URL,
		Snippet:  res.Excerpt,
		Content:  res.Text,
		Source:   models.SourceWeb,
		Metadata: meta,
	}
}
