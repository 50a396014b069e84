package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/presenteio/priceworker/helpers"
	"github.com/presenteio/priceworker/logger"
	"github.com/presenteio/priceworker/services/cache"
)

// Fetcher retrieves page text for discovery candidates. Every failure is
// reported as "no result"; retry policy belongs to the next claim cycle.
type Fetcher struct {
	CacheSvc  cache.CacheService
	Timeout   time.Duration
	BlockTime time.Duration
	log       *logger.Logger
}

// NewFetcher creates a fetcher. cacheSvc may be nil, disabling host blocks.
func NewFetcher(cacheSvc cache.CacheService, timeout, blockTime time.Duration) *Fetcher {
	return &Fetcher{
		CacheSvc:  cacheSvc,
		Timeout:   timeout,
		BlockTime: blockTime,
		log:       logger.ForFetcher(),
	}
}

// FetchText fetches a URL within the configured timeout and returns its
// visible text. HTML bodies are flattened with scripts and styles dropped;
// other bodies pass through as-is.
func (f *Fetcher) FetchText(ctx context.Context, rawURL string) (string, bool) {
	host := hostOf(rawURL)

	if f.isBlocked(host) {
		f.log.Debug().Str("host", host).Msg("Host is blocked, skipping fetch")
		return "", false
	}

	body, err := helpers.FetchWithRandomHeaders(ctx, rawURL, f.Timeout)
	if err != nil {
		if errors.Is(err, helpers.ErrRateLimited) {
			f.block(host)
		}
		f.log.Debug().Err(err).Str("url", rawURL).Msg("Fetch failed")
		return "", false
	}

	return flattenToText(string(body)), true
}

func (f *Fetcher) isBlocked(host string) bool {
	if f.CacheSvc == nil || host == "" {
		return false
	}
	_, err := f.CacheSvc.Get(blockKey(host))
	return err == nil
}

func (f *Fetcher) block(host string) {
	if f.CacheSvc == nil || host == "" {
		return
	}
	value := []byte(fmt.Sprintf("%d", int(f.BlockTime/time.Second)))
	if err := f.CacheSvc.Set(blockKey(host), value, f.BlockTime); err != nil {
		f.log.Warn().Err(err).Str("host", host).Msg("Failed to set host block")
		return
	}
	f.log.Info().Str("host", host).Dur("block_time", f.BlockTime).Msg("Host blocked after rate limiting")
}

func blockKey(host string) string {
	return "fetch_block:" + host
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// flattenToText reduces an HTML body to its visible text. Non-HTML bodies
// (reader-mirror output, JSON) are returned unchanged.
func flattenToText(body string) string {
	trimmed := strings.TrimSpace(body)
	lowered := strings.ToLower(trimmed)
	if !strings.Contains(lowered, "<html") && !strings.Contains(lowered, "<body") {
		return body
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return body
	}
	doc.Find("script[type='application/ld+json']").Each(func(_ int, s *goquery.Selection) {
		// Keep product-schema JSON visible to the extraction cascade.
		s.ReplaceWithHtml(s.Text())
	})
	doc.Find("script, style, noscript").Remove()
	doc.Find("del, s, strike").Each(func(_ int, s *goquery.Selection) {
		// Preserve strikethrough semantics the way reader mirrors render them.
		s.ReplaceWithHtml("~~" + s.Text() + "~~")
	})

	return doc.Text()
}
