// Package discovery resolves a price for a purchase URL by combining a
// structured marketplace lookup, reader-mirror fetching and a cascading
// text-extraction pipeline.
package discovery

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/presenteio/priceworker/logger"
)

// Reader mirrors re-render JavaScript-heavy storefronts as plain text.
var defaultMirrorPrefixes = []string{
	"https://r.jina.ai/http://",
	"https://r.jina.ai/https://",
}

// Service orchestrates fetching and extraction for a purchase URL.
type Service struct {
	Fetcher        *Fetcher
	ItemAPIBase    string
	MirrorPrefixes []string
	LookupTimeout  time.Duration
	client         *http.Client
	log            *logger.Logger
}

// NewService creates a discovery service with the default marketplace
// endpoint and reader mirrors.
func NewService(fetcher *Fetcher) *Service {
	return &Service{
		Fetcher:        fetcher,
		ItemAPIBase:    DefaultItemAPIBase,
		MirrorPrefixes: defaultMirrorPrefixes,
		LookupTimeout:  fetcher.Timeout,
		client:         &http.Client{},
		log:            logger.ForDiscovery(),
	}
}

// DiscoverPrice resolves a price for buyURL. Internal failures degrade to
// the next candidate; only exhausting every candidate yields false.
func (s *Service) DiscoverPrice(ctx context.Context, buyURL string) (float64, bool) {
	raw := strings.TrimSpace(buyURL)
	if raw == "" {
		return 0, false
	}

	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		s.log.Debug().Str("url", raw).Msg("Not an absolute HTTP(S) URL")
		return 0, false
	}

	isMarketplace := IsMercadoLivreURL(u)

	// Structured shortcut: authoritative and avoids page scraping entirely.
	if isMarketplace {
		if id, ok := ExtractItemID(u.String()); ok {
			if v, found := s.lookup(ctx, id); found {
				s.log.Debug().Str("item_id", id).Float64("price", v).Msg("Price from marketplace lookup")
				return v, true
			}
		}
	}

	triedLookupFromText := false
	for _, candidate := range s.candidates(u) {
		text, ok := s.Fetcher.FetchText(ctx, candidate)
		if !ok {
			continue
		}

		if isMarketplace {
			// The URL may hide the item id behind a tracking slug; the page
			// text usually carries it.
			if !triedLookupFromText {
				triedLookupFromText = true
				if id, found := ExtractItemID(text); found {
					if v, priced := s.lookup(ctx, id); priced {
						s.log.Debug().Str("item_id", id).Float64("price", v).Msg("Price from marketplace lookup via page text")
						return v, true
					}
				}
			}

			if segment, bounded := BoundProductSegment(text); bounded {
				if v, found := ExtractPrice(segment); found {
					s.log.Debug().Str("candidate", candidate).Float64("price", v).Msg("Price from bounded segment")
					return v, true
				}
			}
		}

		if v, found := ExtractPrice(text); found {
			s.log.Debug().Str("candidate", candidate).Float64("price", v).Msg("Price from text extraction")
			return v, true
		}
	}

	s.log.Debug().Str("url", raw).Msg("No price detected")
	return 0, false
}

// candidates builds the ordered, de-duplicated fetch list: the URL itself,
// then one reader mirror per configured prefix.
func (s *Service) candidates(u *url.URL) []string {
	href := u.String()
	noScheme := strings.TrimPrefix(strings.TrimPrefix(href, "https://"), "http://")

	list := []string{href}
	for _, prefix := range s.MirrorPrefixes {
		list = append(list, prefix+noScheme)
	}

	seen := make(map[string]bool, len(list))
	deduped := list[:0]
	for _, c := range list {
		if !seen[c] {
			seen[c] = true
			deduped = append(deduped, c)
		}
	}
	return deduped
}

func (s *Service) lookup(ctx context.Context, itemID string) (float64, bool) {
	return LookupItemPrice(ctx, s.client, s.ItemAPIBase, itemID, s.LookupTimeout)
}
