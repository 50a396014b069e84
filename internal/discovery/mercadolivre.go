package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// DefaultItemAPIBase is the public Mercado Livre item lookup endpoint.
const DefaultItemAPIBase = "https://api.mercadolibre.com"

var mlItemIDPattern = regexp.MustCompile(`(?i)\bMLB-?([0-9]{6,})\b`)

// Trailing sections of a product page that list other products. Text after
// the first of these markers is full of unrelated prices and must not feed
// the extraction cascade.
var mlSegmentEndMarkers = []string{
	"Produtos relacionados",
	"Quem viu este produto também comprou",
	"Quem comprou este produto também comprou",
	"Mais produtos do vendedor",
	"Anúncios relacionados",
	"Você também pode gostar",
}

// Reader mirrors prefix the page with metadata lines; the product content
// starts after this marker.
var mlSegmentStartMarkers = []string{
	"Markdown Content:",
}

// IsMercadoLivreURL reports whether a URL points at a Mercado Livre page.
func IsMercadoLivreURL(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	return host == "mercadolivre.com.br" ||
		strings.HasSuffix(host, ".mercadolivre.com.br") ||
		host == "mercadolibre.com" ||
		strings.HasSuffix(host, ".mercadolibre.com")
}

// ExtractItemID finds a Mercado Livre item id ("MLB" + digits) in a URL or
// in raw page text, normalizing away the optional dash.
func ExtractItemID(text string) (string, bool) {
	match := mlItemIDPattern.FindStringSubmatch(text)
	if match == nil {
		return "", false
	}
	return "MLB" + match[1], true
}

// BoundProductSegment narrows page text to the main-product region using the
// known start and end markers. The second return reports whether any marker
// was found; when false, the text is returned unchanged.
func BoundProductSegment(text string) (string, bool) {
	bounded := false
	segment := text

	for _, marker := range mlSegmentStartMarkers {
		if i := strings.Index(segment, marker); i >= 0 {
			segment = segment[i+len(marker):]
			bounded = true
			break
		}
	}

	end := -1
	for _, marker := range mlSegmentEndMarkers {
		if i := strings.Index(segment, marker); i >= 0 && (end < 0 || i < end) {
			end = i
		}
	}
	if end >= 0 {
		segment = segment[:end]
		bounded = true
	}

	return segment, bounded
}

// mlItem is the subset of the item lookup payload carrying prices. Sale
// price is the authoritative current price when a promotion is running.
type mlItem struct {
	ID            string   `json:"id"`
	Price         *float64 `json:"price"`
	BasePrice     *float64 `json:"base_price"`
	OriginalPrice *float64 `json:"original_price"`
	SalePrice     *struct {
		Amount *float64 `json:"amount"`
	} `json:"sale_price"`
}

// pickPrice prefers the current sale price, then the list price, then the
// base price.
func (it mlItem) pickPrice() (float64, bool) {
	candidates := []*float64{}
	if it.SalePrice != nil {
		candidates = append(candidates, it.SalePrice.Amount)
	}
	candidates = append(candidates, it.Price, it.BasePrice)

	for _, c := range candidates {
		if c != nil && *c > minAcceptedPrice && *c < maxAcceptedPrice {
			return *c, true
		}
	}
	return 0, false
}

// LookupItemPrice calls the public item endpoint and returns the preferred
// price. All failures degrade to (0, false); the caller falls back to text
// extraction.
func LookupItemPrice(ctx context.Context, client *http.Client, apiBase, itemID string, timeout time.Duration) (float64, bool) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/items/%s", strings.TrimRight(apiBase, "/"), url.PathEscape(itemID))
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, false
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, false
	}

	var item mlItem
	if err := json.Unmarshal(body, &item); err != nil {
		return 0, false
	}

	return item.pickPrice()
}
