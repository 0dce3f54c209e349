// Package coingecko defines extractor sources for the CoinGecko public API.
package coingecko

import (
	"net/http"
	"net/url"
	"strconv"

	"dwpipe/internal/extractor"
)

const (
	// SourceName is the data source name used in file names and storage paths.
	SourceName = "CoinGecko"
	// DefaultEndpoint is the public v3 API base URL.
	DefaultEndpoint = "https://api.coingecko.com/api/v3/"

	apiKeyHeader   = "x-cg-demo-api-key"
	defaultPerPage = 100
)

// base carries what every CoinGecko source shares.
type base struct {
	endpoint string
	apiKey   string
}

func newBase(endpoint, apiKey string) base {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return base{endpoint: endpoint, apiKey: apiKey}
}

func (b base) Name() string     { return SourceName }
func (b base) Endpoint() string { return b.endpoint }

func (b base) Headers() http.Header {
	if b.apiKey == "" {
		return nil
	}
	return http.Header{apiKeyHeader: {b.apiKey}}
}

// CoinsList is the "coins/list" endpoint. It returns every coin in one response.
type CoinsList struct {
	base
}

// NewCoinsList returns the coins/list source. An empty endpoint selects DefaultEndpoint.
func NewCoinsList(endpoint, apiKey string) *CoinsList {
	return &CoinsList{base: newBase(endpoint, apiKey)}
}

func (CoinsList) RelativeURL() string { return "coins/list" }

// IsLastPage is always true: the endpoint does not paginate.
func (CoinsList) IsLastPage(any) bool { return true }

// NextPagination is always empty: the endpoint does not paginate.
func (CoinsList) NextPagination(any) url.Values { return url.Values{} }

// CoinsMarkets is the "coins/markets" endpoint, paged by page number.
type CoinsMarkets struct {
	base
	perPage int
	page    int
}

// NewCoinsMarkets returns the coins/markets source. perPage must match the
// per_page query parameter sent with the request; values <= 0 mean 100.
func NewCoinsMarkets(endpoint, apiKey string, perPage int) *CoinsMarkets {
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	return &CoinsMarkets{base: newBase(endpoint, apiKey), perPage: perPage, page: 1}
}

// NewCoinsMarketsFor sizes the source from the per_page query parameter that
// will be sent. A missing or malformed value means the API default of 100.
func NewCoinsMarketsFor(endpoint, apiKey string, params url.Values) *CoinsMarkets {
	n, err := strconv.Atoi(params.Get("per_page"))
	if err != nil {
		n = defaultPerPage
	}
	return NewCoinsMarkets(endpoint, apiKey, n)
}

func (*CoinsMarkets) RelativeURL() string { return "coins/markets" }

// PerPage is the page size the source expects.
func (m *CoinsMarkets) PerPage() int { return m.perPage }

// IsLastPage reports a short page. The response is a JSON array of markets.
func (m *CoinsMarkets) IsLastPage(page any) bool {
	items, ok := page.([]any)
	if !ok {
		return true
	}
	return len(items) < m.perPage
}

// NextPagination advances the page counter. The counter lives on the source,
// so a CoinsMarkets value must not be shared between concurrent runs.
func (m *CoinsMarkets) NextPagination(any) url.Values {
	m.page++
	return url.Values{"page": {strconv.Itoa(m.page)}}
}

var (
	_ extractor.Source       = (*CoinsList)(nil)
	_ extractor.HeaderSource = (*CoinsList)(nil)
	_ extractor.Source       = (*CoinsMarkets)(nil)
)
