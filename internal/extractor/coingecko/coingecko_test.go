package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dwpipe/internal/extractor"
)

func sampleCoins() []map[string]string {
	return []map[string]string{
		{"id": "bitcoin", "symbol": "btc", "name": "Bitcoin"},
		{"id": "ethereum", "symbol": "eth", "name": "Ethereum"},
	}
}

func TestCoinsList_Pagination(t *testing.T) {
	src := NewCoinsList("", "")

	assert.Equal(t, DefaultEndpoint, src.Endpoint())
	assert.Equal(t, "CoinGecko", src.Name())
	assert.Equal(t, "coins_list", extractor.Surname(src))
	assert.True(t, src.IsLastPage(map[string]any{"data": []any{}}), "endpoint should not paginate")
	assert.Empty(t, src.NextPagination(nil), "pagination should be empty")
	assert.Nil(t, src.Headers())
}

func TestCoinsList_APIKeyHeader(t *testing.T) {
	src := NewCoinsList("", "demo-key")
	assert.Equal(t, "demo-key", src.Headers().Get(apiKeyHeader))
}

func TestCoinsList_Extract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/coins/list", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("include_platform"))
		_ = json.NewEncoder(w).Encode(sampleCoins())
	}))
	defer srv.Close()

	dir := t.TempDir()
	ex := extractor.New(NewCoinsList(srv.URL+"/api/v3/", ""), extractor.Options{})
	res, err := ex.Run(context.Background(), extractor.Request{
		Params: url.Values{"include_platform": {"true"}},
		LoadTo: dir,
	})

	require.NoError(t, err)
	require.Equal(t, 1, res.Pages)
	assert.True(t, strings.HasPrefix(filepath.Base(res.Files[0]), "CoinGecko_coins_list_"))
	assert.True(t, strings.HasSuffix(res.Files[0], "_001.json"))

	raw, err := os.ReadFile(res.Files[0])
	require.NoError(t, err)
	var saved []map[string]string
	require.NoError(t, json.Unmarshal(raw, &saved))
	assert.Equal(t, sampleCoins(), saved, "saved data should match API response")
}

func TestCoinsMarkets_IsLastPage(t *testing.T) {
	src := NewCoinsMarkets("", "", 2)

	assert.False(t, src.IsLastPage([]any{1, 2}))
	assert.True(t, src.IsLastPage([]any{1}))
	assert.True(t, src.IsLastPage(map[string]any{"error": "x"}))
	assert.Equal(t, 100, NewCoinsMarkets("", "", 0).PerPage())
}

func TestCoinsMarkets_Extract(t *testing.T) {
	const total = 5
	var pages []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "usd", q.Get("vs_currency"))
		pages = append(pages, q.Get("page"))

		page, _ := strconv.Atoi(q.Get("page"))
		if page == 0 {
			page = 1
		}
		per, _ := strconv.Atoi(q.Get("per_page"))
		items := []map[string]string{}
		for i := (page - 1) * per; i < page*per && i < total; i++ {
			items = append(items, map[string]string{"id": fmt.Sprintf("coin-%d", i)})
		}
		_ = json.NewEncoder(w).Encode(items)
	}))
	defer srv.Close()

	ex := extractor.New(NewCoinsMarkets(srv.URL+"/", "", 2), extractor.Options{
		Now: func() time.Time { return time.Unix(0, 0) },
	})
	res, err := ex.Run(context.Background(), extractor.Request{
		Params: url.Values{"vs_currency": {"usd"}, "per_page": {"2"}},
		LoadTo: t.TempDir(),
	})

	require.NoError(t, err)
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, []string{"", "2", "3"}, pages)
}

func TestNewCoinsMarketsFor(t *testing.T) {
	tests := []struct {
		name   string
		params url.Values
		want   int
	}{
		{name: "per_page set", params: url.Values{"per_page": {"250"}}, want: 250},
		{name: "missing", params: url.Values{}, want: 100},
		{name: "nil params", params: nil, want: 100},
		{name: "malformed", params: url.Values{"per_page": {"lots"}}, want: 100},
		{name: "zero", params: url.Values{"per_page": {"0"}}, want: 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewCoinsMarketsFor("", "", tt.params).PerPage())
		})
	}
}
