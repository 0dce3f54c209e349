package pipelines

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dwpipe/internal/config"
	"dwpipe/internal/pipeline"
	"dwpipe/internal/storage"
)

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		UploadConcurrency: 2,
		S3:                config.S3Config{Bucket: "test-bucket"},
		Extractor:         config.ExtractorConfig{MaxRetries: 0},
	}
}

func TestRegister_CatalogIsValid(t *testing.T) {
	reg := pipeline.NewRegistry()
	require.NoError(t, Register(reg, Deps{Config: testConfig()}))

	require.NoError(t, reg.Validate())
	ids := []string{}
	for _, p := range reg.List() {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"coingecko_coins_list", "coingecko_coins_markets"}, ids)

	list, err := reg.Get(CoinGeckoCoinsList)
	require.NoError(t, err)
	assert.Equal(t, "azure", list.Sink.Backend)
	assert.Equal(t, "airflow-datawarehouse", list.Sink.Container)
	assert.Equal(t, "Bronze", list.Sink.Layer)
	assert.Len(t, list.Steps, 5)

	markets, err := reg.Get(CoinGeckoCoinsMarkets)
	require.NoError(t, err)
	assert.Equal(t, "s3", markets.Sink.Backend)
	assert.Equal(t, "test-bucket", markets.Sink.Container)
}

func TestRegister_Twice(t *testing.T) {
	reg := pipeline.NewRegistry()
	require.NoError(t, Register(reg, Deps{Config: testConfig()}))
	assert.ErrorIs(t, Register(reg, Deps{Config: testConfig()}), pipeline.ErrDuplicatePipeline)
}

type recordingStore struct {
	mu   sync.Mutex
	keys []string
	storage.Storage
}

func (r *recordingStore) Backend() string   { return storage.BackendS3 }
func (r *recordingStore) Container() string { return "test-bucket" }
func (r *recordingStore) UploadFile(_ context.Context, localPath, folder string) (storage.ObjectInfo, error) {
	key := storage.ObjectKey(folder, localPath)
	r.mu.Lock()
	r.keys = append(r.keys, key)
	r.mu.Unlock()
	return storage.ObjectInfo{Key: key}, nil
}

func TestCoinsMarkets_EndToEnd(t *testing.T) {
	const total = 600
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/coins/markets", r.URL.Path)
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currency"))
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page == 0 {
			page = 1
		}
		items := []map[string]any{}
		for i := (page - 1) * marketsPerPage; i < page*marketsPerPage && i < total; i++ {
			items = append(items, map[string]any{"id": fmt.Sprintf("coin-%d", i)})
		}
		_ = json.NewEncoder(w).Encode(items)
	}))
	defer srv.Close()

	store := &recordingStore{}
	opener := storage.OpenerFunc(func(_ context.Context, backend, container string) (storage.Storage, error) {
		assert.Equal(t, "s3", backend)
		assert.Equal(t, "test-bucket", container)
		return store, nil
	})

	reg := pipeline.NewRegistry()
	require.NoError(t, Register(reg, Deps{Config: testConfig(), Storage: opener, Endpoint: srv.URL + "/"}))
	p, err := reg.Get(CoinGeckoCoinsMarkets)
	require.NoError(t, err)

	// Two runs: pagination state must not leak between them.
	for run := 0; run < 2; run++ {
		store.keys = nil
		st := &pipeline.State{}
		_, err = p.Execute(context.Background(), st)
		require.NoError(t, err)
		assert.Len(t, st.Files, 3)
		assert.Len(t, store.keys, 3)
		for _, k := range store.keys {
			assert.Regexp(t, `^Bronze/CoinGecko/coins_markets/CoinGecko_coins_markets_.*_00[123]\.json$`, k)
		}
	}
}

// marketsServer serves total coins, honouring page and per_page like the real API.
func marketsServer(t *testing.T, total int, perPages *[]string) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		mu.Lock()
		*perPages = append(*perPages, q.Get("per_page"))
		mu.Unlock()
		perPage, _ := strconv.Atoi(q.Get("per_page"))
		page, _ := strconv.Atoi(q.Get("page"))
		if page == 0 {
			page = 1
		}
		items := []map[string]any{}
		for i := (page - 1) * perPage; i < page*perPage && i < total; i++ {
			items = append(items, map[string]any{"id": fmt.Sprintf("coin-%d", i)})
		}
		_ = json.NewEncoder(w).Encode(items)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCoinsMarkets_PerPageOverride(t *testing.T) {
	tests := []struct {
		name      string
		params    url.Values
		wantPages int
		wantSize  string
	}{
		{name: "static page size", params: nil, wantPages: 1, wantSize: "250"},
		{name: "smaller page size", params: url.Values{"per_page": {"100"}}, wantPages: 3, wantSize: "100"},
		{name: "exact multiple ends on empty page", params: url.Values{"per_page": {"125"}}, wantPages: 2, wantSize: "125"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var perPages []string
			srv := marketsServer(t, 250, &perPages)
			store := &recordingStore{}
			opener := storage.OpenerFunc(func(context.Context, string, string) (storage.Storage, error) {
				return store, nil
			})

			reg := pipeline.NewRegistry()
			require.NoError(t, Register(reg, Deps{Config: testConfig(), Storage: opener, Endpoint: srv.URL + "/"}))
			p, err := reg.Get(CoinGeckoCoinsMarkets)
			require.NoError(t, err)

			st := &pipeline.State{Params: tt.params}
			_, err = p.Execute(context.Background(), st)

			require.NoError(t, err)
			assert.Len(t, st.Files, tt.wantPages)
			assert.Len(t, store.keys, tt.wantPages)
			for _, got := range perPages {
				assert.Equal(t, tt.wantSize, got)
			}
		})
	}
}
