// Package pipelines is the catalog of concrete extract-load pipelines.
package pipelines

import (
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"dwpipe/internal/config"
	"dwpipe/internal/extractor"
	"dwpipe/internal/extractor/coingecko"
	"dwpipe/internal/metrics"
	"dwpipe/internal/model"
	"dwpipe/internal/pipeline"
	"dwpipe/internal/storage"
)

const (
	CoinGeckoCoinsList    = "coingecko_coins_list"
	CoinGeckoCoinsMarkets = "coingecko_coins_markets"

	bronzeLayer        = "Bronze"
	warehouseContainer = "airflow-datawarehouse"
	marketsPerPage     = 250
)

// Deps are the shared collaborators every pipeline is built with.
type Deps struct {
	Config  *config.AppConfig
	Storage storage.Opener
	Metrics *metrics.Pipeline
	Logger  *slog.Logger
	// Endpoint overrides the CoinGecko base URL; empty means the public API.
	Endpoint string
}

// Register builds every pipeline into reg.
func Register(reg *pipeline.Registry, d Deps) error {
	for _, p := range Build(d) {
		if err := reg.Register(p); err != nil {
			return err
		}
	}
	return nil
}

// Build returns the catalog without registering it.
func Build(d Deps) []*pipeline.Pipeline {
	opts := extractorOptions(d)
	apiKey := d.Config.Extractor.CoinGeckoKey

	coinsList := pipeline.ExtractLoad(pipeline.ExtractLoadConfig{
		ID:          CoinGeckoCoinsList,
		Description: "Extract CoinGecko coin list and store it in Azure Blob Storage.",
		Tags:        []string{"coingecko", "bronze"},
		TempName:    "coin_list",
		Params:      url.Values{"include_platform": {"true"}},
		NewSource: func(url.Values) extractor.Source {
			return coingecko.NewCoinsList(d.Endpoint, apiKey)
		},
		Extractor:         opts,
		Sink:              model.Sink{Backend: storage.BackendAzure, Container: warehouseContainer, Layer: bronzeLayer},
		Storage:           d.Storage,
		UploadConcurrency: d.Config.UploadConcurrency,
		Metrics:           d.Metrics,
	})

	coinsMarkets := pipeline.ExtractLoad(pipeline.ExtractLoadConfig{
		ID:          CoinGeckoCoinsMarkets,
		Description: "Extract CoinGecko USD market data page by page and store it in S3.",
		Tags:        []string{"coingecko", "bronze", "paginated"},
		TempName:    "coin_markets",
		Params: url.Values{
			"vs_currency": {"usd"},
			"per_page":    {strconv.Itoa(marketsPerPage)},
		},
		// A per_page run parameter changes what a short page is.
		NewSource: func(params url.Values) extractor.Source {
			return coingecko.NewCoinsMarketsFor(d.Endpoint, apiKey, params)
		},
		Extractor:         opts,
		Sink:              model.Sink{Backend: storage.BackendS3, Container: d.Config.S3.Bucket, Layer: bronzeLayer},
		Storage:           d.Storage,
		UploadConcurrency: d.Config.UploadConcurrency,
		Metrics:           d.Metrics,
	})

	return []*pipeline.Pipeline{coinsList, coinsMarkets}
}

// extractorOptions shares one HTTP client and one limiter across pipelines so
// the configured rate applies to the API as a whole.
func extractorOptions(d Deps) extractor.Options {
	c := d.Config.Extractor
	limit := rate.Inf
	if c.RateLimit > 0 {
		limit = rate.Limit(c.RateLimit)
	}
	burst := c.Burst
	if burst < 1 {
		burst = 1
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return extractor.Options{
		Client:         extractor.NewHTTPClient(timeout),
		Limiter:        rate.NewLimiter(limit, burst),
		MaxRetries:     c.MaxRetries,
		BackoffInitial: c.BackoffInitial,
		BackoffMax:     c.BackoffMax,
		MaxPages:       c.MaxPages,
		Logger:         d.Logger,
		Metrics:        d.Metrics,
	}
}
