package services

import (
	"context"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"meme-coin-aggregator/internal/config"
	"meme-coin-aggregator/internal/models"
	"meme-coin-aggregator/pkg/logger"
	"meme-coin-aggregator/pkg/ratelimiter"
	"meme-coin-aggregator/pkg/retry"

	"go.uber.org/zap"
)

// DexScreenerSourceName identifies records produced by the pair-search source
const DexScreenerSourceName = "dexscreener"

// dexPairsResponse is the envelope of /search and /tokens responses
type dexPairsResponse struct {
	SchemaVersion string    `json:"schemaVersion"`
	Pairs         []dexPair `json:"pairs"`
}

// dexPair is one trading pair; the base token is the asset being described
type dexPair struct {
	ChainID     string    `json:"chainId"`
	DexID       string    `json:"dexId"`
	URL         string    `json:"url"`
	PairAddress string    `json:"pairAddress"`
	BaseToken   *dexToken `json:"baseToken"`
	QuoteToken  *dexToken `json:"quoteToken"`
	PriceNative string    `json:"priceNative"`
	PriceUsd    string    `json:"priceUsd"`
	Txns        struct {
		H24 struct {
			Buys  int64 `json:"buys"`
			Sells int64 `json:"sells"`
		} `json:"h24"`
	} `json:"txns"`
	Volume struct {
		H24 float64 `json:"h24"`
	} `json:"volume"`
	PriceChange struct {
		H1  float64 `json:"h1"`
		H24 float64 `json:"h24"`
	} `json:"priceChange"`
	Liquidity *struct {
		Usd   float64 `json:"usd"`
		Base  float64 `json:"base"`
		Quote float64 `json:"quote"`
	} `json:"liquidity"`
	Fdv       float64 `json:"fdv"`
	MarketCap float64 `json:"marketCap"`
}

type dexToken struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
}

// DexScreenerService adapts the DexScreener pair API
type DexScreenerService struct {
	upstream
	now func() time.Time
}

// NewDexScreenerService creates the adapter with its own rate limiter and
// retry policy
func NewDexScreenerService(cfg config.DexScreenerConfig, recorder UpstreamRecorder, log *logger.Logger) *DexScreenerService {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if log == nil {
		log = logger.GetLogger()
	}
	log = log.Named(DexScreenerSourceName)

	return &DexScreenerService{
		upstream: upstream{
			name:       DexScreenerSourceName,
			baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
			httpClient: &http.Client{Timeout: cfg.Timeout},
			limiter: ratelimiter.NewWithConfig(ratelimiter.Config{
				Limit:  cfg.RateLimit,
				Window: cfg.RateWindow,
			}),
			retrier: retry.New(retry.Config{
				MaxRetries: cfg.MaxRetries,
				BaseDelay:  cfg.RetryBaseDelay,
				MaxDelay:   cfg.RetryMaxDelay,
			}, log.Logger),
			recorder: recorder,
			logger:   log,
		},
		now: time.Now,
	}
}

// Name returns the source identifier
func (s *DexScreenerService) Name() string {
	return DexScreenerSourceName
}

// Search returns one record per pair matching query
func (s *DexScreenerService) Search(ctx context.Context, query string) []models.Token {
	resp, err := fetchJSON[dexPairsResponse](ctx, &s.upstream, "dexscreener search", "/search", url.Values{"q": {query}})
	if err != nil {
		s.absorb(ctx, "search", err, zap.String("query", query))
		return []models.Token{}
	}

	tokens := s.transform(resp.Pairs)
	s.logger.Debug("Fetched tokens", zap.Int("count", len(tokens)), zap.String("query", query))
	return tokens
}

// GetByAddress returns the record for the first pair listing address
func (s *DexScreenerService) GetByAddress(ctx context.Context, address string) *models.Token {
	resp, err := fetchJSON[dexPairsResponse](ctx, &s.upstream, "dexscreener token", "/tokens/"+url.PathEscape(address), nil)
	if err != nil {
		s.absorb(ctx, "get_by_address", err, zap.String("address", address))
		return nil
	}

	tokens := s.transform(resp.Pairs)
	if len(tokens) == 0 {
		return nil
	}
	return &tokens[0]
}

func (s *DexScreenerService) transform(pairs []dexPair) []models.Token {
	now := s.now()
	tokens := make([]models.Token, 0, len(pairs))
	for i := range pairs {
		if tok, ok := transformPair(&pairs[i], now); ok {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

// transformPair normalizes a pair into a token record. Fiat-derived SOL
// figures divide by the USD price, treating a missing or zero price as 1.
func transformPair(p *dexPair, now time.Time) (models.Token, bool) {
	if p.BaseToken == nil || p.QuoteToken == nil || p.BaseToken.Address == "" {
		return models.Token{}, false
	}

	priceNative := parseAmount(p.PriceNative)
	var priceUSD *float64
	if p.PriceUsd != "" {
		priceUSD = models.Float(parseAmount(p.PriceUsd))
	}
	divisor := 1.0
	if priceUSD != nil && *priceUSD != 0 {
		divisor = *priceUSD
	}

	fdv := nonNegative(p.Fdv)
	volume := nonNegative(p.Volume.H24)

	tok := models.Token{
		Address:          p.BaseToken.Address,
		Name:             p.BaseToken.Name,
		Ticker:           p.BaseToken.Symbol,
		PriceSOL:         priceNative,
		PriceUSD:         priceUSD,
		VolumeSOL:        volume / divisor,
		VolumeUSD:        models.Float(volume),
		TransactionCount: nonNegativeInt(p.Txns.H24.Buys) + nonNegativeInt(p.Txns.H24.Sells),
		PriceChange1h:    finite(p.PriceChange.H1),
		PriceChange24h:   models.Float(finite(p.PriceChange.H24)),
		Protocol:         p.DexID,
		DexID:            p.DexID,
		LastUpdated:      now,
		DataSources:      []string{DexScreenerSourceName},
	}

	if fdv != 0 {
		tok.MarketCapSOL = fdv / divisor
	}
	if mc := nonNegative(p.MarketCap); mc != 0 {
		tok.MarketCapUSD = models.Float(mc)
	} else if fdv != 0 {
		tok.MarketCapUSD = models.Float(fdv)
	}
	if p.Liquidity != nil {
		tok.LiquiditySOL = nonNegative(p.Liquidity.Base)
		tok.LiquidityUSD = models.Float(nonNegative(p.Liquidity.Usd))
	}

	return tok, true
}

// parseAmount parses a decimal string, mapping garbage and negatives to zero
func parseAmount(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return nonNegative(v)
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func nonNegative(v float64) float64 {
	v = finite(v)
	if v < 0 {
		return 0
	}
	return v
}

func nonNegativeInt(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
