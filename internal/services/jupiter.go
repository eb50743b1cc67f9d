package services

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"meme-coin-aggregator/internal/config"
	"meme-coin-aggregator/internal/models"
	"meme-coin-aggregator/pkg/logger"
	"meme-coin-aggregator/pkg/ratelimiter"
	"meme-coin-aggregator/pkg/retry"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// JupiterSourceName identifies records produced by the verified-list source
	JupiterSourceName = "jupiter"

	jupiterProtocol     = "Jupiter"
	jupiterSearchLimit  = 50
	jupiterListKey      = "verified"
	jupiterFailureDelay = 30 * time.Second
)

var errInvalidList = errors.New("jupiter: verified list is not an array")

type jupiterToken struct {
	Address  string   `json:"address"`
	Name     string   `json:"name"`
	Symbol   string   `json:"symbol"`
	Decimals int      `json:"decimals"`
	LogoURI  string   `json:"logoURI"`
	Tags     []string `json:"tags"`
}

// fallbackTokens is served when the list has never been fetched successfully
var fallbackTokens = []jupiterToken{
	{Address: "So11111111111111111111111111111111111111112", Name: "Wrapped SOL", Symbol: "SOL", Decimals: 9, Tags: []string{"verified"}},
	{Address: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Name: "USDC", Symbol: "USDC", Decimals: 6, Tags: []string{"verified"}},
	{Address: "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263", Name: "Bonk", Symbol: "BONK", Decimals: 5, Tags: []string{"verified"}},
	{Address: "EKpQGSJtjMFqKZ9KQanSqYXRcF8fBopzLHYxdM65zcjm", Name: "dogwifhat", Symbol: "WIF", Decimals: 6, Tags: []string{"verified"}},
	{Address: "7GCihgDB8fe6KNjn2MYtkzZcRjQy3t9GHdC8uHYmW2hr", Name: "Popcat", Symbol: "POPCAT", Decimals: 9, Tags: []string{"verified"}},
}

// JupiterService serves token identities from Jupiter's verified list.
// The list is cached in process; concurrent refreshes collapse into one
// request and no lock is held while it runs.
type JupiterService struct {
	upstream
	listTTL time.Duration
	group   singleflight.Group

	mu          sync.RWMutex
	tokens      []jupiterToken
	fetchedAt   time.Time
	lastFailure time.Time

	now func() time.Time
}

// NewJupiterService creates the verified-list adapter. Like the pair search
// adapter, every list request takes a slot from its own rate limiter.
func NewJupiterService(cfg config.JupiterConfig, recorder UpstreamRecorder, log *logger.Logger) *JupiterService {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if log == nil {
		log = logger.GetLogger()
	}
	log = log.Named(JupiterSourceName)

	ttl := cfg.ListTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &JupiterService{
		upstream: upstream{
			name:       JupiterSourceName,
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
		listTTL: ttl,
		now:     time.Now,
	}
}

// Name returns the source identifier
func (s *JupiterService) Name() string {
	return JupiterSourceName
}

// Search matches query against symbol and name case-insensitively, or the
// address exactly
func (s *JupiterService) Search(ctx context.Context, query string) []models.Token {
	list := s.tokenList(ctx)
	lower := strings.ToLower(query)

	out := make([]models.Token, 0)
	for i := range list {
		t := &list[i]
		if strings.Contains(strings.ToLower(t.Symbol), lower) ||
			strings.Contains(strings.ToLower(t.Name), lower) ||
			strings.EqualFold(t.Address, query) {
			out = append(out, s.transform(t))
			if len(out) == jupiterSearchLimit {
				break
			}
		}
	}
	return out
}

// GetByAddress looks address up in the verified list
func (s *JupiterService) GetByAddress(ctx context.Context, address string) *models.Token {
	list := s.tokenList(ctx)
	for i := range list {
		if strings.EqualFold(list[i].Address, address) {
			tok := s.transform(&list[i])
			return &tok
		}
	}
	return nil
}

// tokenList returns the cached list, refreshing it when stale. A failed
// refresh keeps the previous list and is not retried for a short while.
func (s *JupiterService) tokenList(ctx context.Context) []jupiterToken {
	now := s.now()

	s.mu.RLock()
	tokens, fetchedAt, lastFailure := s.tokens, s.fetchedAt, s.lastFailure
	s.mu.RUnlock()

	if tokens != nil && now.Sub(fetchedAt) < s.listTTL {
		return tokens
	}
	if !lastFailure.IsZero() && now.Sub(lastFailure) < jupiterFailureDelay {
		return orFallback(tokens)
	}

	ch := s.group.DoChan(jupiterListKey, func() (interface{}, error) {
		return s.refresh(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return orFallback(tokens)
	case res := <-ch:
		if res.Err != nil {
			return orFallback(tokens)
		}
		return res.Val.([]jupiterToken)
	}
}

func (s *JupiterService) refresh(ctx context.Context) ([]jupiterToken, error) {
	s.logger.Debug("Refreshing verified token list")

	list, err := fetchJSON[[]jupiterToken](ctx, &s.upstream, "jupiter list", "/tagged/verified", nil)
	if err == nil && list == nil {
		err = errInvalidList
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.lastFailure = s.now()
		s.logger.Warn("Verified token list refresh failed, serving previous list",
			zap.Error(err),
			zap.Bool("fallback", s.tokens == nil),
		)
		return nil, err
	}

	s.tokens = list
	s.fetchedAt = s.now()
	s.lastFailure = time.Time{}
	s.logger.Info("Updated verified token list", zap.Int("count", len(list)))
	return list, nil
}

func (s *JupiterService) transform(t *jupiterToken) models.Token {
	return models.Token{
		Address:     t.Address,
		Name:        t.Name,
		Ticker:      t.Symbol,
		Protocol:    jupiterProtocol,
		LastUpdated: s.now(),
		DataSources: []string{JupiterSourceName},
	}
}

func orFallback(tokens []jupiterToken) []jupiterToken {
	if tokens == nil {
		return fallbackTokens
	}
	return tokens
}
