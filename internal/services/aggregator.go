package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"meme-coin-aggregator/internal/merger"
	"meme-coin-aggregator/internal/models"
	"meme-coin-aggregator/pkg/cache"
	"meme-coin-aggregator/pkg/logger"
	"meme-coin-aggregator/pkg/metrics"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// ErrNoSources is returned when the aggregator has no source adapters
var ErrNoSources = errors.New("aggregator: no sources configured")

const (
	listKeyPrefix   = "tokens:"
	assetKeyPrefix  = "asset:"
	snapshotFlight  = "snapshot"
	defaultSnapshot = "SOL"

	defaultFetchTimeout = 30 * time.Second
)

// Snapshot is one fully merged, unfiltered token set. It is never mutated
// after being published.
type Snapshot struct {
	Tokens      []models.Token `json:"tokens"`
	RefreshedAt time.Time      `json:"refreshed_at"`
}

// Len returns the number of tokens in the snapshot, zero for nil
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Tokens)
}

// AggregatorOptions tunes the aggregator
type AggregatorOptions struct {
	// DefaultQuery is the search term sent to every source on refresh
	DefaultQuery string
	// CacheTTL applies to list pages and address lookups; zero uses the
	// cache default
	CacheTTL time.Duration
	// FetchTimeout bounds one shared upstream fetch. It is independent of
	// the callers waiting on it; zero uses 30s.
	FetchTimeout time.Duration
}

// AggregatorService fans queries out to every source, merges the results
// and serves filtered pages through the cache. Concurrent misses for the
// same key share one upstream fetch.
type AggregatorService struct {
	sources  []Source
	cache    *cache.Cache
	metrics  *metrics.MetricsCollector
	opts     AggregatorOptions
	logger   *logger.Logger
	group    singleflight.Group
	snapshot atomic.Pointer[Snapshot]
	now      func() time.Time
}

// NewAggregatorService creates an aggregator over sources. A nil cache
// disables caching; a nil collector discards metrics.
func NewAggregatorService(sources []Source, c *cache.Cache, m *metrics.MetricsCollector, opts AggregatorOptions, log *logger.Logger) *AggregatorService {
	if c == nil {
		c = cache.New(nil, cache.Options{})
	}
	if m == nil {
		m = metrics.NewMetricsCollector()
	}
	if log == nil {
		log = logger.GetLogger()
	}
	if opts.DefaultQuery == "" {
		opts.DefaultQuery = defaultSnapshot
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}

	return &AggregatorService{
		sources: sources,
		cache:   c,
		metrics: m,
		opts:    opts,
		logger:  log.Named("aggregator"),
		now:     time.Now,
	}
}

// Snapshot returns the last published snapshot, or nil before the first
// successful load
func (a *AggregatorService) Snapshot() *Snapshot {
	return a.snapshot.Load()
}

// FetchTokens returns one filtered, sorted page of the token set
func (a *AggregatorService) FetchTokens(ctx context.Context, opts models.FilterOptions) (*models.PaginationResult, error) {
	opts = opts.Normalized()
	offset, ok := models.DecodeCursor(opts.Cursor)
	if !ok {
		a.logger.WithContext(ctx).Debug("Ignoring malformed cursor", zap.String("cursor", opts.Cursor))
	}

	key := ListCacheKey(opts, offset)

	var page models.PaginationResult
	if a.cache.Get(ctx, key, &page) {
		a.metrics.RecordCacheHit()
		return &page, nil
	}
	a.metrics.RecordCacheMiss()

	v, shared, err := a.shared(ctx, key, func(fctx context.Context) (interface{}, error) {
		snap, err := a.load(fctx)
		if err != nil {
			return nil, err
		}

		result := Paginate(Sort(Filter(snap.Tokens, opts), opts.SortBy, opts.SortOrder), offset, opts.Limit)
		a.cache.Set(fctx, key, result, a.opts.CacheTTL)
		return result, nil
	})
	if shared {
		a.metrics.RecordCoalescedWait()
	}
	if err != nil {
		return nil, err
	}

	result := v.(*models.PaginationResult)
	return result, nil
}

// GetTokenByAddress queries every source for address and merges what they
// return. A nil token with a nil error means no source knows the address.
func (a *AggregatorService) GetTokenByAddress(ctx context.Context, address string) (*models.Token, error) {
	if len(a.sources) == 0 {
		return nil, ErrNoSources
	}

	key := assetKeyPrefix + strings.ToLower(address)

	var cached models.Token
	if a.cache.Get(ctx, key, &cached) {
		a.metrics.RecordCacheHit()
		return &cached, nil
	}
	a.metrics.RecordCacheMiss()

	v, shared, err := a.shared(ctx, key, func(fctx context.Context) (interface{}, error) {
		found := make([]*models.Token, len(a.sources))
		g, gctx := errgroup.WithContext(fctx)
		for i, src := range a.sources {
			i, src := i, src
			g.Go(func() error {
				found[i] = src.GetByAddress(gctx, address)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		// sources swallow context errors, so an expired fetch looks like a miss
		if err := fctx.Err(); err != nil {
			return nil, err
		}

		records := make([]models.Token, 0, len(found))
		for _, tok := range found {
			if tok != nil {
				records = append(records, *tok)
			}
		}

		var tok *models.Token
		switch len(records) {
		case 0:
			tok = a.fromSnapshot(address)
		case 1:
			tok = &records[0]
		default:
			merged := merger.Merge(records)
			tok = &merged[0]
		}
		if tok != nil {
			a.cache.Set(fctx, key, tok, a.opts.CacheTTL)
		}
		return tok, nil
	})
	if shared {
		a.metrics.RecordCoalescedWait()
	}
	if err != nil {
		return nil, err
	}
	return v.(*models.Token), nil
}

// EnsureSnapshot returns the current snapshot, loading one first if none
// has been published yet
func (a *AggregatorService) EnsureSnapshot(ctx context.Context) (*Snapshot, error) {
	if snap := a.Snapshot(); snap != nil {
		return snap, nil
	}
	return a.load(ctx)
}

// SearchTokens returns tokens whose name, ticker or address contains query,
// in snapshot order, at most limit of them
func (a *AggregatorService) SearchTokens(ctx context.Context, query string, limit int) ([]models.Token, error) {
	snap, err := a.EnsureSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = models.DefaultLimit
	}
	if limit > models.MaxLimit {
		limit = models.MaxLimit
	}

	q := strings.ToLower(query)
	out := make([]models.Token, 0)
	for i := range snap.Tokens {
		t := &snap.Tokens[i]
		if strings.Contains(strings.ToLower(t.Name), q) ||
			strings.Contains(strings.ToLower(t.Ticker), q) ||
			strings.Contains(t.Key(), q) {
			out = append(out, *t)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// RefreshSnapshot re-fetches every source and invalidates cached list pages.
// Address lookups stay cached until their TTL expires.
func (a *AggregatorService) RefreshSnapshot(ctx context.Context) (*Snapshot, error) {
	snap, err := a.load(ctx)
	if err != nil {
		return nil, err
	}

	removed := a.cache.DeleteMatching(ctx, listKeyPrefix+"*")
	a.logger.WithContext(ctx).Info("Snapshot refreshed",
		zap.Int("tokens", snap.Len()),
		zap.Int("invalidated_pages", removed),
	)
	return snap, nil
}

// load fetches and merges every source, then publishes the result.
// Concurrent callers share one fetch.
func (a *AggregatorService) load(ctx context.Context) (*Snapshot, error) {
	if len(a.sources) == 0 {
		return nil, ErrNoSources
	}

	v, _, err := a.shared(ctx, snapshotFlight, func(fctx context.Context) (interface{}, error) {
		results := make([][]models.Token, len(a.sources))
		g, gctx := errgroup.WithContext(fctx)
		for i, src := range a.sources {
			i, src := i, src
			g.Go(func() error {
				results[i] = src.Search(gctx, a.opts.DefaultQuery)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		// an expired fetch yields empty or partial results; never publish them
		if err := fctx.Err(); err != nil {
			return nil, err
		}

		var all []models.Token
		for _, r := range results {
			all = append(all, r...)
		}
		merged := merger.Merge(all)

		// every source came back empty; keep serving what we had
		if prev := a.snapshot.Load(); len(merged) == 0 && prev.Len() > 0 {
			a.logger.WithContext(fctx).Warn("All sources returned no data, keeping previous snapshot",
				zap.Int("tokens", prev.Len()),
				zap.Time("refreshed_at", prev.RefreshedAt),
			)
			return prev, nil
		}

		snap := &Snapshot{Tokens: merged, RefreshedAt: a.now()}
		a.snapshot.Store(snap)
		a.metrics.RecordRefresh(len(merged))
		return snap, nil
	})
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return v.(*Snapshot), nil
}

// shared runs fn once per key for all concurrent callers. fn gets a context
// detached from the caller's cancellation and bounded by FetchTimeout; the
// caller itself returns as soon as its own ctx is done.
func (a *AggregatorService) shared(ctx context.Context, key string, fn func(context.Context) (interface{}, error)) (interface{}, bool, error) {
	ch := a.group.DoChan(key, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.opts.FetchTimeout)
		defer cancel()
		return fn(fctx)
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		return res.Val, res.Shared, res.Err
	}
}

func (a *AggregatorService) fromSnapshot(address string) *models.Token {
	snap := a.Snapshot()
	if snap == nil {
		return nil
	}
	key := strings.ToLower(address)
	for i := range snap.Tokens {
		if snap.Tokens[i].Key() == key {
			tok := snap.Tokens[i]
			return &tok
		}
	}
	return nil
}

// ListCacheKey derives the cache key for a normalized request. Fields at
// their default value are left out so equivalent requests share a key.
func ListCacheKey(opts models.FilterOptions, offset int) string {
	var b strings.Builder
	b.WriteString(listKeyPrefix)
	b.WriteString("list")

	add := func(name, value string) {
		b.WriteByte(':')
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(value)
	}

	if opts.Timeframe != "" && opts.Timeframe != models.TimeframeAll {
		add("tf", string(opts.Timeframe))
	}
	if opts.SortBy != models.SortByVolume {
		add("sort", string(opts.SortBy))
	}
	if opts.SortOrder != models.SortDesc {
		add("order", string(opts.SortOrder))
	}
	if opts.MinVolume != nil {
		add("minvol", strconv.FormatFloat(*opts.MinVolume, 'g', -1, 64))
	}
	if opts.MinLiquidity != nil {
		add("minliq", strconv.FormatFloat(*opts.MinLiquidity, 'g', -1, 64))
	}
	if opts.Protocol != "" {
		add("proto", url.QueryEscape(strings.ToLower(opts.Protocol)))
	}
	if opts.Limit != models.DefaultLimit {
		add("limit", strconv.Itoa(opts.Limit))
	}
	if offset > 0 {
		add("offset", strconv.Itoa(offset))
	}
	return b.String()
}

// Filter returns the tokens matching every requested criterion
func Filter(tokens []models.Token, opts models.FilterOptions) []models.Token {
	protocol := strings.ToLower(opts.Protocol)

	out := make([]models.Token, 0, len(tokens))
	for i := range tokens {
		t := &tokens[i]
		switch opts.Timeframe {
		case models.Timeframe24h:
			if t.PriceChange24h == nil {
				continue
			}
		case models.Timeframe7d:
			if t.PriceChange7d == nil {
				continue
			}
		}
		if opts.MinVolume != nil && t.VolumeSOL < *opts.MinVolume {
			continue
		}
		if opts.MinLiquidity != nil && t.LiquiditySOL < *opts.MinLiquidity {
			continue
		}
		if protocol != "" && !strings.Contains(strings.ToLower(t.Protocol), protocol) {
			continue
		}
		out = append(out, *t)
	}
	return out
}

// Sort orders tokens in place by the requested field and returns them.
// An unknown key leaves the order unchanged.
func Sort(tokens []models.Token, by models.SortKey, order models.SortOrder) []models.Token {
	field := sortField(by)
	sort.SliceStable(tokens, func(i, j int) bool {
		if order == models.SortAsc {
			return field(&tokens[i]) < field(&tokens[j])
		}
		return field(&tokens[i]) > field(&tokens[j])
	})
	return tokens
}

func sortField(by models.SortKey) func(*models.Token) float64 {
	switch by {
	case models.SortByVolume:
		return func(t *models.Token) float64 { return t.VolumeSOL }
	case models.SortByPriceChange:
		return func(t *models.Token) float64 { return t.PriceChange1h }
	case models.SortByMarketCap:
		return func(t *models.Token) float64 { return t.MarketCapSOL }
	case models.SortByLiquidity:
		return func(t *models.Token) float64 { return t.LiquiditySOL }
	case models.SortByTransactionCount:
		return func(t *models.Token) float64 { return float64(t.TransactionCount) }
	default:
		return func(*models.Token) float64 { return 0 }
	}
}

// Paginate slices [offset, offset+limit) out of tokens
func Paginate(tokens []models.Token, offset, limit int) *models.PaginationResult {
	total := len(tokens)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	result := &models.PaginationResult{
		Data:    tokens[offset:end],
		Total:   total,
		HasMore: offset+limit < total,
	}
	if result.HasMore {
		result.NextCursor = models.EncodeCursor(offset + limit)
	}
	return result
}
