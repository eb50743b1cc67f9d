package models

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"
)

// Token is the canonical asset record produced by every source adapter and
// by the merger. Address is the merge identity and compares case-insensitively.
type Token struct {
	Address string `json:"token_address"`
	Name    string `json:"token_name"`
	Ticker  string `json:"token_ticker"`

	PriceSOL         float64  `json:"price_sol"`
	PriceUSD         *float64 `json:"price_usd,omitempty"`
	MarketCapSOL     float64  `json:"market_cap_sol"`
	MarketCapUSD     *float64 `json:"market_cap_usd,omitempty"`
	VolumeSOL        float64  `json:"volume_sol"`
	VolumeUSD        *float64 `json:"volume_usd,omitempty"`
	LiquiditySOL     float64  `json:"liquidity_sol"`
	LiquidityUSD     *float64 `json:"liquidity_usd,omitempty"`
	TransactionCount int64    `json:"transaction_count"`

	PriceChange1h  float64  `json:"price_1hr_change"`
	PriceChange24h *float64 `json:"price_24hr_change,omitempty"`
	PriceChange7d  *float64 `json:"price_7d_change,omitempty"`

	Protocol    string    `json:"protocol"`
	DexID       string    `json:"dex_id,omitempty"`
	LastUpdated time.Time `json:"last_updated"`
	DataSources []string  `json:"data_sources"`
}

// Key returns the normalized merge identity of the token.
func (t *Token) Key() string {
	return strings.ToLower(t.Address)
}

// Float returns a pointer to v, for populating optional metrics.
func Float(v float64) *float64 {
	return &v
}

// Timeframe selects which price-change window a listing must expose.
type Timeframe string

const (
	Timeframe1h  Timeframe = "1h"
	Timeframe24h Timeframe = "24h"
	Timeframe7d  Timeframe = "7d"
	TimeframeAll Timeframe = "all"
)

// Valid reports whether the timeframe is one of the recognized values.
func (tf Timeframe) Valid() bool {
	switch tf {
	case Timeframe1h, Timeframe24h, Timeframe7d, TimeframeAll:
		return true
	}
	return false
}

// SortKey names the numeric field a listing is ordered by. Unrecognized keys
// are accepted and sort as a stable no-op.
type SortKey string

const (
	SortByVolume           SortKey = "volume"
	SortByPriceChange      SortKey = "price_change"
	SortByMarketCap        SortKey = "market_cap"
	SortByLiquidity        SortKey = "liquidity"
	SortByTransactionCount SortKey = "transaction_count"
)

// SortOrder is the listing direction.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Valid reports whether the order is asc or desc.
func (o SortOrder) Valid() bool {
	return o == SortAsc || o == SortDesc
}

const (
	// DefaultLimit is the page size used when none is requested
	DefaultLimit = 20
	// MaxLimit bounds the page size a caller may request
	MaxLimit = 100
)

// FilterOptions is the parsed filter/sort/page request. Zero values mean
// "not requested"; Normalized fills in the defaults.
type FilterOptions struct {
	Timeframe    Timeframe `json:"timeframe,omitempty"`
	SortBy       SortKey   `json:"sortBy,omitempty"`
	SortOrder    SortOrder `json:"sortOrder,omitempty"`
	MinVolume    *float64  `json:"minVolume,omitempty"`
	MinLiquidity *float64  `json:"minLiquidity,omitempty"`
	Protocol     string    `json:"protocol,omitempty"`
	Limit        int       `json:"limit,omitempty"`
	Cursor       string    `json:"cursor,omitempty"`
}

// Normalized returns a copy with defaults applied for sort key, order and limit.
func (o FilterOptions) Normalized() FilterOptions {
	if o.SortBy == "" {
		o.SortBy = SortByVolume
	}
	if o.SortOrder == "" {
		o.SortOrder = SortDesc
	}
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.Limit > MaxLimit {
		o.Limit = MaxLimit
	}
	return o
}

// PaginationResult is one page of a filtered, sorted listing.
type PaginationResult struct {
	Data       []Token `json:"data"`
	NextCursor string  `json:"nextCursor,omitempty"`
	Total      int     `json:"total"`
	HasMore    bool    `json:"hasMore"`
}

type cursorPayload struct {
	Offset int `json:"offset"`
}

// EncodeCursor returns the opaque continuation token for offset.
func EncodeCursor(offset int) string {
	raw, _ := json.Marshal(cursorPayload{Offset: offset})
	return base64.StdEncoding.EncodeToString(raw)
}

// DecodeCursor returns the offset carried by cursor. Malformed or negative
// cursors decode to zero.
func DecodeCursor(cursor string) (int, bool) {
	if cursor == "" {
		return 0, true
	}
	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return 0, false
	}
	var payload cursorPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return 0, false
	}
	if payload.Offset < 0 {
		return 0, false
	}
	return payload.Offset, true
}

// TokenListResponse is the HTTP envelope for listings.
type TokenListResponse struct {
	Success bool `json:"success"`
	PaginationResult
}

// TokenResponse is the HTTP envelope for single-token lookups.
type TokenResponse struct {
	Success bool   `json:"success"`
	Data    *Token `json:"data"`
}

// SearchResponse is the HTTP envelope for free-text search.
type SearchResponse struct {
	Success bool    `json:"success"`
	Data    []Token `json:"data"`
	Total   int     `json:"total"`
}
