package services

import (
	"context"
	"time"

	"meme-coin-aggregator/internal/models"
)

// Source is one upstream token data provider. Implementations absorb their
// own failures: an unreachable upstream yields an empty result, never an
// error.
type Source interface {
	Name() string
	Search(ctx context.Context, query string) []models.Token
	GetByAddress(ctx context.Context, address string) *models.Token
}

// UpstreamRecorder receives per-call upstream timings
type UpstreamRecorder interface {
	RecordUpstreamCall(source string, duration time.Duration, success bool)
}

// Publisher pushes a named event to every connected subscriber
type Publisher interface {
	Broadcast(event string, payload interface{})
}

// Subscriber is a single connected client that can be sent one event
type Subscriber interface {
	ID() string
	Send(event string, payload interface{}) error
}

// EventSink receives token updates outside the subscriber transport, such
// as a message broker
type EventSink interface {
	PublishUpdate(ctx context.Context, changed []models.Token) error
	Close() error
}

// TokenServiceInterface is the query surface used by HTTP handlers
type TokenServiceInterface interface {
	FetchTokens(ctx context.Context, opts models.FilterOptions) (*models.PaginationResult, error)
	GetTokenByAddress(ctx context.Context, address string) (*models.Token, error)
	SearchTokens(ctx context.Context, query string, limit int) ([]models.Token, error)
}

// SnapshotProvider is the aggregator surface driven by the broadcast loop
type SnapshotProvider interface {
	Snapshot() *Snapshot
	EnsureSnapshot(ctx context.Context) (*Snapshot, error)
	RefreshSnapshot(ctx context.Context) (*Snapshot, error)
}

type nopRecorder struct{}

func (nopRecorder) RecordUpstreamCall(string, time.Duration, bool) {}
