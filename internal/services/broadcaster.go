package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"meme-coin-aggregator/internal/merger"
	"meme-coin-aggregator/internal/models"
	"meme-coin-aggregator/pkg/logger"
	"meme-coin-aggregator/pkg/metrics"

	"go.uber.org/zap"
)

// BroadcasterState is the lifecycle state of the update loop
type BroadcasterState int

const (
	// StateIdle means no ticker is running
	StateIdle BroadcasterState = iota
	// StateActive means the ticker is refreshing and publishing
	StateActive
)

func (s BroadcasterState) String() string {
	if s == StateActive {
		return "active"
	}
	return "idle"
}

// ErrBroadcasterRunning is returned by Start on an already active loop
var ErrBroadcasterRunning = errors.New("broadcaster: already running")

// BroadcastOptions configures the update loop
type BroadcastOptions struct {
	Interval             time.Duration
	PriceChangeThreshold float64
	// InitialLimit caps the initial payload when it has to be fetched on
	// demand; zero sends everything
	InitialLimit int
}

// Broadcaster periodically refreshes the aggregator snapshot and pushes the
// tokens that changed since the previous tick to every subscriber.
type Broadcaster struct {
	provider  SnapshotProvider
	publisher Publisher
	sinks     []EventSink
	metrics   *metrics.MetricsCollector
	opts      BroadcastOptions
	logger    *logger.Logger

	mu     sync.Mutex
	state  BroadcasterState
	cancel context.CancelFunc
	done   chan struct{}

	// tickMu serializes ticks; previous is only touched under it
	tickMu   sync.Mutex
	previous []models.Token
}

// NewBroadcaster creates an idle broadcaster
func NewBroadcaster(provider SnapshotProvider, publisher Publisher, sinks []EventSink, m *metrics.MetricsCollector, opts BroadcastOptions, log *logger.Logger) *Broadcaster {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if m == nil {
		m = metrics.NewMetricsCollector()
	}
	if log == nil {
		log = logger.GetLogger()
	}

	return &Broadcaster{
		provider:  provider,
		publisher: publisher,
		sinks:     sinks,
		metrics:   m,
		opts:      opts,
		logger:    log.Named("broadcaster"),
	}
}

// State returns the current lifecycle state
func (b *Broadcaster) State() BroadcasterState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Start launches the ticker. The loop runs until Stop is called or ctx is
// cancelled.
func (b *Broadcaster) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateActive {
		return ErrBroadcasterRunning
	}

	b.tickMu.Lock()
	if snap := b.provider.Snapshot(); snap != nil {
		b.previous = snap.Tokens
	}
	b.tickMu.Unlock()

	loopCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	b.state = StateActive

	go b.run(loopCtx, b.done)

	b.logger.Info("Started periodic updates", zap.Duration("interval", b.opts.Interval))
	return nil
}

// Stop cancels the ticker and waits for an in-flight tick to finish.
// Calling Stop on an idle broadcaster is a no-op.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	if b.state != StateActive {
		b.mu.Unlock()
		return
	}
	cancel, done := b.cancel, b.done
	b.state = StateIdle
	b.cancel = nil
	b.done = nil
	b.mu.Unlock()

	cancel()
	<-done
	b.logger.Info("Stopped periodic updates")
}

func (b *Broadcaster) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(b.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := b.Tick(ctx); err != nil && ctx.Err() == nil {
				b.logger.Error("Update tick failed", zap.Error(err))
			}
		}
	}
}

// Tick refreshes the snapshot once and publishes what changed. It returns
// the changed tokens. The first tick without a previous snapshot only
// records a baseline.
func (b *Broadcaster) Tick(ctx context.Context) ([]models.Token, error) {
	b.tickMu.Lock()
	defer b.tickMu.Unlock()

	snap, err := b.provider.RefreshSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	previous := b.previous
	b.previous = snap.Tokens

	if len(previous) == 0 {
		b.logger.Debug("Recorded baseline snapshot", zap.Int("tokens", snap.Len()))
		return nil, nil
	}

	changed := merger.DetectChanges(previous, snap.Tokens, b.opts.PriceChangeThreshold)
	if len(changed) == 0 {
		return nil, nil
	}

	b.logger.Info("Broadcasting token updates", zap.Int("count", len(changed)))
	if b.publisher != nil {
		b.publisher.Broadcast(models.EventTokenUpdate, models.NewWebSocketMessage(models.MessageTypeUpdate, changed))
	}
	for _, sink := range b.sinks {
		if err := sink.PublishUpdate(ctx, changed); err != nil {
			b.logger.Warn("Event sink publish failed", zap.Error(err))
		}
	}
	b.metrics.RecordBroadcast(len(changed))

	return changed, nil
}

// OnConnect sends a newly connected subscriber the current snapshot, or
// fetches one when none exists yet. Failures are reported to the
// subscriber as an error event.
func (b *Broadcaster) OnConnect(ctx context.Context, sub Subscriber) {
	log := b.logger.With(zap.String("session_id", sub.ID()))

	tokens, err := b.initialTokens(ctx)
	if err != nil {
		log.Error("Error sending initial data", zap.Error(err))
		msg := models.NewWebSocketMessage(models.MessageTypeError, map[string]string{"message": "Failed to fetch initial data"})
		if sendErr := sub.Send(models.EventError, msg); sendErr != nil {
			log.Debug("Subscriber went away before error was sent", zap.Error(sendErr))
		}
		return
	}

	if err := sub.Send(models.EventInitialData, models.NewWebSocketMessage(models.MessageTypeInitialData, tokens)); err != nil {
		log.Debug("Subscriber went away before initial data was sent", zap.Error(err))
		return
	}
	log.Debug("Sent initial data", zap.Int("count", len(tokens)))
}

func (b *Broadcaster) initialTokens(ctx context.Context) ([]models.Token, error) {
	if snap := b.provider.Snapshot(); snap != nil {
		return snap.Tokens, nil
	}

	snap, err := b.provider.EnsureSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	tokens := Sort(append([]models.Token(nil), snap.Tokens...), models.SortByVolume, models.SortDesc)
	if b.opts.InitialLimit > 0 && len(tokens) > b.opts.InitialLimit {
		tokens = tokens[:b.opts.InitialLimit]
	}
	return tokens, nil
}
