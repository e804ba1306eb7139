package events

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/logger"
)

// DefaultQueueSize bounds the changes waiting to be published.
const DefaultQueueSize = 1024

// Bridge forwards version signal bumps to a Publisher.
type Bridge struct {
	pub     Publisher
	source  string
	logger  *logger.Logger
	queue   chan generic.Change
	timeout time.Duration
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewBridge creates a bridge with room for queueSize pending changes.
func NewBridge(pub Publisher, source string, log *logger.Logger, queueSize int) *Bridge {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bridge{
		pub:     pub,
		source:  source,
		logger:  log.WithComponent("events"),
		queue:   make(chan generic.Change, queueSize),
		timeout: 5 * time.Second,
	}
}

// Attach subscribes the bridge to sig. The returned function detaches it.
func (b *Bridge) Attach(sig *generic.VersionSignal) (detach func()) {
	return sig.Subscribe(b.enqueue)
}

func (b *Bridge) enqueue(c generic.Change) {
	select {
	case b.queue <- c:
	default:
		b.dropped.Add(1)
		b.logger.Warn().
			Uint64("version", c.Version).
			Str("tenant_id", string(c.TenantID)).
			Str("reason", c.Reason).
			Msg("event queue full, balance change not published")
	}
}

// Run publishes queued changes until ctx is done.
func (b *Bridge) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-b.queue:
			b.publish(ctx, c)
		}
	}
}

func (b *Bridge) publish(ctx context.Context, c generic.Change) {
	event, err := NewEvent(EventBalanceChanged, b.source, FromChange(c))
	if err != nil {
		b.failed.Add(1)
		b.logger.Error().Err(err).Msg("failed to build balance event")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	if err := b.pub.Publish(ctx, RoutingKey(c), event); err != nil {
		b.failed.Add(1)
		b.logger.Error().Err(err).
			Uint64("version", c.Version).
			Str("tenant_id", string(c.TenantID)).
			Msg("failed to publish balance event")
	}
}

// Dropped is the number of changes lost to a full queue.
func (b *Bridge) Dropped() uint64 { return b.dropped.Load() }

// Failed is the number of changes the publisher rejected.
func (b *Bridge) Failed() uint64 { return b.failed.Load() }
