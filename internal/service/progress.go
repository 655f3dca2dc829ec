package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/Strob0t/AgentForge/internal/adapter/otel"
	"github.com/Strob0t/AgentForge/internal/domain/deployment"
	"github.com/Strob0t/AgentForge/internal/port/broadcast"
	"github.com/Strob0t/AgentForge/internal/port/messagequeue"
)

// ProgressNotifier fans pipeline events out to websocket observers and, when
// a queue is attached, to the deployments.* subjects. Delivery is
// best-effort: Publish never blocks and drops events when the buffer is full.
type ProgressNotifier struct {
	hub     broadcast.Broadcaster
	queue   messagequeue.Queue
	metrics *otel.Metrics
	onDone  func(context.Context)
	ch      chan deployment.Event
	done    chan struct{}
	once    sync.Once
	log     *slog.Logger
}

// NewProgressNotifier creates a notifier with the given buffer size. Either
// sink may be nil.
func NewProgressNotifier(hub broadcast.Broadcaster, queue messagequeue.Queue, buffer int) *ProgressNotifier {
	if buffer < 1 {
		buffer = 1
	}
	return &ProgressNotifier{
		hub:   hub,
		queue: queue,
		ch:    make(chan deployment.Event, buffer),
		done:  make(chan struct{}),
		log:   slog.Default().With("component", "progress"),
	}
}

// SetMetrics attaches the dropped-event counter.
func (n *ProgressNotifier) SetMetrics(m *otel.Metrics) {
	n.metrics = m
}

// OnComplete registers fn to run after each complete event is delivered.
func (n *ProgressNotifier) OnComplete(fn func(context.Context)) {
	n.onDone = fn
}

// Publish enqueues ev for delivery. It reports false when the event was dropped.
func (n *ProgressNotifier) Publish(ctx context.Context, ev deployment.Event) bool {
	select {
	case <-n.done:
		return false
	default:
	}
	select {
	case n.ch <- ev:
		return true
	default:
		n.metrics.Dropped(ctx, "buffer")
		n.log.Warn("progress event dropped", "deployment_id", ev.DeploymentID, "type", string(ev.Type))
		return false
	}
}

// Forward copies events from a run channel into the notifier until the
// channel is closed.
func (n *ProgressNotifier) Forward(ctx context.Context, events <-chan deployment.Event) {
	for ev := range events {
		n.Publish(ctx, ev)
	}
}

// Run delivers queued events until ctx is cancelled or Close is called.
// Events still buffered at shutdown are delivered before Run returns.
func (n *ProgressNotifier) Run(ctx context.Context) {
	for {
		select {
		case ev := <-n.ch:
			n.deliver(ctx, ev)
		case <-ctx.Done():
			n.flush(context.WithoutCancel(ctx))
			return
		case <-n.done:
			n.flush(ctx)
			return
		}
	}
}

// Close stops Run after it delivers what is buffered.
func (n *ProgressNotifier) Close() {
	n.once.Do(func() { close(n.done) })
}

func (n *ProgressNotifier) flush(ctx context.Context) {
	for {
		select {
		case ev := <-n.ch:
			n.deliver(ctx, ev)
		default:
			return
		}
	}
}

func (n *ProgressNotifier) deliver(ctx context.Context, ev deployment.Event) {
	eventType, subject := broadcast.EventDeploymentProgress, messagequeue.SubjectDeploymentProgress
	if ev.Type == deployment.EventComplete {
		eventType, subject = broadcast.EventDeploymentComplete, messagequeue.SubjectDeploymentComplete
		if n.onDone != nil {
			defer n.onDone(ctx)
		}
	}

	if n.hub != nil {
		n.hub.BroadcastEvent(ctx, eventType, ev)
	}
	if n.queue == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		n.log.Error("marshal progress event", "error", err)
		return
	}
	if err := n.queue.Publish(ctx, subject, data); err != nil {
		n.metrics.Dropped(ctx, "queue")
		n.log.Warn("progress event publish failed", "subject", subject, "error", err)
	}
}
