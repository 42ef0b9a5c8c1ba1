package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bissquit/incident-orchestrator/internal/domain"
)

// Config contains hook configuration.
type Config struct {
	QueueSize         int
	Workers           int
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// DefaultConfig returns default hook configuration.
func DefaultConfig() Config {
	return Config{
		QueueSize:         1024,
		Workers:           4,
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        1 * time.Minute,
		BackoffMultiplier: 2.0,
	}
}

// Hook is the orchestrator's status-change notifier. NotifyStatusChange only
// enqueues; a pool of workers renders each event and delivers it to every
// sender, retrying transient failures with exponential backoff.
type Hook struct {
	config   Config
	renderer *Renderer
	senders  []Sender

	mu     sync.RWMutex
	closed bool
	queue  chan domain.StatusChangeEvent

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHook creates a new hook. Call Start to begin delivery.
func NewHook(config Config, renderer *Renderer, senders ...Sender) *Hook {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	return &Hook{
		config:   config,
		renderer: renderer,
		senders:  senders,
		queue:    make(chan domain.StatusChangeEvent, config.QueueSize),
	}
}

// NotifyStatusChange enqueues the event without blocking. When the queue is
// full or the hook is stopped the event is dropped.
func (h *Hook) NotifyStatusChange(_ context.Context, event domain.StatusChangeEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		h.drop(event, "hook stopped")
		return
	}

	select {
	case h.queue <- event:
		notificationQueueDepth.Inc()
	default:
		h.drop(event, "queue full")
	}
}

func (h *Hook) drop(event domain.StatusChangeEvent, reason string) {
	notificationsDropped.Inc()
	slog.Warn("status change notification dropped",
		"incident_id", event.IncidentID,
		"to_status", event.ToStatus,
		"reason", reason,
	)
}

// Start launches worker goroutines.
func (h *Hook) Start(ctx context.Context) {
	h.ctx, h.cancel = context.WithCancel(ctx)

	slog.Info("starting notification workers",
		"workers", h.config.Workers,
		"queue_size", h.config.QueueSize,
		"senders", len(h.senders),
	)

	for i := 0; i < h.config.Workers; i++ {
		h.wg.Add(1)
		go h.run(i)
	}
}

// Stop stops accepting events and waits for queued ones to be delivered.
// When ctx expires first, in-flight retries are abandoned.
func (h *Hook) Stop(ctx context.Context) error {
	h.mu.Lock()
	if !h.closed {
		h.closed = true
		close(h.queue)
	}
	h.mu.Unlock()

	if h.cancel == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.cancel()
		slog.Info("notification workers stopped")
		return nil
	case <-ctx.Done():
		h.cancel()
		<-done
		return ctx.Err()
	}
}

func (h *Hook) run(workerID int) {
	defer h.wg.Done()

	for event := range h.queue {
		notificationQueueDepth.Dec()
		h.process(workerID, event)
	}
}

func (h *Hook) process(workerID int, event domain.StatusChangeEvent) {
	subject, body, err := h.renderer.Render(event)
	if err != nil {
		slog.Error("failed to render notification", "incident_id", event.IncidentID, "error", err)
		for _, s := range h.senders {
			recordNotificationSent(s.Name(), "failed")
		}
		return
	}

	msg := Message{Subject: subject, Body: body, Event: event}
	for _, s := range h.senders {
		h.deliver(workerID, s, msg)
	}
}

func (h *Hook) deliver(workerID int, sender Sender, msg Message) {
	for attempt := 1; ; attempt++ {
		start := time.Now()
		err := sender.Send(h.ctx, msg)
		if err == nil {
			recordNotificationSent(sender.Name(), "success")
			recordNotificationDuration(sender.Name(), time.Since(start))
			slog.Debug("notification sent",
				"worker", workerID,
				"sender", sender.Name(),
				"incident_id", msg.Event.IncidentID,
				"attempt", attempt,
			)
			return
		}

		slog.Warn("send failed",
			"sender", sender.Name(),
			"incident_id", msg.Event.IncidentID,
			"attempt", attempt,
			"max_attempts", h.config.MaxAttempts,
			"error", err,
		)

		if !isRetryable(err) || attempt >= h.config.MaxAttempts {
			recordNotificationSent(sender.Name(), "failed")
			return
		}
		recordNotificationSent(sender.Name(), "retry")

		timer := time.NewTimer(h.backoff(attempt))
		select {
		case <-timer.C:
		case <-h.ctx.Done():
			timer.Stop()
			recordNotificationSent(sender.Name(), "failed")
			return
		}
	}
}

// backoff returns the wait before retry number attempt.
func (h *Hook) backoff(attempt int) time.Duration {
	backoff := float64(h.config.InitialBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= h.config.BackoffMultiplier
	}

	if backoff > float64(h.config.MaxBackoff) {
		backoff = float64(h.config.MaxBackoff)
	}

	return time.Duration(backoff)
}
