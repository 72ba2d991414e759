// Package outbox delivers qualified-lead notifications with at-least-once
// semantics, decoupled from the request/response cycle. Delivery failure
// never rolls back qualification; the conversation outcome is independent
// of the side-channel delivery.
package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/innovoco-ai/lead-orchestrator/internal/model"
	natsclient "github.com/innovoco-ai/lead-orchestrator/internal/nats"
	"github.com/innovoco-ai/lead-orchestrator/pkg/logger"
	"github.com/innovoco-ai/lead-orchestrator/pkg/metrics"
)

// Notifier is the external collaborator responsible for email/CRM
// delivery of qualified leads.
type Notifier interface {
	SendLeadNotification(ctx context.Context, lead *model.Lead) (*model.NotificationResult, error)
}

// LogNotifier records the lead in the log and reports success. Used when
// no delivery collaborator is configured.
type LogNotifier struct {
	Logger *logger.Logger
}

func (n *LogNotifier) SendLeadNotification(ctx context.Context, lead *model.Lead) (*model.NotificationResult, error) {
	n.Logger.Info("qualified lead",
		"session_id", lead.SessionID,
		"email", lead.Email,
		"company", lead.Company,
		"tier", lead.Tier,
		"score", lead.QualificationScore,
	)
	return &model.NotificationResult{
		Sent:             true,
		SalesEmailSent:   true,
		WelcomeEmailSent: true,
		Errors:           []string{},
	}, nil
}

// Outbox queues qualified leads for delivery. Publish makes one immediate
// attempt so callers can surface the result in response metadata; failed
// attempts are queued for background retry, durably when a JetStream
// manager is attached, in memory otherwise.
type Outbox struct {
	notifier   Notifier
	streams    *natsclient.StreamManager
	logger     *logger.Logger
	attempt    time.Duration
	backoff    time.Duration
	maxRetries int

	mu      sync.Mutex
	pending chan *model.Lead
	cc      jetstream.ConsumeContext
	done    chan struct{}
	wg      sync.WaitGroup
}

// Option configures an Outbox.
type Option func(*Outbox)

// WithStreams makes the retry queue durable via JetStream.
func WithStreams(streams *natsclient.StreamManager) Option {
	return func(o *Outbox) { o.streams = streams }
}

// WithRetry tunes the retry schedule.
func WithRetry(maxRetries int, backoff time.Duration) Option {
	return func(o *Outbox) {
		o.maxRetries = maxRetries
		o.backoff = backoff
	}
}

// WithAttemptTimeout bounds each delivery attempt.
func WithAttemptTimeout(d time.Duration) Option {
	return func(o *Outbox) { o.attempt = d }
}

// New creates an outbox delivering through the given notifier.
func New(notifier Notifier, log *logger.Logger, opts ...Option) *Outbox {
	o := &Outbox{
		notifier:   notifier,
		logger:     log,
		attempt:    10 * time.Second,
		backoff:    2 * time.Second,
		maxRetries: 5,
		pending:    make(chan *model.Lead, 64),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start launches the background delivery worker.
func (o *Outbox) Start(ctx context.Context) error {
	if o.streams != nil {
		cc, err := o.streams.ConsumeLeads(ctx, o.backoff, func(ctx context.Context, lead *model.Lead) error {
			_, err := o.deliverOnce(ctx, lead)
			return err
		})
		if err != nil {
			return err
		}
		o.cc = cc
		return nil
	}

	o.wg.Add(1)
	go o.retryLoop(ctx)
	return nil
}

// Stop drains the worker.
func (o *Outbox) Stop() {
	close(o.done)
	if o.cc != nil {
		o.cc.Stop()
	}
	o.wg.Wait()
}

// Publish attempts immediate delivery and queues for retry on failure.
// The returned result is what the caller reports in response metadata;
// a false Sent with queued retry is not an error.
func (o *Outbox) Publish(ctx context.Context, lead *model.Lead) *model.NotificationResult {
	result, err := o.deliverOnce(ctx, lead)
	if err == nil {
		return result
	}

	o.logger.Warn("lead notification failed, queueing for retry",
		"session_id", lead.SessionID, "error", err)

	if o.streams != nil {
		if _, perr := o.streams.PublishLead(ctx, lead); perr != nil {
			o.logger.Error("failed to enqueue lead for retry",
				"session_id", lead.SessionID, "error", perr)
		}
	} else {
		select {
		case o.pending <- lead:
		default:
			o.logger.Error("outbox queue full, dropping retry",
				"session_id", lead.SessionID)
		}
	}

	if result == nil {
		result = &model.NotificationResult{Errors: []string{err.Error()}}
	}
	return result
}

func (o *Outbox) deliverOnce(ctx context.Context, lead *model.Lead) (*model.NotificationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.attempt)
	defer cancel()

	result, err := o.notifier.SendLeadNotification(ctx, lead)
	if err != nil {
		metrics.OutboxDeliveriesTotal.WithLabelValues("error").Inc()
		return result, err
	}

	metrics.OutboxDeliveriesTotal.WithLabelValues("sent").Inc()
	return result, nil
}

// retryLoop is the in-memory fallback worker: bounded retries with a
// fixed backoff per lead.
func (o *Outbox) retryLoop(ctx context.Context) {
	defer o.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.done:
			return
		case lead := <-o.pending:
			o.retryLead(ctx, lead)
		}
	}
}

func (o *Outbox) retryLead(ctx context.Context, lead *model.Lead) {
	for attempt := 1; attempt <= o.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-o.done:
			return
		case <-time.After(o.backoff):
		}

		if _, err := o.deliverOnce(ctx, lead); err == nil {
			o.logger.Info("lead notification delivered on retry",
				"session_id", lead.SessionID, "attempt", attempt)
			return
		}
	}

	metrics.OutboxDeliveriesTotal.WithLabelValues("exhausted").Inc()
	o.logger.Error("lead notification retries exhausted",
		"session_id", lead.SessionID, "email", lead.Email)
}
