package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/innovoco-ai/lead-orchestrator/internal/model"
)

const (
	// LeadStreamName is the durable outbox stream for qualified leads.
	LeadStreamName = "LEADS"

	// EventStreamName mirrors monitoring events for off-process readers.
	EventStreamName = "MONITOR_EVENTS"

	leadSubjectPrefix  = "leads"
	eventSubjectPrefix = "monitor"

	// NotifierConsumer is the durable consumer name used by the outbox
	// delivery worker.
	NotifierConsumer = "lead-notifier"
)

// StreamManager handles JetStream stream operations.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStreams creates the lead outbox and monitoring streams if absent.
func (m *StreamManager) EnsureStreams(ctx context.Context) error {
	js := m.client.JetStream()

	if _, err := js.Stream(ctx, LeadStreamName); err != nil {
		_, err = js.CreateStream(ctx, jetstream.StreamConfig{
			Name:        LeadStreamName,
			Subjects:    []string{fmt.Sprintf("%s.>", leadSubjectPrefix)},
			Retention:   jetstream.WorkQueuePolicy,
			MaxAge:      30 * 24 * time.Hour,
			Storage:     jetstream.FileStorage,
			Replicas:    1,
			Description: "Qualified lead notifications awaiting delivery",
		})
		if err != nil {
			return fmt.Errorf("failed to create lead stream: %w", err)
		}
	}

	if _, err := js.Stream(ctx, EventStreamName); err != nil {
		_, err = js.CreateStream(ctx, jetstream.StreamConfig{
			Name:        EventStreamName,
			Subjects:    []string{fmt.Sprintf("%s.>", eventSubjectPrefix)},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      7 * 24 * time.Hour,
			Storage:     jetstream.FileStorage,
			Replicas:    1,
			Compression: jetstream.S2Compression,
			Description: "Monitoring events mirrored from the in-process sink",
		})
		if err != nil {
			return fmt.Errorf("failed to create event stream: %w", err)
		}
	}

	return nil
}

// LeadSubject returns the subject for a qualified lead.
func LeadSubject(sessionID string) string {
	return fmt.Sprintf("%s.qualified.%s", leadSubjectPrefix, sessionID)
}

// EventSubject returns the subject for a monitoring event.
func EventSubject(sessionID, event string) string {
	if sessionID == "" {
		sessionID = "system"
	}
	return fmt.Sprintf("%s.%s.%s", eventSubjectPrefix, sessionID, event)
}

// PublishLead appends a qualified lead to the outbox stream. The message
// ID is the lead ID so JetStream deduplicates redeliveries of the same
// qualification edge.
func (m *StreamManager) PublishLead(ctx context.Context, lead *model.Lead) (uint64, error) {
	data, err := json.Marshal(lead)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal lead: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, LeadSubject(lead.SessionID), data,
		jetstream.WithMsgID(lead.ID))
	if err != nil {
		return 0, fmt.Errorf("failed to publish lead: %w", err)
	}
	return ack.Sequence, nil
}

// PublishMetricEvent mirrors a monitoring event to the event stream.
func (m *StreamManager) PublishMetricEvent(ctx context.Context, ev *model.MetricEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := m.client.JetStream().Publish(ctx, EventSubject(ev.SessionID, ev.Event), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// ConsumeLeads attaches the durable notifier consumer and invokes handle
// for each pending lead. The handler's error controls redelivery: nil
// acks the message, non-nil naks it for retry.
func (m *StreamManager) ConsumeLeads(ctx context.Context, backoff time.Duration, handle func(ctx context.Context, lead *model.Lead) error) (jetstream.ConsumeContext, error) {
	js := m.client.JetStream()

	consumer, err := js.CreateOrUpdateConsumer(ctx, LeadStreamName, jetstream.ConsumerConfig{
		Durable:       NotifierConsumer,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    -1,
		AckWait:       30 * time.Second,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create notifier consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		var lead model.Lead
		if err := json.Unmarshal(msg.Data(), &lead); err != nil {
			// Undecodable payloads can never succeed; drop them.
			msg.Term()
			return
		}

		if err := handle(ctx, &lead); err != nil {
			msg.NakWithDelay(backoff)
			return
		}
		msg.Ack()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start lead consumer: %w", err)
	}
	return cc, nil
}
