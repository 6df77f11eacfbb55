package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/AgeGate/internal/model"
)

// Subjects carry the run ID as their last token. Subscribing to
// OutcomeSubject("*") receives every outcome.
func ProgressSubject(runID string) string { return "agegate.progress." + runID }
func OutcomeSubject(runID string) string  { return "agegate.outcome." + runID }

type natsConn interface {
	Publish(subj string, data []byte) error
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
	Close()
}

// NATSBus is a Bus backed by core NATS. Progress is fire-and-forget; a
// subscriber that attaches late reads the current state from the run store.
type NATSBus struct {
	conn   natsConn
	logger *zap.Logger
}

// NewNATSBus connects to url.
func NewNATSBus(url string, logger *zap.Logger) (*NATSBus, error) {
	conn, err := nats.Connect(url, nats.Name("agegate"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logger.Info("connected to NATS", zap.String("url", url))
	return &NATSBus{conn: conn, logger: logger}, nil
}

func (b *NATSBus) PublishProgress(_ context.Context, runID string, progress int) error {
	return b.publish(ProgressSubject(runID), Event{RunID: runID, Progress: progress})
}

func (b *NATSBus) PublishOutcome(_ context.Context, outcome model.Outcome) error {
	return b.publish(OutcomeSubject(outcome.RunID), Event{RunID: outcome.RunID, Progress: progressOf(outcome), Outcome: &outcome})
}

func progressOf(o model.Outcome) int {
	if o.Status == model.OutcomeCompleted {
		return 100
	}
	return 0
}

func (b *NATSBus) publish(subject string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal run event: %w", err)
	}
	if err := b.conn.Publish(subject, data); err != nil {
		b.logger.Error("failed to publish run event", zap.Error(err), zap.String("subject", subject))
		return fmt.Errorf("failed to publish run event: %w", err)
	}
	return nil
}

func (b *NATSBus) Subscribe(_ context.Context, runID string, handler func(Event)) (func() error, error) {
	cb := func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			b.logger.Error("failed to unmarshal run event", zap.Error(err), zap.String("subject", msg.Subject))
			return
		}
		handler(ev)
	}
	progress, err := b.conn.Subscribe(ProgressSubject(runID), cb)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to run progress: %w", err)
	}
	outcome, err := b.conn.Subscribe(OutcomeSubject(runID), cb)
	if err != nil {
		_ = unsubscribe(progress)
		return nil, fmt.Errorf("failed to subscribe to run outcome: %w", err)
	}
	return func() error {
		return errors.Join(unsubscribe(progress), unsubscribe(outcome))
	}, nil
}

func unsubscribe(sub *nats.Subscription) error {
	if sub == nil || !sub.IsValid() {
		return nil
	}
	return sub.Unsubscribe()
}

func (b *NATSBus) Close() {
	if b.conn != nil {
		b.conn.Close()
		b.logger.Info("NATS connection closed")
	}
}
