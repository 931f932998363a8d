package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	id "fuseid/pkg/domain"
	"fuseid/pkg/platform/circuit"
)

// KafkaNotifier publishes review lifecycle events to a Kafka topic. One
// event per message, keyed by the subject account so per-account ordering is
// preserved across partitions.
//
// A circuit breaker guards the producer: after repeated publish failures the
// notifier degrades to logging events locally instead of failing every
// resolution pass on a dead broker. Publishes keep probing the broker while
// the circuit is open; consecutive successes close it again.
type KafkaNotifier struct {
	client  *kgo.Client
	topic   string
	logger  *slog.Logger
	breaker *circuit.Breaker
}

// KafkaOption configures a KafkaNotifier.
type KafkaOption func(*KafkaNotifier)

// WithKafkaLogger sets the logger for publish failures.
func WithKafkaLogger(logger *slog.Logger) KafkaOption {
	return func(n *KafkaNotifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// NewKafkaNotifier connects to the brokers and ensures the topic exists.
func NewKafkaNotifier(ctx context.Context, brokers []string, topic string, opts ...KafkaOption) (*KafkaNotifier, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchMaxBytes(1<<20),
		kgo.ProduceRequestTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect kafka: %w", err)
	}

	admin := kadm.NewClient(client)
	resp, err := admin.CreateTopic(ctx, 3, 1, nil, topic)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ensure topic %s: %w", topic, err)
	}
	// An existing topic is fine; anything else is fatal.
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		client.Close()
		return nil, fmt.Errorf("ensure topic %s: %w", topic, resp.Err)
	}

	n := &KafkaNotifier{
		client:  client,
		topic:   topic,
		logger:  slog.Default(),
		breaker: circuit.New("kafka-notifier"),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Close flushes buffered records and releases the client.
func (n *KafkaNotifier) Close() {
	n.client.Close()
}

type reviewEvent struct {
	Kind        string    `json:"kind"`
	Account     string    `json:"account"`
	ReviewID    string    `json:"review_id,omitempty"`
	DecisionID  string    `json:"decision_id,omitempty"`
	NewIdentity bool      `json:"new_identity,omitempty"`
	Candidates  int       `json:"candidates,omitempty"`
	Reviewers   int       `json:"reviewers,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

type passEvent struct {
	Kind          string    `json:"kind"`
	PassID        string    `json:"pass_id"`
	Total         int       `json:"total"`
	AutoLinked    int       `json:"auto_linked"`
	PendingReview int       `json:"pending_review"`
	NewIdentities int       `json:"new_identities"`
	Failed        int       `json:"failed"`
	DurationMs    int64     `json:"duration_ms"`
	Timestamp     time.Time `json:"timestamp"`
}

func (n *KafkaNotifier) NotifyReviewRequested(ctx context.Context, review Review) error {
	return n.publish(ctx, "review_requested", string(review.Account), reviewEvent{
		Kind:       "review_requested",
		Account:    string(review.Account),
		ReviewID:   review.ID.String(),
		Candidates: len(review.Candidates),
		Reviewers:  len(review.Reviewers),
		Timestamp:  time.Now().UTC(),
	})
}

func (n *KafkaNotifier) NotifyDecisionApplied(ctx context.Context, account id.AccountID, decision id.DecisionID, newIdentity bool) error {
	return n.publish(ctx, "decision_applied", string(account), reviewEvent{
		Kind:        "decision_applied",
		Account:     string(account),
		DecisionID:  decision.String(),
		NewIdentity: newIdentity,
		Timestamp:   time.Now().UTC(),
	})
}

func (n *KafkaNotifier) NotifyPassFinished(ctx context.Context, report PassReport) error {
	return n.publish(ctx, "pass_finished", report.Pass.String(), passEvent{
		Kind:          "pass_finished",
		PassID:        report.Pass.String(),
		Total:         report.Total,
		AutoLinked:    report.AutoLinked,
		PendingReview: report.PendingReview,
		NewIdentities: report.NewIdentities,
		Failed:        report.Failed,
		DurationMs:    report.Duration.Milliseconds(),
		Timestamp:     time.Now().UTC(),
	})
}

func (n *KafkaNotifier) publish(ctx context.Context, kind, key string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", kind, err)
	}
	record := &kgo.Record{
		Topic: n.topic,
		Key:   []byte(key),
		Value: payload,
	}
	if err := n.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		useFallback, change := n.breaker.RecordFailure()
		if change.Opened {
			n.logger.Error("review event publishing degraded, logging events locally", "topic", n.topic, "error", err)
		}
		if useFallback {
			// Degraded mode: the event is logged instead of published so a
			// broker outage does not fail resolution passes.
			n.logger.Warn("review event dropped", "kind", kind, "key", key, "error", err)
			return nil
		}
		n.logger.Warn("review event publish failed", "kind", kind, "key", key, "error", err)
		return fmt.Errorf("publish %s event: %w", kind, err)
	}
	if _, change := n.breaker.RecordSuccess(); change.Closed {
		n.logger.Info("review event publishing recovered", "topic", n.topic)
	}
	return nil
}
