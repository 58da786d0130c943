// Package kafka consumes incident events from a Kafka topic.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bissquit/incident-alerts/internal/ingest"
	"github.com/bissquit/incident-alerts/internal/matching"
	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
)

// Config holds consumer configuration.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
	// Readers is the number of group members started by this process. Partitions
	// are keyed by incident id, so per-incident ordering holds within each reader.
	Readers        int
	MinBytes       int
	MaxBytes       int
	MaxWait        time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// MessageReader is the subset of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads incident events and commits each message only after it was handled.
// Events that fail with a retryable error are retried with backoff until they succeed
// or the consumer stops, so an unhandled event is never committed.
type Consumer struct {
	config    Config
	events    ingest.EventHandler
	newReader func() MessageReader
}

// NewConsumer creates a new Kafka consumer.
func NewConsumer(config Config, events ingest.EventHandler) *Consumer {
	if config.Readers <= 0 {
		config.Readers = 1
	}
	if config.MinBytes == 0 {
		config.MinBytes = 1
	}
	if config.MaxBytes == 0 {
		config.MaxBytes = 10e6
	}
	if config.MaxWait == 0 {
		config.MaxWait = time.Second
	}
	if config.InitialBackoff == 0 {
		config.InitialBackoff = 500 * time.Millisecond
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = 30 * time.Second
	}

	c := &Consumer{config: config, events: events}
	c.newReader = func() MessageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  config.Brokers,
			GroupID:  config.GroupID,
			Topic:    config.Topic,
			MinBytes: config.MinBytes,
			MaxBytes: config.MaxBytes,
			MaxWait:  config.MaxWait,
		})
	}
	return c
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	slog.Info("starting incident consumer",
		"topic", c.config.Topic,
		"brokers", c.config.Brokers,
		"group_id", c.config.GroupID,
		"readers", c.config.Readers,
	)

	var wg sync.WaitGroup
	for i := 0; i < c.config.Readers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			reader := c.newReader()
			defer func() {
				if err := reader.Close(); err != nil {
					slog.Error("failed to close kafka reader", "reader", id, "error", err)
				}
			}()
			c.consume(ctx, id, reader)
		}(i)
	}
	wg.Wait()

	slog.Info("incident consumer stopped")
	return nil
}

func (c *Consumer) consume(ctx context.Context, readerID int, reader MessageReader) {
	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("error fetching kafka message", "reader", readerID, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		if err := c.process(ctx, m); err != nil {
			// Only reachable on shutdown; the message stays uncommitted.
			return
		}

		if err := reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("failed to commit kafka message",
				"reader", readerID,
				"partition", m.Partition,
				"offset", m.Offset,
				"error", err,
			)
		}
	}
}

// process handles one message. It returns an error only when ctx ends before
// the event was handled.
func (c *Consumer) process(ctx context.Context, m kafka.Message) error {
	incident, err := ingest.Decode(m.Value)
	if err != nil {
		slog.Error("dropping malformed incident event",
			"partition", m.Partition,
			"offset", m.Offset,
			"error", err,
		)
		return nil
	}

	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(c.config.InitialBackoff),
		backoff.WithMaxInterval(c.config.MaxBackoff),
		backoff.WithMaxElapsedTime(0),
	)

	op := func() error {
		_, err := c.events.Handle(ctx, incident)
		if errors.Is(err, matching.ErrInvalidIncident) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, next time.Duration) {
		slog.Warn("incident event not processed, retrying",
			"incident_id", incident.ID,
			"revision", incident.Revision,
			"retry_in", next,
			"error", err,
		)
	}

	err = backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
	if err == nil {
		return nil
	}
	if errors.Is(err, matching.ErrInvalidIncident) {
		slog.Error("dropping invalid incident event",
			"partition", m.Partition,
			"offset", m.Offset,
			"error", err,
		)
		return nil
	}
	return fmt.Errorf("handle incident %s: %w", incident.ID, err)
}
