// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package propagate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/propfix/internal/config"
	"github.com/tomtom215/propfix/internal/logging"
	"github.com/tomtom215/propfix/internal/metrics"
	"github.com/tomtom215/propfix/internal/wal"
)

// ErrPublisherClosed is returned by Publish after Close.
var ErrPublisherClosed = errors.New("publisher is closed")

// snapshotNamespace seeds the deterministic message ids.
var snapshotNamespace = uuid.MustParse("6f1c2a8e-3b7d-4c59-9e0a-2d4f8b1c7a53")

// BreakerConfig configures the circuit breaker around publish.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// NATSConfig configures a NATSPublisher.
type NATSConfig struct {
	URL           string
	Subject       string
	MaxReconnects int
	ReconnectWait time.Duration
	Breaker       BreakerConfig
}

// NATSConfigFrom maps the application's nats section.
func NATSConfigFrom(c config.NATSConfig) NATSConfig {
	return NATSConfig{
		URL:           c.URL,
		Subject:       c.Subject,
		MaxReconnects: c.MaxReconnects,
		ReconnectWait: c.ReconnectWait,
		Breaker: BreakerConfig{
			Name:             "nats-publish",
			MaxRequests:      c.BreakerMaxRequests,
			Interval:         c.BreakerInterval,
			Timeout:          c.BreakerTimeout,
			FailureThreshold: c.BreakerFailureThreshold,
		},
	}
}

// NewCircuitBreaker builds the publish breaker. It trips after
// FailureThreshold consecutive failures and exports its state.
func NewCircuitBreaker(cfg BreakerConfig) *gobreaker.CircuitBreaker[struct{}] {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 1
	}
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SetCircuitBreakerState(name, int(to))
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	}
	return gobreaker.NewCircuitBreaker[struct{}](settings)
}

// NATSPublisher publishes snapshots to a NATS subject through Watermill,
// behind a circuit breaker.
type NATSPublisher struct {
	publisher message.Publisher
	breaker   *gobreaker.CircuitBreaker[struct{}]
	subject   string

	mu     sync.RWMutex
	closed bool
}

// NewNATSPublisher connects to NATS. Messages go to core NATS: propagation
// is best effort and durability comes from the outbox.
func NewNATSPublisher(cfg NATSConfig, logger watermill.LoggerAdapter) (*NATSPublisher, error) {
	if cfg.URL == "" || cfg.Subject == "" {
		return nil, fmt.Errorf("nats url and subject are required")
	}
	if logger == nil {
		logger = logging.NewWatermillAdapter()
	}

	natsOpts := []natsgo.Option{
		natsgo.Name("propfix"),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream:   wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}

	logging.Info().Str("url", cfg.URL).Str("subject", cfg.Subject).Msg("NATS publisher connected")
	return newNATSPublisher(pub, cfg), nil
}

func newNATSPublisher(pub message.Publisher, cfg NATSConfig) *NATSPublisher {
	return &NATSPublisher{
		publisher: pub,
		breaker:   NewCircuitBreaker(cfg.Breaker),
		subject:   cfg.Subject,
	}
}

// MessageID is the deterministic message id of a snapshot, so a republish
// from the outbox carries the same id as the original attempt.
func MessageID(snap Snapshot) string {
	key := snap.JobID + "/" + snap.State.ID + "/" + strconv.FormatInt(snap.State.Version, 10)
	return uuid.NewSHA1(snapshotNamespace, []byte(key)).String()
}

// Publish implements Propagator.
func (p *NATSPublisher) Publish(ctx context.Context, snap Snapshot) error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return ErrPublisherClosed
	}
	if snap.State == nil {
		return fmt.Errorf("snapshot for job %s has no state", snap.JobID)
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	msg := message.NewMessage(MessageID(snap), data)
	msg.Metadata.Set("job_id", snap.JobID)
	msg.Metadata.Set("kind", string(snap.Kind))
	msg.Metadata.Set("entity_id", snap.State.ID)
	msg.Metadata.Set("scope_id", strconv.FormatInt(snap.State.ScopeID, 10))
	msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)
	msg.SetContext(ctx)

	_, err = p.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, p.publisher.Publish(p.subject, msg)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.RecordPublish(metrics.PublishCircuitOpen)
		return fmt.Errorf("publish %s: %w", snap.State.ID, err)
	case err != nil:
		metrics.RecordPublish(metrics.PublishError)
		return fmt.Errorf("publish %s: %w", snap.State.ID, err)
	}
	metrics.RecordPublish(metrics.PublishOK)
	return nil
}

// PublishEntry republishes a snapshot stored in the outbox.
func (p *NATSPublisher) PublishEntry(ctx context.Context, entry *wal.Entry) error {
	var snap Snapshot
	if err := entry.UnmarshalPayload(&snap); err != nil {
		return fmt.Errorf("unmarshal outbox entry %s: %w", entry.ID, err)
	}
	return p.Publish(ctx, snap)
}

// BreakerState reports the breaker state, for health output.
func (p *NATSPublisher) BreakerState() gobreaker.State {
	return p.breaker.State()
}

// Close closes the underlying publisher.
func (p *NATSPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.publisher.Close()
}

var (
	_ Propagator    = (*NATSPublisher)(nil)
	_ wal.Publisher = (*NATSPublisher)(nil)
)
