// Package events consumes trust outcome events from NATS.
//
// Producers publish JSON encoded trust.Event values on DefaultSubject. The
// consumer joins a queue group so that each event is applied by exactly one
// engine instance. When a message carries a reply subject the consumer
// answers with an Ack.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/trust"
)

// Defaults.
const (
	DefaultSubject      = "patternd.trust.events"
	DefaultQueue        = "patternd"
	DefaultApplyTimeout = 5 * time.Second
)

// Consumer errors.
var (
	// ErrAlreadyStarted is returned by Start on a running consumer.
	ErrAlreadyStarted = errors.New("consumer already started")

	// ErrShuttingDown is reported in the ack of events that arrive after the
	// consumer's context is done.
	ErrShuttingDown = errors.New("consumer shutting down")
)

// Applier applies trust events. *engine.Engine satisfies it.
type Applier interface {
	RecordOutcome(ctx context.Context, ev trust.Event) (trust.State, error)
}

// Ack is the reply sent for request-style events.
type Ack struct {
	OK        bool    `json:"ok"`
	PatternID string  `json:"pattern_id,omitempty"`
	Alpha     float64 `json:"alpha,omitempty"`
	Beta      float64 `json:"beta,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// Stats counts processed messages.
type Stats struct {
	Applied  uint64 `json:"applied"`
	Rejected uint64 `json:"rejected"`
}

// Option configures a Consumer.
type Option func(*Consumer)

// WithSubject overrides the subject.
func WithSubject(subject string) Option {
	return func(c *Consumer) {
		if subject != "" {
			c.subject = subject
		}
	}
}

// WithQueue overrides the queue group.
func WithQueue(queue string) Option {
	return func(c *Consumer) {
		if queue != "" {
			c.queue = queue
		}
	}
}

// WithApplyTimeout bounds each trust update.
func WithApplyTimeout(d time.Duration) Option {
	return func(c *Consumer) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Consumer applies trust events received over NATS.
type Consumer struct {
	nc      *nats.Conn
	applier Applier
	subject string
	queue   string
	timeout time.Duration
	logger  *zap.Logger

	mu  sync.Mutex
	sub *nats.Subscription

	applied  atomic.Uint64
	rejected atomic.Uint64
}

// NewConsumer creates a consumer on an established connection.
func NewConsumer(nc *nats.Conn, applier Applier, opts ...Option) (*Consumer, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection cannot be nil")
	}
	if applier == nil {
		return nil, fmt.Errorf("applier cannot be nil")
	}
	c := &Consumer{
		nc:      nc,
		applier: applier,
		subject: DefaultSubject,
		queue:   DefaultQueue,
		timeout: DefaultApplyTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start subscribes. Events are applied on the subscription's goroutine until
// Stop is called or ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != nil {
		return ErrAlreadyStarted
	}

	sub, err := c.nc.QueueSubscribe(c.subject, c.queue, func(msg *nats.Msg) {
		c.handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", c.subject, err)
	}
	if err := c.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("flushing subscription: %w", err)
	}
	c.sub = sub

	c.logger.Info("trust event consumer started",
		zap.String("subject", c.subject),
		zap.String("queue", c.queue))
	return nil
}

// Stop unsubscribes. It is safe to call more than once.
func (c *Consumer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub == nil {
		return nil
	}
	err := c.sub.Unsubscribe()
	c.sub = nil
	if err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("unsubscribing: %w", err)
	}
	return nil
}

// Stats returns processing counters.
func (c *Consumer) Stats() Stats {
	return Stats{Applied: c.applied.Load(), Rejected: c.rejected.Load()}
}

func (c *Consumer) handle(parent context.Context, msg *nats.Msg) {
	var ev trust.Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		c.reject(msg, "", fmt.Errorf("decoding event: %w", err))
		return
	}
	if err := parent.Err(); err != nil {
		c.reject(msg, ev.PatternID, fmt.Errorf("%w: %w", ErrShuttingDown, err))
		return
	}
	if o, err := trust.ParseOutcome(string(ev.Outcome)); err == nil {
		ev.Outcome = o
	}

	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	st, err := c.applier.RecordOutcome(ctx, ev)
	if err != nil {
		c.reject(msg, ev.PatternID, err)
		return
	}
	c.applied.Add(1)

	c.logger.Debug("applied trust event",
		zap.String("pattern_id", ev.PatternID),
		zap.String("outcome", string(ev.Outcome)),
		zap.Float64("alpha", st.Alpha),
		zap.Float64("beta", st.Beta))
	c.reply(msg, Ack{OK: true, PatternID: ev.PatternID, Alpha: st.Alpha, Beta: st.Beta})
}

func (c *Consumer) reject(msg *nats.Msg, patternID string, err error) {
	c.rejected.Add(1)
	c.logger.Warn("rejected trust event",
		zap.String("pattern_id", patternID),
		zap.Error(err))
	c.reply(msg, Ack{PatternID: patternID, Error: err.Error()})
}

func (c *Consumer) reply(msg *nats.Msg, ack Ack) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(ack)
	if err != nil {
		c.logger.Error("encoding ack", zap.Error(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		c.logger.Warn("sending ack", zap.Error(err))
	}
}

// Emit publishes one trust event without waiting for it to be applied.
func Emit(nc *nats.Conn, subject string, ev trust.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	if subject == "" {
		subject = DefaultSubject
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if err := nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing event: %w", err)
	}
	return nil
}

// Send publishes one trust event and waits for the consumer's Ack.
func Send(ctx context.Context, nc *nats.Conn, subject string, ev trust.Event) (Ack, error) {
	if err := ev.Validate(); err != nil {
		return Ack{}, err
	}
	if subject == "" {
		subject = DefaultSubject
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return Ack{}, fmt.Errorf("encoding event: %w", err)
	}
	msg, err := nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return Ack{}, fmt.Errorf("sending event: %w", err)
	}
	var ack Ack
	if err := json.Unmarshal(msg.Data, &ack); err != nil {
		return Ack{}, fmt.Errorf("decoding ack: %w", err)
	}
	if !ack.OK {
		return ack, fmt.Errorf("event rejected: %s", ack.Error)
	}
	return ack, nil
}
