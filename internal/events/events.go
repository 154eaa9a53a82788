// Package events publishes merge results to NATS so other services can react
// to documents as they are indexed.
//
// Each processed document becomes one JSON Event published to
//
//	{subject}.{outcome}
//
// where outcome is "resolved", "no_reference" or "guard".
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/refmerge/internal/document"
	"github.com/fyrsmithlabs/refmerge/internal/processor"
	"github.com/fyrsmithlabs/refmerge/internal/resolver"
)

// ErrNoSubject is returned when no base subject is configured.
var ErrNoSubject = errors.New("events subject is required")

// Event is the payload published for a processed document.
type Event struct {
	ID        string             `json:"id,omitempty"`
	Outcome   string             `json:"outcome"`
	Resolved  bool               `json:"resolved"`
	Report    resolver.Report    `json:"report"`
	Document  *document.Document `json:"document"`
	Timestamp time.Time          `json:"timestamp"`
}

// Publisher is a processor.Sink that publishes every processed document.
type Publisher struct {
	nc      *nats.Conn
	subject string
	idField string
	logger  *zap.Logger
	owned   bool
}

// NewPublisher publishes on an existing connection. The caller keeps
// ownership of nc.
func NewPublisher(nc *nats.Conn, subject, idField string, logger *zap.Logger) (*Publisher, error) {
	if subject == "" {
		return nil, ErrNoSubject
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if idField == "" {
		idField = resolver.DefaultIDField
	}
	return &Publisher{nc: nc, subject: subject, idField: idField, logger: logger}, nil
}

// Connect dials url and returns a Publisher that owns the connection.
func Connect(url, subject, idField string, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("refmerged"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	p, err := NewPublisher(nc, subject, idField, logger)
	if err != nil {
		nc.Close()
		return nil, err
	}
	p.owned = true
	logger.Info("connected to NATS", zap.String("url", url), zap.String("subject", subject))
	return p, nil
}

// Subject returns the subject an outcome is published on.
func (p *Publisher) Subject(outcome string) string {
	return p.subject + "." + outcome
}

// Handle implements processor.Sink.
func (p *Publisher) Handle(ctx context.Context, res *processor.Result) error {
	if res == nil || res.Document == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ev := Event{
		ID:        res.Document.ID(p.idField),
		Outcome:   Outcome(res),
		Resolved:  res.Resolved,
		Report:    res.Report,
		Document:  res.Document,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := p.Subject(ev.Outcome)
	if err := p.nc.Publish(subject, data); err != nil {
		PublishedTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	PublishedTotal.WithLabelValues("ok").Inc()
	p.logger.Debug("published merge event", zap.String("subject", subject), zap.String("id", ev.ID))
	return nil
}

// Name implements processor.Named.
func (p *Publisher) Name() string { return "events" }

// Flush waits until the server has received every published event.
func (p *Publisher) Flush(ctx context.Context) error {
	return p.nc.FlushWithContext(ctx)
}

// Close drains and closes the connection if the Publisher owns it.
func (p *Publisher) Close() error {
	if !p.owned {
		return nil
	}
	return p.nc.Drain()
}

// Outcome labels a result: "resolved" or the skip reason.
func Outcome(res *processor.Result) string {
	if res.Skipped != "" {
		return res.Skipped
	}
	return "resolved"
}

// Subscribe delivers decoded events published under subject until ctx ends.
// Messages that fail to decode are logged and dropped.
func Subscribe(ctx context.Context, nc *nats.Conn, subject string, logger *zap.Logger, fn func(Event)) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	sub, err := nc.Subscribe(subject+".>", func(m *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(m.Data, &ev); err != nil {
			logger.Warn("dropping malformed event", zap.String("subject", m.Subject), zap.Error(err))
			return
		}
		fn(ev)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	<-ctx.Done()
	return sub.Unsubscribe()
}

var _ processor.Sink = (*Publisher)(nil)
