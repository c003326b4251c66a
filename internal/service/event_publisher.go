// Package service publishes casting events to RabbitMQ. Publishing is
// fire-and-forget for the request path: events are queued in memory and a
// background worker hands them to the broker.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/casting-agency/internal/metrics"
	"github.com/iliyamo/casting-agency/internal/queue"
)

// EventPublisher is what the handlers depend on.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.CastingEvent)
}

// amqpChannel is the subset of *amqp.Channel the publisher uses.
type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type session struct {
	ch    amqpChannel
	close func() error
}

type dialFunc func(url string) (*session, error)

func dialAMQP(url string) (*session, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("channel open: %w", err)
	}
	return &session{ch: ch, close: func() error {
		_ = ch.Close()
		return conn.Close()
	}}, nil
}

// AMQPPublisher buffers events and publishes them from Run.
type AMQPPublisher struct {
	url        string
	queueName  string
	events     chan queue.CastingEvent
	log        logrus.FieldLogger
	metrics    *metrics.Metrics
	dial       dialFunc
	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewAMQPPublisher returns a publisher with a queue of buffer events. It
// publishes nothing until Run is started.
func NewAMQPPublisher(url, queueName string, buffer int, log logrus.FieldLogger, m *metrics.Metrics) *AMQPPublisher {
	if buffer < 1 {
		buffer = 1
	}
	return &AMQPPublisher{
		url:        url,
		queueName:  queueName,
		events:     make(chan queue.CastingEvent, buffer),
		log:        log,
		metrics:    m,
		dial:       dialAMQP,
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
	}
}

// Publish enqueues ev without blocking. A full queue drops the event.
func (p *AMQPPublisher) Publish(_ context.Context, ev queue.CastingEvent) {
	select {
	case p.events <- ev:
	default:
		p.metrics.EventPublished(ev.Type, "dropped")
		p.log.WithField("type", ev.Type).Warn("event queue full; dropping event")
	}
}

// Run publishes queued events until ctx is cancelled, reconnecting with
// exponential backoff. Events still queued at shutdown are flushed when a
// connection is up.
func (p *AMQPPublisher) Run(ctx context.Context) error {
	backoff := p.minBackoff
	for {
		sess, err := p.connect()
		if err != nil {
			p.log.WithError(err).Warnf("event broker unavailable; retrying in %s", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, p.maxBackoff)
			continue
		}
		backoff = p.minBackoff

		err = p.pump(ctx, sess)
		_ = sess.close()
		if err == nil {
			return nil
		}
		p.log.WithError(err).Warn("event publisher reconnecting")
	}
}

func (p *AMQPPublisher) connect() (*session, error) {
	sess, err := p.dial(p.url)
	if err != nil {
		return nil, err
	}
	// durable so events survive broker restarts
	if _, err := sess.ch.QueueDeclare(p.queueName, true, false, false, false, nil); err != nil {
		_ = sess.close()
		return nil, fmt.Errorf("queue declare: %w", err)
	}
	return sess, nil
}

// pump returns nil once ctx is done and the queue is flushed, or the
// publish error that broke the session.
func (p *AMQPPublisher) pump(ctx context.Context, sess *session) error {
	for {
		select {
		case <-ctx.Done():
			return p.flush(sess)
		case ev := <-p.events:
			if err := p.send(ctx, sess, ev); err != nil {
				return err
			}
		}
	}
}

func (p *AMQPPublisher) flush(sess *session) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case ev := <-p.events:
			if err := p.send(ctx, sess, ev); err != nil {
				p.log.WithError(err).Warn("flush stopped")
				return nil
			}
		default:
			return nil
		}
	}
}

func (p *AMQPPublisher) send(ctx context.Context, sess *session, ev queue.CastingEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		// not retryable; keep the session
		p.metrics.EventPublished(ev.Type, "error")
		p.log.WithError(err).WithField("type", ev.Type).Error("marshal event failed")
		return nil
	}
	err = sess.ch.PublishWithContext(ctx, "", p.queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.OccurredAt,
		Type:         ev.Type,
		Body:         body,
	})
	if err != nil {
		p.metrics.EventPublished(ev.Type, "error")
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	p.metrics.EventPublished(ev.Type, "ok")
	return nil
}

// NopPublisher discards events; used when EVENTS_ENABLED is false.
type NopPublisher struct {
	Log logrus.FieldLogger
}

func (n NopPublisher) Publish(_ context.Context, ev queue.CastingEvent) {
	if n.Log != nil {
		n.Log.WithField("type", ev.Type).Debug("event publishing disabled")
	}
}
