// Package broker consumes Evolution API events from RabbitMQ.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	DefaultExchange = "evolution_exchange"
	DefaultEvent    = "messages.upsert"

	maxBackoff = 30 * time.Second
)

// HandlerFunc processes one event body. Returned errors are logged; the
// delivery is acked either way.
type HandlerFunc func(ctx context.Context, event string, body []byte) error

type Config struct {
	URL      string
	Exchange string
	Events   []string
	Prefetch int
}

type Consumer struct {
	cfg    Config
	handle HandlerFunc
	logger *slog.Logger
}

func NewConsumer(cfg Config, handle HandlerFunc, logger *slog.Logger) (*Consumer, error) {
	if cfg.URL == "" {
		return nil, errors.New("broker: RABBITMQ_URL is not set")
	}
	if cfg.Exchange == "" {
		cfg.Exchange = DefaultExchange
	}
	if len(cfg.Events) == 0 {
		cfg.Events = []string{DefaultEvent}
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 10
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Consumer{
		cfg:    cfg,
		handle: handle,
		logger: logger.With("component", "broker"),
	}, nil
}

func QueueName(event string) string  { return "evolution_" + event }
func RoutingKey(event string) string { return "event." + event }

// Run consumes until ctx is cancelled, reconnecting with backoff when the
// connection drops.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		err := c.consume(ctx)
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("broker connection lost, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (c *Consumer) consume(ctx context.Context) error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}
	if err := ch.ExchangeDeclare(c.cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	streams := make([]stream, 0, len(c.cfg.Events))
	for _, event := range c.cfg.Events {
		queue := QueueName(event)
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}
		if err := ch.QueueBind(queue, RoutingKey(event), c.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", queue, err)
		}
		tag := consumerTag(queue)
		deliveries, err := ch.Consume(queue, tag, false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("consume %s: %w", queue, err)
		}
		streams = append(streams, stream{event: event, tag: tag, deliveries: deliveries})
	}
	c.logger.Info("consuming events", "exchange", c.cfg.Exchange, "events", c.cfg.Events)

	// Cancel closes each deliveries channel; unacked messages go back to
	// the queue when the channel closes.
	return c.drain(ctx, streams, closed, func() {
		for _, s := range streams {
			if err := ch.Cancel(s.tag, false); err != nil {
				c.logger.Debug("cancel consumer", "tag", s.tag, "error", err)
			}
		}
	})
}

type stream struct {
	event      string
	tag        string
	deliveries <-chan amqp.Delivery
}

func consumerTag(queue string) string { return "whatsapp-ai-bridge." + queue }

// drain handles every stream until ctx is done or the connection closes.
// stop must close all deliveries channels; drain waits for in-flight
// handlers before returning.
func (c *Consumer) drain(ctx context.Context, streams []stream, closed <-chan *amqp.Error, stop func()) error {
	var wg sync.WaitGroup
	for _, s := range streams {
		wg.Add(1)
		go func(s stream) {
			defer wg.Done()
			for d := range s.deliveries {
				c.handleDelivery(ctx, s.event, d)
			}
		}(s)
	}

	var err error
	select {
	case <-ctx.Done():
	case amqpErr := <-closed:
		err = errors.New("connection closed")
		if amqpErr != nil {
			err = amqpErr
		}
	}
	stop()
	wg.Wait()
	return err
}

func (c *Consumer) handleDelivery(ctx context.Context, event string, d amqp.Delivery) {
	if ctx.Err() != nil {
		// Shutting down: leave it for the next consumer.
		if err := d.Nack(false, true); err != nil {
			c.logger.Debug("requeue failed", "event", event, "error", err)
		}
		return
	}
	if !json.Valid(d.Body) {
		c.logger.Warn("rejecting non-json event", "event", event, "bytes", len(d.Body))
		if err := d.Reject(false); err != nil {
			c.logger.Error("reject failed", "error", err)
		}
		return
	}

	// A started cycle runs to completion even if shutdown begins meanwhile;
	// the relay service bounds it with its own deadline.
	if err := c.handle(context.WithoutCancel(ctx), event, d.Body); err != nil {
		c.logger.Error("error processing event", "event", event, "error", err)
	}
	if err := d.Ack(false); err != nil {
		c.logger.Error("ack failed", "event", event, "error", err)
	}
}
